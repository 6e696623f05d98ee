// Package app wires stores, queue, mail transport and services from config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/unclebandit/bulkmailer/internal/config"
	"github.com/unclebandit/bulkmailer/internal/db"
	"github.com/unclebandit/bulkmailer/internal/handler"
	"github.com/unclebandit/bulkmailer/internal/mailer"
	"github.com/unclebandit/bulkmailer/internal/queue"
	"github.com/unclebandit/bulkmailer/internal/repository"
	"github.com/unclebandit/bulkmailer/internal/repository/memory"
	"github.com/unclebandit/bulkmailer/internal/service"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

type App struct {
	Config *config.Config
	DB     *sql.DB
	Queue  queue.Queue

	Campaigns  service.CampaignStore
	Recipients service.RecipientStore
	Targets    service.TargetStore
	Ledger     service.DeliveryLedger

	CampaignService *service.CampaignService
	Ingestor        *service.RecipientIngestor
	Scheduler       *service.Scheduler
	Worker          *service.Worker

	closers []func() error
}

// New builds the application. Postgres is migrated on startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openQueue(); err != nil {
		a.Close()
		return nil, err
	}

	var transport mailer.Transport = mailer.LogTransport{}
	if cfg.Mail.Driver == "smtp" {
		transport = mailer.NewSMTPClient(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUsername, cfg.Mail.SMTPPassword)
	}

	reports := &service.ReportGenerator{
		Campaigns: a.Campaigns,
		Ledger:    a.Ledger,
		Transport: transport,
		From:      cfg.Mail.DefaultFromEmail,
		To:        cfg.Mail.AdminReportEmail,
	}
	completion := &service.CompletionDetector{
		Campaigns: a.Campaigns,
		Targets:   a.Targets,
		Ledger:    a.Ledger,
		Reports:   reports,
	}
	dispatcher := &service.Dispatcher{
		Campaigns:  a.Campaigns,
		Recipients: a.Recipients,
		Targets:    a.Targets,
		Ledger:     a.Ledger,
		Queue:      a.Queue,
		Completion: completion,
	}
	executor := &service.DeliveryExecutor{
		Campaigns:  a.Campaigns,
		Recipients: a.Recipients,
		Ledger:     a.Ledger,
		Transport:  mailer.NewRetrying(transport, cfg.Delivery.MaxAttempts, cfg.Delivery.InitialBackoff, cfg.Delivery.MaxBackoff),
		From:       cfg.Mail.DefaultFromEmail,
		Completion: completion,
	}

	a.CampaignService = service.NewCampaignService(a.Campaigns, a.Ledger, a.Queue)
	a.Ingestor = &service.RecipientIngestor{Recipients: a.Recipients}
	a.Scheduler = service.NewScheduler(a.Campaigns, a.Queue)
	a.Scheduler.StallAfter = cfg.Scheduler.StallAfter
	a.Worker = service.NewWorker(a.Queue, dispatcher, executor)
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case "memory":
		st := memory.New()
		a.Campaigns, a.Recipients, a.Targets, a.Ledger = st.Campaigns(), st.Recipients(), st.Targets(), st.Logs()
		zlog.Logger.Warn().Msg("using in-memory store, data is lost on exit")
		return nil
	case "postgres":
		conn, err := db.Open(ctx, a.Config.Database)
		if err != nil {
			return err
		}
		a.DB = conn
		a.closers = append(a.closers, conn.Close)
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		a.Campaigns = &repository.CampaignRepository{DB: conn}
		a.Recipients = &repository.RecipientRepository{DB: conn}
		a.Targets = &repository.CampaignRecipientRepository{DB: conn}
		a.Ledger = &repository.DeliveryLogRepository{DB: conn}
		return nil
	}
	return fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
}

func (a *App) openQueue() error {
	qc := a.Config.Queue
	switch qc.Driver {
	case "memory":
		a.Queue = queue.NewInMemoryQueue(qc.MaxRedeliveries, qc.RetryDelay)
		return nil
	case "amqp":
		q, err := queue.DialAMQP(qc.URL, qc.Prefetch, qc.MaxRedeliveries)
		if err != nil {
			return err
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
		return nil
	}
	return fmt.Errorf("unknown queue driver %q", qc.Driver)
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	return handler.NewRouter(
		handler.NewCampaignHandler(a.CampaignService),
		handler.NewRecipientHandler(a.Ingestor),
	)
}

// RunWorker subscribes the task consumers and runs the scheduler until ctx
// is done.
func (a *App) RunWorker(ctx context.Context) error {
	if err := a.Worker.Start(ctx); err != nil {
		return err
	}
	return a.Scheduler.Run(ctx, a.Config.Scheduler.Spec)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zlog.Logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
