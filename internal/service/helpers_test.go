package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/bulkmailer/internal/mailer"
	"github.com/unclebandit/bulkmailer/internal/model"
	"github.com/unclebandit/bulkmailer/internal/queue"
	"github.com/unclebandit/bulkmailer/internal/repository/memory"
	"github.com/unclebandit/bulkmailer/internal/service"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

func init() { zlog.Discard() }

// recordingTransport keeps every accepted message and fails sends to the
// addresses in failFor.
type recordingTransport struct {
	mu      sync.Mutex
	sent    []mailer.Message
	calls   map[string]int
	failFor map[string]string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{calls: map[string]int{}, failFor: map[string]string{}}
}

func (r *recordingTransport) Send(_ context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[msg.To]++
	if reason, ok := r.failFor[msg.To]; ok {
		return errors.New(reason)
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) Sent() []mailer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mailer.Message(nil), r.sent...)
}

func (r *recordingTransport) Calls(to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[to]
}

// capturingPublisher records tasks instead of running them.
type capturingPublisher struct {
	mu    sync.Mutex
	tasks []any
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, payload)
	return nil
}

func (p *capturingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

type pipeline struct {
	store      *memory.Store
	queue      *queue.InMemoryQueue
	mail       *recordingTransport
	reportMail *recordingTransport
	campaigns  *service.CampaignService
	scheduler  *service.Scheduler
	dispatcher *service.Dispatcher
	executor   *service.DeliveryExecutor
	completion *service.CompletionDetector
	ingestor   *service.RecipientIngestor
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	p := &pipeline{
		store:      memory.New(),
		queue:      queue.NewInMemoryQueue(3, time.Millisecond),
		mail:       newRecordingTransport(),
		reportMail: newRecordingTransport(),
	}
	st := p.store

	reports := &service.ReportGenerator{
		Campaigns: st.Campaigns(),
		Ledger:    st.Logs(),
		Transport: p.reportMail,
		From:      "noreply@bulkmailer.local",
		To:        "admin@x.com",
	}
	p.completion = &service.CompletionDetector{
		Campaigns: st.Campaigns(),
		Targets:   st.Targets(),
		Ledger:    st.Logs(),
		Reports:   reports,
	}
	p.dispatcher = &service.Dispatcher{
		Campaigns:  st.Campaigns(),
		Recipients: st.Recipients(),
		Targets:    st.Targets(),
		Ledger:     st.Logs(),
		Queue:      p.queue,
		Completion: p.completion,
	}
	p.executor = &service.DeliveryExecutor{
		Campaigns:  st.Campaigns(),
		Recipients: st.Recipients(),
		Ledger:     st.Logs(),
		Transport:  mailer.NewRetrying(p.mail, 3, time.Millisecond, 2*time.Millisecond),
		From:       "noreply@bulkmailer.local",
		Completion: p.completion,
	}
	p.campaigns = service.NewCampaignService(st.Campaigns(), st.Logs(), p.queue)
	p.scheduler = service.NewScheduler(st.Campaigns(), p.queue)
	p.ingestor = &service.RecipientIngestor{Recipients: st.Recipients()}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, service.NewWorker(p.queue, p.dispatcher, p.executor).Start(ctx))
	return p
}

func (p *pipeline) addRecipients(t *testing.T, rows ...service.RawRecipient) {
	t.Helper()
	_, err := p.ingestor.Ingest(context.Background(), rows)
	require.NoError(t, err)
}

// scheduleCampaign creates a campaign due in an hour.
func (p *pipeline) scheduleCampaign(t *testing.T, name string) *model.Campaign {
	t.Helper()
	c, err := p.campaigns.CreateCampaign(context.Background(), service.CreateCampaignInput{
		Name:          name,
		Subject:       name + " subject",
		Content:       "<p>hello</p>",
		ScheduledTime: time.Now().Add(time.Hour),
		Status:        "scheduled",
	})
	require.NoError(t, err)
	return c
}

// runDue ticks the scheduler as if two hours had passed and waits for every
// queued task to finish.
func (p *pipeline) runDue(t *testing.T) []int {
	t.Helper()
	p.scheduler.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	claimed, err := p.scheduler.Tick(context.Background())
	require.NoError(t, err)
	p.queue.Wait()
	return claimed
}

func (p *pipeline) status(t *testing.T, id int) model.CampaignStatus {
	t.Helper()
	c, err := p.store.Campaigns().GetByID(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}
