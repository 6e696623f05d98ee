// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/bulkmailer/internal/app"
	"github.com/unclebandit/bulkmailer/internal/config"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("⚠️ invalid configuration")
	}
	zlog.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("worker failed")
	}
}

// run consumes dispatch and delivery tasks and ticks the scheduler until ctx
// is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	zlog.Logger.Info().
		Str("queue", cfg.Queue.Driver).
		Str("store", cfg.StoreDriver).
		Msg("👷 Worker started. Waiting for campaign tasks...")
	return a.RunWorker(ctx)
}
