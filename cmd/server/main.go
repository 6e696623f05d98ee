// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	a, err := app.New(ctx, cfg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	workerDone := make(chan error, 1)
	if cfg.EmbeddedWorker {
		go func() { workerDone <- a.RunWorker(ctx) }()
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Logger.Info().Str("addr", cfg.HTTPAddr).Msg("🚀 Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("🛑 shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("http shutdown")
	}
	if err := <-workerDone; err != nil {
		zlog.Logger.Error().Err(err).Msg("worker stopped with error")
	}
}
