//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"os"

	"github.com/unclebandit/bulkmailer/internal/config"
	"github.com/unclebandit/bulkmailer/internal/db"
	"github.com/unclebandit/bulkmailer/internal/repository"
	"github.com/unclebandit/bulkmailer/internal/service"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// Loads a recipients CSV (name,email,subscription_status) straight into
// Postgres, without going through the HTTP API.
func main() {
	file := flag.String("file", "seed/recipients.csv", "recipients CSV to import")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	zlog.Init(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("migration failed")
	}

	f, err := os.Open(*file)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("file", *file).Msg("failed to read seed file")
	}
	defer f.Close()

	rows, err := service.ParseRecipientsCSV(f)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse seed file")
	}

	ingestor := &service.RecipientIngestor{Recipients: &repository.RecipientRepository{DB: conn}}
	res, err := ingestor.Ingest(ctx, rows)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("seeding failed")
	}

	zlog.Logger.Info().
		Int("created", res.Created).
		Int("skipped_duplicate", res.SkippedDuplicate).
		Int("invalid", res.Invalid).
		Msg("✅ Database seeding completed")
}
