package service

import (
	"context"

	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// ReportTrigger is invoked once when a campaign completes.
type ReportTrigger interface {
	Generate(ctx context.Context, campaignID int) error
}

// CompletionDetector moves an in-progress campaign to completed once every
// target has a ledger entry. It is safe to call any number of times.
type CompletionDetector struct {
	Campaigns CampaignStore
	Targets   TargetStore
	Ledger    DeliveryLedger
	Reports   ReportTrigger
}

// Evaluate reports whether this call completed the campaign. Only that
// caller triggers the report.
func (d *CompletionDetector) Evaluate(ctx context.Context, campaignID int) (bool, error) {
	targets, err := d.Targets.CountTargets(ctx, campaignID)
	if err != nil {
		return false, err
	}
	logged, err := d.Ledger.Count(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if targets > 0 && logged < targets {
		return false, nil
	}

	completed, err := d.Campaigns.TryComplete(ctx, campaignID)
	if err != nil || !completed {
		return false, err
	}

	log := zlog.Logger.With().Int("campaign_id", campaignID).Logger()
	log.Info().Int("targets", targets).Int("logged", logged).Msg("✅ campaign completed")

	if d.Reports != nil {
		if err := d.Reports.Generate(ctx, campaignID); err != nil {
			log.Error().Err(err).Msg("campaign report failed")
		}
	}
	return true, nil
}
