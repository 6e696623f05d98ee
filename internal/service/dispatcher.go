package service

import (
	"context"

	"github.com/unclebandit/bulkmailer/internal/model"
	"github.com/unclebandit/bulkmailer/internal/queue"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// DispatchResult counts what one dispatch run did.
type DispatchResult struct {
	CampaignID int `json:"campaign_id"`
	Targets    int `json:"targets"`
	NewTargets int `json:"new_targets"`
	Issued     int `json:"issued"`
	Skipped    int `json:"skipped"`
}

// Dispatcher fans a claimed campaign out into delivery tasks. Running it
// again for the same campaign creates no duplicate targets and issues no
// task for a recipient that already has a ledger entry.
type Dispatcher struct {
	Campaigns  CampaignStore
	Recipients RecipientStore
	Targets    TargetStore
	Ledger     DeliveryLedger
	Queue      Publisher
	Completion *CompletionDetector
}

func (d *Dispatcher) Dispatch(ctx context.Context, campaignID int) (*DispatchResult, error) {
	log := zlog.Logger.With().Int("campaign_id", campaignID).Logger()

	campaign, err := d.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	res := &DispatchResult{CampaignID: campaignID}
	if campaign.Status != model.CampaignInProgress {
		log.Debug().Str("status", string(campaign.Status)).Msg("campaign not in progress, nothing to dispatch")
		return res, nil
	}

	eligible, err := d.Recipients.FindEligible(ctx)
	if err != nil {
		return nil, err
	}
	for _, rc := range eligible {
		created, err := d.Targets.EnsureTarget(ctx, campaignID, rc.ID)
		if err != nil {
			return nil, err
		}
		if created {
			res.NewTargets++
		}
	}

	// Every join exists before the first task goes out, so no delivery can
	// see a partial target count.
	targets, err := d.Targets.ListTargets(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	res.Targets = len(targets)

	// The last outstanding delivery may have completed the campaign while
	// the joins were written.
	current, err := d.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.CampaignInProgress {
		log.Debug().Str("status", string(current.Status)).Msg("campaign left in_progress during dispatch, issuing nothing")
		return res, nil
	}

	for _, rc := range targets {
		done, err := d.Ledger.Exists(ctx, campaignID, rc.ID)
		if err != nil {
			return nil, err
		}
		if done {
			res.Skipped++
			continue
		}
		task := queue.DeliveryTask{CampaignID: campaignID, RecipientID: rc.ID}
		if err := d.Queue.Publish(ctx, queue.TopicDelivery, task); err != nil {
			return nil, err
		}
		res.Issued++
	}

	log.Info().
		Int("targets", res.Targets).
		Int("new_targets", res.NewTargets).
		Int("issued", res.Issued).
		Int("skipped", res.Skipped).
		Msg("📨 campaign dispatched")

	if _, err := d.Completion.Evaluate(ctx, campaignID); err != nil {
		return nil, err
	}
	return res, nil
}
