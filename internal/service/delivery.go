package service

import (
	"context"
	"errors"
	"time"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/mailer"
	"github.com/unclebandit/bulkmailer/internal/model"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// DeliveryExecutor sends one campaign message to one recipient and records
// the outcome. Transport retries happen inside Transport; the executor logs
// only the final result.
type DeliveryExecutor struct {
	Campaigns  CampaignStore
	Recipients RecipientStore
	Ledger     DeliveryLedger
	Transport  mailer.Transport
	From       string
	Completion *CompletionDetector
	Now        func() time.Time
}

// Deliver returns an error only when the store fails. A transport failure is
// recorded as a failed ledger entry and is not an error. Nothing is sent once
// the campaign has left in_progress.
func (e *DeliveryExecutor) Deliver(ctx context.Context, campaignID, recipientID int) error {
	log := zlog.Logger.With().Int("campaign_id", campaignID).Int("recipient_id", recipientID).Logger()

	done, err := e.Ledger.Exists(ctx, campaignID, recipientID)
	if err != nil {
		return err
	}
	if done {
		log.Debug().Msg("already delivered, skipping")
		_, err := e.Completion.Evaluate(ctx, campaignID)
		return err
	}

	campaign, err := e.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignInProgress {
		log.Debug().Str("status", string(campaign.Status)).Msg("campaign no longer in progress, dropping delivery")
		return nil
	}
	recipient, err := e.Recipients.GetByID(ctx, recipientID)
	if err != nil {
		return err
	}

	entry := &model.DeliveryLog{
		CampaignID:     campaignID,
		RecipientID:    recipientID,
		RecipientEmail: recipient.Email,
		Status:         model.DeliverySent,
	}
	sendErr := e.Transport.Send(ctx, mailer.Message{
		From:    e.From,
		To:      recipient.Email,
		Subject: campaign.Subject,
		Text:    campaign.Content,
		HTML:    campaign.Content,
	})
	if sendErr != nil {
		entry.Status = model.DeliveryFailed
		entry.FailureReason = sendErr.Error()
		log.Warn().Err(sendErr).Str("email", recipient.Email).Msg("delivery failed")
	}
	entry.SentAt = e.now()

	if _, err := e.Ledger.Append(ctx, entry); err != nil {
		if !errors.Is(err, appErrors.ErrDuplicate) {
			return err
		}
		log.Debug().Msg("outcome already recorded by another worker")
	}

	_, err = e.Completion.Evaluate(ctx, campaignID)
	return err
}

func (e *DeliveryExecutor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
