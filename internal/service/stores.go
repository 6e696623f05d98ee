package service

import (
	"context"
	"time"

	"github.com/unclebandit/bulkmailer/internal/model"
)

// CampaignStore is implemented by repository.CampaignRepository and
// memory.CampaignStore.
type CampaignStore interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]model.CampaignSummary, int, error)
	FindDue(ctx context.Context, now time.Time) ([]model.Campaign, error)
	FindStalled(ctx context.Context, before time.Time) ([]model.Campaign, error)
	TryClaim(ctx context.Context, id int) (bool, error)
	TryComplete(ctx context.Context, id int) (bool, error)
	Schedule(ctx context.Context, id int, t time.Time) (bool, error)
	Cancel(ctx context.Context, id int) (bool, error)
}

type RecipientStore interface {
	GetByID(ctx context.Context, id int) (*model.Recipient, error)
	FindEligible(ctx context.Context) ([]model.Recipient, error)
	ExistsEmail(ctx context.Context, email string) (bool, error)
	BulkInsert(ctx context.Context, rows []model.Recipient) ([]model.Recipient, error)
	InsertOne(ctx context.Context, rc *model.Recipient) error
}

// TargetStore holds the campaign_recipients join.
type TargetStore interface {
	EnsureTarget(ctx context.Context, campaignID, recipientID int) (bool, error)
	ListTargets(ctx context.Context, campaignID int) ([]model.Recipient, error)
	CountTargets(ctx context.Context, campaignID int) (int, error)
}

// DeliveryLedger records one outcome per (campaign, recipient).
type DeliveryLedger interface {
	Exists(ctx context.Context, campaignID, recipientID int) (bool, error)
	Append(ctx context.Context, l *model.DeliveryLog) (int, error)
	Count(ctx context.Context, campaignID int) (int, error)
	ListOrdered(ctx context.Context, campaignID int) ([]model.DeliveryLog, error)
	ListRecent(ctx context.Context, campaignID int) ([]model.DeliveryLog, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}
