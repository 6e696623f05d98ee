package repository

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/model"
)

// DeliveryLogRepository is the delivery ledger. The (campaign_id,
// recipient_id) unique constraint guarantees one outcome per pair.
type DeliveryLogRepository struct {
	DB *sql.DB
}

const deliveryLogColumns = `id, campaign_id, recipient_id, recipient_email, status, failure_reason, sent_at`

func (r *DeliveryLogRepository) Exists(ctx context.Context, campaignID, recipientID int) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
        SELECT EXISTS (SELECT 1 FROM delivery_logs WHERE campaign_id = $1 AND recipient_id = $2)
    `, campaignID, recipientID).Scan(&exists)
	if err != nil {
		return false, appErrors.Unavailable("check delivery log", err)
	}
	return exists, nil
}

// Append writes one outcome and returns its ID. A second outcome for the
// same pair yields appErrors.ErrDuplicate and leaves the ledger untouched.
func (r *DeliveryLogRepository) Append(ctx context.Context, l *model.DeliveryLog) (int, error) {
	query := `
        INSERT INTO delivery_logs (campaign_id, recipient_id, recipient_email, status, failure_reason, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (campaign_id, recipient_id) DO NOTHING
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		l.CampaignID, l.RecipientID, l.RecipientEmail, string(l.Status), l.FailureReason, l.SentAt,
	).Scan(&l.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return 0, appErrors.ErrDuplicate
		}
		return 0, appErrors.Unavailable("append delivery log", err)
	}
	return l.ID, nil
}

func (r *DeliveryLogRepository) Count(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_logs WHERE campaign_id = $1`, campaignID).Scan(&n)
	if err != nil {
		return 0, appErrors.Unavailable("count delivery logs", err)
	}
	return n, nil
}

// ListOrdered returns the campaign's logs in insertion order.
func (r *DeliveryLogRepository) ListOrdered(ctx context.Context, campaignID int) ([]model.DeliveryLog, error) {
	return r.list(ctx, `SELECT `+deliveryLogColumns+` FROM delivery_logs WHERE campaign_id = $1 ORDER BY id`, campaignID)
}

// ListRecent returns the campaign's logs, most recent send first.
func (r *DeliveryLogRepository) ListRecent(ctx context.Context, campaignID int) ([]model.DeliveryLog, error) {
	return r.list(ctx, `SELECT `+deliveryLogColumns+` FROM delivery_logs WHERE campaign_id = $1 ORDER BY sent_at DESC, id DESC`, campaignID)
}

func (r *DeliveryLogRepository) list(ctx context.Context, query string, campaignID int) ([]model.DeliveryLog, error) {
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, appErrors.Unavailable("list delivery logs", err)
	}
	defer rows.Close()

	logs := []model.DeliveryLog{}
	for rows.Next() {
		var l model.DeliveryLog
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.RecipientID, &l.RecipientEmail, &l.Status, &l.FailureReason, &l.SentAt); err != nil {
			return nil, appErrors.Unavailable("scan delivery log", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Unavailable("list delivery logs", err)
	}
	return logs, nil
}
