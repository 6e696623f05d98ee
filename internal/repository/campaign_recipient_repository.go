package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/model"
)

// CampaignRecipientRepository stores campaign target sets.
type CampaignRecipientRepository struct {
	DB *sql.DB
}

// EnsureTarget creates the (campaign, recipient) join if it is absent. It
// reports whether a new row was written.
func (r *CampaignRecipientRepository) EnsureTarget(ctx context.Context, campaignID, recipientID int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        INSERT INTO campaign_recipients (campaign_id, recipient_id)
        VALUES ($1, $2)
        ON CONFLICT (campaign_id, recipient_id) DO NOTHING
    `, campaignID, recipientID)
	if err != nil {
		return false, appErrors.Unavailable("ensure campaign target", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListTargets returns the campaign's targeted recipients ordered by
// recipient ID.
func (r *CampaignRecipientRepository) ListTargets(ctx context.Context, campaignID int) ([]model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT r.id, r.name, r.email, r.subscription_status, r.created_at
        FROM campaign_recipients cr
        JOIN recipients r ON r.id = cr.recipient_id
        WHERE cr.campaign_id = $1
        ORDER BY r.id
    `, campaignID)
	if err != nil {
		return nil, appErrors.Unavailable("list campaign targets", err)
	}
	defer rows.Close()

	targets := []model.Recipient{}
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.Name, &rc.Email, &rc.SubscriptionStatus, &rc.CreatedAt); err != nil {
			return nil, appErrors.Unavailable("scan campaign target", err)
		}
		targets = append(targets, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Unavailable("list campaign targets", err)
	}
	return targets, nil
}

func (r *CampaignRecipientRepository) CountTargets(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1`, campaignID).Scan(&n)
	if err != nil {
		return 0, appErrors.Unavailable("count campaign targets", err)
	}
	return n, nil
}
