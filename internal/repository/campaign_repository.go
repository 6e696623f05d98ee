package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/model"
)

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, subject, content, scheduled_time, status, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }, c *model.Campaign) error {
	return row.Scan(&c.ID, &c.Name, &c.Subject, &c.Content, &c.ScheduledTime, &c.Status, &c.CreatedAt, &c.UpdatedAt)
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (name, subject, content, scheduled_time, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at
    `
	err := r.DB.QueryRowContext(ctx, query, c.Name, c.Subject, c.Content, c.ScheduledTime, string(c.Status)).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return appErrors.Unavailable("create campaign", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	var c model.Campaign
	if err := scanCampaign(r.DB.QueryRowContext(ctx, query, id), &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, appErrors.Unavailable("get campaign", err)
	}
	return &c, nil
}

// ListCampaigns returns one page of campaigns, newest first, with delivery
// aggregates, plus the total number of campaigns matching status.
func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]model.CampaignSummary, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if status != "" {
		where += ` AND c.status = $1`
		args = append(args, status)
	}

	query := `
        SELECT c.id, c.name, c.subject, c.content, c.scheduled_time, c.status, c.created_at, c.updated_at,
               (SELECT COUNT(*) FROM campaign_recipients cr WHERE cr.campaign_id = c.id),
               (SELECT COUNT(*) FROM delivery_logs dl WHERE dl.campaign_id = c.id AND dl.status = 'sent'),
               (SELECT COUNT(*) FROM delivery_logs dl WHERE dl.campaign_id = c.id AND dl.status = 'failed')
        FROM campaigns c` + where +
		fmt.Sprintf(` ORDER BY c.created_at DESC, c.id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, appErrors.Unavailable("list campaigns", err)
	}
	defer rows.Close()

	campaigns := []model.CampaignSummary{}
	for rows.Next() {
		var s model.CampaignSummary
		if err := rows.Scan(
			&s.ID, &s.Name, &s.Subject, &s.Content, &s.ScheduledTime, &s.Status, &s.CreatedAt, &s.UpdatedAt,
			&s.TargetCount, &s.SentCount, &s.FailedCount,
		); err != nil {
			return nil, 0, appErrors.Unavailable("scan campaign", err)
		}
		campaigns = append(campaigns, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, appErrors.Unavailable("list campaigns", err)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns c`+where, args...).Scan(&total); err != nil {
		return nil, 0, appErrors.Unavailable("count campaigns", err)
	}

	return campaigns, total, nil
}

// ====================== Scheduling ======================

// FindDue returns scheduled campaigns whose time has come, oldest first.
func (r *CampaignRepository) FindDue(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	query := `
        SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status = 'scheduled' AND scheduled_time <= $1
        ORDER BY scheduled_time, id
    `
	rows, err := r.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, appErrors.Unavailable("find due campaigns", err)
	}
	defer rows.Close()

	var due []model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := scanCampaign(rows, &c); err != nil {
			return nil, appErrors.Unavailable("scan campaign", err)
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Unavailable("find due campaigns", err)
	}
	return due, nil
}

// FindStalled returns in_progress campaigns claimed at or before the given
// time that still have no targets, i.e. whose dispatch never ran.
func (r *CampaignRepository) FindStalled(ctx context.Context, before time.Time) ([]model.Campaign, error) {
	query := `
        SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status = 'in_progress' AND updated_at <= $1
          AND NOT EXISTS (SELECT 1 FROM campaign_recipients cr WHERE cr.campaign_id = campaigns.id)
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query, before)
	if err != nil {
		return nil, appErrors.Unavailable("find stalled campaigns", err)
	}
	defer rows.Close()

	var stalled []model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := scanCampaign(rows, &c); err != nil {
			return nil, appErrors.Unavailable("scan campaign", err)
		}
		stalled = append(stalled, c)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Unavailable("find stalled campaigns", err)
	}
	return stalled, nil
}

// TryClaim moves a campaign from scheduled to in_progress. The status is
// re-read under a row lock, so among concurrent callers exactly one gets
// true. A campaign that is no longer scheduled is not an error.
func (r *CampaignRepository) TryClaim(ctx context.Context, id int) (bool, error) {
	return r.transitionLocked(ctx, id, model.CampaignScheduled, model.CampaignInProgress)
}

// TryComplete moves a campaign from in_progress to completed under the same
// locking discipline as TryClaim.
func (r *CampaignRepository) TryComplete(ctx context.Context, id int) (bool, error) {
	return r.transitionLocked(ctx, id, model.CampaignInProgress, model.CampaignCompleted)
}

func (r *CampaignRepository) transitionLocked(ctx context.Context, id int, from, to model.CampaignStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("campaign %d: %s -> %s is not a valid transition", id, from, to)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, appErrors.Unavailable("begin transition", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Unavailable("lock campaign", err)
	}
	if model.CampaignStatus(current) != from {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(to), id,
	); err != nil {
		return false, appErrors.Unavailable("update campaign status", err)
	}

	if err := tx.Commit(); err != nil {
		return false, appErrors.Unavailable("commit transition", err)
	}
	return true, nil
}

// ====================== Administrative transitions ======================

// Schedule sets a draft or scheduled campaign to scheduled at t. It reports
// false when the campaign exists in any other status or does not exist.
func (r *CampaignRepository) Schedule(ctx context.Context, id int, t time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET status = 'scheduled', scheduled_time = $1, updated_at = NOW()
        WHERE id = $2 AND status IN ('draft', 'scheduled')
    `, t, id)
	if err != nil {
		return false, appErrors.Unavailable("schedule campaign", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Cancel sets a draft or scheduled campaign to cancelled.
func (r *CampaignRepository) Cancel(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET status = 'cancelled', updated_at = NOW()
        WHERE id = $1 AND status IN ('draft', 'scheduled')
    `, id)
	if err != nil {
		return false, appErrors.Unavailable("cancel campaign", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
