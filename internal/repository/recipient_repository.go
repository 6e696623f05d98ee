package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/model"
)

// RecipientRepository is the Postgres recipient store. Emails are stored
// already lowercased; uniqueness is enforced by the recipients.email index.
type RecipientRepository struct {
	DB *sql.DB
}

// GetByID fetches a recipient by ID
func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	query := `
        SELECT id, name, email, subscription_status, created_at
        FROM recipients
        WHERE id = $1
    `
	var rc model.Recipient
	err := r.DB.QueryRowContext(ctx, query, id).
		Scan(&rc.ID, &rc.Name, &rc.Email, &rc.SubscriptionStatus, &rc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRecipientNotFound
		}
		return nil, appErrors.Unavailable("get recipient", err)
	}
	return &rc, nil
}

// FindEligible lists subscribed recipients in ascending ID order.
func (r *RecipientRepository) FindEligible(ctx context.Context) ([]model.Recipient, error) {
	query := `
        SELECT id, name, email, subscription_status, created_at
        FROM recipients
        WHERE subscription_status = 'subscribed'
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, appErrors.Unavailable("find eligible recipients", err)
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.Name, &rc.Email, &rc.SubscriptionStatus, &rc.CreatedAt); err != nil {
			return nil, appErrors.Unavailable("scan recipient", err)
		}
		recipients = append(recipients, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Unavailable("find eligible recipients", err)
	}
	return recipients, nil
}

func (r *RecipientRepository) ExistsEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM recipients WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, appErrors.Unavailable("check recipient email", err)
	}
	return exists, nil
}

// BulkInsert inserts rows in one statement. Rows whose email already exists
// are silently dropped; only the rows actually inserted are returned.
func (r *RecipientRepository) BulkInsert(ctx context.Context, rows []model.Recipient) ([]model.Recipient, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	names := make([]string, len(rows))
	emails := make([]string, len(rows))
	statuses := make([]string, len(rows))
	for i, rc := range rows {
		names[i] = rc.Name
		emails[i] = rc.Email
		statuses[i] = string(rc.SubscriptionStatus)
	}

	query := `
        INSERT INTO recipients (name, email, subscription_status)
        SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
        ON CONFLICT (email) DO NOTHING
        RETURNING id, name, email, subscription_status, created_at
    `
	res, err := r.DB.QueryContext(ctx, query, pq.Array(names), pq.Array(emails), pq.Array(statuses))
	if err != nil {
		return nil, appErrors.Unavailable("bulk insert recipients", err)
	}
	defer res.Close()

	var inserted []model.Recipient
	for res.Next() {
		var rc model.Recipient
		if err := res.Scan(&rc.ID, &rc.Name, &rc.Email, &rc.SubscriptionStatus, &rc.CreatedAt); err != nil {
			return nil, appErrors.Unavailable("scan recipient", err)
		}
		inserted = append(inserted, rc)
	}
	if err := res.Err(); err != nil {
		return nil, appErrors.Unavailable("bulk insert recipients", err)
	}
	return inserted, nil
}

// InsertOne inserts a single recipient, returning appErrors.ErrDuplicate when
// the email is taken.
func (r *RecipientRepository) InsertOne(ctx context.Context, rc *model.Recipient) error {
	query := `
        INSERT INTO recipients (name, email, subscription_status)
        VALUES ($1, $2, $3)
        RETURNING id, created_at
    `
	err := r.DB.QueryRowContext(ctx, query, rc.Name, rc.Email, string(rc.SubscriptionStatus)).Scan(&rc.ID, &rc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.ErrDuplicate
		}
		return appErrors.Unavailable("insert recipient", err)
	}
	return nil
}
