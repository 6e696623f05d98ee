package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/model"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// RawRecipient is one untrusted input row.
type RawRecipient struct {
	Name               string
	Email              string
	SubscriptionStatus string
}

type IngestResult struct {
	Created          int `json:"created"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Invalid          int `json:"invalid"`
}

type RecipientIngestor struct {
	Recipients RecipientStore
}

// Ingest normalises rows, drops invalid ones and duplicates (first
// occurrence wins), and stores the rest in one bulk insert. If the bulk
// insert fails, rows are inserted one at a time.
func (i *RecipientIngestor) Ingest(ctx context.Context, rows []RawRecipient) (IngestResult, error) {
	var res IngestResult
	seen := make(map[string]bool, len(rows))
	accepted := make([]model.Recipient, 0, len(rows))

	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		email := strings.ToLower(strings.TrimSpace(row.Email))
		if name == "" || email == "" {
			res.Invalid++
			continue
		}
		if seen[email] {
			res.SkippedDuplicate++
			continue
		}
		seen[email] = true

		exists, err := i.Recipients.ExistsEmail(ctx, email)
		if err != nil {
			return res, err
		}
		if exists {
			res.SkippedDuplicate++
			continue
		}

		accepted = append(accepted, model.Recipient{
			Name:               name,
			Email:              email,
			SubscriptionStatus: model.ParseSubscriptionStatus(strings.ToLower(strings.TrimSpace(row.SubscriptionStatus))),
		})
	}
	if len(accepted) == 0 {
		return res, nil
	}

	inserted, err := i.Recipients.BulkInsert(ctx, accepted)
	if err == nil {
		res.Created += len(inserted)
		res.SkippedDuplicate += len(accepted) - len(inserted)
		return res, nil
	}

	zlog.Logger.Warn().Err(err).Int("rows", len(accepted)).Msg("bulk insert failed, inserting one at a time")
	for _, rc := range accepted {
		if err := i.Recipients.InsertOne(ctx, &rc); err != nil {
			if errors.Is(err, appErrors.ErrDuplicate) {
				res.SkippedDuplicate++
				continue
			}
			return res, err
		}
		res.Created++
	}
	return res, nil
}

// ParseRecipientsCSV reads a CSV file with a header row. Columns are matched
// by name (name, email, subscription_status) in any order; other columns are
// ignored and missing ones read as empty.
func ParseRecipientsCSV(r io.Reader) ([]RawRecipient, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, appErrors.NewValidation("file", "unable to decode file, please upload UTF-8 encoded CSV")
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewValidation("file", err.Error())
	}
	col := make(map[string]int, len(header))
	for idx, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = idx
	}
	field := func(rec []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return rec[idx]
	}

	var rows []RawRecipient
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErrors.NewValidation("file", err.Error())
		}
		rows = append(rows, RawRecipient{
			Name:               field(rec, "name"),
			Email:              field(rec, "email"),
			SubscriptionStatus: field(rec, "subscription_status"),
		})
	}
	return rows, nil
}
