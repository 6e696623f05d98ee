package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/bulkmailer/internal/mailer"
	"github.com/unclebandit/bulkmailer/internal/model"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// Report is the summary of a completed campaign.
type Report struct {
	Campaign model.Campaign
	Stats    model.DeliveryStats
	Logs     []model.DeliveryLog
	Text     string
	CSV      []byte
}

// ReportGenerator builds campaign reports and mails them to To. With no To
// configured nothing is built or sent.
type ReportGenerator struct {
	Campaigns CampaignStore
	Ledger    DeliveryLedger
	Transport mailer.Transport
	From      string
	To        string
}

func (g *ReportGenerator) Generate(ctx context.Context, campaignID int) error {
	if g.To == "" {
		zlog.Logger.Debug().Int("campaign_id", campaignID).Msg("no report destination configured")
		return nil
	}

	r, err := g.Build(ctx, campaignID)
	if err != nil {
		return err
	}

	err = g.Transport.Send(ctx, mailer.Message{
		From:    g.From,
		To:      g.To,
		Subject: "[Campaign Report] " + r.Campaign.Name,
		Text:    r.Text,
		Attachments: []mailer.Attachment{{
			Filename:    fmt.Sprintf("campaign_%d_report.csv", campaignID),
			ContentType: "text/csv",
			Data:        r.CSV,
		}},
	})
	if err != nil {
		return fmt.Errorf("send report for campaign %d: %w", campaignID, err)
	}

	zlog.Logger.Info().Int("campaign_id", campaignID).Str("to", g.To).Msg("📊 campaign report sent")
	return nil
}

// Build reads the ledger in insertion order and renders both artifacts.
func (g *ReportGenerator) Build(ctx context.Context, campaignID int) (*Report, error) {
	campaign, err := g.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	logs, err := g.Ledger.ListOrdered(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	r := &Report{Campaign: *campaign, Stats: model.Tally(logs), Logs: logs}
	r.Text = renderSummary(r)
	if r.CSV, err = renderCSV(logs); err != nil {
		return nil, err
	}
	return r, nil
}

func renderSummary(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign: %s\n", r.Campaign.Name)
	fmt.Fprintf(&b, "Subject: %s\n", r.Campaign.Subject)
	fmt.Fprintf(&b, "Scheduled Time: %s\n", r.Campaign.ScheduledTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Status: %s\n", r.Campaign.Status)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Total: %d\n", r.Stats.Total)
	fmt.Fprintf(&b, "Sent: %d\n", r.Stats.Sent)
	fmt.Fprintf(&b, "Failed: %d\n", r.Stats.Failed)
	b.WriteString("\nDetailed delivery logs:\n")
	for _, l := range r.Logs {
		fmt.Fprintf(&b, "%s | %s | %s | %s\n", l.SentAt.Format(time.RFC3339), l.RecipientEmail, l.Status, l.FailureReason)
	}
	return b.String()
}

func renderCSV(logs []model.DeliveryLog) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"recipient_email", "status", "failure_reason", "sent_at"})
	for _, l := range logs {
		_ = w.Write([]string{l.RecipientEmail, string(l.Status), csvSafe(l.FailureReason), l.SentAt.Format(time.RFC3339)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render report csv: %w", err)
	}
	return buf.Bytes(), nil
}

var csvSeparators = strings.NewReplacer(",", ";", "\r\n", " ", "\n", " ", "\r", " ")

func csvSafe(s string) string {
	return csvSeparators.Replace(s)
}
