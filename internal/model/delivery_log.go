// internal/model/delivery_log.go
package model

import "time"

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryLog is the single recorded outcome for one (campaign, recipient)
// pair. RecipientEmail is copied at send time and never updated.
type DeliveryLog struct {
	ID             int            `db:"id" json:"id"`
	CampaignID     int            `db:"campaign_id" json:"campaign_id"`
	RecipientID    int            `db:"recipient_id" json:"recipient_id"`
	RecipientEmail string         `db:"recipient_email" json:"recipient_email"`
	Status         DeliveryStatus `db:"status" json:"status"`
	FailureReason  string         `db:"failure_reason" json:"failure_reason,omitempty"`
	SentAt         time.Time      `db:"sent_at" json:"sent_at"`
}

type DeliveryStats struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Tally counts outcomes in logs.
func Tally(logs []DeliveryLog) DeliveryStats {
	var s DeliveryStats
	for _, l := range logs {
		switch l.Status {
		case DeliverySent:
			s.Sent++
		case DeliveryFailed:
			s.Failed++
		}
		s.Total++
	}
	return s
}
