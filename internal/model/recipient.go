// internal/model/recipient.go
package model

import "time"

type SubscriptionStatus string

const (
	Subscribed   SubscriptionStatus = "subscribed"
	Unsubscribed SubscriptionStatus = "unsubscribed"
)

// ParseSubscriptionStatus maps free text onto a known status. Anything it
// does not recognise counts as subscribed.
func ParseSubscriptionStatus(raw string) SubscriptionStatus {
	switch SubscriptionStatus(raw) {
	case Unsubscribed:
		return Unsubscribed
	default:
		return Subscribed
	}
}

type Recipient struct {
	ID                 int                `db:"id" json:"id"`
	Name               string             `db:"name" json:"name"`
	Email              string             `db:"email" json:"email"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
}

// CampaignRecipient marks a recipient as part of a campaign's target set.
type CampaignRecipient struct {
	ID          int       `db:"id" json:"id"`
	CampaignID  int       `db:"campaign_id" json:"campaign_id"`
	RecipientID int       `db:"recipient_id" json:"recipient_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
