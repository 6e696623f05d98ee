// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignCancelled  CampaignStatus = "cancelled"
)

// campaignTransitions lists every allowed status edge. Completed and
// Cancelled have no outgoing edges.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:      {CampaignScheduled, CampaignCancelled},
	CampaignScheduled:  {CampaignInProgress, CampaignCancelled},
	CampaignInProgress: {CampaignCompleted},
}

// Valid reports whether s is one of the known campaign statuses.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignInProgress, CampaignCompleted, CampaignCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// CanTransition reports whether the state machine allows s -> to.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, next := range campaignTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Campaign struct {
	ID            int            `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Subject       string         `db:"subject" json:"subject"`
	Content       string         `db:"content" json:"content"`
	ScheduledTime time.Time      `db:"scheduled_time" json:"scheduled_time"`
	Status        CampaignStatus `db:"status" json:"status"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// CampaignSummary is a campaign row with its delivery aggregates, as shown
// on the campaign list.
type CampaignSummary struct {
	Campaign
	TargetCount int `json:"target_count"`
	SentCount   int `json:"sent_count"`
	FailedCount int `json:"failed_count"`
}

// CampaignDetails is a campaign with its full delivery history.
type CampaignDetails struct {
	Campaign
	Logs  []DeliveryLog `json:"logs"`
	Stats DeliveryStats `json:"stats"`
}
