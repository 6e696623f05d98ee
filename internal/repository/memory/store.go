// Package memory is an in-process implementation of the campaign, recipient,
// target and delivery-log stores. It keeps the same uniqueness and claim
// semantics as the Postgres repositories and backs tests and the memory store
// driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/model"
)

type pair struct {
	campaignID  int
	recipientID int
}

// Store holds every table behind one mutex, so a status check and the write
// that depends on it are always atomic.
type Store struct {
	mu sync.Mutex

	campaigns  map[int]*model.Campaign
	recipients map[int]*model.Recipient
	emails     map[string]int
	targets    map[pair]model.CampaignRecipient
	logs       []model.DeliveryLog
	logged     map[pair]struct{}

	nextCampaign  int
	nextRecipient int
	nextTarget    int
	nextLog       int

	bulkInsertErr error
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBulkInsertError makes every BulkInsert fail with err.
func WithBulkInsertError(err error) Option {
	return func(s *Store) { s.bulkInsertErr = err }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		campaigns:  make(map[int]*model.Campaign),
		recipients: make(map[int]*model.Recipient),
		emails:     make(map[string]int),
		targets:    make(map[pair]model.CampaignRecipient),
		logged:     make(map[pair]struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Campaigns() *CampaignStore   { return &CampaignStore{s} }
func (s *Store) Recipients() *RecipientStore { return &RecipientStore{s} }
func (s *Store) Targets() *TargetStore       { return &TargetStore{s} }
func (s *Store) Logs() *DeliveryLogStore     { return &DeliveryLogStore{s} }

// ──────────────────────────────────────────────────
// Campaigns
// ──────────────────────────────────────────────────

type CampaignStore struct{ s *Store }

func (c *CampaignStore) Create(_ context.Context, cp *model.Campaign) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.Status == "" {
		cp.Status = model.CampaignDraft
	}
	s.nextCampaign++
	cp.ID = s.nextCampaign
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	stored := *cp
	s.campaigns[cp.ID] = &stored
	return nil
}

func (c *CampaignStore) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	out := *cp
	return &out, nil
}

func (c *CampaignStore) ListCampaigns(_ context.Context, offset, limit int, status string) ([]model.CampaignSummary, int, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.CampaignSummary
	for _, cp := range s.campaigns {
		if status != "" && string(cp.Status) != status {
			continue
		}
		sum := model.CampaignSummary{Campaign: *cp}
		for p := range s.targets {
			if p.campaignID == cp.ID {
				sum.TargetCount++
			}
		}
		for _, l := range s.logs {
			if l.CampaignID != cp.ID {
				continue
			}
			switch l.Status {
			case model.DeliverySent:
				sum.SentCount++
			case model.DeliveryFailed:
				sum.FailedCount++
			}
		}
		matched = append(matched, sum)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page := []model.CampaignSummary{}
	if offset < total {
		end := min(offset+limit, total)
		page = append(page, matched[offset:end]...)
	}
	return page, total, nil
}

func (c *CampaignStore) FindDue(_ context.Context, now time.Time) ([]model.Campaign, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.Campaign
	for _, cp := range s.campaigns {
		if cp.Status == model.CampaignScheduled && !cp.ScheduledTime.After(now) {
			due = append(due, *cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledTime.Equal(due[j].ScheduledTime) {
			return due[i].ScheduledTime.Before(due[j].ScheduledTime)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (c *CampaignStore) FindStalled(_ context.Context, before time.Time) ([]model.Campaign, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	hasTargets := map[int]bool{}
	for p := range s.targets {
		hasTargets[p.campaignID] = true
	}
	var stalled []model.Campaign
	for _, cp := range s.campaigns {
		if cp.Status == model.CampaignInProgress && !cp.UpdatedAt.After(before) && !hasTargets[cp.ID] {
			stalled = append(stalled, *cp)
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].ID < stalled[j].ID })
	return stalled, nil
}

func (c *CampaignStore) TryClaim(_ context.Context, id int) (bool, error) {
	return c.s.transition(id, model.CampaignScheduled, model.CampaignInProgress), nil
}

func (c *CampaignStore) TryComplete(_ context.Context, id int) (bool, error) {
	return c.s.transition(id, model.CampaignInProgress, model.CampaignCompleted), nil
}

func (c *CampaignStore) Schedule(_ context.Context, id int, t time.Time) (bool, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// re-timing a scheduled campaign keeps its status
	cp, ok := s.campaigns[id]
	if !ok || (cp.Status != model.CampaignScheduled && !cp.Status.CanTransition(model.CampaignScheduled)) {
		return false, nil
	}
	cp.Status = model.CampaignScheduled
	cp.ScheduledTime = t
	cp.UpdatedAt = s.now()
	return true, nil
}

func (c *CampaignStore) Cancel(_ context.Context, id int) (bool, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.campaigns[id]
	if !ok || !cp.Status.CanTransition(model.CampaignCancelled) {
		return false, nil
	}
	cp.Status = model.CampaignCancelled
	cp.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) transition(id int, from, to model.CampaignStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.campaigns[id]
	if !ok || cp.Status != from || !from.CanTransition(to) {
		return false
	}
	cp.Status = to
	cp.UpdatedAt = s.now()
	return true
}

// ──────────────────────────────────────────────────
// Recipients
// ──────────────────────────────────────────────────

type RecipientStore struct{ s *Store }

func (r *RecipientStore) GetByID(_ context.Context, id int) (*model.Recipient, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.recipients[id]
	if !ok {
		return nil, appErrors.ErrRecipientNotFound
	}
	out := *rc
	return &out, nil
}

func (r *RecipientStore) FindEligible(_ context.Context) ([]model.Recipient, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	eligible := []model.Recipient{}
	for _, rc := range s.recipients {
		if rc.SubscriptionStatus == model.Subscribed {
			eligible = append(eligible, *rc)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return eligible, nil
}

func (r *RecipientStore) ExistsEmail(_ context.Context, email string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.emails[email]
	return ok, nil
}

// BulkInsert drops rows whose email is already stored, like ON CONFLICT DO
// NOTHING.
func (r *RecipientStore) BulkInsert(_ context.Context, rows []model.Recipient) ([]model.Recipient, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bulkInsertErr != nil {
		return nil, appErrors.Unavailable("bulk insert recipients", s.bulkInsertErr)
	}
	var inserted []model.Recipient
	for _, rc := range rows {
		if _, taken := s.emails[rc.Email]; taken {
			continue
		}
		s.insertLocked(&rc)
		inserted = append(inserted, rc)
	}
	return inserted, nil
}

func (r *RecipientStore) InsertOne(_ context.Context, rc *model.Recipient) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[rc.Email]; taken {
		return appErrors.ErrDuplicate
	}
	s.insertLocked(rc)
	return nil
}

func (s *Store) insertLocked(rc *model.Recipient) {
	s.nextRecipient++
	rc.ID = s.nextRecipient
	rc.CreatedAt = s.now()
	if rc.SubscriptionStatus == "" {
		rc.SubscriptionStatus = model.Subscribed
	}
	stored := *rc
	s.recipients[rc.ID] = &stored
	s.emails[rc.Email] = rc.ID
}

// SetSubscription toggles a recipient's status. It stands in for the
// administrative action that has no HTTP surface yet.
func (r *RecipientStore) SetSubscription(id int, status model.SubscriptionStatus) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.recipients[id]
	if !ok {
		return appErrors.ErrRecipientNotFound
	}
	rc.SubscriptionStatus = status
	return nil
}

// ──────────────────────────────────────────────────
// Campaign targets
// ──────────────────────────────────────────────────

type TargetStore struct{ s *Store }

func (t *TargetStore) EnsureTarget(_ context.Context, campaignID, recipientID int) (bool, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{campaignID, recipientID}
	if _, ok := s.targets[key]; ok {
		return false, nil
	}
	s.nextTarget++
	s.targets[key] = model.CampaignRecipient{
		ID:          s.nextTarget,
		CampaignID:  campaignID,
		RecipientID: recipientID,
		CreatedAt:   s.now(),
	}
	return true, nil
}

func (t *TargetStore) ListTargets(_ context.Context, campaignID int) ([]model.Recipient, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := []model.Recipient{}
	for p := range s.targets {
		if p.campaignID != campaignID {
			continue
		}
		if rc, ok := s.recipients[p.recipientID]; ok {
			targets = append(targets, *rc)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets, nil
}

func (t *TargetStore) CountTargets(_ context.Context, campaignID int) (int, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for p := range s.targets {
		if p.campaignID == campaignID {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Delivery ledger
// ──────────────────────────────────────────────────

type DeliveryLogStore struct{ s *Store }

func (d *DeliveryLogStore) Exists(_ context.Context, campaignID, recipientID int) (bool, error) {
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.logged[pair{campaignID, recipientID}]
	return ok, nil
}

func (d *DeliveryLogStore) Append(_ context.Context, l *model.DeliveryLog) (int, error) {
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{l.CampaignID, l.RecipientID}
	if _, ok := s.logged[key]; ok {
		return 0, appErrors.ErrDuplicate
	}
	s.nextLog++
	l.ID = s.nextLog
	if l.SentAt.IsZero() {
		l.SentAt = s.now()
	}
	s.logs = append(s.logs, *l)
	s.logged[key] = struct{}{}
	return l.ID, nil
}

func (d *DeliveryLogStore) Count(_ context.Context, campaignID int) (int, error) {
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, l := range s.logs {
		if l.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

// ListOrdered returns logs in insertion order.
func (d *DeliveryLogStore) ListOrdered(_ context.Context, campaignID int) ([]model.DeliveryLog, error) {
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.DeliveryLog{}
	for _, l := range s.logs {
		if l.CampaignID == campaignID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (d *DeliveryLogStore) ListRecent(ctx context.Context, campaignID int) ([]model.DeliveryLog, error) {
	out, _ := d.ListOrdered(ctx, campaignID)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
