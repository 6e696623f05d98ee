package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclebandit/bulkmailer/internal/queue"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// DefaultStallAfter is how long a claimed campaign may sit without targets
// before its dispatch task is published again.
const DefaultStallAfter = 5 * time.Minute

// Scheduler claims due campaigns and hands each one to the dispatch queue.
type Scheduler struct {
	Campaigns CampaignStore
	Queue     Publisher
	Now       func() time.Time

	// StallAfter enables the stalled-dispatch sweep when positive.
	StallAfter time.Duration
}

func NewScheduler(campaigns CampaignStore, q Publisher) *Scheduler {
	return &Scheduler{Campaigns: campaigns, Queue: q, Now: time.Now, StallAfter: DefaultStallAfter}
}

// Tick claims every due campaign once and returns the IDs this caller won.
// Losing a claim race is silent. A store error on one campaign does not stop
// the others; the campaign stays due and is retried next tick.
func (s *Scheduler) Tick(ctx context.Context) ([]int, error) {
	due, err := s.Campaigns.FindDue(ctx, s.Now())
	if err != nil {
		return nil, err
	}

	var claimed []int
	for _, c := range due {
		log := zlog.Logger.With().Int("campaign_id", c.ID).Logger()

		ok, err := s.Campaigns.TryClaim(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			continue
		}
		if !ok {
			log.Debug().Msg("campaign already claimed")
			continue
		}

		claimed = append(claimed, c.ID)
		log.Info().Str("name", c.Name).Msg("🚀 campaign claimed")

		if err := s.Queue.Publish(ctx, queue.TopicDispatch, queue.DispatchTask{CampaignID: c.ID}); err != nil {
			log.Error().Err(err).Msg("dispatch hand-off failed, the stall sweep will retry it")
		}
	}

	s.sweep(ctx, claimed)
	return claimed, nil
}

// sweep re-publishes dispatch tasks for campaigns that were claimed but never
// fanned out, e.g. because the hand-off publish failed or the dispatch task
// was dead-lettered.
func (s *Scheduler) sweep(ctx context.Context, skip []int) {
	if s.StallAfter <= 0 {
		return
	}
	stalled, err := s.Campaigns.FindStalled(ctx, s.Now().Add(-s.StallAfter))
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("stall sweep failed")
		return
	}
	for _, c := range stalled {
		if slices.Contains(skip, c.ID) {
			continue
		}
		log := zlog.Logger.With().Int("campaign_id", c.ID).Logger()
		if err := s.Queue.Publish(ctx, queue.TopicDispatch, queue.DispatchTask{CampaignID: c.ID}); err != nil {
			log.Error().Err(err).Msg("re-dispatch of stalled campaign failed")
			continue
		}
		log.Warn().Time("claimed_at", c.UpdatedAt).Msg("🔁 stalled campaign re-dispatched")
	}
}

// Run ticks on spec until ctx is done.
func (s *Scheduler) Run(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Tick(ctx); err != nil {
			zlog.Logger.Error().Err(err).Msg("scheduler tick failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}

	zlog.Logger.Info().Str("spec", spec).Msg("⏰ Scheduler started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	zlog.Logger.Info().Msg("scheduler stopped")
	return nil
}
