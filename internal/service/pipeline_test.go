package service_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/bulkmailer/internal/model"
	"github.com/unclebandit/bulkmailer/internal/queue"
	"github.com/unclebandit/bulkmailer/internal/repository/memory"
	"github.com/unclebandit/bulkmailer/internal/service"
)

func TestPipeline_OneSentOneFailed(t *testing.T) {
	p := newPipeline(t)
	p.addRecipients(t,
		service.RawRecipient{Name: "Ann", Email: "ann@x.com", SubscriptionStatus: "subscribed"},
		service.RawRecipient{Name: "Bob", Email: "bob@x.com", SubscriptionStatus: "subscribed"},
	)
	p.mail.failFor["bob@x.com"] = "SMTP timeout"
	c := p.scheduleCampaign(t, "Spring")

	claimed := p.runDue(t)
	assert.Equal(t, []int{c.ID}, claimed)

	logs, err := p.store.Logs().ListOrdered(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	byEmail := map[string]model.DeliveryLog{}
	for _, l := range logs {
		byEmail[l.RecipientEmail] = l
	}
	assert.Equal(t, model.DeliverySent, byEmail["ann@x.com"].Status)
	assert.Empty(t, byEmail["ann@x.com"].FailureReason)
	assert.Equal(t, model.DeliveryFailed, byEmail["bob@x.com"].Status)
	assert.Equal(t, "SMTP timeout", byEmail["bob@x.com"].FailureReason)

	// bounded retry on the failing recipient, no extra ledger rows
	assert.Equal(t, 3, p.mail.Calls("bob@x.com"))
	assert.Equal(t, 1, p.mail.Calls("ann@x.com"))

	assert.Equal(t, model.CampaignCompleted, p.status(t, c.ID))

	reports := p.reportMail.Sent()
	require.Len(t, reports, 1)
	assert.Equal(t, "[Campaign Report] Spring", reports[0].Subject)
	assert.Equal(t, "admin@x.com", reports[0].To)
	assert.Contains(t, reports[0].Text, "Total: 2\nSent: 1\nFailed: 1")
	require.Len(t, reports[0].Attachments, 1)
	csv := string(reports[0].Attachments[0].Data)
	assert.Contains(t, csv, "ann@x.com,sent,,")
	assert.Contains(t, csv, "bob@x.com,failed,SMTP timeout,")
}

func TestPipeline_CampaignMailCarriesContent(t *testing.T) {
	p := newPipeline(t)
	p.addRecipients(t, service.RawRecipient{Name: "Ann", Email: "ann@x.com"})
	c := p.scheduleCampaign(t, "Launch")

	p.runDue(t)

	sent := p.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ann@x.com", sent[0].To)
	assert.Equal(t, c.Subject, sent[0].Subject)
	assert.Equal(t, "<p>hello</p>", sent[0].Text)
	assert.Equal(t, "<p>hello</p>", sent[0].HTML)
	assert.Equal(t, "noreply@bulkmailer.local", sent[0].From)
}

func TestPipeline_ZeroRecipientsCompletes(t *testing.T) {
	p := newPipeline(t)
	c := p.scheduleCampaign(t, "Empty")

	p.runDue(t)

	assert.Equal(t, model.CampaignCompleted, p.status(t, c.ID))
	n, _ := p.store.Logs().Count(context.Background(), c.ID)
	assert.Zero(t, n)

	reports := p.reportMail.Sent()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Text, "Total: 0")
}

func TestPipeline_UnsubscribedNeverTargeted(t *testing.T) {
	p := newPipeline(t)
	p.addRecipients(t,
		service.RawRecipient{Name: "Ann", Email: "ann@x.com", SubscriptionStatus: "subscribed"},
		service.RawRecipient{Name: "Out", Email: "out@x.com", SubscriptionStatus: "Unsubscribed"},
	)
	c := p.scheduleCampaign(t, "Only subscribed")

	p.runDue(t)

	targets, err := p.store.Targets().ListTargets(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "ann@x.com", targets[0].Email)

	logs, _ := p.store.Logs().ListOrdered(context.Background(), c.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, "ann@x.com", logs[0].RecipientEmail)
	assert.Zero(t, p.mail.Calls("out@x.com"))
}

func TestPipeline_CancelledCampaignNeverClaimed(t *testing.T) {
	p := newPipeline(t)
	p.addRecipients(t, service.RawRecipient{Name: "Ann", Email: "ann@x.com"})
	c := p.scheduleCampaign(t, "Cancelled")
	_, err := p.campaigns.CancelCampaign(context.Background(), c.ID)
	require.NoError(t, err)

	claimed := p.runDue(t)

	assert.Empty(t, claimed)
	assert.Equal(t, model.CampaignCancelled, p.status(t, c.ID))
	assert.Empty(t, p.mail.Sent())
}

func TestScheduler_ConcurrentTicksClaimOnce(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	c := &model.Campaign{Name: "n", Subject: "s", Content: "c", ScheduledTime: time.Now().Add(-time.Minute), Status: model.CampaignScheduled}
	require.NoError(t, st.Campaigns().Create(ctx, c))

	pub := &capturingPublisher{}
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := service.NewScheduler(st.Campaigns(), pub).Tick(ctx)
			assert.NoError(t, err)
			wins.Add(int32(len(claimed)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, pub.Len())
}

func TestDispatcher_RedispatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		require.NoError(t, st.Recipients().InsertOne(ctx, &model.Recipient{Name: strings.ToUpper(email[:1]), Email: email}))
	}
	c := &model.Campaign{Name: "n", Subject: "s", Content: "c", ScheduledTime: time.Now(), Status: model.CampaignScheduled}
	require.NoError(t, st.Campaigns().Create(ctx, c))
	ok, _ := st.Campaigns().TryClaim(ctx, c.ID)
	require.True(t, ok)

	pub := &capturingPublisher{}
	completion := &service.CompletionDetector{Campaigns: st.Campaigns(), Targets: st.Targets(), Ledger: st.Logs()}
	d := &service.Dispatcher{
		Campaigns:  st.Campaigns(),
		Recipients: st.Recipients(),
		Targets:    st.Targets(),
		Ledger:     st.Logs(),
		Queue:      pub,
		Completion: completion,
	}
	e := &service.DeliveryExecutor{
		Campaigns:  st.Campaigns(),
		Recipients: st.Recipients(),
		Ledger:     st.Logs(),
		Transport:  newRecordingTransport(),
		Completion: completion,
	}

	first, err := d.Dispatch(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewTargets)
	assert.Equal(t, 3, first.Issued)

	// two of the three tasks ran before the worker died
	require.NoError(t, e.Deliver(ctx, c.ID, 1))
	require.NoError(t, e.Deliver(ctx, c.ID, 2))

	second, err := d.Dispatch(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewTargets)
	assert.Equal(t, 3, second.Targets)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 1, second.Issued)
	assert.Equal(t, 4, pub.Len())

	targets, _ := st.Targets().CountTargets(ctx, c.ID)
	logs, _ := st.Logs().Count(ctx, c.ID)
	assert.Equal(t, 3, targets)
	assert.Equal(t, 2, logs)

	require.NoError(t, e.Deliver(ctx, c.ID, 3))
	got, _ := st.Campaigns().GetByID(ctx, c.ID)
	assert.Equal(t, model.CampaignCompleted, got.Status)

	// a dispatch after completion does nothing
	third, err := d.Dispatch(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, third.Issued)
	assert.Equal(t, 4, pub.Len())
}

func TestExecutor_RedeliveredTaskSendsOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Recipients().InsertOne(ctx, &model.Recipient{Name: "A", Email: "a@x.com"}))
	require.NoError(t, st.Recipients().InsertOne(ctx, &model.Recipient{Name: "B", Email: "b@x.com"}))
	c := &model.Campaign{Name: "n", Subject: "s", Content: "c", ScheduledTime: time.Now(), Status: model.CampaignInProgress}
	require.NoError(t, st.Campaigns().Create(ctx, c))
	_, _ = st.Targets().EnsureTarget(ctx, c.ID, 1)
	_, _ = st.Targets().EnsureTarget(ctx, c.ID, 2)

	tr := newRecordingTransport()
	e := &service.DeliveryExecutor{
		Campaigns:  st.Campaigns(),
		Recipients: st.Recipients(),
		Ledger:     st.Logs(),
		Transport:  tr,
		Completion: &service.CompletionDetector{Campaigns: st.Campaigns(), Targets: st.Targets(), Ledger: st.Logs()},
	}

	require.NoError(t, e.Deliver(ctx, c.ID, 1))
	require.NoError(t, e.Deliver(ctx, c.ID, 1))

	assert.Equal(t, 1, tr.Calls("a@x.com"))
	n, _ := st.Logs().Count(ctx, c.ID)
	assert.Equal(t, 1, n)

	got, _ := st.Campaigns().GetByID(ctx, c.ID)
	assert.Equal(t, model.CampaignInProgress, got.Status)
}

type countingReports struct{ n atomic.Int32 }

func (c *countingReports) Generate(context.Context, int) error {
	c.n.Add(1)
	return nil
}

func TestCompletion_ConcurrentEvaluateReportsOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := &model.Campaign{Name: "n", Subject: "s", Content: "c", ScheduledTime: time.Now(), Status: model.CampaignInProgress}
	require.NoError(t, st.Campaigns().Create(ctx, c))
	for rid := 1; rid <= 3; rid++ {
		_, _ = st.Targets().EnsureTarget(ctx, c.ID, rid)
		_, err := st.Logs().Append(ctx, &model.DeliveryLog{CampaignID: c.ID, RecipientID: rid, Status: model.DeliverySent})
		require.NoError(t, err)
	}

	reports := &countingReports{}
	d := &service.CompletionDetector{Campaigns: st.Campaigns(), Targets: st.Targets(), Ledger: st.Logs(), Reports: reports}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := d.Evaluate(ctx, c.ID)
			assert.NoError(t, err)
			if done {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), reports.n.Load())
}

func TestCompletion_WaitsForAllTargets(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := &model.Campaign{Name: "n", Subject: "s", Content: "c", ScheduledTime: time.Now(), Status: model.CampaignInProgress}
	require.NoError(t, st.Campaigns().Create(ctx, c))
	_, _ = st.Targets().EnsureTarget(ctx, c.ID, 1)
	_, _ = st.Targets().EnsureTarget(ctx, c.ID, 2)
	_, _ = st.Logs().Append(ctx, &model.DeliveryLog{CampaignID: c.ID, RecipientID: 1, Status: model.DeliverySent})

	d := &service.CompletionDetector{Campaigns: st.Campaigns(), Targets: st.Targets(), Ledger: st.Logs()}
	done, err := d.Evaluate(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, done)

	got, _ := st.Campaigns().GetByID(ctx, c.ID)
	assert.Equal(t, model.CampaignInProgress, got.Status)
}

func TestExecutor_SkipsCompletedCampaign(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.addRecipients(t, service.RawRecipient{Name: "A", Email: "a@x.com"})
	c := p.scheduleCampaign(t, "Done")
	p.runDue(t)
	require.Equal(t, model.CampaignCompleted, p.status(t, c.ID))
	require.Len(t, p.reportMail.Sent(), 1)

	// a recipient joined after completion, e.g. by a racing re-dispatch
	p.addRecipients(t, service.RawRecipient{Name: "B", Email: "b@x.com"})
	eligible, err := p.store.Recipients().FindEligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	late := eligible[1]
	_, err = p.store.Targets().EnsureTarget(ctx, c.ID, late.ID)
	require.NoError(t, err)

	require.NoError(t, p.executor.Deliver(ctx, c.ID, late.ID))

	assert.Equal(t, 0, p.mail.Calls("b@x.com"))
	n, err := p.store.Logs().Count(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, p.reportMail.Sent(), 1)
	assert.Equal(t, model.CampaignCompleted, p.status(t, c.ID))
}

// completingTargets completes the campaign while the dispatcher is between
// writing joins and issuing tasks.
type completingTargets struct {
	service.TargetStore
	campaigns service.CampaignStore
}

func (c completingTargets) ListTargets(ctx context.Context, campaignID int) ([]model.Recipient, error) {
	if _, err := c.campaigns.TryComplete(ctx, campaignID); err != nil {
		return nil, err
	}
	return c.TargetStore.ListTargets(ctx, campaignID)
}

func TestDispatcher_IssuesNothingOnceCompleted(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Recipients().InsertOne(ctx, &model.Recipient{Name: "A", Email: "a@x.com"}))
	c := &model.Campaign{Name: "n", Subject: "s", Content: "c", ScheduledTime: time.Now(), Status: model.CampaignScheduled}
	require.NoError(t, st.Campaigns().Create(ctx, c))
	ok, _ := st.Campaigns().TryClaim(ctx, c.ID)
	require.True(t, ok)

	pub := &capturingPublisher{}
	d := &service.Dispatcher{
		Campaigns:  st.Campaigns(),
		Recipients: st.Recipients(),
		Targets:    completingTargets{TargetStore: st.Targets(), campaigns: st.Campaigns()},
		Ledger:     st.Logs(),
		Queue:      pub,
		Completion: &service.CompletionDetector{Campaigns: st.Campaigns(), Targets: st.Targets(), Ledger: st.Logs()},
	}

	res, err := d.Dispatch(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Targets)
	assert.Zero(t, res.Issued)
	assert.Zero(t, pub.Len())
}

func TestScheduler_SweepRedispatchesStalledCampaigns(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rc := &model.Recipient{Name: "A", Email: "a@x.com"}
	require.NoError(t, st.Recipients().InsertOne(ctx, rc))

	var ids []int
	for range 2 {
		c := &model.Campaign{Name: "n", Subject: "s", Content: "c", ScheduledTime: time.Now().Add(-time.Minute), Status: model.CampaignScheduled}
		require.NoError(t, st.Campaigns().Create(ctx, c))
		ok, _ := st.Campaigns().TryClaim(ctx, c.ID)
		require.True(t, ok)
		ids = append(ids, c.ID)
	}
	// the second campaign was fanned out, the first never was
	_, err := st.Targets().EnsureTarget(ctx, ids[1], rc.ID)
	require.NoError(t, err)

	pub := &capturingPublisher{}
	s := service.NewScheduler(st.Campaigns(), pub)

	claimed, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.Zero(t, pub.Len(), "recently claimed campaigns are left alone")

	s.Now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pub.Len())
	assert.Equal(t, queue.DispatchTask{CampaignID: ids[0]}, pub.tasks[0])

	s.StallAfter = 0
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.Len())
}
