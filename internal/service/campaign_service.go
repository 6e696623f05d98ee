// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/model"
	"github.com/unclebandit/bulkmailer/internal/queue"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

type CampaignService struct {
	CampaignRepo CampaignStore
	Ledger       DeliveryLedger
	Queue        Publisher
	Validate     *validator.Validate
	Now          func() time.Time
}

func NewCampaignService(campaigns CampaignStore, ledger DeliveryLedger, q Publisher) *CampaignService {
	return &CampaignService{
		CampaignRepo: campaigns,
		Ledger:       ledger,
		Queue:        q,
		Validate:     newValidator(),
		Now:          time.Now,
	}
}

// CreateCampaignInput is the payload accepted by CreateCampaign.
type CreateCampaignInput struct {
	Name          string    `json:"name" validate:"required,max=255"`
	Subject       string    `json:"subject" validate:"required,max=255"`
	Content       string    `json:"content" validate:"required"`
	ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
	Status        string    `json:"status" validate:"omitempty,oneof=draft scheduled"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Subject = strings.TrimSpace(in.Subject)

	if err := s.Validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, appErrors.NewValidation(verrs[0].Field(), "failed on '"+verrs[0].Tag()+"'")
		}
		return nil, appErrors.NewValidation("", err.Error())
	}
	if !in.ScheduledTime.After(s.Now()) {
		return nil, appErrors.NewValidation("scheduled_time", "must be in the future")
	}

	c := &model.Campaign{
		Name:          in.Name,
		Subject:       in.Subject,
		Content:       in.Content,
		ScheduledTime: in.ScheduledTime,
		Status:        model.CampaignDraft,
	}
	if in.Status != "" {
		c.Status = model.CampaignStatus(in.Status)
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	zlog.Logger.Info().Int("campaign_id", c.ID).Str("status", string(c.Status)).Msg("campaign created")
	return c, nil
}

// ScheduleCampaign moves a draft campaign to scheduled, or re-times an
// already scheduled one.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, id int, at time.Time) (*model.Campaign, error) {
	if !at.After(s.Now()) {
		return nil, appErrors.NewValidation("scheduled_time", "must be in the future")
	}
	ok, err := s.CampaignRepo.Schedule(ctx, id, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, id, model.CampaignScheduled)
	}
	return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) CancelCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	ok, err := s.CampaignRepo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, id, model.CampaignCancelled)
	}
	zlog.Logger.Info().Int("campaign_id", id).Msg("campaign cancelled")
	return s.CampaignRepo.GetByID(ctx, id)
}

// transitionError explains why a guarded update touched no row.
func (s *CampaignService) transitionError(ctx context.Context, id int, to model.CampaignStatus) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return &appErrors.ErrInvalidTransition{CampaignID: id, From: string(c.Status), To: string(to)}
	}
	retime := to == model.CampaignScheduled && c.Status == model.CampaignScheduled
	if c.Status.CanTransition(to) || retime {
		// the row changed between the guarded update and this read
		return appErrors.Unavailable("campaign transition", fmt.Errorf("campaign %d status changed concurrently", id))
	}
	return &appErrors.ErrInvalidTransition{CampaignID: id, From: string(c.Status), To: string(to)}
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.CampaignSummary, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.NewValidation("status", "unknown campaign status")
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails returns a campaign with its delivery logs, newest first.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int) (*model.CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.Ledger.ListRecent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.CampaignDetails{Campaign: *campaign, Logs: logs, Stats: model.Tally(logs)}, nil
}

// Redispatch queues another dispatch run for an in-progress campaign. It is
// the recovery path when a worker died part-way through a fan-out.
func (s *CampaignService) Redispatch(ctx context.Context, id int) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignInProgress {
		return &appErrors.ErrInvalidTransition{CampaignID: id, From: string(c.Status), To: string(model.CampaignInProgress)}
	}
	if err := s.Queue.Publish(ctx, queue.TopicDispatch, queue.DispatchTask{CampaignID: id}); err != nil {
		return err
	}
	zlog.Logger.Info().Int("campaign_id", id).Msg("campaign re-dispatch queued")
	return nil
}
