// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/service"
)

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Service *service.CampaignService
}

func NewCampaignHandler(svc *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{Service: svc}
}

// CreateCampaign handles creating a new campaign
func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var payload service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, appErrors.NewValidation("", "invalid request body: "+err.Error()))
		return
	}

	campaign, err := h.Service.CreateCampaign(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// ListCampaigns returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaign returns one campaign with its delivery logs and stats
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	details, err := h.Service.GetCampaignDetails(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *CampaignHandler) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		ScheduledTime time.Time `json:"scheduled_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, appErrors.NewValidation("", "invalid request body: "+err.Error()))
		return
	}

	campaign, err := h.Service.ScheduleCampaign(r.Context(), id, body.ScheduledTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *CampaignHandler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	campaign, err := h.Service.CancelCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// DispatchCampaign queues another fan-out run for an in-progress campaign
func (h *CampaignHandler) DispatchCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.Service.Redispatch(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": id,
		"status":      "dispatch queued",
	})
}
