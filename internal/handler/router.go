package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(campaigns *CampaignHandler, recipients *RecipientHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Campaign routes
	r.Post("/campaigns", campaigns.CreateCampaign)
	r.Get("/campaigns", campaigns.ListCampaigns)
	r.Get("/campaigns/{id}", campaigns.GetCampaign)
	r.Post("/campaigns/{id}/schedule", campaigns.ScheduleCampaign)
	r.Post("/campaigns/{id}/cancel", campaigns.CancelCampaign)
	r.Post("/campaigns/{id}/dispatch", campaigns.DispatchCampaign)

	r.Post("/recipients/upload", recipients.UploadCSV)

	return r
}
