package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case appErrors.IsValidation(err):
		status = http.StatusBadRequest
	case appErrors.IsCampaignNotFound(err), errors.Is(err, appErrors.ErrRecipientNotFound):
		status = http.StatusNotFound
	case appErrors.IsInvalidTransition(err), errors.Is(err, appErrors.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, appErrors.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		zlog.Logger.Error().Err(err).Msg("❌ request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func campaignID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, appErrors.NewValidation("id", "invalid campaign id")
	}
	return id, nil
}
