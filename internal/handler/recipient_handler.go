package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"

	appErrors "github.com/unclebandit/bulkmailer/internal/errors"
	"github.com/unclebandit/bulkmailer/internal/service"
	"github.com/unclebandit/bulkmailer/internal/zlog"
)

const maxUploadBytes = 10 << 20

type RecipientHandler struct {
	Ingestor *service.RecipientIngestor
}

func NewRecipientHandler(ing *service.RecipientIngestor) *RecipientHandler {
	return &RecipientHandler{Ingestor: ing}
}

// UploadCSV accepts a CSV either as the multipart field "file" or as a raw
// text/csv body and reports how many rows were created, skipped and invalid.
func (h *RecipientHandler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, err)
				return
			}
			writeError(w, appErrors.NewValidation("file", "a CSV file is required"))
			return
		}
		defer file.Close()
		src = file
	}

	rows, err := service.ParseRecipientsCSV(src)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.Ingestor.Ingest(r.Context(), rows)
	if err != nil {
		writeError(w, err)
		return
	}

	zlog.Logger.Info().
		Int("created", res.Created).
		Int("skipped_duplicate", res.SkippedDuplicate).
		Int("invalid", res.Invalid).
		Msg("📥 recipients uploaded")
	writeJSON(w, http.StatusOK, res)
}
