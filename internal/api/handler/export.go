package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// PDFExporter renders matches through the backend.
type PDFExporter interface {
	SavePDF(ctx context.Context, token string, matches []models.Match) ([]byte, error)
}

// NewExportPDFHandler returns POST /api/v1/export/pdf. The body is
// {"matches": [...]} as returned by the analyze endpoint.
func NewExportPDFHandler(exp PDFExporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mw.GetSession(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not logged in", nil)
			return
		}

		var body struct {
			Matches []models.Match `json:"matches"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(body.Matches) == 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "No matches to export", nil)
			return
		}

		pdf, err := exp.SavePDF(r.Context(), s.SessionID, body.Matches)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Attachment(w, "application/pdf", "matches-"+time.Now().UTC().Format("20060102-1504")+".pdf", pdf)
	}
}
