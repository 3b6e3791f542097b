package http

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pathlight-learn/pathlight-lms/internal/certificate"
)

// GET /certificates/verify/{code}
// Public endpoint for employers and auditors to confirm a certificate is
// genuine.
func VerifyCertificateHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(chi.URLParam(r, "code"))
		if code == "" {
			http.Error(w, "code required", http.StatusBadRequest)
			return
		}
		cert, err := certificate.Verify(r.Context(), db, code)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeJSON(w, http.StatusNotFound, map[string]bool{"valid": false})
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Valid       bool                    `json:"valid"`
			Certificate certificate.Certificate `json:"certificate"`
		}{true, cert})
	}
}
