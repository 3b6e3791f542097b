package http

import (
	"net/http"
	"strings"

	"github.com/pathlight-learn/pathlight-lms/internal/assessment"
	authmw "github.com/pathlight-learn/pathlight-lms/internal/auth/middleware"
)

// GET /attempts?user_id=...&scope_id=...&scope_type=...&limit=50&offset=0
// RBAC:
// - attempt:view-all may list any filters
// - attempt:view-own is forced to the caller's own attempts
func ListAttemptsHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authmw.RoleFromContext(r.Context())
		sub := authmw.SubjectFromContext(r.Context())
		if role == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if role != "admin" && role != "instructor" {
			userID = sub
		}

		list, err := svc.ListAttempts(r.Context(), assessment.AttemptListOpts{
			UserID:    userID,
			ScopeID:   strings.TrimSpace(r.URL.Query().Get("scope_id")),
			ScopeType: assessment.ScopeType(strings.TrimSpace(r.URL.Query().Get("scope_type"))),
			Limit:     parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset:    parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
