package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pathlight-learn/pathlight-lms/internal/assessment"
	authmw "github.com/pathlight-learn/pathlight-lms/internal/auth/middleware"
)

// GET /assessments/{scopeType}/{scopeID}/eligibility
func EligibilityHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		scopeType := assessment.ScopeType(chi.URLParam(r, "scopeType"))
		scopeID := chi.URLParam(r, "scopeID")
		elig, err := svc.CheckEligibility(r.Context(), userID, scopeID, scopeType)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			CanStart          bool   `json:"can_start"`
			Reason            string `json:"reason,omitempty"`
			RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
		}{elig.CanStart, elig.Reason, int(elig.RetryAfter.Seconds())})
	}
}

type sessionView struct {
	SessionID string                `json:"session_id"`
	ScopeID   string                `json:"scope_id"`
	ScopeType assessment.ScopeType  `json:"scope_type"`
	Status    assessment.Status     `json:"status"`
	Questions []assessment.Question `json:"questions"`
	Answers   []assessment.Answer   `json:"answers"`
	StartedAt time.Time             `json:"started_at"`
	ExpiresAt time.Time             `json:"expires_at"`
	Resumed   bool                  `json:"resumed,omitempty"`
}

func viewOf(s assessment.Session, resumed bool) sessionView {
	return sessionView{
		SessionID: s.ID,
		ScopeID:   s.ScopeID,
		ScopeType: s.ScopeType,
		Status:    s.Status,
		Questions: s.Questions,
		Answers:   s.Answers,
		StartedAt: s.StartedAt,
		ExpiresAt: s.ExpiresAt,
		Resumed:   resumed,
	}
}

// POST /assessments/{scopeType}/{scopeID}/sessions
func StartSessionHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		scopeType := assessment.ScopeType(chi.URLParam(r, "scopeType"))
		scopeID := chi.URLParam(r, "scopeID")
		res, err := svc.Start(r.Context(), userID, scopeID, scopeType)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		code := http.StatusCreated
		if res.Resumed {
			code = http.StatusOK
		}
		writeJSON(w, code, viewOf(res.Session, res.Resumed))
	}
}

// GET /sessions/{sessionID}
func GetSessionHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		sess, err := svc.Get(r.Context(), userID, chi.URLParam(r, "sessionID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(sess, false))
	}
}

// POST /sessions/{sessionID}/answers
// { "question_id": "...", "selected": "2", "time_spent_sec": 31 }
func RecordAnswerHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		var req struct {
			QuestionID   string  `json:"question_id"`
			Selected     *string `json:"selected"`
			TimeSpentSec int     `json:"time_spent_sec"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.QuestionID == "" {
			http.Error(w, "question_id required", http.StatusBadRequest)
			return
		}
		err := svc.RecordAnswer(r.Context(), userID, chi.URLParam(r, "sessionID"),
			req.QuestionID, req.Selected, req.TimeSpentSec)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
	}
}

// POST /sessions/{sessionID}/submit
// { "answers": [ { "question_id": "...", "selected": "1", "time_spent_sec": 12 }, ... ] }
func SubmitSessionHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		var req struct {
			Answers []assessment.Answer `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		res, err := svc.Submit(r.Context(), userID, chi.URLParam(r, "sessionID"), req.Answers)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /sessions/{sessionID}/abandon
func AbandonSessionHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		if err := svc.Abandon(r.Context(), userID, chi.URLParam(r, "sessionID")); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"abandoned": true})
	}
}
