package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/pathlight-learn/pathlight-lms/internal/auth/middleware"
	"github.com/pathlight-learn/pathlight-lms/internal/catalog"
	"github.com/pathlight-learn/pathlight-lms/internal/progress"
)

// GET /courses/{courseID}/progress?user_id=...
// Students always read their own record; view-all roles may pass user_id.
func GetProgressHandler(store *progress.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authmw.RoleFromContext(r.Context())
		userID := authmw.SubjectFromContext(r.Context())
		if q := r.URL.Query().Get("user_id"); q != "" && (role == "admin" || role == "instructor") {
			userID = q
		}
		rec, err := store.Get(r.Context(), userID, chi.URLParam(r, "courseID"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// POST /lessons/{lessonID}/complete
// Marks the lesson done for the caller; feeds the eligibility gate.
func CompleteLessonHandler(store *progress.SQLStore, cat *catalog.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		lessonID := chi.URLParam(r, "lessonID")

		lesson, err := cat.GetLesson(r.Context(), lessonID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				http.Error(w, "lesson not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		courseID, err := cat.CourseForChapter(r.Context(), lesson.ChapterID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := store.MarkLessonCompleted(r.Context(), userID, courseID, lessonID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
	}
}
