package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Record is one user's standing in one course. Mutated only by lesson
// completion, the grading recorder and the certificate issuance trigger.
type Record struct {
	UserID            string          `json:"user_id"`
	CourseID          string          `json:"course_id"`
	CompletedLessons  map[string]bool `json:"completed_lessons"`
	PassedChapters    map[string]bool `json:"passed_chapters"`
	FinalBestScore    int             `json:"final_best_score"`
	CourseCompleted   bool            `json:"course_completed"`
	CertificateIssued bool            `json:"certificate_issued"`
}

type SQLStore struct{ db *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// Get returns the stored record, or an empty one when the user has no
// progress in the course yet.
func (s *SQLStore) Get(ctx context.Context, userID, courseID string) (Record, error) {
	rec := Record{
		UserID:           userID,
		CourseID:         courseID,
		CompletedLessons: map[string]bool{},
		PassedChapters:   map[string]bool{},
	}
	var lessonsJSON, chaptersJSON string
	var completed, issued int
	err := s.db.QueryRowContext(ctx, `SELECT completed_lessons_json,passed_chapters_json,final_best_score,course_completed,certificate_issued
		FROM course_progress WHERE user_id=$1 AND course_id=$2`, userID, courseID).
		Scan(&lessonsJSON, &chaptersJSON, &rec.FinalBestScore, &completed, &issued)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return Record{}, err
	}
	rec.CourseCompleted = completed != 0
	rec.CertificateIssued = issued != 0
	if err := unmarshalSet(lessonsJSON, rec.CompletedLessons); err != nil {
		return Record{}, err
	}
	if err := unmarshalSet(chaptersJSON, rec.PassedChapters); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *SQLStore) CompletedLessons(ctx context.Context, userID, courseID string) (map[string]bool, error) {
	rec, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	return rec.CompletedLessons, nil
}

func (s *SQLStore) PassedChapters(ctx context.Context, userID, courseID string) (map[string]bool, error) {
	rec, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	return rec.PassedChapters, nil
}

func (s *SQLStore) MarkLessonCompleted(ctx context.Context, userID, courseID, lessonID string) error {
	rec, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return err
	}
	rec.CompletedLessons[lessonID] = true
	return s.put(ctx, rec)
}

func (s *SQLStore) MarkChapterPassed(ctx context.Context, userID, courseID, chapterID string) error {
	rec, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return err
	}
	rec.PassedChapters[chapterID] = true
	return s.put(ctx, rec)
}

// RecordFinalScore folds a final-exam result into the record and reports
// whether the course is completed after the fold.
func (s *SQLStore) RecordFinalScore(ctx context.Context, userID, courseID string, score int, passed bool) (bool, error) {
	rec, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return false, err
	}
	if score > rec.FinalBestScore {
		rec.FinalBestScore = score
	}
	if passed {
		rec.CourseCompleted = true
	}
	if err := s.put(ctx, rec); err != nil {
		return false, err
	}
	return rec.CourseCompleted, nil
}

func (s *SQLStore) put(ctx context.Context, rec Record) error {
	lessonsJSON, err := marshalSet(rec.CompletedLessons)
	if err != nil {
		return err
	}
	chaptersJSON, err := marshalSet(rec.PassedChapters)
	if err != nil {
		return err
	}
	completed, issued := 0, 0
	if rec.CourseCompleted {
		completed = 1
	}
	if rec.CertificateIssued {
		issued = 1
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO course_progress
		(user_id,course_id,completed_lessons_json,passed_chapters_json,final_best_score,course_completed,certificate_issued)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id,course_id) DO UPDATE SET
			completed_lessons_json=EXCLUDED.completed_lessons_json,
			passed_chapters_json=EXCLUDED.passed_chapters_json,
			final_best_score=EXCLUDED.final_best_score,
			course_completed=EXCLUDED.course_completed,
			certificate_issued=EXCLUDED.certificate_issued`,
		rec.UserID, rec.CourseID, lessonsJSON, chaptersJSON, rec.FinalBestScore, completed, issued)
	return err
}

func marshalSet(set map[string]bool) (string, error) {
	ids := make([]string, 0, len(set))
	for id, ok := range set {
		if ok {
			ids = append(ids, id)
		}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

func unmarshalSet(raw string, into map[string]bool) error {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return err
	}
	for _, id := range ids {
		into[id] = true
	}
	return nil
}
