package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type SQLStore struct{ db *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) PutCourse(ctx context.Context, c Course) (Course, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	compliance := 0
	if c.ComplianceCertificate {
		compliance = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO courses (id,title,compliance_certificate,created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, compliance_certificate=EXCLUDED.compliance_certificate`,
		c.ID, c.Title, compliance, time.Now().Unix())
	return c, err
}

func (s *SQLStore) GetCourse(ctx context.Context, id string) (Course, error) {
	var c Course
	var compliance int
	err := s.db.QueryRowContext(ctx, `SELECT id,title,compliance_certificate,created_at FROM courses WHERE id=$1`, id).
		Scan(&c.ID, &c.Title, &compliance, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	c.ComplianceCertificate = compliance != 0
	return c, err
}

func (s *SQLStore) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,title,compliance_certificate,created_at FROM courses ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Course
	for rows.Next() {
		var c Course
		var compliance int
		if err := rows.Scan(&c.ID, &c.Title, &compliance, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ComplianceCertificate = compliance != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutChapter(ctx context.Context, c Chapter) (Chapter, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO chapters (id,course_id,title,position)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, position=EXCLUDED.position`,
		c.ID, c.CourseID, c.Title, c.Position)
	return c, err
}

func (s *SQLStore) PutLesson(ctx context.Context, l Lesson) (Lesson, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO lessons (id,chapter_id,title,position,body_html)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, position=EXCLUDED.position, body_html=EXCLUDED.body_html`,
		l.ID, l.ChapterID, l.Title, l.Position, l.BodyHTML)
	return l, err
}

func (s *SQLStore) GetLesson(ctx context.Context, id string) (Lesson, error) {
	var l Lesson
	err := s.db.QueryRowContext(ctx, `SELECT id,chapter_id,title,position,body_html FROM lessons WHERE id=$1`, id).
		Scan(&l.ID, &l.ChapterID, &l.Title, &l.Position, &l.BodyHTML)
	if errors.Is(err, sql.ErrNoRows) {
		return Lesson{}, fmt.Errorf("lesson %s: %w", id, ErrNotFound)
	}
	return l, err
}

func (s *SQLStore) PutQuestion(ctx context.Context, q Question) (Question, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Type == "" {
		q.Type = "mcq_single"
	}
	if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		return Question{}, fmt.Errorf("correct option %d out of range for %d options", q.CorrectOption, len(q.Options))
	}
	oj, err := json.Marshal(q.Options)
	if err != nil {
		return Question{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions
		(id,course_id,chapter_id,qtype,prompt_html,options_json,correct_option,explanation,difficulty)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET qtype=EXCLUDED.qtype, prompt_html=EXCLUDED.prompt_html,
			options_json=EXCLUDED.options_json, correct_option=EXCLUDED.correct_option,
			explanation=EXCLUDED.explanation, difficulty=EXCLUDED.difficulty`,
		q.ID, q.CourseID, q.ChapterID, q.Type, q.PromptHTML, string(oj), q.CorrectOption, q.Explanation, q.Difficulty)
	return q, err
}

func (s *SQLStore) DeleteQuestion(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, id)
	return err
}

// CourseForChapter resolves the course a chapter belongs to; the
// eligibility gate and the grading recorder both lean on it.
func (s *SQLStore) CourseForChapter(ctx context.Context, chapterID string) (string, error) {
	var courseID string
	err := s.db.QueryRowContext(ctx, `SELECT course_id FROM chapters WHERE id=$1`, chapterID).Scan(&courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("chapter %s: %w", chapterID, ErrNotFound)
	}
	return courseID, err
}

func (s *SQLStore) LessonIDs(ctx context.Context, chapterID string) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM lessons WHERE chapter_id=$1 ORDER BY position`, chapterID)
}

func (s *SQLStore) ChapterIDs(ctx context.Context, courseID string) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM chapters WHERE course_id=$1 ORDER BY position`, courseID)
}

func (s *SQLStore) ids(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
