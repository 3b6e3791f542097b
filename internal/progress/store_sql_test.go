package progress_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/pathlight-learn/pathlight-lms/internal/db"
	"github.com/pathlight-learn/pathlight-lms/internal/progress"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "progress.db") + "?_pragma=busy_timeout(5000)"
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return dbh
}

func TestGetReturnsEmptyRecordForNewUser(t *testing.T) {
	store := progress.NewSQLStore(openTestDB(t))
	rec, err := store.Get(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rec.CompletedLessons) != 0 || len(rec.PassedChapters) != 0 {
		t.Fatalf("fresh record not empty: %+v", rec)
	}
	if rec.CourseCompleted || rec.CertificateIssued || rec.FinalBestScore != 0 {
		t.Fatalf("fresh record carries state: %+v", rec)
	}
}

func TestLessonAndChapterMarksAccumulate(t *testing.T) {
	store := progress.NewSQLStore(openTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"l1", "l2", "l1"} {
		if err := store.MarkLessonCompleted(ctx, "u1", "c1", id); err != nil {
			t.Fatalf("mark lesson %s: %v", id, err)
		}
	}
	if err := store.MarkChapterPassed(ctx, "u1", "c1", "ch1"); err != nil {
		t.Fatalf("mark chapter: %v", err)
	}

	lessons, err := store.CompletedLessons(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("completed lessons: %v", err)
	}
	if len(lessons) != 2 || !lessons["l1"] || !lessons["l2"] {
		t.Fatalf("lessons = %v, want {l1 l2}", lessons)
	}
	chapters, err := store.PassedChapters(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("passed chapters: %v", err)
	}
	if !chapters["ch1"] {
		t.Fatalf("chapters = %v, want ch1 passed", chapters)
	}

	// Another user's record is untouched.
	other, err := store.CompletedLessons(ctx, "u2", "c1")
	if err != nil {
		t.Fatalf("other user: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("other user's lessons = %v, want none", other)
	}
}

func TestRecordFinalScoreKeepsBestAndCompletes(t *testing.T) {
	store := progress.NewSQLStore(openTestDB(t))
	ctx := context.Background()

	completed, err := store.RecordFinalScore(ctx, "u1", "c1", 60, false)
	if err != nil {
		t.Fatalf("record fail: %v", err)
	}
	if completed {
		t.Fatalf("failed final must not complete the course")
	}

	completed, err = store.RecordFinalScore(ctx, "u1", "c1", 85, true)
	if err != nil {
		t.Fatalf("record pass: %v", err)
	}
	if !completed {
		t.Fatalf("passing final must complete the course")
	}

	// A later, worse retake keeps the best score and the completion flag.
	completed, err = store.RecordFinalScore(ctx, "u1", "c1", 40, false)
	if err != nil {
		t.Fatalf("record retake: %v", err)
	}
	if !completed {
		t.Fatalf("completion must not regress")
	}
	rec, err := store.Get(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.FinalBestScore != 85 {
		t.Fatalf("best score = %d, want 85", rec.FinalBestScore)
	}
	if !rec.CourseCompleted {
		t.Fatalf("record lost completion: %+v", rec)
	}
}
