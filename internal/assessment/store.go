package assessment

import (
	"context"
	"time"
)

// Store persists sessions and the attempt ledger. Implementations must make
// CreateSession an atomic "insert if none active" and FinishSession an
// atomic compare-and-set that appends the attempt record in the same
// transaction, so grading side effects run exactly once per session.
type Store interface {
	// CreateSession inserts a new active session; ErrAlreadyActive when an
	// active session already exists for the same (user, scope).
	CreateSession(ctx context.Context, s Session) error

	// GetSession loads a session, lazily converting a stale active session
	// (expires_at passed) to Expired before returning it.
	GetSession(ctx context.Context, id string) (Session, error)

	// FindActive returns the caller's active session for a scope, if any.
	// Stale active sessions are expired first, not returned.
	FindActive(ctx context.Context, userID, scopeID string, t ScopeType) (Session, bool, error)

	// ActiveDeadline is the read-only variant used by the eligibility gate:
	// it reports the expiry deadline of the scope's session in Active
	// status, whether or not that deadline has passed, and never converts
	// a stale row.
	ActiveDeadline(ctx context.Context, userID, scopeID string, t ScopeType) (time.Time, bool, error)

	// UpdateAnswer writes one answer slot (last write wins per slot, never
	// per sheet: concurrent writes to different slots both land) while the
	// session is still active and unexpired; otherwise ErrSessionNotActive
	// / ErrSessionExpired.
	UpdateAnswer(ctx context.Context, sessionID string, ans Answer) error

	// FinishSession transitions Active -> to (Submitted or Abandoned) and
	// appends rec, all-or-nothing. Losing the race against expiry or an
	// earlier transition yields ErrSessionExpired / ErrSessionNotActive.
	FinishSession(ctx context.Context, sessionID string, to Status, answers []Answer, rec AttemptRecord) error

	// ExpireDue sweeps stale active sessions into Expired, writing one
	// ledger entry each. Shares its predicate with the lazy path.
	ExpireDue(ctx context.Context) (int, error)

	// LatestAttempt returns the most recent ledger entry for a scope.
	LatestAttempt(ctx context.Context, userID, scopeID string, t ScopeType) (AttemptRecord, bool, error)

	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]AttemptRecord, error)
}

// QuestionBank draws a fixed-size random sample for a scope. Errors if the
// pool holds fewer than n questions.
type QuestionBank interface {
	Sample(ctx context.Context, scopeID string, t ScopeType, n int) ([]Question, error)
}

// Catalog is the slice of course content the engine reads: prerequisite
// structure only.
type Catalog interface {
	CourseForChapter(ctx context.Context, chapterID string) (string, error)
	LessonIDs(ctx context.Context, chapterID string) ([]string, error)
	ChapterIDs(ctx context.Context, courseID string) ([]string, error)
}

// ProgressReader feeds the eligibility gate.
type ProgressReader interface {
	CompletedLessons(ctx context.Context, userID, courseID string) (map[string]bool, error)
	PassedChapters(ctx context.Context, userID, courseID string) (map[string]bool, error)
}

// ProgressRecorder receives grading side effects.
type ProgressRecorder interface {
	ProgressReader
	MarkChapterPassed(ctx context.Context, userID, courseID, chapterID string) error
	// RecordFinalScore folds a final-exam result into the progress record
	// (best score, course_completed) and reports whether the course is now
	// completed.
	RecordFinalScore(ctx context.Context, userID, courseID string, score int, passed bool) (bool, error)
}

// CertificateIssuer mints certificates idempotently: at most one per
// (user, course, kind) regardless of retries. A failed render returns an
// error but must leave the operation safely retryable.
type CertificateIssuer interface {
	Issue(ctx context.Context, userID, courseID string, score int, completedAt time.Time) ([]IssuedCertificate, error)
}

// Notifier is best-effort; failures are logged and never propagate.
type Notifier interface {
	Notify(ctx context.Context, userID, subject, body string) error
}

// EventSink records lifecycle transitions for audit.
type EventSink interface {
	Append(ctx context.Context, typ, key string, data any) error
}
