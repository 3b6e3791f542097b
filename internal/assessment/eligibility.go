package assessment

import (
	"context"
	"fmt"
	"time"
)

// SessionChecker is the read-only slice of Store the gate needs.
type SessionChecker interface {
	ActiveDeadline(ctx context.Context, userID, scopeID string, t ScopeType) (time.Time, bool, error)
}

// AttemptSource feeds cooldown computation.
type AttemptSource interface {
	LatestAttempt(ctx context.Context, userID, scopeID string, t ScopeType) (AttemptRecord, bool, error)
}

// Gate decides whether a user may start a new session for a scope. It is
// side-effect-free and fails closed: any unmet condition yields a
// NotEligible verdict with a reason and, for cooldowns, the remaining wait.
type Gate struct {
	catalog  Catalog
	progress ProgressReader
	sessions SessionChecker
	attempts AttemptSource
	policy   Policy
	now      func() time.Time
}

func NewGate(catalog Catalog, progress ProgressReader, sessions SessionChecker, attempts AttemptSource, policy Policy, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{catalog: catalog, progress: progress, sessions: sessions, attempts: attempts, policy: policy, now: now}
}

func (g *Gate) Check(ctx context.Context, userID, scopeID string, t ScopeType) (Eligibility, error) {
	if !t.Valid() {
		return Eligibility{}, fmt.Errorf("unknown scope type %q", t)
	}

	ok, reason, err := g.prerequisitesMet(ctx, userID, scopeID, t)
	if err != nil {
		return Eligibility{}, err
	}
	if !ok {
		return Eligibility{Reason: reason}, nil
	}

	now := g.now()
	deadline, active, err := g.sessions.ActiveDeadline(ctx, userID, scopeID, t)
	if err != nil {
		return Eligibility{}, err
	}
	if active && deadline.After(now) {
		return Eligibility{Reason: "a session is already in progress; resume it"}, nil
	}

	last, found, err := g.attempts.LatestAttempt(ctx, userID, scopeID, t)
	if err != nil {
		return Eligibility{}, err
	}
	// Abandoned and expired attempts throttle exactly like failed ones; a
	// pass places no cooldown ahead of a retake. A run-out session whose
	// ledger entry has not landed yet (neither the reaper nor a lazy read
	// converted it) throttles as an attempt at its deadline.
	var attemptedAt time.Time
	throttles := false
	if found && !last.Passed {
		attemptedAt, throttles = last.AttemptedAt, true
	}
	if active && !deadline.After(now) && deadline.After(attemptedAt) {
		attemptedAt, throttles = deadline, true
	}
	if throttles {
		if wait := attemptedAt.Add(g.policy.Cooldown(t)).Sub(now); wait > 0 {
			return Eligibility{
				Reason:     fmt.Sprintf("cooldown after last attempt; retry in %s", wait.Round(time.Second)),
				RetryAfter: wait,
			}, nil
		}
	}
	return Eligibility{CanStart: true}, nil
}

func (g *Gate) prerequisitesMet(ctx context.Context, userID, scopeID string, t ScopeType) (bool, string, error) {
	switch t {
	case ScopeChapter:
		courseID, err := g.catalog.CourseForChapter(ctx, scopeID)
		if err != nil {
			return false, "", err
		}
		lessons, err := g.catalog.LessonIDs(ctx, scopeID)
		if err != nil {
			return false, "", err
		}
		done, err := g.progress.CompletedLessons(ctx, userID, courseID)
		if err != nil {
			return false, "", err
		}
		for _, id := range lessons {
			if !done[id] {
				return false, "complete all lessons in the chapter first", nil
			}
		}
	case ScopeFinal:
		chapters, err := g.catalog.ChapterIDs(ctx, scopeID)
		if err != nil {
			return false, "", err
		}
		passed, err := g.progress.PassedChapters(ctx, userID, scopeID)
		if err != nil {
			return false, "", err
		}
		for _, id := range chapters {
			if !passed[id] {
				return false, "pass every chapter test before the final exam", nil
			}
		}
	}
	return true, "", nil
}
