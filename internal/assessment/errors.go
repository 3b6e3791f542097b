package assessment

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotEligible is wrapped by NotEligibleError; match with errors.Is.
	ErrNotEligible = errors.New("not eligible")

	// ErrAlreadyActive: a concurrent start lost the insert race and no
	// existing session could be fetched back.
	ErrAlreadyActive = errors.New("session already active")

	// ErrSessionNotActive: the session is terminal (or not owned by the
	// caller's view of the world); the client must re-fetch eligibility.
	ErrSessionNotActive = errors.New("session not active")

	// ErrSessionExpired: the hard time ceiling passed before the operation.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotOwner: the session belongs to a different user.
	ErrNotOwner = errors.New("not session owner")

	// ErrGradingInvariant: submitted answers disagree with the frozen
	// question set. Indicates a client/server desync; never graded.
	ErrGradingInvariant = errors.New("grading invariant violation")
)

// NotEligibleError carries the human-readable reason and, for cooldowns,
// the remaining wait.
type NotEligibleError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *NotEligibleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("not eligible: %s (retry in %s)", e.Reason, e.RetryAfter)
	}
	return "not eligible: " + e.Reason
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }
