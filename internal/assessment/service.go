package assessment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pathlight-learn/pathlight-lms/internal/grading"
)

// Service is the session lifecycle manager: it owns creation, progression,
// submission, abandonment and expiry of timed assessment sessions, and runs
// grading plus its side effects when a session is submitted.
type Service struct {
	store    Store
	bank     QuestionBank
	gate     *Gate
	catalog  Catalog
	progress ProgressRecorder
	certs    CertificateIssuer
	grader   grading.Grader
	notifier Notifier
	events   EventSink
	policy   Policy
	now      func() time.Time
}

type ServiceDeps struct {
	Store        Store
	Bank         QuestionBank
	Gate         *Gate
	Catalog      Catalog
	Progress     ProgressRecorder
	Certificates CertificateIssuer
	Grader       grading.Grader
	Notifier     Notifier
	Events       EventSink
	Policy       Policy
	Now          func() time.Time
}

func NewService(d ServiceDeps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Grader == nil {
		d.Grader = grading.NewDefaultGrader()
	}
	return &Service{
		store:    d.Store,
		bank:     d.Bank,
		gate:     d.Gate,
		catalog:  d.Catalog,
		progress: d.Progress,
		certs:    d.Certificates,
		grader:   d.Grader,
		notifier: d.Notifier,
		events:   d.Events,
		policy:   d.Policy,
		now:      d.Now,
	}
}

func (s *Service) CheckEligibility(ctx context.Context, userID, scopeID string, t ScopeType) (Eligibility, error) {
	return s.gate.Check(ctx, userID, scopeID, t)
}

// Start creates a new active session, or hands back the caller's existing
// active session for the scope so a page reload resumes instead of failing.
func (s *Service) Start(ctx context.Context, userID, scopeID string, t ScopeType) (StartResult, error) {
	if !t.Valid() {
		return StartResult{}, fmt.Errorf("unknown scope type %q", t)
	}
	if sess, ok, err := s.store.FindActive(ctx, userID, scopeID, t); err != nil {
		return StartResult{}, err
	} else if ok {
		return StartResult{Session: sess.Sanitized(), Resumed: true}, nil
	}

	elig, err := s.gate.Check(ctx, userID, scopeID, t)
	if err != nil {
		return StartResult{}, err
	}
	if !elig.CanStart {
		return StartResult{}, &NotEligibleError{Reason: elig.Reason, RetryAfter: elig.RetryAfter}
	}

	questions, err := s.bank.Sample(ctx, scopeID, t, s.policy.QuestionCount(t))
	if err != nil {
		return StartResult{}, err
	}
	now := s.now()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ScopeID:   scopeID,
		ScopeType: t,
		Status:    StatusActive,
		Questions: questions,
		Answers:   newAnswerSlots(questions),
		StartedAt: now,
		ExpiresAt: s.policy.Deadline(now, len(questions)),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			// Lost a start/start race; the winner's session is the session.
			if existing, ok, ferr := s.store.FindActive(ctx, userID, scopeID, t); ferr == nil && ok {
				return StartResult{Session: existing.Sanitized(), Resumed: true}, nil
			}
			return StartResult{}, ErrAlreadyActive
		}
		return StartResult{}, err
	}
	s.event(ctx, "SessionStarted", sess.ID, map[string]any{
		"user_id": userID, "scope_id": scopeID, "scope_type": t, "expires_at": sess.ExpiresAt.Unix(),
	})
	return StartResult{Session: sess.Sanitized()}, nil
}

// Get returns the caller's own session, student-safe.
func (s *Service) Get(ctx context.Context, userID, sessionID string) (Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != userID {
		return Session{}, ErrNotOwner
	}
	return sess.Sanitized(), nil
}

// RecordAnswer writes one answer slot, last write wins. Legal only while
// the session is active and unexpired.
func (s *Service) RecordAnswer(ctx context.Context, userID, sessionID, questionID string, selected *string, timeSpentSec int) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrNotOwner
	}
	if sess.Status == StatusExpired {
		return ErrSessionExpired
	}
	if sess.Status.Terminal() {
		return ErrSessionNotActive
	}

	idx := -1
	for i, q := range sess.Questions {
		if q.ID == questionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: question %s not in session", ErrGradingInvariant, questionID)
	}
	if selected != nil && !validChoice(sess.Questions[idx], *selected) {
		return fmt.Errorf("%w: choice %q not in question %s", ErrGradingInvariant, *selected, questionID)
	}
	if timeSpentSec < 0 {
		timeSpentSec = 0
	}
	return s.store.UpdateAnswer(ctx, sessionID, Answer{QuestionID: questionID, Selected: selected, TimeSpentSec: timeSpentSec})
}

// Submit grades the session and applies side effects: ledger entry, course
// progress, and conditionally the certificate issuance trigger. The grading
// result is never lost to a renderer or notifier failure.
func (s *Service) Submit(ctx context.Context, userID, sessionID string, answers []Answer) (SubmitResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if sess.UserID != userID {
		return SubmitResult{}, ErrNotOwner
	}
	if sess.Status == StatusExpired {
		return SubmitResult{}, ErrSessionExpired
	}
	if sess.Status.Terminal() {
		return SubmitResult{}, ErrSessionNotActive
	}

	merged, err := mergeAnswers(sess, answers)
	if err != nil {
		return SubmitResult{}, err
	}
	score, review := s.grade(ctx, sess.Questions, merged)
	passed := score >= s.policy.PassingScore(sess.ScopeType)

	now := s.now()
	rec := AttemptRecord{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		UserID:      userID,
		ScopeID:     sess.ScopeID,
		ScopeType:   sess.ScopeType,
		AttemptedAt: now,
		Score:       score,
		Passed:      passed,
	}
	if err := s.store.FinishSession(ctx, sess.ID, StatusSubmitted, merged, rec); err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{Score: score, Passed: passed, Review: review}
	switch sess.ScopeType {
	case ScopeChapter:
		if passed {
			courseID, cerr := s.catalog.CourseForChapter(ctx, sess.ScopeID)
			if cerr == nil {
				cerr = s.progress.MarkChapterPassed(ctx, userID, courseID, sess.ScopeID)
			}
			if cerr != nil {
				log.Printf("assessment: record chapter pass %s/%s: %v", userID, sess.ScopeID, cerr)
			}
		}
	case ScopeFinal:
		completed, perr := s.progress.RecordFinalScore(ctx, userID, sess.ScopeID, score, passed)
		if perr != nil {
			log.Printf("assessment: record final score %s/%s: %v", userID, sess.ScopeID, perr)
			break
		}
		res.CourseCompleted = completed
		if passed && completed && s.certs != nil {
			certs, ierr := s.certs.Issue(ctx, userID, sess.ScopeID, score, now)
			if ierr != nil {
				// The exam result stands; issuance is retried later.
				log.Printf("assessment: certificate pending for %s/%s: %v", userID, sess.ScopeID, ierr)
				res.CertificatePending = true
			} else {
				res.Certificates = certs
			}
		}
	}

	s.event(ctx, "SessionSubmitted", sess.ID, map[string]any{
		"user_id": userID, "scope_id": sess.ScopeID, "scope_type": sess.ScopeType,
		"score": score, "passed": passed,
	})
	if passed {
		s.notify(ctx, userID, "Assessment passed",
			fmt.Sprintf("You scored %d%% on your %s assessment.", score, sess.ScopeType))
	}
	return res, nil
}

// Abandon is the explicit cancellation path (tab hidden, navigation away,
// admin action). Irreversible; starts the cooldown clock like a fail.
func (s *Service) Abandon(ctx context.Context, userID, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrNotOwner
	}
	if sess.Status.Terminal() {
		return ErrSessionNotActive
	}
	rec := AttemptRecord{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		UserID:      userID,
		ScopeID:     sess.ScopeID,
		ScopeType:   sess.ScopeType,
		AttemptedAt: s.now(),
		Abandoned:   true,
	}
	if err := s.store.FinishSession(ctx, sess.ID, StatusAbandoned, sess.Answers, rec); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return ErrSessionNotActive
		}
		return err
	}
	s.event(ctx, "SessionAbandoned", sess.ID, map[string]any{
		"user_id": userID, "scope_id": sess.ScopeID, "scope_type": sess.ScopeType,
	})
	return nil
}

func (s *Service) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]AttemptRecord, error) {
	return s.store.ListAttempts(ctx, opts)
}

func (s *Service) grade(ctx context.Context, questions []Question, answers []Answer) (int, []QuestionReview) {
	correct := 0
	review := make([]QuestionReview, len(questions))
	for i, q := range questions {
		res, err := s.grader.Grade(ctx, grading.Q{Type: q.Type, AnswerKey: q.AnswerKey}, answers[i].Selected)
		if err != nil {
			log.Printf("assessment: grade question %s: %v", q.ID, err)
		}
		if res.Correct {
			correct++
		}
		review[i] = QuestionReview{
			QuestionID:  q.ID,
			PromptHTML:  q.PromptHTML,
			Selected:    answers[i].Selected,
			CorrectID:   q.AnswerKey,
			Correct:     res.Correct,
			Explanation: q.Explanation,
		}
	}
	score := 0
	if len(questions) > 0 {
		score = int(math.Round(100 * float64(correct) / float64(len(questions))))
	}
	return score, review
}

// mergeAnswers folds a full or partial submitted answer sheet over the
// slots already recorded turn-by-turn. Any disagreement with the frozen
// question set is a desync and is rejected, not guessed at.
func mergeAnswers(sess Session, submitted []Answer) ([]Answer, error) {
	if len(submitted) > len(sess.Questions) {
		return nil, fmt.Errorf("%w: %d answers for %d questions", ErrGradingInvariant, len(submitted), len(sess.Questions))
	}
	slot := make(map[string]int, len(sess.Questions))
	for i, q := range sess.Questions {
		slot[q.ID] = i
	}
	merged := make([]Answer, len(sess.Answers))
	copy(merged, sess.Answers)
	for _, a := range submitted {
		i, ok := slot[a.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: question %s not in session", ErrGradingInvariant, a.QuestionID)
		}
		if a.Selected != nil && !validChoice(sess.Questions[i], *a.Selected) {
			return nil, fmt.Errorf("%w: choice %q not in question %s", ErrGradingInvariant, *a.Selected, a.QuestionID)
		}
		if a.TimeSpentSec < 0 {
			a.TimeSpentSec = 0
		}
		merged[i] = a
	}
	return merged, nil
}

func newAnswerSlots(questions []Question) []Answer {
	answers := make([]Answer, len(questions))
	for i, q := range questions {
		answers[i] = Answer{QuestionID: q.ID}
	}
	return answers
}

func validChoice(q Question, choiceID string) bool {
	for _, c := range q.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

func (s *Service) event(ctx context.Context, typ, key string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, typ, key, data); err != nil {
		log.Printf("assessment: append %s event: %v", typ, err)
	}
}

func (s *Service) notify(ctx context.Context, userID, subject, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, subject, body); err != nil {
		log.Printf("assessment: notify %s: %v", userID, err)
	}
}
