package assessment_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pathlight-learn/pathlight-lms/internal/assessment"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore mirrors the SQL store's transition rules in memory: one active
// session per (user, scope), compare-and-set finishes, lazy expiry on read.
type memStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]*assessment.Session
	attempts []assessment.AttemptRecord
	pools    map[string][]assessment.Question
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:      now,
		sessions: make(map[string]*assessment.Session),
		pools:    make(map[string][]assessment.Question),
	}
}

func poolKey(scopeID string, t assessment.ScopeType) string {
	return scopeID + "|" + string(t)
}

func (m *memStore) expireDueLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.Status != assessment.StatusActive || s.ExpiresAt.After(m.now()) {
			continue
		}
		at := s.ExpiresAt
		s.Status = assessment.StatusExpired
		s.FinishedAt = &at
		m.attempts = append(m.attempts, assessment.AttemptRecord{
			ID:          fmt.Sprintf("att-%d", len(m.attempts)+1),
			SessionID:   s.ID,
			UserID:      s.UserID,
			ScopeID:     s.ScopeID,
			ScopeType:   s.ScopeType,
			AttemptedAt: at,
			Abandoned:   true,
		})
		n++
	}
	return n
}

func (m *memStore) CreateSession(_ context.Context, s assessment.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.sessions {
		if ex.Status == assessment.StatusActive && ex.UserID == s.UserID &&
			ex.ScopeID == s.ScopeID && ex.ScopeType == s.ScopeType {
			return assessment.ErrAlreadyActive
		}
	}
	cp := s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (assessment.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return assessment.Session{}, assessment.ErrSessionNotFound
	}
	if s.Status == assessment.StatusActive && !s.ExpiresAt.After(m.now()) {
		m.expireDueLocked()
	}
	return *s, nil
}

func (m *memStore) FindActive(_ context.Context, userID, scopeID string, t assessment.ScopeType) (assessment.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireDueLocked()
	for _, s := range m.sessions {
		if s.Status == assessment.StatusActive && s.UserID == userID &&
			s.ScopeID == scopeID && s.ScopeType == t {
			return *s, true, nil
		}
	}
	return assessment.Session{}, false, nil
}

func (m *memStore) ActiveDeadline(_ context.Context, userID, scopeID string, t assessment.ScopeType) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status == assessment.StatusActive &&
			s.UserID == userID && s.ScopeID == scopeID && s.ScopeType == t {
			return s.ExpiresAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (m *memStore) blockedLocked(s *assessment.Session) error {
	if s.Status == assessment.StatusActive && !s.ExpiresAt.After(m.now()) {
		m.expireDueLocked()
	}
	if s.Status == assessment.StatusExpired {
		return assessment.ErrSessionExpired
	}
	return assessment.ErrSessionNotActive
}

func (m *memStore) UpdateAnswer(_ context.Context, sessionID string, ans assessment.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return assessment.ErrSessionNotFound
	}
	if s.Status != assessment.StatusActive || !s.ExpiresAt.After(m.now()) {
		return m.blockedLocked(s)
	}
	for i := range s.Answers {
		if s.Answers[i].QuestionID == ans.QuestionID {
			s.Answers[i] = ans
			return nil
		}
	}
	return fmt.Errorf("%w: question %s not in session", assessment.ErrGradingInvariant, ans.QuestionID)
}

func (m *memStore) FinishSession(_ context.Context, sessionID string, to assessment.Status, answers []assessment.Answer, rec assessment.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return assessment.ErrSessionNotFound
	}
	if s.Status != assessment.StatusActive || !s.ExpiresAt.After(m.now()) {
		return m.blockedLocked(s)
	}
	at := rec.AttemptedAt
	s.Status = to
	s.FinishedAt = &at
	s.Answers = append([]assessment.Answer(nil), answers...)
	m.attempts = append(m.attempts, rec)
	return nil
}

func (m *memStore) ExpireDue(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expireDueLocked(), nil
}

func (m *memStore) LatestAttempt(_ context.Context, userID, scopeID string, t assessment.ScopeType) (assessment.AttemptRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best assessment.AttemptRecord
	found := false
	for _, a := range m.attempts {
		if a.UserID != userID || a.ScopeID != scopeID || a.ScopeType != t {
			continue
		}
		if !found || !a.AttemptedAt.Before(best.AttemptedAt) {
			best, found = a, true
		}
	}
	return best, found, nil
}

func (m *memStore) ListAttempts(_ context.Context, opts assessment.AttemptListOpts) ([]assessment.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []assessment.AttemptRecord
	for _, a := range m.attempts {
		if opts.UserID != "" && a.UserID != opts.UserID {
			continue
		}
		if opts.ScopeID != "" && a.ScopeID != opts.ScopeID {
			continue
		}
		if opts.ScopeType != "" && a.ScopeType != opts.ScopeType {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) Sample(_ context.Context, scopeID string, t assessment.ScopeType, n int) ([]assessment.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool := m.pools[poolKey(scopeID, t)]
	if len(pool) < n {
		return nil, fmt.Errorf("question pool for %s holds %d of %d needed", scopeID, len(pool), n)
	}
	return append([]assessment.Question(nil), pool[:n]...), nil
}

func (m *memStore) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

func (m *memStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type fakeCatalog struct {
	chapterCourse  map[string]string
	chapterLessons map[string][]string
	courseChapters map[string][]string
}

func (c *fakeCatalog) CourseForChapter(_ context.Context, chapterID string) (string, error) {
	id, ok := c.chapterCourse[chapterID]
	if !ok {
		return "", fmt.Errorf("chapter %s not found", chapterID)
	}
	return id, nil
}

func (c *fakeCatalog) LessonIDs(_ context.Context, chapterID string) ([]string, error) {
	return c.chapterLessons[chapterID], nil
}

func (c *fakeCatalog) ChapterIDs(_ context.Context, courseID string) ([]string, error) {
	return c.courseChapters[courseID], nil
}

type fakeProgress struct {
	mu      sync.Mutex
	lessons map[string]map[string]bool
	passed  map[string]map[string]bool
	best    map[string]int
	done    map[string]bool
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{
		lessons: make(map[string]map[string]bool),
		passed:  make(map[string]map[string]bool),
		best:    make(map[string]int),
		done:    make(map[string]bool),
	}
}

func progressKey(userID, courseID string) string { return userID + "|" + courseID }

func (p *fakeProgress) CompletedLessons(_ context.Context, userID, courseID string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copySet(p.lessons[progressKey(userID, courseID)]), nil
}

func (p *fakeProgress) PassedChapters(_ context.Context, userID, courseID string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copySet(p.passed[progressKey(userID, courseID)]), nil
}

func (p *fakeProgress) MarkChapterPassed(_ context.Context, userID, courseID, chapterID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := progressKey(userID, courseID)
	if p.passed[k] == nil {
		p.passed[k] = make(map[string]bool)
	}
	p.passed[k][chapterID] = true
	return nil
}

func (p *fakeProgress) RecordFinalScore(_ context.Context, userID, courseID string, score int, passed bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := progressKey(userID, courseID)
	if score > p.best[k] {
		p.best[k] = score
	}
	if passed {
		p.done[k] = true
	}
	return p.done[k], nil
}

func (p *fakeProgress) completeLessons(userID, courseID string, lessonIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := progressKey(userID, courseID)
	if p.lessons[k] == nil {
		p.lessons[k] = make(map[string]bool)
	}
	for _, id := range lessonIDs {
		p.lessons[k][id] = true
	}
}

func (p *fakeProgress) passChapters(userID, courseID string, chapterIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := progressKey(userID, courseID)
	if p.passed[k] == nil {
		p.passed[k] = make(map[string]bool)
	}
	for _, id := range chapterIDs {
		p.passed[k][id] = true
	}
}

func copySet(src map[string]bool) map[string]bool {
	out := make(map[string]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// fakeIssuer mints at most once per (user, course) and counts renders, so
// tests can assert issuance stays idempotent across retakes.
type fakeIssuer struct {
	mu      sync.Mutex
	issued  map[string][]assessment.IssuedCertificate
	renders int
	err     error
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{issued: make(map[string][]assessment.IssuedCertificate)}
}

func (f *fakeIssuer) Issue(_ context.Context, userID, courseID string, _ int, _ time.Time) ([]assessment.IssuedCertificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := userID + "|" + courseID
	if certs, ok := f.issued[k]; ok {
		return certs, nil
	}
	certs := []assessment.IssuedCertificate{
		{Kind: "completion", Number: "PL-2026-TEST0001", VerificationCode: "vc-1"},
		{Kind: "compliance", Number: "PL-2026-TEST0002", VerificationCode: "vc-2"},
	}
	f.renders += len(certs)
	f.issued[k] = certs
	return certs, nil
}

type env struct {
	clk   *fakeClock
	store *memStore
	cat   *fakeCatalog
	prog  *fakeProgress
	iss   *fakeIssuer
	pol   assessment.Policy
	svc   *assessment.Service
}

func testPolicy() assessment.Policy {
	return assessment.Policy{
		ChapterQuestionCount: 4,
		FinalQuestionCount:   4,
		ChapterPassingScore:  70,
		FinalPassingScore:    80,
		ChapterCooldown:      3 * time.Hour,
		FinalCooldown:        24 * time.Hour,
		PerQuestionBudget:    time.Minute,
		TimeBuffer:           5 * time.Minute,
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := newFakeClock()
	store := newMemStore(clk.Now)
	cat := &fakeCatalog{
		chapterCourse:  map[string]string{"ch1": "c1", "ch2": "c1"},
		chapterLessons: map[string][]string{"ch1": {"l1", "l2"}, "ch2": {"l3"}},
		courseChapters: map[string][]string{"c1": {"ch1", "ch2"}},
	}
	prog := newFakeProgress()
	iss := newFakeIssuer()
	pol := testPolicy()

	store.pools[poolKey("ch1", assessment.ScopeChapter)] = makeQuestions("ch1-q", 4)
	store.pools[poolKey("ch2", assessment.ScopeChapter)] = makeQuestions("ch2-q", 4)
	store.pools[poolKey("c1", assessment.ScopeFinal)] = makeQuestions("fin-q", 4)

	gate := assessment.NewGate(cat, prog, store, store, pol, clk.Now)
	svc := assessment.NewService(assessment.ServiceDeps{
		Store:        store,
		Bank:         store,
		Gate:         gate,
		Catalog:      cat,
		Progress:     prog,
		Certificates: iss,
		Policy:       pol,
		Now:          clk.Now,
	})
	return &env{clk: clk, store: store, cat: cat, prog: prog, iss: iss, pol: pol, svc: svc}
}

func makeQuestions(prefix string, n int) []assessment.Question {
	qs := make([]assessment.Question, n)
	for i := range qs {
		choices := make([]assessment.Choice, 4)
		for c := range choices {
			choices[c] = assessment.Choice{ID: strconv.Itoa(c), LabelHTML: fmt.Sprintf("option %d", c)}
		}
		qs[i] = assessment.Question{
			ID:         fmt.Sprintf("%s%d", prefix, i),
			Type:       "mcq_single",
			PromptHTML: fmt.Sprintf("prompt %d", i),
			Choices:    choices,
			AnswerKey:  "1",
		}
	}
	return qs
}

func answerAll(sess assessment.Session, choiceID string) []assessment.Answer {
	out := make([]assessment.Answer, len(sess.Questions))
	for i, q := range sess.Questions {
		id := choiceID
		out[i] = assessment.Answer{QuestionID: q.ID, Selected: &id, TimeSpentSec: 10}
	}
	return out
}

func TestStartRequiresCompletedLessons(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if !errors.Is(err, assessment.ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
	var ne *assessment.NotEligibleError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %T, want *NotEligibleError", err)
	}
	if ne.RetryAfter != 0 {
		t.Fatalf("prerequisite block must carry no retry hint, got %s", ne.RetryAfter)
	}
}

func TestStartStripsAnswerKeys(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Resumed {
		t.Fatalf("first start must not resume")
	}
	if got := len(res.Session.Questions); got != 4 {
		t.Fatalf("question count = %d, want 4", got)
	}
	for _, q := range res.Session.Questions {
		if q.AnswerKey != "" || q.Explanation != "" {
			t.Fatalf("question %s leaked answer key or explanation", q.ID)
		}
	}
	wantExpiry := e.clk.Now().Add(4*time.Minute + 5*time.Minute)
	if !res.Session.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires_at = %v, want %v", res.Session.ExpiresAt, wantExpiry)
	}
}

func TestStartResumesActiveSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	first, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !second.Resumed {
		t.Fatalf("second start must resume")
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("resumed session %s, want %s", second.Session.ID, first.Session.ID)
	}
	if e.store.sessionCount() != 1 {
		t.Fatalf("session count = %d, want 1", e.store.sessionCount())
	}
}

func TestConcurrentStartsShareOneSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
			if err == nil {
				ids[i] = res.Session.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("start %d got session %s, want %s", i, ids[i], ids[0])
		}
	}
	if e.store.sessionCount() != 1 {
		t.Fatalf("session count = %d, want 1", e.store.sessionCount())
	}
}

func TestSubmitPerfectScorePassesChapter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Score != 100 || !out.Passed {
		t.Fatalf("score=%d passed=%v, want 100/true", out.Score, out.Passed)
	}
	if len(out.Review) != 4 {
		t.Fatalf("review length = %d, want 4", len(out.Review))
	}
	for _, r := range out.Review {
		if !r.Correct || r.CorrectID != "1" {
			t.Fatalf("review for %s: correct=%v correct_id=%q", r.QuestionID, r.Correct, r.CorrectID)
		}
	}

	passed, err := e.prog.PassedChapters(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("passed chapters: %v", err)
	}
	if !passed["ch1"] {
		t.Fatalf("chapter ch1 not marked passed")
	}
	if e.store.attemptCount() != 1 {
		t.Fatalf("attempt count = %d, want 1", e.store.attemptCount())
	}

	sess, err := e.svc.Get(ctx, "u1", res.Session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != assessment.StatusSubmitted {
		t.Fatalf("status = %s, want submitted", sess.Status)
	}
}

func TestSubmitRoundsScoreAndAppliesThreshold(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// 3 of 4 correct rounds to 75, above the 70 chapter bar.
	answers := answerAll(res.Session, "1")
	wrong := "0"
	answers[3].Selected = &wrong
	out, err := e.svc.Submit(ctx, "u1", res.Session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Score != 75 || !out.Passed {
		t.Fatalf("score=%d passed=%v, want 75/true", out.Score, out.Passed)
	}
}

func TestDoubleSubmitRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err = e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1"))
	if !errors.Is(err, assessment.ErrSessionNotActive) {
		t.Fatalf("second submit err = %v, want ErrSessionNotActive", err)
	}
	if e.store.attemptCount() != 1 {
		t.Fatalf("attempt count = %d, want exactly 1", e.store.attemptCount())
	}
}

func TestSubmitAfterExpiryRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e.clk.Advance(10 * time.Minute)

	_, err = e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1"))
	if !errors.Is(err, assessment.ErrSessionExpired) {
		t.Fatalf("submit err = %v, want ErrSessionExpired", err)
	}

	attempts, err := e.store.ListAttempts(ctx, assessment.AttemptListOpts{UserID: "u1"})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("attempt count = %d, want 1", len(attempts))
	}
	a := attempts[0]
	if !a.Abandoned || a.Passed || a.Score != 0 {
		t.Fatalf("expiry record = %+v, want abandoned, unpassed, zero score", a)
	}
	if !a.AttemptedAt.Equal(res.Session.ExpiresAt) {
		t.Fatalf("attempted_at = %v, want deadline %v", a.AttemptedAt, res.Session.ExpiresAt)
	}
}

func TestRecordAnswerAfterExpiryRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e.clk.Advance(10 * time.Minute)

	sel := "1"
	err = e.svc.RecordAnswer(ctx, "u1", res.Session.ID, res.Session.Questions[0].ID, &sel, 5)
	if !errors.Is(err, assessment.ErrSessionExpired) {
		t.Fatalf("record answer err = %v, want ErrSessionExpired", err)
	}
}

func TestRecordAnswerValidatesAgainstFrozenSet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sel := "1"
	if err := e.svc.RecordAnswer(ctx, "u1", res.Session.ID, "not-a-question", &sel, 5); !errors.Is(err, assessment.ErrGradingInvariant) {
		t.Fatalf("foreign question err = %v, want ErrGradingInvariant", err)
	}
	bad := "9"
	if err := e.svc.RecordAnswer(ctx, "u1", res.Session.ID, res.Session.Questions[0].ID, &bad, 5); !errors.Is(err, assessment.ErrGradingInvariant) {
		t.Fatalf("foreign choice err = %v, want ErrGradingInvariant", err)
	}
	if err := e.svc.RecordAnswer(ctx, "u1", res.Session.ID, res.Session.Questions[0].ID, &sel, 5); err != nil {
		t.Fatalf("valid answer: %v", err)
	}

	sess, err := e.svc.Get(ctx, "u1", res.Session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Answers[0].Selected == nil || *sess.Answers[0].Selected != "1" {
		t.Fatalf("answer slot not recorded: %+v", sess.Answers[0])
	}
}

func TestSubmitRejectsAnswerSheetDesync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	extra := append(answerAll(res.Session, "1"), assessment.Answer{QuestionID: "ghost"})
	if _, err := e.svc.Submit(ctx, "u1", res.Session.ID, extra); !errors.Is(err, assessment.ErrGradingInvariant) {
		t.Fatalf("oversized sheet err = %v, want ErrGradingInvariant", err)
	}
	if e.store.attemptCount() != 0 {
		t.Fatalf("desync must not write a ledger entry")
	}

	sess, err := e.svc.Get(ctx, "u1", res.Session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != assessment.StatusActive {
		t.Fatalf("session lost its active status on a rejected submit")
	}
}

func TestOwnershipEnforced(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.svc.Get(ctx, "u2", res.Session.ID); !errors.Is(err, assessment.ErrNotOwner) {
		t.Fatalf("get err = %v, want ErrNotOwner", err)
	}
	if _, err := e.svc.Submit(ctx, "u2", res.Session.ID, nil); !errors.Is(err, assessment.ErrNotOwner) {
		t.Fatalf("submit err = %v, want ErrNotOwner", err)
	}
	if err := e.svc.Abandon(ctx, "u2", res.Session.ID); !errors.Is(err, assessment.ErrNotOwner) {
		t.Fatalf("abandon err = %v, want ErrNotOwner", err)
	}
}

func TestFailedAttemptStartsCooldown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "0"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Passed {
		t.Fatalf("all-wrong sheet must not pass")
	}

	elig, err := e.svc.CheckEligibility(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if elig.CanStart {
		t.Fatalf("cooldown must block an immediate retry")
	}
	if elig.RetryAfter <= 0 || elig.RetryAfter > 3*time.Hour {
		t.Fatalf("retry_after = %s, want within (0, 3h]", elig.RetryAfter)
	}
	if _, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter); !errors.Is(err, assessment.ErrNotEligible) {
		t.Fatalf("start during cooldown err = %v, want ErrNotEligible", err)
	}

	e.clk.Advance(3 * time.Hour)
	elig, err = e.svc.CheckEligibility(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("check after cooldown: %v", err)
	}
	if !elig.CanStart {
		t.Fatalf("cooldown must end exactly at its boundary: %+v", elig)
	}
}

func TestPassedAttemptSkipsCooldown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	elig, err := e.svc.CheckEligibility(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !elig.CanStart {
		t.Fatalf("a pass must not throttle a retake: %+v", elig)
	}
}

func TestAbandonAndExpiryThrottleAlike(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("ua", "c1", "l1", "l2")
	e.prog.completeLessons("ub", "c1", "l1", "l2")

	// ub's session runs out at the deadline; ua starts there and abandons
	// immediately, so both ledger entries carry the same timestamp.
	resB, err := e.svc.Start(ctx, "ub", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start ub: %v", err)
	}
	e.clk.Advance(resB.Session.ExpiresAt.Sub(resB.Session.StartedAt))
	if _, err := e.svc.Get(ctx, "ub", resB.Session.ID); err != nil {
		t.Fatalf("get ub: %v", err)
	}

	resA, err := e.svc.Start(ctx, "ua", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start ua: %v", err)
	}
	if err := e.svc.Abandon(ctx, "ua", resA.Session.ID); err != nil {
		t.Fatalf("abandon ua: %v", err)
	}

	eligA, err := e.svc.CheckEligibility(ctx, "ua", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("check ua: %v", err)
	}
	eligB, err := e.svc.CheckEligibility(ctx, "ub", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("check ub: %v", err)
	}
	if eligA.CanStart || eligB.CanStart {
		t.Fatalf("both must be throttled: ua=%+v ub=%+v", eligA, eligB)
	}
	if eligA.RetryAfter != eligB.RetryAfter {
		t.Fatalf("abandonment and expiry carry different cooldowns: %s vs %s", eligA.RetryAfter, eligB.RetryAfter)
	}
}

func TestAbandonIsIrreversible(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.svc.Abandon(ctx, "u1", res.Session.ID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if err := e.svc.Abandon(ctx, "u1", res.Session.ID); !errors.Is(err, assessment.ErrSessionNotActive) {
		t.Fatalf("second abandon err = %v, want ErrSessionNotActive", err)
	}
	if _, err := e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1")); !errors.Is(err, assessment.ErrSessionNotActive) {
		t.Fatalf("submit after abandon err = %v, want ErrSessionNotActive", err)
	}
	sess, err := e.svc.Get(ctx, "u1", res.Session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != assessment.StatusAbandoned {
		t.Fatalf("status = %s, want abandoned", sess.Status)
	}
}

func passFinalPrereqs(e *env, userID string) {
	e.prog.passChapters(userID, "c1", "ch1", "ch2")
}

func TestFinalRequiresAllChaptersPassed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.passChapters("u1", "c1", "ch1")

	_, err := e.svc.Start(ctx, "u1", "c1", assessment.ScopeFinal)
	if !errors.Is(err, assessment.ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
}

func TestFinalPassCompletesCourseAndIssuesCertificates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	passFinalPrereqs(e, "u1")

	res, err := e.svc.Start(ctx, "u1", "c1", assessment.ScopeFinal)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Passed || !out.CourseCompleted {
		t.Fatalf("passed=%v completed=%v, want true/true", out.Passed, out.CourseCompleted)
	}
	if len(out.Certificates) != 2 {
		t.Fatalf("certificate count = %d, want 2", len(out.Certificates))
	}
	if out.CertificatePending {
		t.Fatalf("successful issuance must not report pending")
	}

	// A retake after a pass re-triggers issuance; nothing new is minted.
	retake, err := e.svc.Start(ctx, "u1", "c1", assessment.ScopeFinal)
	if err != nil {
		t.Fatalf("retake start: %v", err)
	}
	again, err := e.svc.Submit(ctx, "u1", retake.Session.ID, answerAll(retake.Session, "1"))
	if err != nil {
		t.Fatalf("retake submit: %v", err)
	}
	if len(again.Certificates) != 2 {
		t.Fatalf("retake certificate count = %d, want the existing 2", len(again.Certificates))
	}
	if again.Certificates[0].Number != out.Certificates[0].Number {
		t.Fatalf("retake minted a fresh certificate number")
	}
	if e.iss.renders != 2 {
		t.Fatalf("renders = %d, want 2 total across both submissions", e.iss.renders)
	}
}

func TestIssuerFailureLeavesResultPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	passFinalPrereqs(e, "u1")
	e.iss.err = errors.New("renderer offline")

	res, err := e.svc.Start(ctx, "u1", "c1", assessment.ScopeFinal)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := e.svc.Submit(ctx, "u1", res.Session.ID, answerAll(res.Session, "1"))
	if err != nil {
		t.Fatalf("submit must survive an issuer outage: %v", err)
	}
	if !out.Passed || !out.CourseCompleted {
		t.Fatalf("grading result lost: %+v", out)
	}
	if !out.CertificatePending || len(out.Certificates) != 0 {
		t.Fatalf("pending=%v certs=%d, want pending with no certificates", out.CertificatePending, len(out.Certificates))
	}
	if e.store.attemptCount() != 1 {
		t.Fatalf("attempt count = %d, want 1", e.store.attemptCount())
	}
}

func TestFinalFailBelowThreshold(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	passFinalPrereqs(e, "u1")

	res, err := e.svc.Start(ctx, "u1", "c1", assessment.ScopeFinal)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// 3 of 4 is 75, under the 80 final bar.
	answers := answerAll(res.Session, "1")
	wrong := "0"
	answers[0].Selected = &wrong
	out, err := e.svc.Submit(ctx, "u1", res.Session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Passed || out.CourseCompleted {
		t.Fatalf("score=%d passed=%v completed=%v, want a fail", out.Score, out.Passed, out.CourseCompleted)
	}
	if len(out.Certificates) != 0 || out.CertificatePending {
		t.Fatalf("failed final must not touch issuance: %+v", out)
	}

	elig, err := e.svc.CheckEligibility(ctx, "u1", "c1", assessment.ScopeFinal)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if elig.CanStart {
		t.Fatalf("failed final must start the 24h cooldown")
	}
	if elig.RetryAfter != 24*time.Hour {
		t.Fatalf("retry_after = %s, want 24h", elig.RetryAfter)
	}
}

func TestUnansweredSlotsGradeAsIncorrect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.prog.completeLessons("u1", "c1", "l1", "l2")

	res, err := e.svc.Start(ctx, "u1", "ch1", assessment.ScopeChapter)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := e.svc.Submit(ctx, "u1", res.Session.ID, nil)
	if err != nil {
		t.Fatalf("blank submit: %v", err)
	}
	if out.Score != 0 || out.Passed {
		t.Fatalf("blank sheet score=%d passed=%v, want 0/false", out.Score, out.Passed)
	}
}
