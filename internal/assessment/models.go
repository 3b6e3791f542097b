package assessment

import "time"

// ScopeType selects the unit an assessment is bound to: a chapter
// (chapter test) or a whole course (final exam).
type ScopeType string

const (
	ScopeChapter ScopeType = "chapter"
	ScopeFinal   ScopeType = "final"
)

func (t ScopeType) Valid() bool { return t == ScopeChapter || t == ScopeFinal }

// Status is the single source of truth for a session's lifecycle.
// Active is the only non-terminal state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSubmitted Status = "submitted"
	StatusAbandoned Status = "abandoned"
	StatusExpired   Status = "expired"
)

func (s Status) Terminal() bool { return s != StatusActive }

type Choice struct {
	ID        string `json:"id"`
	LabelHTML string `json:"label_html"`
}

// Question is a frozen reference inside a session. AnswerKey is the ID of
// the correct choice (the option index rendered as a string); it is
// stripped from student-facing views.
type Question struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"` // mcq_single, true_false
	PromptHTML  string   `json:"prompt_html"`
	Choices     []Choice `json:"choices"`
	AnswerKey   string   `json:"answer_key,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

// Answer is one slot of a session's answer sheet. Selected is nil until the
// client records a choice; unanswered slots grade as incorrect.
type Answer struct {
	QuestionID   string  `json:"question_id"`
	Selected     *string `json:"selected"`
	TimeSpentSec int     `json:"time_spent_sec"`
}

// Session is one in-progress or terminal assessment attempt. Questions are
// fixed at creation and never re-drawn. Terminal sessions persist as audit
// trail.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ScopeID    string     `json:"scope_id"`
	ScopeType  ScopeType  `json:"scope_type"`
	Status     Status     `json:"status"`
	Questions  []Question `json:"questions"`
	Answers    []Answer   `json:"answers"`
	StartedAt  time.Time  `json:"started_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Sanitized returns a student-safe copy with answer keys and explanations
// removed from the frozen question set.
func (s Session) Sanitized() Session {
	qs := make([]Question, len(s.Questions))
	copy(qs, s.Questions)
	for i := range qs {
		qs[i].AnswerKey = ""
		qs[i].Explanation = ""
	}
	s.Questions = qs
	return s
}

// AttemptRecord is the append-only ledger entry written exactly once per
// terminal session. Abandoned covers explicit abandonment and expiry; both
// carry the same cooldown consequence as a failed attempt.
type AttemptRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ScopeID     string    `json:"scope_id"`
	ScopeType   ScopeType `json:"scope_type"`
	AttemptedAt time.Time `json:"attempted_at"`
	Score       int       `json:"score"`
	Passed      bool      `json:"passed"`
	Abandoned   bool      `json:"abandoned"`
}

type AttemptListOpts struct {
	UserID    string
	ScopeID   string
	ScopeType ScopeType
	Limit     int
	Offset    int
}

// QuestionReview is the per-question portion of a submission result, the
// only externally visible outcome of grading.
type QuestionReview struct {
	QuestionID  string  `json:"question_id"`
	PromptHTML  string  `json:"prompt_html"`
	Selected    *string `json:"selected"`
	CorrectID   string  `json:"correct_id"`
	Correct     bool    `json:"correct"`
	Explanation string  `json:"explanation,omitempty"`
}

// IssuedCertificate is the session engine's view of a certificate minted by
// the issuance trigger.
type IssuedCertificate struct {
	Kind             string `json:"kind"`
	Number           string `json:"number"`
	VerificationCode string `json:"verification_code"`
	ImageURL         string `json:"image_url"`
}

type SubmitResult struct {
	Score              int                 `json:"score"`
	Passed             bool                `json:"passed"`
	Review             []QuestionReview    `json:"review"`
	CourseCompleted    bool                `json:"course_completed,omitempty"`
	Certificates       []IssuedCertificate `json:"certificates,omitempty"`
	CertificatePending bool                `json:"certificate_pending,omitempty"`
}

type StartResult struct {
	Session Session `json:"session"`
	Resumed bool    `json:"resumed"`
}

// Eligibility is the gate's verdict. RetryAfter is non-zero only when the
// blocker is a cooldown.
type Eligibility struct {
	CanStart   bool          `json:"can_start"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"-"`
}
