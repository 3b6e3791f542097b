package assessment

import (
	"time"

	"github.com/pathlight-learn/pathlight-lms/internal/config"
)

// Policy holds the per-scope-type knobs of the engine. All pass/fail and
// expiry decisions derive from server-stored timestamps plus these values;
// client-reported elapsed time is never trusted.
type Policy struct {
	ChapterQuestionCount int
	FinalQuestionCount   int
	ChapterPassingScore  int
	FinalPassingScore    int
	ChapterCooldown      time.Duration
	FinalCooldown        time.Duration
	PerQuestionBudget    time.Duration
	TimeBuffer           time.Duration
}

func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		ChapterQuestionCount: cfg.ChapterQuestionCount,
		FinalQuestionCount:   cfg.FinalQuestionCount,
		ChapterPassingScore:  cfg.ChapterPassingScore,
		FinalPassingScore:    cfg.FinalPassingScore,
		ChapterCooldown:      cfg.ChapterCooldown,
		FinalCooldown:        cfg.FinalCooldown,
		PerQuestionBudget:    cfg.PerQuestionBudget,
		TimeBuffer:           cfg.SessionTimeBuffer,
	}
}

func (p Policy) QuestionCount(t ScopeType) int {
	if t == ScopeFinal {
		return p.FinalQuestionCount
	}
	return p.ChapterQuestionCount
}

func (p Policy) PassingScore(t ScopeType) int {
	if t == ScopeFinal {
		return p.FinalPassingScore
	}
	return p.ChapterPassingScore
}

func (p Policy) Cooldown(t ScopeType) time.Duration {
	if t == ScopeFinal {
		return p.FinalCooldown
	}
	return p.ChapterCooldown
}

// Deadline computes the hard ceiling for a session started at the given
// instant: per-question budget times question count plus a fixed buffer.
func (p Policy) Deadline(startedAt time.Time, questionCount int) time.Time {
	return startedAt.Add(time.Duration(questionCount)*p.PerQuestionBudget + p.TimeBuffer)
}
