package grading

import "context"

// Q is a minimal view of a question needed for grading.
type Q struct {
	Type      string
	AnswerKey string // canonical choice ID (option index as string)
}

// Result is the outcome of grading a single question response.
type Result struct {
	Correct  bool
	Feedback []string
}

// Strategy grades a single question.
type Strategy interface {
	Grade(ctx context.Context, q Q, response *string) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, response *string) (Result, error)
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, response *string) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{Feedback: []string{"no strategy available"}}, nil
	}
	return s.Grade(ctx, q, response)
}

// NewDefaultGrader installs built-in strategies. Both item types the
// platform authors today resolve to a single canonical choice ID.
func NewDefaultGrader() Grader {
	return &defaultGrader{
		strategies: map[string]Strategy{
			"mcq_single": choiceStrategy{},
			"true_false": choiceStrategy{},
		},
	}
}

type choiceStrategy struct{}

func (choiceStrategy) Grade(_ context.Context, q Q, response *string) (Result, error) {
	if response == nil {
		// Unanswered slots grade as incorrect, never as an error.
		return Result{}, nil
	}
	return Result{Correct: *response == q.AnswerKey}, nil
}
