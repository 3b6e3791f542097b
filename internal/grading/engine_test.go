package grading_test

import (
	"context"
	"testing"

	"github.com/pathlight-learn/pathlight-lms/internal/grading"
)

func strptr(s string) *string { return &s }

func TestChoiceGrading(t *testing.T) {
	g := grading.NewDefaultGrader()
	ctx := context.Background()

	cases := []struct {
		name     string
		q        grading.Q
		response *string
		want     bool
	}{
		{"correct", grading.Q{Type: "mcq_single", AnswerKey: "2"}, strptr("2"), true},
		{"incorrect", grading.Q{Type: "mcq_single", AnswerKey: "2"}, strptr("0"), false},
		{"unanswered", grading.Q{Type: "mcq_single", AnswerKey: "2"}, nil, false},
		{"true_false", grading.Q{Type: "true_false", AnswerKey: "1"}, strptr("1"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Grade(ctx, tc.q, tc.response)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Correct != tc.want {
				t.Fatalf("correct = %v, want %v", res.Correct, tc.want)
			}
		})
	}
}

func TestUnknownTypeNeverPasses(t *testing.T) {
	g := grading.NewDefaultGrader()
	res, err := g.Grade(context.Background(), grading.Q{Type: "essay", AnswerKey: "1"}, strptr("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Correct {
		t.Fatalf("unknown question type must not auto-pass")
	}
}
