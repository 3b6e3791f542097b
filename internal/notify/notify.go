package notify

import (
	"context"
	"log"
)

// Notifier delivers best-effort messages to learners. Delivery failures
// must never roll back grading or certificate persistence, so callers log
// and move on.
type Notifier interface {
	Notify(ctx context.Context, userID, subject, body string) error
}

// Console logs instead of sending; the offline default.
type Console struct{}

func (Console) Notify(_ context.Context, userID, subject, body string) error {
	log.Printf("notify %s: %s: %s", userID, subject, body)
	return nil
}
