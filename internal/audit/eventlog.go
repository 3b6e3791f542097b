package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Log is an append-only record of session lifecycle transitions and
// certificate issuances, kept alongside the session rows as audit trail.
type Log struct{ db *sql.DB }

func NewLog(db *sql.DB) *Log { return &Log{db: db} }

// Append writes one event. data is marshalled to JSON; key is the natural
// key of the subject (usually a session ID).
func (l *Log) Append(ctx context.Context, typ, key string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		typ, key, string(payload), time.Now().Unix())
	return err
}
