package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore implements Store and QuestionBank on database/sql, driver
// "sqlite" or "postgres". The one-active-session invariant is enforced by a
// partial unique index on (user_id, scope_id, scope_type) WHERE
// status='active'; terminal transitions are CAS updates that append the
// attempt record in the same transaction.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, now: time.Now}
}

const sessionCols = `id,user_id,scope_id,scope_type,status,questions_json,answers_json,started_at,expires_at,finished_at`

func (s *SQLStore) CreateSession(ctx context.Context, sess Session) error {
	qj, err := json.Marshal(sess.Questions)
	if err != nil {
		return err
	}
	aj, err := json.Marshal(sess.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO assessment_sessions
		(id,user_id,scope_id,scope_type,status,questions_json,answers_json,started_at,expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sess.ID, sess.UserID, sess.ScopeID, string(sess.ScopeType), string(sess.Status),
		string(qj), string(aj), sess.StartedAt.Unix(), sess.ExpiresAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyActive
		}
		return err
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	sess, err := s.getRaw(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusActive && !s.now().Before(sess.ExpiresAt) {
		if err := s.expireOne(ctx, id); err != nil {
			return Session{}, err
		}
		return s.getRaw(ctx, id)
	}
	return sess, nil
}

func (s *SQLStore) FindActive(ctx context.Context, userID, scopeID string, t ScopeType) (Session, bool, error) {
	// Reap any stale active session for this scope first so a resume never
	// hands back a dead session.
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM assessment_sessions
		WHERE user_id=$1 AND scope_id=$2 AND scope_type=$3 AND status='active' AND expires_at<=$4`,
		userID, scopeID, string(t), s.now().Unix())
	if err != nil {
		return Session{}, false, err
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Session{}, false, err
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Session{}, false, err
	}
	for _, id := range due {
		if err := s.expireOne(ctx, id); err != nil {
			return Session{}, false, err
		}
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM assessment_sessions
		WHERE user_id=$1 AND scope_id=$2 AND scope_type=$3 AND status='active'`,
		userID, scopeID, string(t))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *SQLStore) ActiveDeadline(ctx context.Context, userID, scopeID string, t ScopeType) (time.Time, bool, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM assessment_sessions
		WHERE user_id=$1 AND scope_id=$2 AND scope_type=$3 AND status='active'`,
		userID, scopeID, string(t)).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(expiresAt, 0), true, nil
}

// UpdateAnswer folds one slot into the stored sheet under a transaction so
// concurrent writes to different slots cannot lose each other.
func (s *SQLStore) UpdateAnswer(ctx context.Context, sessionID string, ans Answer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `SELECT answers_json FROM assessment_sessions
		WHERE id=$1 AND status='active' AND expires_at>$2`
	if s.driver == "postgres" {
		q += " FOR UPDATE"
	}
	var ajson string
	err = tx.QueryRowContext(ctx, q, sessionID, s.now().Unix()).Scan(&ajson)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return s.classifyBlocked(ctx, sessionID)
	}
	if err != nil {
		return err
	}
	var answers []Answer
	if err := json.Unmarshal([]byte(ajson), &answers); err != nil {
		return err
	}
	idx := -1
	for i := range answers {
		if answers[i].QuestionID == ans.QuestionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: question %s not in session", ErrGradingInvariant, ans.QuestionID)
	}
	answers[idx] = ans

	aj, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE assessment_sessions SET answers_json=$1
		WHERE id=$2 AND status='active' AND expires_at>$3`,
		string(aj), sessionID, s.now().Unix())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		tx.Rollback()
		return s.classifyBlocked(ctx, sessionID)
	}
	return tx.Commit()
}

func (s *SQLStore) FinishSession(ctx context.Context, sessionID string, to Status, answers []Answer, rec AttemptRecord) error {
	if !to.Terminal() || to == StatusExpired {
		return fmt.Errorf("finish to %q not allowed", to)
	}
	aj, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx, `UPDATE assessment_sessions
		SET status=$1, answers_json=$2, finished_at=$3
		WHERE id=$4 AND status='active' AND expires_at>$5`,
		string(to), string(aj), now.Unix(), sessionID, now.Unix())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		tx.Rollback()
		return s.classifyBlocked(ctx, sessionID)
	}
	if err := insertAttempt(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ExpireDue(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM assessment_sessions
		WHERE status='active' AND expires_at<=$1`, s.now().Unix())
	if err != nil {
		return 0, err
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range due {
		if err := s.expireOne(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SQLStore) LatestAttempt(ctx context.Context, userID, scopeID string, t ScopeType) (AttemptRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,session_id,user_id,scope_id,scope_type,attempted_at,score,passed,abandoned
		FROM attempt_records
		WHERE user_id=$1 AND scope_id=$2 AND scope_type=$3
		ORDER BY attempted_at DESC LIMIT 1`,
		userID, scopeID, string(t))
	rec, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AttemptRecord{}, false, nil
	}
	if err != nil {
		return AttemptRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]AttemptRecord, error) {
	q := `SELECT id,session_id,user_id,scope_id,scope_type,attempted_at,score,passed,abandoned FROM attempt_records`
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if opts.UserID != "" {
		add("user_id=$%d", opts.UserID)
	}
	if opts.ScopeID != "" {
		add("scope_id=$%d", opts.ScopeID)
	}
	if opts.ScopeType != "" {
		add("scope_type=$%d", string(opts.ScopeType))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += fmt.Sprintf(" ORDER BY attempted_at DESC LIMIT %d OFFSET %d", limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AttemptRecord
	for rows.Next() {
		rec, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Sample implements QuestionBank: a fixed-size random draw from the
// chapter's pool (chapter test) or the whole course's pool (final exam).
func (s *SQLStore) Sample(ctx context.Context, scopeID string, t ScopeType, n int) ([]Question, error) {
	col := "chapter_id"
	if t == ScopeFinal {
		col = "course_id"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,qtype,prompt_html,options_json,correct_option,explanation,difficulty
		FROM questions WHERE `+col+`=$1 ORDER BY RANDOM() LIMIT $2`, scopeID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var (
			q       Question
			optJSON string
			correct int
		)
		if err := rows.Scan(&q.ID, &q.Type, &q.PromptHTML, &optJSON, &correct, &q.Explanation, &q.Difficulty); err != nil {
			return nil, err
		}
		var options []string
		if err := json.Unmarshal([]byte(optJSON), &options); err != nil {
			return nil, fmt.Errorf("question %s: bad options: %w", q.ID, err)
		}
		if correct < 0 || correct >= len(options) {
			return nil, fmt.Errorf("question %s: correct option %d out of range", q.ID, correct)
		}
		q.Choices = make([]Choice, len(options))
		for i, o := range options {
			q.Choices[i] = Choice{ID: strconv.Itoa(i), LabelHTML: o}
		}
		q.AnswerKey = strconv.Itoa(correct)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) < n {
		return nil, fmt.Errorf("question bank for %s %s holds %d questions, need %d", t, scopeID, len(out), n)
	}
	return out, nil
}

// expireOne converts one stale active session to Expired and writes its
// ledger entry, all in one transaction. The lazy read path and the reaper
// both funnel through here so the expiry predicate cannot diverge.
func (s *SQLStore) expireOne(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE assessment_sessions
		SET status='expired', finished_at=expires_at
		WHERE id=$1 AND status='active' AND expires_at<=$2`,
		id, s.now().Unix())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Lost the race to a submit/abandon or another sweeper; nothing to do.
		return nil
	}

	var userID, scopeID, scopeType string
	var expiresAt int64
	if err := tx.QueryRowContext(ctx, `SELECT user_id,scope_id,scope_type,expires_at
		FROM assessment_sessions WHERE id=$1`, id).Scan(&userID, &scopeID, &scopeType, &expiresAt); err != nil {
		return err
	}
	rec := AttemptRecord{
		ID:          uuid.NewString(),
		SessionID:   id,
		UserID:      userID,
		ScopeID:     scopeID,
		ScopeType:   ScopeType(scopeType),
		AttemptedAt: time.Unix(expiresAt, 0),
		Abandoned:   true,
	}
	if err := insertAttempt(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// classifyBlocked explains why a CAS transition matched no row.
func (s *SQLStore) classifyBlocked(ctx context.Context, id string) error {
	sess, err := s.getRaw(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case sess.Status == StatusActive && !s.now().Before(sess.ExpiresAt):
		if err := s.expireOne(ctx, id); err != nil {
			return err
		}
		return ErrSessionExpired
	case sess.Status == StatusExpired:
		return ErrSessionExpired
	default:
		return ErrSessionNotActive
	}
}

func (s *SQLStore) getRaw(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM assessment_sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (Session, error) {
	var (
		sess       Session
		scopeType  string
		status     string
		qjson      string
		ajson      string
		startedAt  int64
		expiresAt  int64
		finishedAt sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.ScopeID, &scopeType, &status,
		&qjson, &ajson, &startedAt, &expiresAt, &finishedAt); err != nil {
		return Session{}, err
	}
	sess.ScopeType = ScopeType(scopeType)
	sess.Status = Status(status)
	sess.StartedAt = time.Unix(startedAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		sess.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(qjson), &sess.Questions); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(ajson), &sess.Answers); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func scanAttempt(row rowScanner) (AttemptRecord, error) {
	var (
		rec         AttemptRecord
		scopeType   string
		attemptedAt int64
		passed      int
		abandoned   int
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.UserID, &rec.ScopeID, &scopeType,
		&attemptedAt, &rec.Score, &passed, &abandoned); err != nil {
		return AttemptRecord{}, err
	}
	rec.ScopeType = ScopeType(scopeType)
	rec.AttemptedAt = time.Unix(attemptedAt, 0)
	rec.Passed = passed != 0
	rec.Abandoned = abandoned != 0
	return rec, nil
}

func insertAttempt(ctx context.Context, tx *sql.Tx, rec AttemptRecord) error {
	passed, abandoned := 0, 0
	if rec.Passed {
		passed = 1
	}
	if rec.Abandoned {
		abandoned = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO attempt_records
		(id,session_id,user_id,scope_id,scope_type,attempted_at,score,passed,abandoned)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.SessionID, rec.UserID, rec.ScopeID, string(rec.ScopeType),
		rec.AttemptedAt.Unix(), rec.Score, passed, abandoned)
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}
