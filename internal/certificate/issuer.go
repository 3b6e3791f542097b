package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathlight-learn/pathlight-lms/internal/assessment"
)

// Kind distinguishes the certificates a course can define.
type Kind string

const (
	KindCompletion Kind = "completion"
	KindCompliance Kind = "compliance"
)

// ErrRender wraps renderer failures; callers treat them as retryable and
// non-fatal to the exam result.
var ErrRender = errors.New("certificate render failed")

// RenderData is the structured payload handed to the external renderer.
type RenderData struct {
	LearnerName      string
	CourseTitle      string
	Kind             Kind
	Number           string
	VerificationCode string
	Score            int
	CompletedAt      time.Time
}

// Renderer produces a certificate image and returns its URL. Any external
// renderer (or the local SVG one) satisfies this.
type Renderer interface {
	Render(ctx context.Context, data RenderData) (imageURL string, err error)
}

type Certificate struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	Kind             Kind      `json:"kind"`
	Number           string    `json:"number"`
	VerificationCode string    `json:"verification_code"`
	Score            int       `json:"score"`
	IssuedAt         time.Time `json:"issued_at"`
	ImageURL         string    `json:"image_url"`
}

// Issuer mints certificates at most once per (user, course, kind). The
// claim is a compare-and-set on course_progress.certificate_issued; the
// unique constraint on certificates backstops it. A failed render releases
// the claim so a later submission (or retry) can pick it up again.
type Issuer struct {
	db       *sql.DB
	renderer Renderer
	now      func() time.Time
}

func NewIssuer(db *sql.DB, renderer Renderer, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{db: db, renderer: renderer, now: now}
}

// Issue implements assessment.CertificateIssuer. Calling it again for an
// already-issued user+course returns the existing records and mints
// nothing.
func (i *Issuer) Issue(ctx context.Context, userID, courseID string, score int, completedAt time.Time) ([]assessment.IssuedCertificate, error) {
	res, err := i.db.ExecContext(ctx, `UPDATE course_progress SET certificate_issued=1
		WHERE user_id=$1 AND course_id=$2 AND certificate_issued=0 AND course_completed=1`,
		userID, courseID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Already issued (or never eligible): report what exists.
		existing, err := i.existing(ctx, userID, courseID)
		if err != nil {
			return nil, err
		}
		if len(existing) == 0 {
			return nil, fmt.Errorf("no issuance claim for %s/%s", userID, courseID)
		}
		return existing, nil
	}

	learner, course, kinds, err := i.loadContext(ctx, userID, courseID)
	if err != nil {
		i.release(ctx, userID, courseID)
		return nil, err
	}

	var out []assessment.IssuedCertificate
	for _, kind := range kinds {
		cert, err := i.issueKind(ctx, userID, courseID, kind, learner, course, score, completedAt)
		if err != nil {
			// Keep whatever was minted before the failure; release the claim
			// so the remainder can be retried without duplicating numbers.
			i.release(ctx, userID, courseID)
			return nil, err
		}
		out = append(out, cert)
	}
	return out, nil
}

func (i *Issuer) issueKind(ctx context.Context, userID, courseID string, kind Kind, learner, course string, score int, completedAt time.Time) (assessment.IssuedCertificate, error) {
	// Retry path: reuse a certificate minted before an earlier partial failure.
	if cert, ok, err := i.find(ctx, userID, courseID, kind); err != nil {
		return assessment.IssuedCertificate{}, err
	} else if ok {
		return cert, nil
	}

	number := newNumber(i.now())
	code := uuid.NewString()
	imageURL, err := i.renderer.Render(ctx, RenderData{
		LearnerName:      learner,
		CourseTitle:      course,
		Kind:             kind,
		Number:           number,
		VerificationCode: code,
		Score:            score,
		CompletedAt:      completedAt,
	})
	if err != nil {
		return assessment.IssuedCertificate{}, fmt.Errorf("%w: %v", ErrRender, err)
	}

	_, err = i.db.ExecContext(ctx, `INSERT INTO certificates
		(id,user_id,course_id,kind,certificate_number,verification_code,score,issued_at,image_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		uuid.NewString(), userID, courseID, string(kind), number, code, score, i.now().Unix(), imageURL)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent issuer beat us to this kind; use its record.
			if cert, ok, ferr := i.find(ctx, userID, courseID, kind); ferr == nil && ok {
				return cert, nil
			}
		}
		return assessment.IssuedCertificate{}, err
	}
	return assessment.IssuedCertificate{
		Kind:             string(kind),
		Number:           number,
		VerificationCode: code,
		ImageURL:         imageURL,
	}, nil
}

func (i *Issuer) loadContext(ctx context.Context, userID, courseID string) (learner, course string, kinds []Kind, err error) {
	if err = i.db.QueryRowContext(ctx,
		`SELECT COALESCE(NULLIF(display_name,''),username) FROM users WHERE id=$1`, userID).
		Scan(&learner); err != nil {
		return "", "", nil, fmt.Errorf("load learner %s: %w", userID, err)
	}
	var compliance int
	if err = i.db.QueryRowContext(ctx,
		`SELECT title,compliance_certificate FROM courses WHERE id=$1`, courseID).
		Scan(&course, &compliance); err != nil {
		return "", "", nil, fmt.Errorf("load course %s: %w", courseID, err)
	}
	kinds = []Kind{KindCompletion}
	if compliance != 0 {
		kinds = append(kinds, KindCompliance)
	}
	return learner, course, kinds, nil
}

func (i *Issuer) find(ctx context.Context, userID, courseID string, kind Kind) (assessment.IssuedCertificate, bool, error) {
	var cert assessment.IssuedCertificate
	err := i.db.QueryRowContext(ctx, `SELECT kind,certificate_number,verification_code,image_url
		FROM certificates WHERE user_id=$1 AND course_id=$2 AND kind=$3`,
		userID, courseID, string(kind)).
		Scan(&cert.Kind, &cert.Number, &cert.VerificationCode, &cert.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.IssuedCertificate{}, false, nil
	}
	if err != nil {
		return assessment.IssuedCertificate{}, false, err
	}
	return cert, true, nil
}

func (i *Issuer) existing(ctx context.Context, userID, courseID string) ([]assessment.IssuedCertificate, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT kind,certificate_number,verification_code,image_url
		FROM certificates WHERE user_id=$1 AND course_id=$2 ORDER BY kind`, userID, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []assessment.IssuedCertificate
	for rows.Next() {
		var cert assessment.IssuedCertificate
		if err := rows.Scan(&cert.Kind, &cert.Number, &cert.VerificationCode, &cert.ImageURL); err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

func (i *Issuer) release(ctx context.Context, userID, courseID string) {
	// Best effort; a stuck claim only delays issuance until the next pass.
	_, _ = i.db.ExecContext(ctx, `UPDATE course_progress SET certificate_issued=0
		WHERE user_id=$1 AND course_id=$2`, userID, courseID)
}

// Verify resolves a public verification code to its certificate.
func Verify(ctx context.Context, db *sql.DB, code string) (Certificate, error) {
	var c Certificate
	var kind string
	var issuedAt int64
	err := db.QueryRowContext(ctx, `SELECT id,user_id,course_id,kind,certificate_number,verification_code,score,issued_at,image_url
		FROM certificates WHERE verification_code=$1`, code).
		Scan(&c.ID, &c.UserID, &c.CourseID, &kind, &c.Number, &c.VerificationCode, &c.Score, &issuedAt, &c.ImageURL)
	if err != nil {
		return Certificate{}, err
	}
	c.Kind = Kind(kind)
	c.IssuedAt = time.Unix(issuedAt, 0)
	return c, nil
}

func newNumber(now time.Time) string {
	return fmt.Sprintf("PL-%d-%s", now.Year(), strings.ToUpper(uuid.NewString()[:8]))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
