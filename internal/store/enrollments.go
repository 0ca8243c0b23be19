package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/journey"
)

const enrollmentColumns = `id, journey_id, contact_id, current_step, status, enrolled_at,
	next_step_due_at, claimed_at, attempts, trigger_depth, exit_reason, completed_at, updated_at`

func scanEnrollment(row interface{ Scan(...interface{}) error }) (*domain.Enrollment, error) {
	var e domain.Enrollment
	var exitReason sql.NullString
	err := row.Scan(&e.ID, &e.JourneyID, &e.ContactID, &e.CurrentStep, &e.Status, &e.EnrolledAt,
		&e.NextStepDueAt, &e.ClaimedAt, &e.Attempts, &e.TriggerDepth, &exitReason, &e.CompletedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.ExitReason = exitReason.String
	return &e, nil
}

// CreateEnrollment inserts an enrollment. A concurrent active enrollment for
// the same (journey, contact) pair trips the partial unique index and comes
// back as journey.ErrDuplicateActive.
func (s *Store) CreateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, journey_id, contact_id, current_step, status, enrolled_at,
			next_step_due_at, attempts, trigger_depth, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, e.ID, e.JourneyID, e.ContactID, e.CurrentStep, e.Status, e.EnrolledAt,
		e.NextStepDueAt, e.Attempts, e.TriggerDepth)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return journey.ErrDuplicateActive
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// ActiveEnrollmentExists reports whether an active (journey, contact)
// enrollment exists.
func (s *Store) ActiveEnrollmentExists(ctx context.Context, journeyID, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments
			WHERE journey_id = $1 AND contact_id = $2 AND status = 'active')
	`, journeyID, contactID).Scan(&exists)
	return exists, err
}

// EnrollmentExists reports whether any enrollment exists for the pair.
func (s *Store) EnrollmentExists(ctx context.Context, journeyID, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments
			WHERE journey_id = $1 AND contact_id = $2)
	`, journeyID, contactID).Scan(&exists)
	return exists, err
}

// ListEnrollmentsByJourney returns a journey's enrollments, optionally
// filtered by status.
func (s *Store) ListEnrollmentsByJourney(ctx context.Context, journeyID uuid.UUID, status domain.EnrollmentStatus) ([]domain.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE journey_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY enrolled_at DESC
	`, journeyID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MaxActiveEnrollmentStep returns the highest CurrentStep among a journey's
// active enrollments, 0 when none.
func (s *Store) MaxActiveEnrollmentStep(ctx context.Context, journeyID uuid.UUID) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(current_step), 0) FROM enrollments
		WHERE journey_id = $1 AND status = 'active'
	`, journeyID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max active step: %w", err)
	}
	return max, nil
}

// ExitJourneyEnrollments exits every active enrollment of a journey.
func (s *Store) ExitJourneyEnrollments(ctx context.Context, journeyID uuid.UUID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = 'exited', exit_reason = $2, next_step_due_at = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE journey_id = $1 AND status = 'active'
	`, journeyID, reason)
	if err != nil {
		return 0, fmt.Errorf("exit journey enrollments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ExitContactEnrollments exits every active enrollment of a contact.
func (s *Store) ExitContactEnrollments(ctx context.Context, contactID uuid.UUID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = 'exited', exit_reason = $2, next_step_due_at = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE contact_id = $1 AND status = 'active'
	`, contactID, reason)
	if err != nil {
		return 0, fmt.Errorf("exit contact enrollments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClaimDueEnrollments atomically claims up to limit due enrollments. The
// subselect checks journey and contact state at claim time, skips rows
// locked by a concurrent tick, and reclaims claims older than the TTL left
// behind by a crashed worker.
func (s *Store) ClaimDueEnrollments(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE enrollments e
		SET claimed_at = $1, updated_at = $1
		FROM (
			SELECT e2.id
			FROM enrollments e2
			JOIN journeys j ON j.id = e2.journey_id
			JOIN contacts c ON c.id = e2.contact_id
			WHERE e2.status = 'active'
			  AND e2.next_step_due_at IS NOT NULL
			  AND e2.next_step_due_at <= $1
			  AND (e2.claimed_at IS NULL OR e2.claimed_at < $2)
			  AND j.status = 'active'
			  AND c.status = 'subscribed'
			ORDER BY e2.next_step_due_at
			LIMIT $3
			FOR UPDATE OF e2 SKIP LOCKED
		) due
		WHERE e.id = due.id
		RETURNING `+qualifiedEnrollmentColumns("e"),
		now, now.Add(-claimTTL), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func qualifiedEnrollmentColumns(alias string) string {
	return alias + `.id, ` + alias + `.journey_id, ` + alias + `.contact_id, ` + alias + `.current_step, ` +
		alias + `.status, ` + alias + `.enrolled_at, ` + alias + `.next_step_due_at, ` + alias + `.claimed_at, ` +
		alias + `.attempts, ` + alias + `.trigger_depth, ` + alias + `.exit_reason, ` + alias + `.completed_at, ` +
		alias + `.updated_at`
}

// SaveEnrollmentProgress persists a processed enrollment's step position,
// status, retry state, and exit bookkeeping, clearing the claim.
func (s *Store) SaveEnrollmentProgress(ctx context.Context, e *domain.Enrollment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments
		SET current_step = $2, status = $3, next_step_due_at = $4, claimed_at = NULL,
		    attempts = $5, exit_reason = NULLIF($6, ''), completed_at = $7, updated_at = $8
		WHERE id = $1
	`, e.ID, e.CurrentStep, e.Status, e.NextStepDueAt, e.Attempts, e.ExitReason, e.CompletedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save enrollment progress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("enrollment %s not found", e.ID)
	}
	return nil
}

// ReleaseClaim clears the claim so a later tick retries the enrollment.
func (s *Store) ReleaseClaim(ctx context.Context, enrollmentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET claimed_at = NULL, updated_at = NOW() WHERE id = $1`, enrollmentID)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
