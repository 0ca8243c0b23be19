package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/journey"
)

const journeyColumns = `id, name, status, trigger_type, trigger_criteria, allow_reentry, steps, created_at, updated_at`

func scanJourney(row interface{ Scan(...interface{}) error }) (*domain.Journey, error) {
	var j domain.Journey
	var criteria, steps []byte
	err := row.Scan(&j.ID, &j.Name, &j.Status, &j.Trigger, &criteria, &j.AllowReentry, &steps, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &j.TriggerCriteria); err != nil {
			return nil, fmt.Errorf("decode trigger criteria: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &j.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	return &j, nil
}

// CreateJourney inserts a new journey definition.
func (s *Store) CreateJourney(ctx context.Context, j *domain.Journey) error {
	criteria, err := json.Marshal(j.TriggerCriteria)
	if err != nil {
		return fmt.Errorf("encode trigger criteria: %w", err)
	}
	steps, err := j.StepsJSON()
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journeys (id, name, status, trigger_type, trigger_criteria, allow_reentry, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, j.ID, j.Name, j.Status, j.Trigger, criteria, j.AllowReentry, steps)
	if err != nil {
		return fmt.Errorf("create journey: %w", err)
	}
	return nil
}

// GetJourney returns a journey by ID, or journey.ErrJourneyNotFound.
func (s *Store) GetJourney(ctx context.Context, id uuid.UUID) (*domain.Journey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+journeyColumns+` FROM journeys WHERE id = $1`, id)
	j, err := scanJourney(row)
	if err == sql.ErrNoRows {
		return nil, journey.ErrJourneyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get journey: %w", err)
	}
	return j, nil
}

// GetJourneyDefinition is GetJourney under the scheduler's contract name.
func (s *Store) GetJourneyDefinition(ctx context.Context, id uuid.UUID) (*domain.Journey, error) {
	return s.GetJourney(ctx, id)
}

// ListJourneys returns all journeys, newest first.
func (s *Store) ListJourneys(ctx context.Context) ([]domain.Journey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+journeyColumns+` FROM journeys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list journeys: %w", err)
	}
	defer rows.Close()
	return collectJourneys(rows)
}

// ListActiveJourneysByTrigger returns active journeys with the given entry
// trigger.
func (s *Store) ListActiveJourneysByTrigger(ctx context.Context, t domain.TriggerType) ([]domain.Journey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+journeyColumns+`
		FROM journeys
		WHERE status = 'active' AND trigger_type = $1
		ORDER BY created_at
	`, t)
	if err != nil {
		return nil, fmt.Errorf("list journeys by trigger: %w", err)
	}
	defer rows.Close()
	return collectJourneys(rows)
}

func collectJourneys(rows *sql.Rows) ([]domain.Journey, error) {
	var out []domain.Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journey: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// UpdateJourney persists name, criteria, re-entry flag, and steps.
func (s *Store) UpdateJourney(ctx context.Context, j *domain.Journey) error {
	criteria, err := json.Marshal(j.TriggerCriteria)
	if err != nil {
		return fmt.Errorf("encode trigger criteria: %w", err)
	}
	steps, err := j.StepsJSON()
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE journeys
		SET name = $2, trigger_criteria = $3, allow_reentry = $4, steps = $5, updated_at = NOW()
		WHERE id = $1
	`, j.ID, j.Name, criteria, j.AllowReentry, steps)
	if err != nil {
		return fmt.Errorf("update journey: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return journey.ErrJourneyNotFound
	}
	return nil
}

// SetJourneyStatus updates only the status column.
func (s *Store) SetJourneyStatus(ctx context.Context, id uuid.UUID, status domain.JourneyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE journeys SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set journey status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return journey.ErrJourneyNotFound
	}
	return nil
}
