package journey

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
)

// Service implements journey registry and enrollment manager business logic.
// Safe for concurrent use.
type Service struct {
	repo Repository
	log  *logger.Logger
	now  func() time.Time
}

// NewService creates a journey service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		log:  logger.New("journey"),
		now:  time.Now,
	}
}

// WithClock overrides the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and stores a new journey in draft status.
func (s *Service) Create(ctx context.Context, j *domain.Journey) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("validate journey: %w", err)
	}
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = domain.JourneyDraft
	return s.repo.CreateJourney(ctx, j)
}

// Get returns a journey by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Journey, error) {
	return s.repo.GetJourney(ctx, id)
}

// List returns all journeys.
func (s *Service) List(ctx context.Context) ([]domain.Journey, error) {
	return s.repo.ListJourneys(ctx)
}

// Update validates and persists edits to a journey's name, criteria, and
// steps. Steps that live enrollments have already executed are immutable:
// editing them would retroactively replay history, so the update is
// rejected with ErrStepsLocked.
func (s *Service) Update(ctx context.Context, j *domain.Journey) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("validate journey: %w", err)
	}
	current, err := s.repo.GetJourney(ctx, j.ID)
	if err != nil {
		return err
	}
	if current.Status == domain.JourneyArchived {
		return fmt.Errorf("%w: journey is archived", ErrInvalidTransition)
	}

	locked, err := s.repo.MaxActiveEnrollmentStep(ctx, j.ID)
	if err != nil {
		return err
	}
	for i := 0; i < locked && i < len(current.Steps); i++ {
		if i >= len(j.Steps) || !reflect.DeepEqual(j.Steps[i], current.Steps[i]) {
			return fmt.Errorf("%w: step %d", ErrStepsLocked, i+1)
		}
	}

	return s.repo.UpdateJourney(ctx, j)
}

// Activate moves a draft or paused journey to active.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.JourneyActive)
}

// Pause suspends an active journey. Enrollments keep their due times but
// the scheduler stops claiming them until the journey resumes.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.JourneyPaused)
}

// Resume reactivates a paused journey.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.JourneyActive)
}

// Archive terminally retires a journey and exits all of its active
// enrollments. In-flight sends are not rolled back.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	if err := s.transition(ctx, id, domain.JourneyArchived); err != nil {
		return err
	}
	exited, err := s.repo.ExitJourneyEnrollments(ctx, id, domain.ExitReasonArchived)
	if err != nil {
		return fmt.Errorf("exit enrollments for archived journey: %w", err)
	}
	if exited > 0 {
		s.log.Info("archived journey enrollments exited", "journey_id", id, "count", exited)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.JourneyStatus) error {
	j, err := s.repo.GetJourney(ctx, id)
	if err != nil {
		return err
	}
	if !j.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	return s.repo.SetJourneyStatus(ctx, id, to)
}

// ListEnrollments returns a journey's enrollments, optionally filtered by
// status.
func (s *Service) ListEnrollments(ctx context.Context, journeyID uuid.UUID, status domain.EnrollmentStatus) ([]domain.Enrollment, error) {
	if _, err := s.repo.GetJourney(ctx, journeyID); err != nil {
		return nil, err
	}
	return s.repo.ListEnrollmentsByJourney(ctx, journeyID, status)
}
