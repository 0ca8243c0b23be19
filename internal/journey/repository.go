package journey

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
)

// Repository defines the data access contract for journeys, enrollments,
// and the contact lookups the enrollment manager needs.
type Repository interface {
	// CreateJourney inserts a new journey definition.
	CreateJourney(ctx context.Context, j *domain.Journey) error

	// GetJourney returns a journey by ID, or ErrJourneyNotFound.
	GetJourney(ctx context.Context, id uuid.UUID) (*domain.Journey, error)

	// ListJourneys returns all journeys, newest first.
	ListJourneys(ctx context.Context) ([]domain.Journey, error)

	// UpdateJourney persists name, criteria, and steps for a journey.
	UpdateJourney(ctx context.Context, j *domain.Journey) error

	// SetJourneyStatus updates only the status column.
	SetJourneyStatus(ctx context.Context, id uuid.UUID, status domain.JourneyStatus) error

	// ListActiveJourneysByTrigger returns active journeys with the given
	// entry trigger.
	ListActiveJourneysByTrigger(ctx context.Context, t domain.TriggerType) ([]domain.Journey, error)

	// GetContact returns a contact by ID, or ErrContactNotFound.
	GetContact(ctx context.Context, id uuid.UUID) (*domain.Contact, error)

	// CreateEnrollment inserts an enrollment. If the contact already has an
	// active enrollment in the journey it returns ErrDuplicateActive.
	CreateEnrollment(ctx context.Context, e *domain.Enrollment) error

	// ActiveEnrollmentExists reports whether an active (journey, contact)
	// enrollment exists.
	ActiveEnrollmentExists(ctx context.Context, journeyID, contactID uuid.UUID) (bool, error)

	// EnrollmentExists reports whether any enrollment (any status) exists
	// for the pair. Used for the re-entry check.
	EnrollmentExists(ctx context.Context, journeyID, contactID uuid.UUID) (bool, error)

	// ListEnrollmentsByJourney returns a journey's enrollments, optionally
	// filtered by status (empty means all).
	ListEnrollmentsByJourney(ctx context.Context, journeyID uuid.UUID, status domain.EnrollmentStatus) ([]domain.Enrollment, error)

	// ExitJourneyEnrollments exits every active enrollment of a journey,
	// recording the reason. Returns the number exited.
	ExitJourneyEnrollments(ctx context.Context, journeyID uuid.UUID, reason string) (int, error)

	// ExitContactEnrollments exits every active enrollment of a contact
	// across all journeys, recording the reason. Returns the number exited.
	ExitContactEnrollments(ctx context.Context, contactID uuid.UUID, reason string) (int, error)

	// MaxActiveEnrollmentStep returns the highest CurrentStep among a
	// journey's active enrollments (0 when none). Steps at or below this
	// position are locked against edits.
	MaxActiveEnrollmentStep(ctx context.Context, journeyID uuid.UUID) (int, error)
}
