package journey

import "errors"

// Sentinel errors for the journey service layer.
var (
	ErrJourneyNotFound   = errors.New("journey not found")
	ErrContactNotFound   = errors.New("contact not found")
	ErrInvalidTransition = errors.New("invalid journey status transition")
	ErrJourneyNotActive  = errors.New("journey is not active")
	ErrStepsLocked       = errors.New("steps already executed by live enrollments cannot be edited")
	ErrDuplicateActive   = errors.New("contact already has an active enrollment in this journey")
)
