package bom

import (
	"errors"
	"fmt"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
)

var (
	// ErrNotFound is returned when the BOM (or a team it points at) does not exist.
	ErrNotFound = repository.ErrNotFound
	// ErrForbidden is returned when the actor lacks the role or ownership for an operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoTeamAssigned is returned when a student without a team submits a BOM.
	ErrNoTeamAssigned = errors.New("no team assigned")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// TransitionError reports a rejected state change with the current and requested states.
type TransitionError struct {
	From domain.BOMStatus
	To   domain.BOMStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move bom from %s to %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) succeed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError reports a malformed material list.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
