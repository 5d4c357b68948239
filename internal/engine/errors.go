package engine

import (
	"errors"
	"fmt"
	"strings"

	"parcelflow/internal/repo"
)

// ErrNoInspectionScheduled is returned when an inspection is completed on a
// case that never had one scheduled.
var ErrNoInspectionScheduled = errors.New("no inspection scheduled for case")

// InvalidStateError reports an action fired from a status its transition does
// not list.
type InvalidStateError struct {
	Action   string
	Required []string
	Actual   string
}

func (e *InvalidStateError) Error() string {
	if len(e.Required) == 0 {
		return fmt.Sprintf("cannot %s: action not available for this case type (status %s)", e.Action, e.Actual)
	}
	return fmt.Sprintf("cannot %s: status is %s, requires one of [%s]", e.Action, e.Actual, strings.Join(e.Required, ", "))
}

// IncompleteChecklistError names checklist items that are false or missing.
type IncompleteChecklistError struct {
	Missing []string
}

func (e *IncompleteChecklistError) Error() string {
	return "checklist incomplete: " + strings.Join(e.Missing, ", ")
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// outcome is the metrics label for err.
func outcome(err error) string {
	var stateErr *InvalidStateError
	var checklistErr *IncompleteChecklistError
	var validationErr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, repo.ErrConflict):
		return "conflict"
	case errors.As(err, &stateErr):
		return "invalid_state"
	case errors.As(err, &checklistErr):
		return "incomplete_checklist"
	case errors.Is(err, ErrNoInspectionScheduled):
		return "no_inspection"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	case errors.As(err, &validationErr):
		return "validation"
	default:
		return "error"
	}
}
