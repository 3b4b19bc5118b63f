package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Persistence errors returned by InstrumentRepository implementations
var (
	ErrNotFound        = errors.New("instrument not found")
	ErrVersionConflict = errors.New("instrument was modified concurrently")
)

// ValidationError reports a missing required field or a malformed value.
// The caller must supply the data and resubmit.
type ValidationError struct {
	Stage   Stage
	Missing []Field
	Field   Field
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for n, f := range e.Missing {
			names[n] = string(f)
		}
		return fmt.Sprintf("validation failed for stage %d: missing required fields: %s", e.Stage, strings.Join(names, ", "))
	}
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports a caller role that may not perform the action
type AuthorizationError struct {
	Role   string
	Stage  Stage
	Action string
}

func (e *AuthorizationError) Error() string {
	role := e.Role
	if role == "" {
		role = "anonymous"
	}
	if e.Stage != 0 {
		return fmt.Sprintf("role %s is not authorized to %s stage %d", role, e.Action, e.Stage)
	}
	return fmt.Sprintf("role %s is not authorized to %s", role, e.Action)
}

// ImmutableFieldError reports an attempt to overwrite a first-write-wins field
type ImmutableFieldError struct {
	Field Field
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s is already set and cannot be changed", e.Field)
}

// InvariantViolationError reports a write that breaks a record invariant.
// These are rejected for every role.
type InvariantViolationError struct {
	Field  Field
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated on %s: %s", e.Field, e.Reason)
}

// InvalidStageError reports a stage that does not exist for the type or
// cannot run against the record in its current form
type InvalidStageError struct {
	Type   InstrumentType
	Stage  Stage
	Reason string
}

func (e *InvalidStageError) Error() string {
	return fmt.Sprintf("invalid stage %d for %s: %s", e.Stage, e.Type, e.Reason)
}
