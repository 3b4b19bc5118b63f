package mutability

import (
	"strconv"
	"strings"

	"github.com/simaogato/opsdesk-backend/internal/domain"
)

// AssertWritable decides whether field may still be written with value on
// existing. existing is nil for a record that is being created.
//
// Rules:
//   - claim_from_bank is monotone for every role: writing false over true fails
//     with *domain.InvariantViolationError
//   - upload, tracking and status fields stay re-writable
//   - any other populated field is first-write-wins unless privileged
//   - rewriting a field with the value it already holds is always allowed
func AssertWritable(existing *domain.Instrument, field domain.Field, value string, privileged bool) error {
	spec, ok := domain.LookupField(field)
	if !ok {
		return &domain.ValidationError{Field: field, Reason: "unknown field"}
	}

	if existing == nil {
		return nil
	}

	current := spec.Get(existing)

	if spec.Kind == domain.KindFlag {
		return assertMonotone(field, current, value)
	}

	if current == "" || spec.Kind.Exempt() || privileged {
		return nil
	}

	if sameValue(existing, spec, value) {
		return nil
	}

	return &domain.ImmutableFieldError{Field: field}
}

// CanOverwrite reports whether a populated field would accept a different
// value from a caller with the given privilege
func CanOverwrite(existing *domain.Instrument, field domain.Field, privileged bool) bool {
	spec, ok := domain.LookupField(field)
	if !ok {
		return false
	}
	if existing == nil || spec.Get(existing) == "" {
		return true
	}
	switch spec.Kind {
	case domain.KindFlag:
		return false
	case domain.KindUpload, domain.KindTracking, domain.KindStatus:
		return true
	default:
		return privileged
	}
}

func assertMonotone(field domain.Field, current, value string) error {
	next, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return &domain.ValidationError{Field: field, Reason: "must be true or false"}
	}
	if current != "" && !next {
		return &domain.InvariantViolationError{Field: field, Reason: "cannot be unset once claimed from bank"}
	}
	return nil
}

// sameValue compares in canonical form so "50000" and "50000.00" match
func sameValue(existing *domain.Instrument, spec domain.FieldSpec, value string) bool {
	probe := *existing
	if err := spec.Set(&probe, value); err != nil {
		return false
	}
	return spec.Get(&probe) == spec.Get(existing)
}
