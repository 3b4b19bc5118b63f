package workflow

import (
	"strconv"
	"strings"
	"time"

	"github.com/simaogato/opsdesk-backend/internal/domain"
	"github.com/simaogato/opsdesk-backend/internal/usecase/mutability"
	"github.com/simaogato/opsdesk-backend/internal/usecase/policy"
	"github.com/simaogato/opsdesk-backend/internal/usecase/transition"
)

// Engine is the workflow orchestrator. It performs no I/O and holds no
// mutable state, so one Engine serves concurrent requests.
type Engine struct {
	// Now supplies the date used for auto-populated date fields
	Now func() time.Time
}

// NewEngine creates an Engine using the wall clock
func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

// SubmitStage validates a stage submission and computes the resulting delta.
// existing is nil when the submission creates the record.
//
// Logic:
//  1. Reject stages that are not part of the type's sequence, and anything
//     but Stage 1 on a record that does not exist yet
//  2. Check the caller may write the stage (and override status, if asked)
//  3. Run the mutability guard on every submitted field, in registry order
//  4. Merge onto a copy of the snapshot and check the stage's required fields
//  5. Apply defaults for omitted fields
//  6. Compute the next status, or take a privileged override verbatim
//  7. Return the delta; existing is never modified
func (e *Engine) SubmitStage(
	existing *domain.Instrument,
	instrumentType domain.InstrumentType,
	stage domain.Stage,
	caller domain.Caller,
	fields domain.Fields,
) (*domain.RecordDelta, error) {
	// 1. Stage validity
	if !instrumentType.Valid() {
		return nil, &domain.ValidationError{Stage: stage, Field: domain.FieldType, Reason: "must be DD or BG"}
	}
	if existing != nil && existing.Type != instrumentType {
		return nil, &domain.InvariantViolationError{Field: domain.FieldType, Reason: "instrument type is fixed once created"}
	}
	if !domain.HasStage(instrumentType, stage) {
		return nil, &domain.InvalidStageError{Type: instrumentType, Stage: stage, Reason: "stage is not part of the sequence"}
	}
	if existing == nil && stage != domain.StageAssignment {
		return nil, &domain.InvalidStageError{Type: instrumentType, Stage: stage, Reason: "record has not been assigned yet"}
	}

	// 2. Authorization
	if err := policy.CheckStage(caller, stage, existing); err != nil {
		return nil, err
	}
	privileged := policy.IsAuthorized(caller.Role)

	submitted := fields.Clone()
	if err := checkMembership(instrumentType, stage, existing, submitted); err != nil {
		return nil, err
	}
	if _, ok := submitted[domain.FieldStatus]; ok && !privileged {
		return nil, &domain.AuthorizationError{Role: caller.Role, Stage: stage, Action: "override status in"}
	}
	if claim, ok := submitted[domain.FieldClaimFromBank]; ok {
		// the monotone rule is reported ahead of the role check
		if err := mutability.AssertWritable(existing, domain.FieldClaimFromBank, claim, privileged); err != nil {
			return nil, err
		}
		claimed, _ := strconv.ParseBool(strings.TrimSpace(claim))
		if !privileged && claimed != existing.ClaimFromBank {
			return nil, &domain.AuthorizationError{Role: caller.Role, Action: "claim from bank"}
		}
	}

	// 3. Mutability, all fields before any is applied
	for _, name := range submitted.Names() {
		if err := mutability.AssertWritable(existing, name, submitted[name], privileged); err != nil {
			return nil, err
		}
	}

	// 4. Merge and validate
	merged, baseVersion, err := merge(existing, instrumentType, submitted)
	if err != nil {
		return nil, err
	}
	if missing := merged.MissingRequired(stage); len(missing) > 0 {
		return nil, &domain.ValidationError{Stage: stage, Missing: missing}
	}

	// 5. Defaults
	e.applyDefaults(merged, stage, caller, submitted)

	// 6. Status
	previous := domain.Status("")
	if existing != nil {
		previous = existing.Status
	}
	next, err := transition.NextStatus(instrumentType, stage, previous)
	if err != nil {
		return nil, err
	}
	if override, ok := submitted[domain.FieldStatus]; ok {
		// merge already validated the enumerated value
		next = domain.Status(strings.TrimSpace(override))
	}
	merged.Status = next

	// 7. Delta
	delta := &domain.RecordDelta{
		Type:          instrumentType,
		Stage:         stage,
		BaseVersion:   baseVersion,
		Changes:       submitted,
		Status:        next,
		StatusChanged: next != previous,
		Record:        *merged,
	}
	if existing != nil {
		delta.InstrumentID = existing.ID
	}
	return delta, nil
}

// SetClaimFromBank toggles the monotone claim flag on existing. Setting it
// true again is accepted and changes nothing; setting it false after it was
// claimed fails with *domain.InvariantViolationError for every role.
func (e *Engine) SetClaimFromBank(existing *domain.Instrument, caller domain.Caller, claimed bool) (*domain.RecordDelta, error) {
	if existing == nil {
		return nil, &domain.InvalidStageError{Reason: "record has not been assigned yet"}
	}
	value := strconv.FormatBool(claimed)
	if err := mutability.AssertWritable(existing, domain.FieldClaimFromBank, value, true); err != nil {
		return nil, err
	}
	if err := policy.CheckPrivileged(caller, "claim from bank"); err != nil {
		return nil, err
	}

	merged := *existing
	merged.ClaimFromBank = claimed

	return &domain.RecordDelta{
		InstrumentID: existing.ID,
		Type:         existing.Type,
		BaseVersion:  existing.Version,
		Changes:      domain.Fields{domain.FieldClaimFromBank: value},
		Status:       existing.Status,
		Record:       merged,
	}, nil
}

// OverrideStatus is the administrative direct status edit. It bypasses the
// monotone-advance rule but never assigns a status unreachable for the type.
func (e *Engine) OverrideStatus(existing *domain.Instrument, caller domain.Caller, status domain.Status) (*domain.RecordDelta, error) {
	if existing == nil {
		return nil, &domain.InvalidStageError{Reason: "record has not been assigned yet"}
	}
	if err := policy.CheckPrivileged(caller, "override status"); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, &domain.ValidationError{Field: domain.FieldStatus, Reason: "status must be one of Assigned, Filled, Issued, SentToClient"}
	}
	if !transition.Reachable(existing.Type, status) {
		return nil, &domain.InvariantViolationError{Field: domain.FieldStatus, Reason: string(status) + " is unreachable for " + string(existing.Type)}
	}

	merged := *existing
	merged.Status = status

	return &domain.RecordDelta{
		InstrumentID:  existing.ID,
		Type:          existing.Type,
		BaseVersion:   existing.Version,
		Changes:       domain.Fields{domain.FieldStatus: string(status)},
		Status:        status,
		StatusChanged: status != existing.Status,
		Record:        merged,
	}, nil
}

// checkMembership rejects fields that do not belong to stage for the type.
// The claim flag rides along with any stage once the record exists.
func checkMembership(t domain.InstrumentType, stage domain.Stage, existing *domain.Instrument, fields domain.Fields) error {
	for _, name := range fields.Names() {
		spec, ok := domain.LookupField(name)
		if !ok {
			return &domain.ValidationError{Stage: stage, Field: name, Reason: "unknown field"}
		}
		if !spec.AppliesTo(t) {
			return &domain.ValidationError{Stage: stage, Field: name, Reason: "does not apply to " + string(t)}
		}
		if spec.Kind == domain.KindFlag {
			if existing == nil {
				return &domain.ValidationError{Stage: stage, Field: name, Reason: "can only be set after the record is created"}
			}
			continue
		}
		if spec.Stage != stage {
			return &domain.ValidationError{Stage: stage, Field: name, Reason: "belongs to another stage"}
		}
	}
	return nil
}

func merge(existing *domain.Instrument, t domain.InstrumentType, fields domain.Fields) (*domain.Instrument, int, error) {
	if existing == nil {
		inst, err := domain.NewInstrument(t, fields)
		if err != nil {
			return nil, 0, err
		}
		return inst, 0, nil
	}

	merged := *existing
	for _, name := range fields.Names() {
		spec, _ := domain.LookupField(name)
		if err := spec.Set(&merged, fields[name]); err != nil {
			return nil, 0, err
		}
	}
	return &merged, existing.Version, nil
}

// applyDefaults fills omitted actor and date fields and records them in submitted
func (e *Engine) applyDefaults(inst *domain.Instrument, stage domain.Stage, caller domain.Caller, submitted domain.Fields) {
	setDefault := func(name domain.Field, value string) {
		if value == "" || inst.Value(name) != "" {
			return
		}
		spec, _ := domain.LookupField(name)
		if spec.Set(inst, value) == nil {
			submitted[name] = value
		}
	}

	switch stage {
	case domain.StageAssignment:
		setDefault(domain.FieldAssignedBy, caller.Name)
	case domain.StageProcessing:
		setDefault(domain.FieldFilledBy, caller.Name)
		setDefault(domain.FieldFilledDate, e.today())
	case domain.StageIssuance:
		setDefault(domain.FieldIssuedBy, inst.Processing.BankName)
	}
}

func (e *Engine) today() string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().Format(domain.DateLayout)
}
