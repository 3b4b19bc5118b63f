package formstate

import (
	"github.com/simaogato/opsdesk-backend/internal/domain"
	"github.com/simaogato/opsdesk-backend/internal/usecase/mutability"
	"github.com/simaogato/opsdesk-backend/internal/usecase/policy"
	"github.com/simaogato/opsdesk-backend/internal/usecase/transition"
)

// FieldView describes one input of a stage form
type FieldView struct {
	Field    domain.Field
	Kind     domain.FieldKind
	Value    string
	Required bool
	Editable bool
}

// StageView describes one stage of the workflow as seen by a caller
type StageView struct {
	Stage     domain.Stage
	Name      string
	Reachable bool // the stage may be submitted now
	Writable  bool // the caller passes the authorization policy for it
	Complete  bool // every required field is present
	Fields    []FieldView
}

// View is the full form state of one record for one caller.
// It is advisory: the orchestrator re-checks everything on submit.
type View struct {
	Type          domain.InstrumentType
	Status        domain.Status
	ClaimFromBank bool
	CanClaim      bool
	CanOverride   bool
	PendingStage  domain.Stage // 0 once the pipeline is complete
	Stages        []StageView
}

// Build computes the view for inst (nil for a blank creation form of type t)
func Build(inst *domain.Instrument, t domain.InstrumentType, caller domain.Caller) View {
	if inst != nil {
		t = inst.Type
	}
	privileged := policy.IsAuthenticated(caller) && policy.IsAuthorized(caller.Role)

	view := View{Type: t, CanOverride: privileged && inst != nil}
	current := domain.Status("")
	if inst != nil {
		current = inst.Status
		view.Status = inst.Status
		view.ClaimFromBank = inst.ClaimFromBank
		view.CanClaim = privileged && !inst.ClaimFromBank
	}
	if pending, ok := transition.PendingStage(t, current); ok {
		view.PendingStage = pending
	}

	for _, stage := range domain.Stages(t) {
		view.Stages = append(view.Stages, buildStage(inst, t, stage, caller, privileged))
	}
	return view
}

func buildStage(inst *domain.Instrument, t domain.InstrumentType, stage domain.Stage, caller domain.Caller, privileged bool) StageView {
	sv := StageView{
		Stage:     stage,
		Name:      stage.Name(),
		Reachable: reachable(inst, stage),
		Writable:  policy.CanWriteStage(caller, stage, inst),
	}

	required := make(map[domain.Field]bool)
	for _, name := range domain.RequiredFields(t, stage) {
		required[name] = true
	}

	probe := inst
	if probe == nil {
		probe = &domain.Instrument{Type: t}
	}

	complete := true
	for _, spec := range domain.FieldsForStage(t, stage) {
		value := spec.Get(probe)
		if required[spec.Name] && value == "" {
			complete = false
		}
		editable := sv.Reachable && sv.Writable && mutability.CanOverwrite(inst, spec.Name, privileged)
		if spec.Kind == domain.KindStatus {
			editable = editable && privileged
		}
		sv.Fields = append(sv.Fields, FieldView{
			Field:    spec.Name,
			Kind:     spec.Kind,
			Value:    value,
			Required: required[spec.Name],
			Editable: editable,
		})
	}
	sv.Complete = inst != nil && complete
	return sv
}

// reachable: Stage 1 always; later stages once the record exists and the
// previous stage has been completed
func reachable(inst *domain.Instrument, stage domain.Stage) bool {
	if stage == domain.StageAssignment {
		return true
	}
	if inst == nil {
		return false
	}
	return len(inst.MissingRequired(stage-1)) == 0
}
