package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstrumentType discriminates between the two tracked bank instruments
type InstrumentType string

const (
	InstrumentTypeDD InstrumentType = "DD" // Demand Draft
	InstrumentTypeBG InstrumentType = "BG" // Bank Guarantee
)

// Valid reports whether t is one of the known instrument types
func (t InstrumentType) Valid() bool {
	return t == InstrumentTypeDD || t == InstrumentTypeBG
}

// Status is the lifecycle status derived from the last completed stage
type Status string

const (
	StatusAssigned     Status = "Assigned"
	StatusFilled       Status = "Filled"
	StatusIssued       Status = "Issued"
	StatusSentToClient Status = "SentToClient"
)

// statusRank orders statuses along the stage pipeline. Unset ranks 0.
var statusRank = map[Status]int{
	StatusAssigned:     1,
	StatusFilled:       2,
	StatusIssued:       3,
	StatusSentToClient: 4,
}

// Valid reports whether s is one of the persisted status values
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of s in the pipeline (0 when unset)
func (s Status) Rank() int {
	return statusRank[s]
}

// OriginalLocation records who physically holds the original instrument
type OriginalLocation string

const (
	OriginalLocationSelf   OriginalLocation = "Self"
	OriginalLocationClient OriginalLocation = "Client"
)

// Valid reports whether l is a known location
func (l OriginalLocation) Valid() bool {
	return l == OriginalLocationSelf || l == OriginalLocationClient
}

// Stage is one of the sequential data-entry steps of the workflow
type Stage int

const (
	StageAssignment Stage = 1
	StageProcessing Stage = 2
	StageIssuance   Stage = 3
)

// Name returns the human label of the stage
func (s Stage) Name() string {
	switch s {
	case StageAssignment:
		return "Assignment"
	case StageProcessing:
		return "Processing"
	case StageIssuance:
		return "Issuance"
	default:
		return "Unknown"
	}
}

// Stages returns the ordered stage sequence for an instrument type.
// DD runs through three stages, BG collapses into two.
func Stages(t InstrumentType) []Stage {
	if t == InstrumentTypeBG {
		return []Stage{StageAssignment, StageProcessing}
	}
	return []Stage{StageAssignment, StageProcessing, StageIssuance}
}

// HasStage reports whether stage is part of the sequence for t
func HasStage(t InstrumentType, stage Stage) bool {
	for _, s := range Stages(t) {
		if s == stage {
			return true
		}
	}
	return false
}

// Assignment holds the Stage 1 fields
type Assignment struct {
	Amount     decimal.NullDecimal
	AssignDate time.Time
	AssignedBy string

	// DD only
	Location  string
	PartyName string

	// BG only
	BeneficiaryName    string
	BeneficiaryAddress string
	ExpiryDate         time.Time
	ClaimExpiryDate    time.Time
	FormatTemplateRef  string
}

// Processing holds the Stage 2 fields
type Processing struct {
	BankName      string
	AccountNumber string
	Branch        string
	FilledBy      string
	FilledDate    time.Time

	// DD only
	ChequeNo      string
	ChequeCopyRef string
	SignatureRef  string

	// BG only
	FDNumber           string
	BGNumber           string
	OriginalBGRef      string
	SupportingDocsRef  string
	OriginalBGLocation OriginalLocation
}

// Issuance holds the Stage 3 fields. BG records never populate it.
type Issuance struct {
	DDNumber           string
	IssuedBy           string
	DDCopyRef          string
	OriginalDDLocation OriginalLocation
	SentToClientDate   time.Time
}

// Instrument represents one DD or BG in progress.
// ID and Version are owned by the persistence collaborator.
type Instrument struct {
	ID            uuid.UUID
	Type          InstrumentType
	Status        Status
	ClaimFromBank bool // monotone: false -> true only
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Assignment Assignment
	Processing Processing
	Issuance   Issuance
}

// NewInstrument builds a record from its initial Stage 1 fields.
// Fails with *ValidationError when a required Stage 1 field is missing
// or a submitted value cannot be parsed.
func NewInstrument(t InstrumentType, fields Fields) (*Instrument, error) {
	if !t.Valid() {
		return nil, &ValidationError{Stage: StageAssignment, Field: FieldType, Reason: "must be DD or BG"}
	}

	inst := &Instrument{Type: t}
	for _, name := range fields.Names() {
		value := fields[name]
		spec, ok := LookupField(name)
		if !ok || spec.Stage != StageAssignment || !spec.AppliesTo(t) {
			return nil, &ValidationError{Stage: StageAssignment, Field: name, Reason: "not a stage 1 field for " + string(t)}
		}
		if err := spec.Set(inst, value); err != nil {
			return nil, err
		}
	}

	if missing := inst.MissingRequired(StageAssignment); len(missing) > 0 {
		return nil, &ValidationError{Stage: StageAssignment, Missing: missing}
	}

	return inst, nil
}

// MissingRequired lists the required fields of stage that are still empty
func (i *Instrument) MissingRequired(stage Stage) []Field {
	missing := make([]Field, 0)
	for _, name := range RequiredFields(i.Type, stage) {
		spec, _ := LookupField(name)
		if spec.Get(i) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Value returns the string form of a registered field, "" when empty or unknown
func (i *Instrument) Value(name Field) string {
	spec, ok := LookupField(name)
	if !ok {
		return ""
	}
	return spec.Get(i)
}
