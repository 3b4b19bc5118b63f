package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of every date field
const DateLayout = "2006-01-02"

// Field is the persisted wire name of an instrument field
type Field string

const (
	FieldType          Field = "type"
	FieldStatus        Field = "status"
	FieldClaimFromBank Field = "claim_from_bank"

	// Stage 1
	FieldAmount             Field = "amount"
	FieldAssignDate         Field = "assign_date"
	FieldAssignedBy         Field = "assigned_by"
	FieldLocation           Field = "location"
	FieldPartyName          Field = "party_name"
	FieldBeneficiaryName    Field = "beneficiary_name"
	FieldBeneficiaryAddress Field = "beneficiary_address"
	FieldExpiryDate         Field = "expiry_date"
	FieldClaimExpiryDate    Field = "claim_expiry_date"
	FieldFormatTemplate     Field = "format_template"

	// Stage 2
	FieldBankName            Field = "bank_name"
	FieldAccountNumber       Field = "account_number"
	FieldBranch              Field = "branch"
	FieldFilledBy            Field = "filled_by"
	FieldFilledDate          Field = "filled_date"
	FieldChequeNo            Field = "cheque_no"
	FieldChequeCopy          Field = "cheque_copy"
	FieldSignature           Field = "signature"
	FieldFDNumber            Field = "fd_number"
	FieldBGNumber            Field = "bg_number"
	FieldOriginalBG          Field = "original_bg"
	FieldSupportingDocuments Field = "supporting_documents"
	FieldOriginalBGLocation  Field = "original_bg_location"

	// Stage 3 (DD only)
	FieldDDNumber           Field = "dd_number"
	FieldIssuedBy           Field = "issued_by"
	FieldDDCopy             Field = "dd_copy"
	FieldOriginalDDLocation Field = "original_dd_location"
	FieldSentToClientDate   Field = "sent_to_client_date"
)

// FieldKind selects which mutability rule governs a field
type FieldKind int

const (
	// KindScalar fields are first-write-wins for non-privileged callers
	KindScalar FieldKind = iota
	// KindUpload fields hold an opaque upload reference; re-upload replaces it
	KindUpload
	// KindTracking fields record physical whereabouts and stay re-writable
	KindTracking
	// KindStatus is the privileged direct status override
	KindStatus
	// KindFlag is the monotone claim-from-bank flag
	KindFlag
)

// Exempt reports whether fields of this kind bypass first-write-wins
func (k FieldKind) Exempt() bool {
	return k == KindUpload || k == KindTracking || k == KindStatus
}

// Fields is a partial record keyed by wire name. All values are strings
// at the boundary: decimals for amount, DateLayout for dates, boolean
// literals for the claim flag.
type Fields map[Field]string

// Names returns the keys of f in registry order; unknown names sort last
func (f Fields) Names() []Field {
	names := make([]Field, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, oj := fieldOrder(names[i]), fieldOrder(names[j])
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})
	return names
}

// Clone returns a shallow copy of f, never nil
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// FieldSpec describes one registered field
type FieldSpec struct {
	Name  Field
	Stage Stage // 0 for the claim flag, which is accepted in any stage
	Types []InstrumentType
	Kind  FieldKind

	get func(*Instrument) string
	set func(*Instrument, string) error
}

// AppliesTo reports whether the field belongs to instruments of type t
func (s FieldSpec) AppliesTo(t InstrumentType) bool {
	for _, candidate := range s.Types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Get returns the current value in wire form, "" when empty
func (s FieldSpec) Get(inst *Instrument) string {
	return s.get(inst)
}

// Set parses value and stores it on inst.
// Returns *ValidationError when value is malformed.
func (s FieldSpec) Set(inst *Instrument, value string) error {
	if err := s.set(inst, value); err != nil {
		return &ValidationError{Stage: s.Stage, Field: s.Name, Reason: err.Error()}
	}
	return nil
}

// Amounts are stored as NUMERIC(18, 2)
const amountScale = 2

var amountLimit = decimal.New(1, 16)

var (
	bothTypes = []InstrumentType{InstrumentTypeDD, InstrumentTypeBG}
	ddOnly    = []InstrumentType{InstrumentTypeDD}
	bgOnly    = []InstrumentType{InstrumentTypeBG}
)

var registry = []FieldSpec{
	{FieldAmount, StageAssignment, bothTypes, KindScalar,
		func(i *Instrument) string {
			if !i.Assignment.Amount.Valid {
				return ""
			}
			return i.Assignment.Amount.Decimal.String()
		},
		func(i *Instrument, v string) error {
			if strings.TrimSpace(v) == "" {
				i.Assignment.Amount = decimal.NullDecimal{}
				return nil
			}
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return errInvalid("amount must be a decimal number")
			}
			if d.LessThanOrEqual(decimal.Zero) {
				return errInvalid("amount must be positive")
			}
			if !d.Equal(d.Truncate(amountScale)) {
				return errInvalid("amount must have at most 2 decimal places")
			}
			if d.GreaterThanOrEqual(amountLimit) {
				return errInvalid("amount must have at most 16 integer digits")
			}
			i.Assignment.Amount = decimal.NewNullDecimal(d)
			return nil
		}},
	dateField(FieldAssignDate, StageAssignment, bothTypes, func(i *Instrument) *time.Time { return &i.Assignment.AssignDate }),
	stringField(FieldAssignedBy, StageAssignment, bothTypes, KindScalar, func(i *Instrument) *string { return &i.Assignment.AssignedBy }),
	stringField(FieldLocation, StageAssignment, ddOnly, KindScalar, func(i *Instrument) *string { return &i.Assignment.Location }),
	stringField(FieldPartyName, StageAssignment, ddOnly, KindScalar, func(i *Instrument) *string { return &i.Assignment.PartyName }),
	stringField(FieldBeneficiaryName, StageAssignment, bgOnly, KindScalar, func(i *Instrument) *string { return &i.Assignment.BeneficiaryName }),
	stringField(FieldBeneficiaryAddress, StageAssignment, bgOnly, KindScalar, func(i *Instrument) *string { return &i.Assignment.BeneficiaryAddress }),
	dateField(FieldExpiryDate, StageAssignment, bgOnly, func(i *Instrument) *time.Time { return &i.Assignment.ExpiryDate }),
	dateField(FieldClaimExpiryDate, StageAssignment, bgOnly, func(i *Instrument) *time.Time { return &i.Assignment.ClaimExpiryDate }),
	stringField(FieldFormatTemplate, StageAssignment, bgOnly, KindUpload, func(i *Instrument) *string { return &i.Assignment.FormatTemplateRef }),

	stringField(FieldBankName, StageProcessing, bothTypes, KindScalar, func(i *Instrument) *string { return &i.Processing.BankName }),
	stringField(FieldAccountNumber, StageProcessing, bothTypes, KindScalar, func(i *Instrument) *string { return &i.Processing.AccountNumber }),
	stringField(FieldBranch, StageProcessing, bothTypes, KindScalar, func(i *Instrument) *string { return &i.Processing.Branch }),
	stringField(FieldFilledBy, StageProcessing, bothTypes, KindScalar, func(i *Instrument) *string { return &i.Processing.FilledBy }),
	dateField(FieldFilledDate, StageProcessing, bothTypes, func(i *Instrument) *time.Time { return &i.Processing.FilledDate }),
	stringField(FieldChequeNo, StageProcessing, ddOnly, KindScalar, func(i *Instrument) *string { return &i.Processing.ChequeNo }),
	stringField(FieldChequeCopy, StageProcessing, ddOnly, KindUpload, func(i *Instrument) *string { return &i.Processing.ChequeCopyRef }),
	stringField(FieldSignature, StageProcessing, ddOnly, KindUpload, func(i *Instrument) *string { return &i.Processing.SignatureRef }),
	stringField(FieldFDNumber, StageProcessing, bgOnly, KindScalar, func(i *Instrument) *string { return &i.Processing.FDNumber }),
	stringField(FieldBGNumber, StageProcessing, bgOnly, KindScalar, func(i *Instrument) *string { return &i.Processing.BGNumber }),
	stringField(FieldOriginalBG, StageProcessing, bgOnly, KindUpload, func(i *Instrument) *string { return &i.Processing.OriginalBGRef }),
	stringField(FieldSupportingDocuments, StageProcessing, bgOnly, KindUpload, func(i *Instrument) *string { return &i.Processing.SupportingDocsRef }),
	locationField(FieldOriginalBGLocation, StageProcessing, bgOnly, func(i *Instrument) *OriginalLocation { return &i.Processing.OriginalBGLocation }),

	stringField(FieldDDNumber, StageIssuance, ddOnly, KindScalar, func(i *Instrument) *string { return &i.Issuance.DDNumber }),
	stringField(FieldIssuedBy, StageIssuance, ddOnly, KindScalar, func(i *Instrument) *string { return &i.Issuance.IssuedBy }),
	stringField(FieldDDCopy, StageIssuance, ddOnly, KindUpload, func(i *Instrument) *string { return &i.Issuance.DDCopyRef }),
	locationField(FieldOriginalDDLocation, StageIssuance, ddOnly, func(i *Instrument) *OriginalLocation { return &i.Issuance.OriginalDDLocation }),
	{FieldSentToClientDate, StageIssuance, ddOnly, KindTracking,
		func(i *Instrument) string { return formatDate(i.Issuance.SentToClientDate) },
		func(i *Instrument, v string) error { return parseDate(&i.Issuance.SentToClientDate, v) }},

	{FieldStatus, StageIssuance, ddOnly, KindStatus,
		func(i *Instrument) string { return string(i.Status) },
		func(i *Instrument, v string) error {
			s := Status(strings.TrimSpace(v))
			if !s.Valid() {
				return errInvalid("status must be one of Assigned, Filled, Issued, SentToClient")
			}
			i.Status = s
			return nil
		}},

	{FieldClaimFromBank, 0, bothTypes, KindFlag,
		func(i *Instrument) string {
			if i.ClaimFromBank {
				return "true"
			}
			return ""
		},
		func(i *Instrument, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return errInvalid("claim_from_bank must be true or false")
			}
			i.ClaimFromBank = b
			return nil
		}},
}

var registryIndex = func() map[Field]int {
	idx := make(map[Field]int, len(registry))
	for n, spec := range registry {
		idx[spec.Name] = n
	}
	return idx
}()

// LookupField returns the registered spec for name
func LookupField(name Field) (FieldSpec, bool) {
	n, ok := registryIndex[name]
	if !ok {
		return FieldSpec{}, false
	}
	return registry[n], true
}

// FieldsForStage returns the registered fields of stage that apply to t,
// in registry order. The claim flag is not tied to a stage and is omitted.
func FieldsForStage(t InstrumentType, stage Stage) []FieldSpec {
	out := make([]FieldSpec, 0)
	for _, spec := range registry {
		if spec.Stage == stage && spec.AppliesTo(t) {
			out = append(out, spec)
		}
	}
	return out
}

// RequiredFields returns the fields that must be present to complete stage
func RequiredFields(t InstrumentType, stage Stage) []Field {
	switch {
	case t == InstrumentTypeDD && stage == StageAssignment:
		return []Field{FieldLocation, FieldPartyName, FieldAmount, FieldAssignDate}
	case t == InstrumentTypeBG && stage == StageAssignment:
		return []Field{FieldBeneficiaryName, FieldAmount, FieldExpiryDate}
	case t == InstrumentTypeDD && stage == StageProcessing:
		return []Field{FieldChequeNo, FieldBankName, FieldAccountNumber}
	case t == InstrumentTypeBG && stage == StageProcessing:
		return []Field{FieldBGNumber, FieldBankName, FieldFDNumber}
	case t == InstrumentTypeDD && stage == StageIssuance:
		return []Field{FieldDDNumber}
	default:
		return nil
	}
}

func fieldOrder(name Field) int {
	if n, ok := registryIndex[name]; ok {
		return n
	}
	return len(registry)
}

func stringField(name Field, stage Stage, types []InstrumentType, kind FieldKind, ptr func(*Instrument) *string) FieldSpec {
	return FieldSpec{name, stage, types, kind,
		func(i *Instrument) string { return strings.TrimSpace(*ptr(i)) },
		func(i *Instrument, v string) error {
			*ptr(i) = strings.TrimSpace(v)
			return nil
		}}
}

func dateField(name Field, stage Stage, types []InstrumentType, ptr func(*Instrument) *time.Time) FieldSpec {
	return FieldSpec{name, stage, types, KindScalar,
		func(i *Instrument) string { return formatDate(*ptr(i)) },
		func(i *Instrument, v string) error { return parseDate(ptr(i), v) }}
}

func locationField(name Field, stage Stage, types []InstrumentType, ptr func(*Instrument) *OriginalLocation) FieldSpec {
	return FieldSpec{name, stage, types, KindTracking,
		func(i *Instrument) string { return string(*ptr(i)) },
		func(i *Instrument, v string) error {
			v = strings.TrimSpace(v)
			if v == "" {
				*ptr(i) = ""
				return nil
			}
			loc := OriginalLocation(v)
			if !loc.Valid() {
				return errInvalid("location must be Self or Client")
			}
			*ptr(i) = loc
			return nil
		}}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func parseDate(dst *time.Time, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		*dst = time.Time{}
		return nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return errInvalid("date must be formatted YYYY-MM-DD")
	}
	*dst = t
	return nil
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }
