package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/simaogato/opsdesk-backend/internal/domain"
	"github.com/simaogato/opsdesk-backend/internal/usecase/formstate"
	"github.com/simaogato/opsdesk-backend/internal/usecase/workflow"
)

const defaultMaxRetries = 3

// SubmitInput represents one stage submission from a caller
type SubmitInput struct {
	ID      *uuid.UUID // nil when creating a record with Stage 1
	Type    domain.InstrumentType
	Stage   domain.Stage
	Caller  domain.Caller
	Fields  domain.Fields
	Uploads map[domain.Field]domain.Upload
}

// IssuanceService is the caller layer around the workflow engine: it loads
// snapshots, resolves uploads and persists accepted deltas
type IssuanceService struct {
	InstrumentRepo domain.InstrumentRepository
	Uploads        domain.UploadStore
	Engine         *workflow.Engine
	Logger         *slog.Logger
	MaxRetries     int

	// OnChange runs after every successful write, e.g. to drop cached summaries
	OnChange func()
}

// NewIssuanceService creates a new IssuanceService instance
func NewIssuanceService(repo domain.InstrumentRepository, uploads domain.UploadStore, engine *workflow.Engine, logger *slog.Logger) *IssuanceService {
	if engine == nil {
		engine = workflow.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IssuanceService{
		InstrumentRepo: repo,
		Uploads:        uploads,
		Engine:         engine,
		Logger:         logger,
		MaxRetries:     defaultMaxRetries,
	}
}

// Submit runs a stage submission end to end and returns the stored record.
// Logic:
//  1. Store each upload blob and put its reference into the field set
//  2. Read the current snapshot (if any) and compute the delta
//  3. Check DD number uniqueness when the delta writes one
//  4. Create or update; on a version conflict start again from step 2
//
// Stored blobs are removed again if the submission is finally rejected.
// Blobs whose references the write replaced are removed once it lands.
func (s *IssuanceService) Submit(ctx context.Context, input SubmitInput) (*domain.Instrument, error) {
	fields := input.Fields.Clone()

	refs, err := s.storeUploads(ctx, input.Uploads, fields)
	if err != nil {
		return nil, err
	}

	inst, replaced, err := s.submitWithRetry(ctx, input, fields)
	if err != nil {
		s.removeUploads(ctx, refs)
		s.Logger.Warn("stage submission rejected",
			"instrument_id", idString(input.ID),
			"type", input.Type,
			"stage", int(input.Stage),
			"role", input.Caller.Role,
			"error", err.Error(),
		)
		return nil, err
	}
	s.removeUploads(ctx, replaced)

	s.Logger.Info("stage submission accepted",
		"instrument_id", inst.ID.String(),
		"type", inst.Type,
		"stage", int(input.Stage),
		"status", inst.Status,
		"role", input.Caller.Role,
	)
	return inst, nil
}

func (s *IssuanceService) submitWithRetry(ctx context.Context, input SubmitInput, fields domain.Fields) (*domain.Instrument, []string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		var existing *domain.Instrument
		if input.ID != nil {
			current, err := s.InstrumentRepo.GetByID(ctx, *input.ID)
			if err != nil {
				return nil, nil, err
			}
			existing = current
		}

		delta, err := s.Engine.SubmitStage(existing, input.Type, input.Stage, input.Caller, fields)
		if err != nil {
			return nil, nil, err
		}

		if err := s.checkDDNumber(ctx, delta); err != nil {
			return nil, nil, err
		}

		inst, err := s.persist(ctx, delta)
		if errors.Is(err, domain.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return inst, replacedUploads(existing, delta), nil
	}
	return nil, nil, fmt.Errorf("giving up after %d attempts: %w", s.MaxRetries+1, lastErr)
}

// replacedUploads lists the references of existing that delta overwrote
func replacedUploads(existing *domain.Instrument, delta *domain.RecordDelta) []string {
	if existing == nil {
		return nil
	}
	var refs []string
	for _, name := range delta.Changes.Names() {
		spec, ok := domain.LookupField(name)
		if !ok || spec.Kind != domain.KindUpload {
			continue
		}
		if old := spec.Get(existing); old != "" && old != delta.Changes[name] {
			refs = append(refs, old)
		}
	}
	return refs
}

// Get retrieves a record snapshot
func (s *IssuanceService) Get(ctx context.Context, id uuid.UUID) (*domain.Instrument, error) {
	return s.InstrumentRepo.GetByID(ctx, id)
}

// SetClaimFromBank toggles the claim-from-bank flag on record id
func (s *IssuanceService) SetClaimFromBank(ctx context.Context, id uuid.UUID, caller domain.Caller, claimed bool) (*domain.Instrument, error) {
	return s.mutate(ctx, id, func(existing *domain.Instrument) (*domain.RecordDelta, error) {
		return s.Engine.SetClaimFromBank(existing, caller, claimed)
	})
}

// OverrideStatus force-sets the status of record id (privileged callers only)
func (s *IssuanceService) OverrideStatus(ctx context.Context, id uuid.UUID, caller domain.Caller, status domain.Status) (*domain.Instrument, error) {
	inst, err := s.mutate(ctx, id, func(existing *domain.Instrument) (*domain.RecordDelta, error) {
		return s.Engine.OverrideStatus(existing, caller, status)
	})
	if err == nil {
		s.Logger.Info("status overridden", "instrument_id", id.String(), "status", status, "by", caller.Name)
	}
	return inst, err
}

// FormState returns the stage-gated form view of record id for caller.
// A nil id yields the blank creation form for t.
func (s *IssuanceService) FormState(ctx context.Context, id *uuid.UUID, t domain.InstrumentType, caller domain.Caller) (formstate.View, error) {
	if id == nil {
		if !t.Valid() {
			return formstate.View{}, &domain.ValidationError{Field: domain.FieldType, Reason: "must be DD or BG"}
		}
		return formstate.Build(nil, t, caller), nil
	}
	inst, err := s.InstrumentRepo.GetByID(ctx, *id)
	if err != nil {
		return formstate.View{}, err
	}
	return formstate.Build(inst, inst.Type, caller), nil
}

func (s *IssuanceService) mutate(ctx context.Context, id uuid.UUID, compute func(*domain.Instrument) (*domain.RecordDelta, error)) (*domain.Instrument, error) {
	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		existing, err := s.InstrumentRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		delta, err := compute(existing)
		if err != nil {
			return nil, err
		}
		inst, err := s.persist(ctx, delta)
		if errors.Is(err, domain.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return inst, err
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", s.MaxRetries+1, lastErr)
}

func (s *IssuanceService) persist(ctx context.Context, delta *domain.RecordDelta) (*domain.Instrument, error) {
	inst, err := s.write(ctx, delta)
	if err == nil && s.OnChange != nil {
		s.OnChange()
	}
	return inst, err
}

func (s *IssuanceService) write(ctx context.Context, delta *domain.RecordDelta) (*domain.Instrument, error) {
	if delta.IsCreate() {
		record := delta.Record
		id, err := s.InstrumentRepo.Create(ctx, &record)
		if err != nil {
			return nil, err
		}
		return s.InstrumentRepo.GetByID(ctx, id)
	}

	if err := s.InstrumentRepo.Update(ctx, delta.InstrumentID, delta); err != nil {
		return nil, err
	}
	return s.InstrumentRepo.GetByID(ctx, delta.InstrumentID)
}

// checkDDNumber enforces that a DD number identifies a single record
func (s *IssuanceService) checkDDNumber(ctx context.Context, delta *domain.RecordDelta) error {
	if _, ok := delta.Changes[domain.FieldDDNumber]; !ok {
		return nil
	}
	number := delta.Record.Issuance.DDNumber
	if number == "" {
		return nil
	}
	taken, err := s.InstrumentRepo.DDNumberTaken(ctx, number, delta.InstrumentID)
	if err != nil {
		return fmt.Errorf("failed to check dd_number uniqueness: %w", err)
	}
	if taken {
		return &domain.ValidationError{Stage: domain.StageIssuance, Field: domain.FieldDDNumber, Reason: "already used by another instrument"}
	}
	return nil
}

func (s *IssuanceService) storeUploads(ctx context.Context, uploads map[domain.Field]domain.Upload, fields domain.Fields) ([]string, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if s.Uploads == nil {
		return nil, errors.New("upload store is not configured")
	}

	names := make(domain.Fields, len(uploads))
	for name := range uploads {
		names[name] = ""
	}

	refs := make([]string, 0, len(uploads))
	for _, name := range names.Names() {
		spec, ok := domain.LookupField(name)
		if !ok || spec.Kind != domain.KindUpload {
			s.removeUploads(ctx, refs)
			return nil, &domain.ValidationError{Field: name, Reason: "is not an upload field"}
		}
		ref, err := s.Uploads.Store(ctx, uploads[name])
		if err != nil {
			s.removeUploads(ctx, refs)
			return nil, fmt.Errorf("failed to store upload for %s: %w", name, err)
		}
		refs = append(refs, ref)
		fields[name] = ref
	}
	return refs, nil
}

func (s *IssuanceService) removeUploads(ctx context.Context, refs []string) {
	if s.Uploads == nil {
		return
	}
	for _, ref := range refs {
		if err := s.Uploads.Remove(ctx, ref); err != nil {
			s.Logger.Warn("failed to remove orphaned upload", "ref", ref, "error", err.Error())
		}
	}
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
