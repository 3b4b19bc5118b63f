package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simaogato/opsdesk-backend/internal/domain"
)

// instrumentRepository implements domain.InstrumentRepository in process.
// Records are copied in and out so callers never share a snapshot.
type instrumentRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.Instrument
	now     func() time.Time
}

// NewInstrumentRepository creates an empty in-memory repository
func NewInstrumentRepository() domain.InstrumentRepository {
	return &instrumentRepository{
		records: make(map[uuid.UUID]domain.Instrument),
		now:     time.Now,
	}
}

// Create stores a new record with a fresh ID at version 1
func (r *instrumentRepository) Create(ctx context.Context, inst *domain.Instrument) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst.Issuance.DDNumber != "" && r.ddNumberTakenLocked(inst.Issuance.DDNumber, uuid.Nil) {
		return uuid.Nil, &domain.ValidationError{Stage: domain.StageIssuance, Field: domain.FieldDDNumber, Reason: "already used by another instrument"}
	}

	record := *inst
	record.ID = uuid.New()
	record.Version = 1
	record.CreatedAt = r.now().UTC()
	record.UpdatedAt = record.CreatedAt
	r.records[record.ID] = record

	return record.ID, nil
}

// GetByID retrieves a copy of the stored record
func (r *instrumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &record, nil
}

// Update replaces the record with the delta's merged snapshot when the
// stored version still matches the delta's base version
func (r *instrumentRepository) Update(ctx context.Context, id uuid.UUID, delta *domain.RecordDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != delta.BaseVersion {
		return domain.ErrVersionConflict
	}

	number := delta.Record.Issuance.DDNumber
	if number != "" && number != stored.Issuance.DDNumber && r.ddNumberTakenLocked(number, id) {
		return &domain.ValidationError{Stage: domain.StageIssuance, Field: domain.FieldDDNumber, Reason: "already used by another instrument"}
	}

	record := delta.Record
	record.ID = id
	record.Type = stored.Type
	record.CreatedAt = stored.CreatedAt
	record.Version = stored.Version + 1
	record.UpdatedAt = r.now().UTC()
	r.records[id] = record

	return nil
}

// DDNumberTaken reports whether a record other than exclude holds number
func (r *instrumentRepository) DDNumberTaken(ctx context.Context, number string, exclude uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ddNumberTakenLocked(number, exclude), nil
}

// CountByStatus groups records by type and status, sorted for stable output
func (r *instrumentRepository) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct {
		t domain.InstrumentType
		s domain.Status
	}
	counts := make(map[key]int)
	for _, record := range r.records {
		counts[key{record.Type, record.Status}]++
	}

	rows := make([]domain.StatusCount, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, domain.StatusCount{Type: k.t, Status: k.s, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Type != rows[j].Type {
			return rows[i].Type < rows[j].Type
		}
		return rows[i].Status.Rank() < rows[j].Status.Rank()
	})
	return rows, nil
}

// CountClaimed returns the number of records claimed from bank
func (r *instrumentRepository) CountClaimed(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, record := range r.records {
		if record.ClaimFromBank {
			n++
		}
	}
	return n, nil
}

func (r *instrumentRepository) ddNumberTakenLocked(number string, exclude uuid.UUID) bool {
	for id, record := range r.records {
		if id != exclude && record.Issuance.DDNumber == number {
			return true
		}
	}
	return false
}
