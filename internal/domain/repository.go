package domain

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Caller is the acting user as reported by the session collaborator
type Caller struct {
	Role string
	Name string
}

// RecordDelta is the outcome of an accepted submission.
// Record is the full merged snapshot; Changes holds only the fields the
// submission wrote, including auto-populated defaults.
type RecordDelta struct {
	InstrumentID  uuid.UUID // uuid.Nil when the submission creates the record
	Type          InstrumentType
	Stage         Stage
	BaseVersion   int // version of the snapshot the delta was computed from
	Changes       Fields
	Status        Status
	StatusChanged bool
	Record        Instrument
}

// IsCreate reports whether the delta creates a new record
func (d *RecordDelta) IsCreate() bool {
	return d.InstrumentID == uuid.Nil
}

// StatusCount is one row of the per-type, per-status summary
type StatusCount struct {
	Type   InstrumentType
	Status Status
	Count  int
}

// InstrumentRepository is the persistence collaborator.
// Update must be atomic per record id and reject stale writes.
type InstrumentRepository interface {
	// Create stores a new record, assigning its ID and initial version
	Create(ctx context.Context, inst *Instrument) (uuid.UUID, error)

	// GetByID retrieves a record snapshot, ErrNotFound when absent
	GetByID(ctx context.Context, id uuid.UUID) (*Instrument, error)

	// Update applies delta to record id. Returns ErrVersionConflict when the
	// stored version differs from delta.BaseVersion.
	Update(ctx context.Context, id uuid.UUID, delta *RecordDelta) error

	// DDNumberTaken reports whether another record already uses number
	DDNumberTaken(ctx context.Context, number string, exclude uuid.UUID) (bool, error)

	// CountByStatus returns record counts grouped by type and status
	CountByStatus(ctx context.Context) ([]StatusCount, error)

	// CountClaimed returns the number of records claimed from bank
	CountClaimed(ctx context.Context) (int, error)
}

// Upload is a file blob waiting to be stored
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadStore is the upload collaborator. References are opaque to the workflow.
type UploadStore interface {
	// Store persists the blob and returns its reference
	Store(ctx context.Context, upload Upload) (string, error)

	// Remove deletes a previously stored blob
	Remove(ctx context.Context, ref string) error
}
