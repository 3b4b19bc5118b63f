package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/simaogato/opsdesk-backend/internal/domain"
)

// instrumentColumns lists the mutable columns in the order used by
// scanInstrument and instrumentArgs
var instrumentColumns = []string{
	"status", "claim_from_bank",
	"amount", "assign_date", "assigned_by", "location", "party_name",
	"beneficiary_name", "beneficiary_address", "expiry_date", "claim_expiry_date", "format_template",
	"bank_name", "account_number", "branch", "filled_by", "filled_date",
	"cheque_no", "cheque_copy", "signature",
	"fd_number", "bg_number", "original_bg", "supporting_documents", "original_bg_location",
	"dd_number", "issued_by", "dd_copy", "original_dd_location", "sent_to_client_date",
}

// instrumentRepository implements domain.InstrumentRepository
type instrumentRepository struct {
	db  *DB
	now func() time.Time
}

// NewInstrumentRepository creates a new instrument repository
func NewInstrumentRepository(db *DB) domain.InstrumentRepository {
	return &instrumentRepository{db: db, now: time.Now}
}

// Create creates a new instrument, assigning its ID and version 1
func (r *instrumentRepository) Create(ctx context.Context, inst *domain.Instrument) (uuid.UUID, error) {
	id := uuid.New()
	now := r.now().UTC()

	columns := append([]string{"id", "instrument_type", "version", "created_at", "updated_at"}, instrumentColumns...)
	placeholders := make([]string, len(columns))
	for n := range placeholders {
		placeholders[n] = fmt.Sprintf("$%d", n+1)
	}
	query := fmt.Sprintf("INSERT INTO instruments (%s) VALUES (%s)",
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	args := append([]interface{}{id, string(inst.Type), 1, now, now}, instrumentArgs(inst)...)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, duplicateDDNumber()
		}
		return uuid.Nil, fmt.Errorf("failed to create instrument: %w", err)
	}

	return id, nil
}

// GetByID retrieves an instrument by its ID
func (r *instrumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Instrument, error) {
	query := fmt.Sprintf(`
		SELECT id, instrument_type, version, created_at, updated_at, %s
		FROM instruments
		WHERE id = $1
	`, strings.Join(instrumentColumns, ", "))

	inst, err := scanInstrument(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("instrument %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get instrument by ID: %w", err)
	}

	return inst, nil
}

// Update writes the merged snapshot of delta with an optimistic version check
func (r *instrumentRepository) Update(ctx context.Context, id uuid.UUID, delta *domain.RecordDelta) error {
	assignments := make([]string, len(instrumentColumns))
	for n, column := range instrumentColumns {
		assignments[n] = fmt.Sprintf("%s = $%d", column, n+1)
	}
	next := len(instrumentColumns)
	query := fmt.Sprintf(`
		UPDATE instruments
		SET %s, version = version + 1, updated_at = $%d
		WHERE id = $%d AND version = $%d
	`, strings.Join(assignments, ", "), next+1, next+2, next+3)

	args := append(instrumentArgs(&delta.Record), r.now().UTC(), id, delta.BaseVersion)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateDDNumber()
		}
		return fmt.Errorf("failed to update instrument: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing record from a stale version
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM instruments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check instrument existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("instrument %s: %w", id, domain.ErrNotFound)
	}
	return domain.ErrVersionConflict
}

// DDNumberTaken reports whether a record other than exclude holds number
func (r *instrumentRepository) DDNumberTaken(ctx context.Context, number string, exclude uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM instruments WHERE dd_number = $1 AND id <> $2)`

	var taken bool
	if err := r.db.QueryRowContext(ctx, query, number, exclude).Scan(&taken); err != nil {
		return false, fmt.Errorf("failed to check dd_number: %w", err)
	}
	return taken, nil
}

// CountByStatus groups instruments by type and status
func (r *instrumentRepository) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	query := `
		SELECT instrument_type, status, COUNT(*)
		FROM instruments
		GROUP BY instrument_type, status
		ORDER BY instrument_type, status
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count instruments: %w", err)
	}
	defer rows.Close()

	counts := make([]domain.StatusCount, 0)
	for rows.Next() {
		var row domain.StatusCount
		if err := rows.Scan(&row.Type, &row.Status, &row.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// CountClaimed returns the number of instruments claimed from bank
func (r *instrumentRepository) CountClaimed(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instruments WHERE claim_from_bank`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count claimed instruments: %w", err)
	}
	return n, nil
}

// instrumentArgs returns the values of instrumentColumns for inst
func instrumentArgs(inst *domain.Instrument) []interface{} {
	a, p, i := inst.Assignment, inst.Processing, inst.Issuance

	var amount interface{}
	if a.Amount.Valid {
		amount = a.Amount.Decimal.String()
	}

	return []interface{}{
		string(inst.Status), inst.ClaimFromBank,
		amount, nullDate(a.AssignDate), a.AssignedBy, a.Location, a.PartyName,
		a.BeneficiaryName, a.BeneficiaryAddress, nullDate(a.ExpiryDate), nullDate(a.ClaimExpiryDate), a.FormatTemplateRef,
		p.BankName, p.AccountNumber, p.Branch, p.FilledBy, nullDate(p.FilledDate),
		p.ChequeNo, p.ChequeCopyRef, p.SignatureRef,
		p.FDNumber, p.BGNumber, p.OriginalBGRef, p.SupportingDocsRef, string(p.OriginalBGLocation),
		i.DDNumber, i.IssuedBy, i.DDCopyRef, string(i.OriginalDDLocation), nullDate(i.SentToClientDate),
	}
}

func scanInstrument(row *sql.Row) (*domain.Instrument, error) {
	var inst domain.Instrument
	var amount sql.NullString
	var assignDate, expiryDate, claimExpiryDate, filledDate, sentToClientDate sql.NullTime
	var bgLocation, ddLocation string

	a, p, i := &inst.Assignment, &inst.Processing, &inst.Issuance

	err := row.Scan(
		&inst.ID, &inst.Type, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
		&inst.Status, &inst.ClaimFromBank,
		&amount, &assignDate, &a.AssignedBy, &a.Location, &a.PartyName,
		&a.BeneficiaryName, &a.BeneficiaryAddress, &expiryDate, &claimExpiryDate, &a.FormatTemplateRef,
		&p.BankName, &p.AccountNumber, &p.Branch, &p.FilledBy, &filledDate,
		&p.ChequeNo, &p.ChequeCopyRef, &p.SignatureRef,
		&p.FDNumber, &p.BGNumber, &p.OriginalBGRef, &p.SupportingDocsRef, &bgLocation,
		&i.DDNumber, &i.IssuedBy, &i.DDCopyRef, &ddLocation, &sentToClientDate,
	)
	if err != nil {
		return nil, err
	}

	// Parse amount (NUMERIC, nullable)
	if amount.Valid {
		d, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", err)
		}
		a.Amount = decimal.NewNullDecimal(d)
	}

	a.AssignDate = dateValue(assignDate)
	a.ExpiryDate = dateValue(expiryDate)
	a.ClaimExpiryDate = dateValue(claimExpiryDate)
	p.FilledDate = dateValue(filledDate)
	i.SentToClientDate = dateValue(sentToClientDate)
	p.OriginalBGLocation = domain.OriginalLocation(bgLocation)
	i.OriginalDDLocation = domain.OriginalLocation(ddLocation)

	return &inst, nil
}

func nullDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(domain.DateLayout)
}

// dateValue normalizes a DATE column to midnight UTC as parsed from the wire
func dateValue(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	y, m, d := t.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const uniqueViolation = "23505"

// isUniqueViolation recognises the error types of both registered drivers
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

func duplicateDDNumber() error {
	return &domain.ValidationError{Stage: domain.StageIssuance, Field: domain.FieldDDNumber, Reason: "already used by another instrument"}
}
