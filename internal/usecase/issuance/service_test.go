package issuance

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/opsdesk-backend/internal/adapter/repository/memory"
	uploadmemory "github.com/simaogato/opsdesk-backend/internal/adapter/upload/memory"
	"github.com/simaogato/opsdesk-backend/internal/domain"
	"github.com/simaogato/opsdesk-backend/internal/usecase/workflow"
)

// MockInstrumentRepository is a mock implementation of InstrumentRepository for testing
type MockInstrumentRepository struct {
	mock.Mock
}

func (m *MockInstrumentRepository) Create(ctx context.Context, inst *domain.Instrument) (uuid.UUID, error) {
	args := m.Called(ctx, inst)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockInstrumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Instrument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Instrument), args.Error(1)
}

func (m *MockInstrumentRepository) Update(ctx context.Context, id uuid.UUID, delta *domain.RecordDelta) error {
	args := m.Called(ctx, id, delta)
	return args.Error(0)
}

func (m *MockInstrumentRepository) DDNumberTaken(ctx context.Context, number string, exclude uuid.UUID) (bool, error) {
	args := m.Called(ctx, number, exclude)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstrumentRepository) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StatusCount), args.Error(1)
}

func (m *MockInstrumentRepository) CountClaimed(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockUploadStore is a mock implementation of UploadStore for testing
type MockUploadStore struct {
	mock.Mock
}

func (m *MockUploadStore) Store(ctx context.Context, upload domain.Upload) (string, error) {
	args := m.Called(ctx, upload)
	return args.String(0), args.Error(1)
}

func (m *MockUploadStore) Remove(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

var (
	admin      = domain.Caller{Role: "ADMIN", Name: "Asha"}
	accountant = domain.Caller{Role: "ACCOUNTANT", Name: "Kiran"}
	clerk      = domain.Caller{Role: "USER", Name: "Ravi"}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ddFields() domain.Fields {
	return domain.Fields{
		domain.FieldLocation:   "Mumbai",
		domain.FieldPartyName:  "Acme",
		domain.FieldAmount:     "50000",
		domain.FieldAssignDate: "2024-01-10",
	}
}

func processingFields() domain.Fields {
	return domain.Fields{
		domain.FieldChequeNo:      "123456",
		domain.FieldBankName:      "HDFC",
		domain.FieldAccountNumber: "001122",
	}
}

func assignedDD(id uuid.UUID, version int) *domain.Instrument {
	inst, err := domain.NewInstrument(domain.InstrumentTypeDD, ddFields())
	if err != nil {
		panic(err)
	}
	inst.ID = id
	inst.Version = version
	inst.Status = domain.StatusAssigned
	inst.Assignment.AssignedBy = "Ravi"
	return inst
}

func processedDD(id uuid.UUID, version int) *domain.Instrument {
	inst := assignedDD(id, version)
	inst.Status = domain.StatusFilled
	inst.Processing.ChequeNo = "123456"
	inst.Processing.BankName = "HDFC"
	inst.Processing.AccountNumber = "001122"
	return inst
}

func TestSubmit_CreatesRecord(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	service := NewIssuanceService(mockRepo, nil, nil, quietLogger())

	newID := uuid.New()
	created := assignedDD(newID, 1)

	mockRepo.On("Create", ctx, mock.MatchedBy(func(inst *domain.Instrument) bool {
		return inst.Type == domain.InstrumentTypeDD &&
			inst.Status == domain.StatusAssigned &&
			inst.Assignment.AssignedBy == "Ravi"
	})).Return(newID, nil)
	mockRepo.On("GetByID", ctx, newID).Return(created, nil)

	changes := 0
	service.OnChange = func() { changes++ }

	inst, err := service.Submit(ctx, SubmitInput{
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageAssignment,
		Caller: clerk,
		Fields: ddFields(),
	})

	require.NoError(t, err)
	assert.Equal(t, newID, inst.ID)
	assert.Equal(t, 1, changes)
	mockRepo.AssertExpectations(t)
}

func TestSubmit_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	service := NewIssuanceService(mockRepo, nil, nil, quietLogger())

	id := uuid.New()
	stale := assignedDD(id, 1)
	fresh := assignedDD(id, 2)
	fresh.Assignment.Location = "Mumbai"
	result := processedDD(id, 3)

	mockRepo.On("GetByID", ctx, id).Return(stale, nil).Once()
	mockRepo.On("Update", ctx, id, mock.MatchedBy(func(d *domain.RecordDelta) bool { return d.BaseVersion == 1 })).
		Return(domain.ErrVersionConflict).Once()
	mockRepo.On("GetByID", ctx, id).Return(fresh, nil).Once()
	mockRepo.On("Update", ctx, id, mock.MatchedBy(func(d *domain.RecordDelta) bool { return d.BaseVersion == 2 })).
		Return(nil).Once()
	mockRepo.On("GetByID", ctx, id).Return(result, nil).Once()

	inst, err := service.Submit(ctx, SubmitInput{
		ID:     &id,
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageProcessing,
		Caller: accountant,
		Fields: processingFields(),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, inst.Status)
	mockRepo.AssertExpectations(t)
}

func TestSubmit_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	service := NewIssuanceService(mockRepo, nil, nil, quietLogger())
	service.MaxRetries = 1

	id := uuid.New()
	mockRepo.On("GetByID", ctx, id).Return(assignedDD(id, 1), nil)
	mockRepo.On("Update", ctx, id, mock.Anything).Return(domain.ErrVersionConflict)

	_, err := service.Submit(ctx, SubmitInput{
		ID:     &id,
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageProcessing,
		Caller: accountant,
		Fields: processingFields(),
	})

	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Contains(t, err.Error(), "giving up after 2 attempts")
	mockRepo.AssertNumberOfCalls(t, "Update", 2)
}

func TestSubmit_RejectsDuplicateDDNumber(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	service := NewIssuanceService(mockRepo, nil, nil, quietLogger())

	id := uuid.New()
	mockRepo.On("GetByID", ctx, id).Return(processedDD(id, 2), nil)
	mockRepo.On("DDNumberTaken", ctx, "DD998877", id).Return(true, nil)

	_, err := service.Submit(ctx, SubmitInput{
		ID:     &id,
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageIssuance,
		Caller: admin,
		Fields: domain.Fields{domain.FieldDDNumber: "DD998877"},
	})

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, domain.FieldDDNumber, validationErr.Field)
	mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_RemovesUploadsOnRejection(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	mockUploads := new(MockUploadStore)
	service := NewIssuanceService(mockRepo, mockUploads, nil, quietLogger())

	id := uuid.New()
	mockRepo.On("GetByID", ctx, id).Return(assignedDD(id, 1), nil)
	mockUploads.On("Store", ctx, mock.MatchedBy(func(u domain.Upload) bool { return u.Filename == "cheque.pdf" })).
		Return("mem://x/cheque.pdf", nil)
	mockUploads.On("Remove", ctx, "mem://x/cheque.pdf").Return(nil)

	// clerk may not write stage 2
	_, err := service.Submit(ctx, SubmitInput{
		ID:     &id,
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageProcessing,
		Caller: clerk,
		Fields: processingFields(),
		Uploads: map[domain.Field]domain.Upload{
			domain.FieldChequeCopy: {Filename: "cheque.pdf", Body: strings.NewReader("pdf")},
		},
	})

	var authErr *domain.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	mockUploads.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_RemovesReplacedUpload(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	mockUploads := new(MockUploadStore)
	service := NewIssuanceService(mockRepo, mockUploads, nil, quietLogger())

	id := uuid.New()
	existing := processedDD(id, 2)
	existing.Processing.ChequeCopyRef = "mem://x/old.pdf"
	mockRepo.On("GetByID", ctx, id).Return(existing, nil)
	mockRepo.On("Update", ctx, id, mock.Anything).Return(nil)
	mockUploads.On("Store", ctx, mock.Anything).Return("mem://x/new.pdf", nil)
	mockUploads.On("Remove", ctx, "mem://x/old.pdf").Return(nil)

	_, err := service.Submit(ctx, SubmitInput{
		ID:     &id,
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageProcessing,
		Caller: accountant,
		Fields: processingFields(),
		Uploads: map[domain.Field]domain.Upload{
			domain.FieldChequeCopy: {Filename: "new.pdf", Body: strings.NewReader("pdf")},
		},
	})

	require.NoError(t, err)
	mockUploads.AssertExpectations(t)
	mockUploads.AssertNotCalled(t, "Remove", ctx, "mem://x/new.pdf")
}

func TestSubmit_ReuploadLeavesSingleBlob(t *testing.T) {
	ctx := context.Background()
	uploads := uploadmemory.NewUploadStore()
	service := NewIssuanceService(memory.NewInstrumentRepository(), uploads, nil, quietLogger())

	dd, err := service.Submit(ctx, SubmitInput{
		Type: domain.InstrumentTypeDD, Stage: domain.StageAssignment, Caller: clerk, Fields: ddFields(),
	})
	require.NoError(t, err)

	for _, body := range []string{"first", "second"} {
		dd, err = service.Submit(ctx, SubmitInput{
			ID: &dd.ID, Type: domain.InstrumentTypeDD, Stage: domain.StageProcessing, Caller: accountant,
			Fields: processingFields(),
			Uploads: map[domain.Field]domain.Upload{
				domain.FieldChequeCopy: {Filename: "cheque.pdf", Body: strings.NewReader(body)},
			},
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, uploads.Len())
	data, ok := uploads.Get(dd.Processing.ChequeCopyRef)
	require.True(t, ok)
	assert.Equal(t, "second", string(data))
}

func TestSubmit_RejectsUploadForScalarField(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	mockUploads := new(MockUploadStore)
	service := NewIssuanceService(mockRepo, mockUploads, nil, quietLogger())

	_, err := service.Submit(ctx, SubmitInput{
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageAssignment,
		Caller: admin,
		Fields: ddFields(),
		Uploads: map[domain.Field]domain.Upload{
			domain.FieldPartyName: {Filename: "a.txt", Body: strings.NewReader("x")},
		},
	})

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, domain.FieldPartyName, validationErr.Field)
	mockUploads.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSubmit_StoreFailure(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	mockUploads := new(MockUploadStore)
	service := NewIssuanceService(mockRepo, mockUploads, nil, quietLogger())

	mockUploads.On("Store", ctx, mock.Anything).Return("", errors.New("bucket unavailable"))

	id := uuid.New()
	_, err := service.Submit(ctx, SubmitInput{
		ID:     &id,
		Type:   domain.InstrumentTypeDD,
		Stage:  domain.StageProcessing,
		Caller: admin,
		Fields: processingFields(),
		Uploads: map[domain.Field]domain.Upload{
			domain.FieldSignature: {Filename: "sig.png", Body: strings.NewReader("png")},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store upload for signature")
	mockRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestSubmit_NotFound(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockInstrumentRepository)
	service := NewIssuanceService(mockRepo, nil, nil, quietLogger())

	id := uuid.New()
	mockRepo.On("GetByID", ctx, id).Return(nil, domain.ErrNotFound)

	_, err := service.Submit(ctx, SubmitInput{
		ID: &id, Type: domain.InstrumentTypeDD, Stage: domain.StageProcessing, Caller: admin, Fields: processingFields(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmit_LogsOutcome(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	service := NewIssuanceService(memory.NewInstrumentRepository(), nil, nil, logger)

	_, err := service.Submit(ctx, SubmitInput{
		Type: domain.InstrumentTypeDD, Stage: domain.StageAssignment, Caller: clerk, Fields: ddFields(),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"stage submission accepted"`)
	assert.Contains(t, buf.String(), `"status":"Assigned"`)

	buf.Reset()
	_, err = service.Submit(ctx, SubmitInput{
		Type: domain.InstrumentTypeDD, Stage: domain.StageAssignment, Caller: clerk, Fields: domain.Fields{},
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"msg":"stage submission rejected"`)
}

// Full lifecycle against the in-memory adapters
func TestIssuanceService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInstrumentRepository()
	uploads := uploadmemory.NewUploadStore()
	engine := &workflow.Engine{Now: func() time.Time { return time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC) }}
	service := NewIssuanceService(repo, uploads, engine, quietLogger())

	dd, err := service.Submit(ctx, SubmitInput{
		Type: domain.InstrumentTypeDD, Stage: domain.StageAssignment, Caller: clerk, Fields: ddFields(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dd.Version)

	dd, err = service.Submit(ctx, SubmitInput{
		ID: &dd.ID, Type: domain.InstrumentTypeDD, Stage: domain.StageProcessing, Caller: accountant,
		Fields: processingFields(),
		Uploads: map[domain.Field]domain.Upload{
			domain.FieldChequeCopy: {Filename: "cheque.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, dd.Status)
	assert.Equal(t, "2024-01-12", dd.Value(domain.FieldFilledDate))
	data, ok := uploads.Get(dd.Processing.ChequeCopyRef)
	require.True(t, ok)
	assert.Equal(t, "%PDF", string(data))

	dd, err = service.Submit(ctx, SubmitInput{
		ID: &dd.ID, Type: domain.InstrumentTypeDD, Stage: domain.StageIssuance, Caller: admin,
		Fields: domain.Fields{domain.FieldDDNumber: "DD998877"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, dd.Status)
	assert.Equal(t, "HDFC", dd.Issuance.IssuedBy)
	assert.Equal(t, 3, dd.Version)

	dd, err = service.SetClaimFromBank(ctx, dd.ID, admin, true)
	require.NoError(t, err)
	assert.True(t, dd.ClaimFromBank)

	_, err = service.SetClaimFromBank(ctx, dd.ID, admin, false)
	var iv *domain.InvariantViolationError
	require.ErrorAs(t, err, &iv)

	dd, err = service.OverrideStatus(ctx, dd.ID, admin, domain.StatusSentToClient)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSentToClient, dd.Status)

	// a second DD may not reuse the number
	other, err := service.Submit(ctx, SubmitInput{
		Type: domain.InstrumentTypeDD, Stage: domain.StageAssignment, Caller: clerk, Fields: ddFields(),
	})
	require.NoError(t, err)
	other, err = service.Submit(ctx, SubmitInput{
		ID: &other.ID, Type: domain.InstrumentTypeDD, Stage: domain.StageProcessing, Caller: admin, Fields: processingFields(),
	})
	require.NoError(t, err)
	_, err = service.Submit(ctx, SubmitInput{
		ID: &other.ID, Type: domain.InstrumentTypeDD, Stage: domain.StageIssuance, Caller: admin,
		Fields: domain.Fields{domain.FieldDDNumber: "DD998877"},
	})
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)

	view, err := service.FormState(ctx, &dd.ID, "", admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSentToClient, view.Status)
	assert.True(t, view.ClaimFromBank)

	_, err = service.FormState(ctx, nil, domain.InstrumentType("XX"), admin)
	require.ErrorAs(t, err, &validationErr)
}
