package grpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/opsdesk-backend/internal/domain"
	"github.com/simaogato/opsdesk-backend/internal/usecase/dashboard"
	"github.com/simaogato/opsdesk-backend/internal/usecase/formstate"
	"github.com/simaogato/opsdesk-backend/internal/usecase/issuance"
)

// Server implements the InstrumentService gRPC server
type Server struct {
	IssuanceService  *issuance.IssuanceService
	DashboardService *dashboard.DashboardService
}

// NewServer creates a new gRPC server instance
func NewServer(issuanceService *issuance.IssuanceService, dashboardService *dashboard.DashboardService) *Server {
	return &Server{
		IssuanceService:  issuanceService,
		DashboardService: dashboardService,
	}
}

// SubmitStage handles the SubmitStage RPC
// Request: {"id"?, "type", "stage", "fields": {name: value}, "uploads"?: {name: {"filename", "content_type", "data"}}}
func (s *Server) SubmitStage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	id, err := optionalID(req)
	if err != nil {
		return nil, err
	}

	stage, err := stageArg(req)
	if err != nil {
		return nil, err
	}

	fields, err := fieldsArg(req)
	if err != nil {
		return nil, err
	}

	uploads, err := uploadsArg(req)
	if err != nil {
		return nil, err
	}

	input := issuance.SubmitInput{
		ID:      id,
		Type:    domain.InstrumentType(stringArg(req, "type")),
		Stage:   stage,
		Caller:  caller,
		Fields:  fields,
		Uploads: uploads,
	}

	inst, err := s.IssuanceService.Submit(ctx, input)
	if err != nil {
		return nil, mapError(err)
	}

	return instrumentResponse(inst)
}

// GetInstrument handles the GetInstrument RPC
func (s *Server) GetInstrument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}

	id, err := requiredID(req)
	if err != nil {
		return nil, err
	}

	inst, err := s.IssuanceService.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	return instrumentResponse(inst)
}

// ClaimFromBank handles the ClaimFromBank RPC. "claimed" defaults to true.
func (s *Server) ClaimFromBank(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	id, err := requiredID(req)
	if err != nil {
		return nil, err
	}

	claimed := true
	if v, ok := req.GetFields()["claimed"]; ok {
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "claimed must be a boolean")
		}
		claimed = b.BoolValue
	}

	inst, err := s.IssuanceService.SetClaimFromBank(ctx, id, caller, claimed)
	if err != nil {
		return nil, mapError(err)
	}

	return instrumentResponse(inst)
}

// OverrideStatus handles the OverrideStatus RPC
func (s *Server) OverrideStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	id, err := requiredID(req)
	if err != nil {
		return nil, err
	}

	inst, err := s.IssuanceService.OverrideStatus(ctx, id, caller, domain.Status(stringArg(req, "status")))
	if err != nil {
		return nil, mapError(err)
	}

	return instrumentResponse(inst)
}

// GetFormState handles the GetFormState RPC
// Request: {"id"} for an existing record or {"type"} for a blank creation form
func (s *Server) GetFormState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	id, err := optionalID(req)
	if err != nil {
		return nil, err
	}

	view, err := s.IssuanceService.FormState(ctx, id, domain.InstrumentType(stringArg(req, "type")), caller)
	if err != nil {
		return nil, mapError(err)
	}

	return structpb.NewStruct(formStateToMap(view))
}

// GetSummary handles the GetSummary RPC
func (s *Server) GetSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}

	result, err := s.DashboardService.GetSummary(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	types := make([]interface{}, 0, len(result.Types))
	for _, ts := range result.Types {
		byStatus := make(map[string]interface{}, len(ts.ByStatus))
		for st, n := range ts.ByStatus {
			byStatus[string(st)] = n
		}
		types = append(types, map[string]interface{}{
			"type":      string(ts.Type),
			"total":     ts.Total,
			"pending":   ts.Pending,
			"by_status": byStatus,
		})
	}

	return structpb.NewStruct(map[string]interface{}{
		"types":        types,
		"claimed":      result.Claimed,
		"generated_at": result.GeneratedAt.UTC().Format(time.RFC3339),
	})
}

func requireCaller(ctx context.Context) (domain.Caller, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return domain.Caller{}, status.Error(codes.Unauthenticated, "no session")
	}
	return caller, nil
}

func stringArg(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func optionalID(req *structpb.Struct) (*uuid.UUID, error) {
	raw := stringArg(req, "id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid id format: %v", err)
	}
	return &id, nil
}

func requiredID(req *structpb.Struct) (uuid.UUID, error) {
	id, err := optionalID(req)
	if err != nil {
		return uuid.Nil, err
	}
	if id == nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "id is required")
	}
	return *id, nil
}

func stageArg(req *structpb.Struct) (domain.Stage, error) {
	v, ok := req.GetFields()["stage"]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "stage is required")
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) {
			return 0, status.Errorf(codes.InvalidArgument, "stage must be an integer")
		}
		return domain.Stage(int(n)), nil
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(kind.StringValue)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "stage must be an integer")
		}
		return domain.Stage(n), nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "stage must be an integer")
	}
}

// fieldsArg flattens the "fields" object to wire strings
func fieldsArg(req *structpb.Struct) (domain.Fields, error) {
	fields := make(domain.Fields)
	for name, v := range req.GetFields()["fields"].GetStructValue().GetFields() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			fields[domain.Field(name)] = kind.StringValue
		case *structpb.Value_NumberValue:
			fields[domain.Field(name)] = strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			fields[domain.Field(name)] = strconv.FormatBool(kind.BoolValue)
		default:
			return nil, status.Errorf(codes.InvalidArgument, "field %s must be a string, number or boolean", name)
		}
	}
	return fields, nil
}

func uploadsArg(req *structpb.Struct) (map[domain.Field]domain.Upload, error) {
	raw := req.GetFields()["uploads"].GetStructValue().GetFields()
	if len(raw) == 0 {
		return nil, nil
	}

	uploads := make(map[domain.Field]domain.Upload, len(raw))
	for name, v := range raw {
		doc := v.GetStructValue()
		if doc == nil {
			return nil, status.Errorf(codes.InvalidArgument, "upload %s must be an object", name)
		}
		data, err := base64.StdEncoding.DecodeString(stringArg(doc, "data"))
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "upload %s data must be base64: %v", name, err)
		}
		uploads[domain.Field(name)] = domain.Upload{
			Filename:    stringArg(doc, "filename"),
			ContentType: stringArg(doc, "content_type"),
			Size:        int64(len(data)),
			Body:        bytes.NewReader(data),
		}
	}
	return uploads, nil
}

func instrumentResponse(inst *domain.Instrument) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(map[string]interface{}{"instrument": instrumentToMap(inst)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode instrument: %v", err)
	}
	return resp, nil
}

// instrumentToMap renders a record; empty fields are omitted
func instrumentToMap(inst *domain.Instrument) map[string]interface{} {
	fields := make(map[string]interface{})
	for _, stage := range domain.Stages(inst.Type) {
		for _, spec := range domain.FieldsForStage(inst.Type, stage) {
			if spec.Kind == domain.KindStatus {
				continue
			}
			if v := spec.Get(inst); v != "" {
				fields[string(spec.Name)] = v
			}
		}
	}

	return map[string]interface{}{
		"id":              inst.ID.String(),
		"type":            string(inst.Type),
		"status":          string(inst.Status),
		"claim_from_bank": inst.ClaimFromBank,
		"version":         inst.Version,
		"created_at":      inst.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      inst.UpdatedAt.UTC().Format(time.RFC3339),
		"fields":          fields,
	}
}

func formStateToMap(view formstate.View) map[string]interface{} {
	stages := make([]interface{}, 0, len(view.Stages))
	for _, sv := range view.Stages {
		fields := make([]interface{}, 0, len(sv.Fields))
		for _, fv := range sv.Fields {
			fields = append(fields, map[string]interface{}{
				"field":    string(fv.Field),
				"value":    fv.Value,
				"required": fv.Required,
				"editable": fv.Editable,
			})
		}
		stages = append(stages, map[string]interface{}{
			"stage":     int(sv.Stage),
			"name":      sv.Name,
			"reachable": sv.Reachable,
			"writable":  sv.Writable,
			"complete":  sv.Complete,
			"fields":    fields,
		})
	}

	return map[string]interface{}{
		"type":            string(view.Type),
		"status":          string(view.Status),
		"claim_from_bank": view.ClaimFromBank,
		"can_claim":       view.CanClaim,
		"can_override":    view.CanOverride,
		"pending_stage":   int(view.PendingStage),
		"stages":          stages,
	}
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var (
		validationErr *domain.ValidationError
		authErr       *domain.AuthorizationError
		immutableErr  *domain.ImmutableFieldError
		invariantErr  *domain.InvariantViolationError
		stageErr      *domain.InvalidStageError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &stageErr):
		return status.Errorf(codes.InvalidArgument, "%s", err.Error())
	case errors.As(err, &authErr):
		return status.Errorf(codes.PermissionDenied, "%s", err.Error())
	case errors.As(err, &immutableErr), errors.As(err, &invariantErr):
		return status.Errorf(codes.FailedPrecondition, "%s", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s", err.Error())
	case errors.Is(err, domain.ErrVersionConflict):
		return status.Errorf(codes.Aborted, "%s", err.Error())
	default:
		return status.Errorf(codes.Internal, "%s", err.Error())
	}
}
