package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
	"github.com/pesio-ai/be-procurement-approvals/internal/service"
)

// ApprovalServiceName is the fully qualified gRPC service name
const ApprovalServiceName = "procurement.approvals.v1.ApprovalService"

// ApprovalServiceServer is the server API for the approval service. Messages
// are google.protobuf.Struct so the service needs no generated stubs.
type ApprovalServiceServer interface {
	GetRequiredLevels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetApprovalState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordDecision(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalServiceDesc describes ApprovalServiceServer for grpc.Server
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRequiredLevels", Handler: unaryHandler(ApprovalServiceServer.GetRequiredLevels, "GetRequiredLevels")},
		{MethodName: "GetApprovalState", Handler: unaryHandler(ApprovalServiceServer.GetApprovalState, "GetApprovalState")},
		{MethodName: "RecordDecision", Handler: unaryHandler(ApprovalServiceServer.RecordDecision, "RecordDecision")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procurement/approvals/v1/approvals.proto",
}

// RegisterApprovalServiceServer registers srv on s
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

type structMethod func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(call structMethod, method string) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ApprovalServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	tracker  *service.WorkflowStatusTracker
	resolver *service.ApprovalResolver
	logger   zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(tracker *service.WorkflowStatusTracker, resolver *service.ApprovalResolver, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		tracker:  tracker,
		resolver: resolver,
		logger:   logger.With().Str("handler", "grpc").Logger(),
	}
}

// GetRequiredLevels returns the bands a value falls into
func (h *GRPCHandler) GetRequiredLevels(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	projectID := stringField(req, "project_id")
	h.logger.Info().
		Str("project_id", projectID).
		Msg("gRPC GetRequiredLevels called")

	value, err := decimalField(req, "value")
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	bands, err := h.resolver.RequiredLevels(ctx, projectID, value)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	return toStruct(map[string]interface{}{
		"project_id":      projectID,
		"value":           value,
		"required_levels": bands,
	})
}

// GetApprovalState returns a requisition's approval sub-state
func (h *GRPCHandler) GetApprovalState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requisitionID := stringField(req, "requisition_id")
	h.logger.Info().
		Str("requisition_id", requisitionID).
		Msg("gRPC GetApprovalState called")

	if requisitionID == "" {
		return nil, mapErrorToGRPC(errors.InvalidInput("requisition_id", "is required"))
	}

	state, err := h.tracker.ApprovalState(ctx, requisitionID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	return toStruct(state)
}

// RecordDecision appends an approval decision
func (h *GRPCHandler) RecordDecision(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := service.AppendDecisionRequest{
		RequisitionID: stringField(req, "requisition_id"),
		Status:        repository.DecisionStatus(stringField(req, "status")),
		ApproverID:    stringField(req, "approver_id"),
		ApproverName:  stringField(req, "approver_name"),
		Comments:      stringField(req, "comments"),
	}
	h.logger.Info().
		Str("requisition_id", in.RequisitionID).
		Str("status", string(in.Status)).
		Msg("gRPC RecordDecision called")

	level, err := intField(req, "level")
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	in.Level = level

	outcome, err := h.tracker.RecordDecision(ctx, in)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to record decision")
		return nil, mapErrorToGRPC(err)
	}

	return toStruct(outcome)
}

// ── Helper functions ──────────────────────────────────────────────────────────

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// decimalField accepts both string and number values; strings keep full
// precision.
func decimalField(s *structpb.Struct, key string) (decimal.Decimal, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return decimal.Zero, errors.InvalidInput(key, "is required")
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(kind.StringValue)
		if err != nil {
			return decimal.Zero, errors.InvalidInput(key, "must be a decimal number")
		}
		return d, nil
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(kind.NumberValue), nil
	default:
		return decimal.Zero, errors.InvalidInput(key, "must be a decimal number")
	}
}

// intField reads a required integer in [1, MaxInt32].
func intField(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, errors.InvalidInput(key, "is required")
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.InvalidInput(key, "must be an integer")
	}
	n := num.NumberValue
	if math.IsNaN(n) || n != math.Trunc(n) {
		return 0, errors.InvalidInput(key, "must be an integer")
	}
	if n < 1 || n > math.MaxInt32 {
		return 0, errors.InvalidInput(key, fmt.Sprintf("must be between 1 and %d", math.MaxInt32))
	}
	return int(n), nil
}

// toStruct converts a JSON-tagged value to a Struct via its JSON form so the
// gRPC and HTTP representations stay identical.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := errors.Message(err)
	switch errors.Code(err) {
	case errors.ErrCodeValidation:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeNotFound, errors.ErrCodeUnknownProject:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
