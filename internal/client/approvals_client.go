package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const approvalServicePath = "/procurement.approvals.v1.ApprovalService/"

// ApprovalsGRPCClient calls the approval service over gRPC. Requests and
// responses are google.protobuf.Struct values carrying the JSON field names.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// GetRequiredLevels returns the bands matched by value for a project. value
// is sent as a string so no precision is lost.
func (c *ApprovalsGRPCClient) GetRequiredLevels(ctx context.Context, projectID, value string) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRequiredLevels", map[string]interface{}{
		"project_id": projectID,
		"value":      value,
	})
}

// GetApprovalState returns the approval sub-state of a requisition, or nil
// if the requisition does not exist.
func (c *ApprovalsGRPCClient) GetApprovalState(ctx context.Context, requisitionID string) (*structpb.Struct, error) {
	resp, err := c.invoke(ctx, "GetApprovalState", map[string]interface{}{
		"requisition_id": requisitionID,
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

// RecordDecision approves or rejects one level of a requisition.
func (c *ApprovalsGRPCClient) RecordDecision(
	ctx context.Context,
	requisitionID string,
	level int,
	decision, approverID, approverName, comments string,
) (*structpb.Struct, error) {
	return c.invoke(ctx, "RecordDecision", map[string]interface{}{
		"requisition_id": requisitionID,
		"level":          level,
		"status":         decision,
		"approver_id":    approverID,
		"approver_name":  approverName,
		"comments":       comments,
	})
}

func (c *ApprovalsGRPCClient) invoke(ctx context.Context, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, approvalServicePath+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
