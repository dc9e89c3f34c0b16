package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/pesio-ai/be-procurement-approvals/internal/middleware"
)

// requestIDMetadataKey is the gRPC metadata key for the request id
const requestIDMetadataKey = "x-request-id"

// forwardMetadata is a gRPC unary client interceptor that propagates incoming
// request metadata (including the Bearer auth token) to outgoing calls and
// tags them with the HTTP request id when one is present.
func forwardMetadata(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = metadata.NewOutgoingContext(ctx, md.Copy())
	}
	if id := middleware.RequestIDFromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
