// Package grpcsvc exposes resource bindings as a gRPC service built at runtime
// from their message descriptors.
package grpcsvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/morezero/resource-rpc/pkg/resource"
)

const logPrefix = "grpcsvc:service"

// NewServiceDesc builds the descriptor of the gRPC service serviceName whose
// methods are the given bindings. Register it with Register.
func NewServiceDesc(serviceName string, bindings []resource.Binding) (*grpc.ServiceDesc, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("%s - service name is required", logPrefix)
	}
	desc := &grpc.ServiceDesc{
		ServiceName: serviceName,
		// No generated server interface to check against.
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    serviceName,
	}
	seen := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if seen[b.Method] {
			return nil, fmt.Errorf("%s - duplicate method %s/%s", logPrefix, serviceName, b.Method)
		}
		seen[b.Method] = true
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: b.Method,
			Handler:    unaryHandler(serviceName, b),
		})
	}
	return desc, nil
}

// Register builds the service and registers it on s.
func Register(s *grpc.Server, serviceName string, bindings []resource.Binding) error {
	desc, err := NewServiceDesc(serviceName, bindings)
	if err != nil {
		return err
	}
	s.RegisterService(desc, nil)
	slog.Info(fmt.Sprintf("%s - Registered %s with %d methods", logPrefix, serviceName, len(desc.Methods)))
	return nil
}

func unaryHandler(serviceName string, b resource.Binding) grpc.MethodHandler {
	fullMethod := "/" + serviceName + "/" + b.Method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := b.NewRequest()
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			md, _ := metadata.FromIncomingContext(ctx)
			resp, err := b.Call(ctx, req.(proto.Message), md)
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
	}
}

// LoggingInterceptor logs each unary call at debug level and failures at warn.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %s failed after %s: %s", logPrefix, info.FullMethod, time.Since(start), status.Code(err)))
			return nil, err
		}
		slog.Debug(fmt.Sprintf("%s - %s ok in %s", logPrefix, info.FullMethod, time.Since(start)))
		return resp, nil
	}
}
