package viewer

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/internal/observability"
)

// NewGRPCServer returns a gRPC server with the viewer service registered.
// Every RPC gets a server span from otelgrpc, then passes through the
// request-id, span annotation and (when collector is non-nil) metrics
// interceptors in that order.
func NewGRPCServer(src Source, log logging.Logger, collector *observability.SimCollector, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		SpanAnnotationUnaryServerInterceptor(),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}

	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	server := grpc.NewServer(opts...)
	RegisterSnapshotServiceServer(server, NewService(src, log))
	return server
}
