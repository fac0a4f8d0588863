// Package viewer serves read-only session state over gRPC. Messages are
// well-known protobuf types: requests are Empty or Struct and every
// response is a Struct holding the JSON form of the engine's values.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/internal/routing"
	"github.com/signalsfoundry/netsim/internal/sim/state"
	"github.com/signalsfoundry/netsim/model"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "netsim.viewer.v1.SnapshotService"

const (
	methodGetSnapshot = "/" + ServiceName + "/GetSnapshot"
	methodGetCounters = "/" + ServiceName + "/GetCounters"
	methodRankPaths   = "/" + ServiceName + "/RankPaths"
)

// Source is what the viewer reads. *engine.Session satisfies it.
type Source interface {
	Snapshot() *state.Snapshot
	Counters() model.Counters
	RankPaths(src, dst core.DeviceID) ([]routing.Candidate, error)
}

// SnapshotServiceServer is the server API of the viewer service.
type SnapshotServiceServer interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetCounters(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RankPaths(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Service implements SnapshotServiceServer over a Source.
type Service struct {
	src Source
	log logging.Logger
}

// NewService constructs the viewer service.
func NewService(src Source, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{src: src, log: log}
}

// GetSnapshot returns devices, cables, requests and counters.
func (s *Service) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ctx, span := StartChildSpan(ctx, "Viewer.Snapshot")
	defer span.End()

	out, err := toStruct(s.src.Snapshot())
	if err != nil {
		s.logger(ctx).Error(ctx, "snapshot encoding failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return out, nil
}

// GetCounters returns the session counters only.
func (s *Service) GetCounters(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.src.Counters())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// RankPaths expects {"source": n, "destination": m} and returns
// {"candidates": [...]} in discovery order.
func (s *Service) RankPaths(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	src, err := deviceField(in, "source")
	if err != nil {
		return nil, ToStatusError(err)
	}
	dst, err := deviceField(in, "destination")
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := StartChildSpan(ctx, "Viewer.RankPaths")
	defer span.End()

	candidates, err := s.src.RankPaths(src, dst)
	if err != nil {
		s.logger(ctx).Debug(ctx, "rank paths rejected", logging.Err(err))
		return nil, ToStatusError(err)
	}
	out, err := toStruct(rankResponse{Candidates: candidates})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// logger prefers the request-scoped logger set by the interceptor.
func (s *Service) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

type rankResponse struct {
	Candidates []routing.Candidate `json:"candidates"`
}

func deviceField(in *structpb.Struct, key string) (core.DeviceID, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return core.NoDevice, fmt.Errorf("%w: missing %q", ErrInvalidArgument, key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return core.NoDevice, fmt.Errorf("%w: %q must be a number", ErrInvalidArgument, key)
	}
	id := core.DeviceID(n.NumberValue)
	if float64(id) != n.NumberValue || id < 0 {
		return core.NoDevice, fmt.Errorf("%w: %q must be a non-negative integer", ErrInvalidArgument, key)
	}
	return id, nil
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON encoding.
func fromStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// RegisterSnapshotServiceServer registers srv on s.
func RegisterSnapshotServiceServer(s grpc.ServiceRegistrar, srv SnapshotServiceServer) {
	s.RegisterService(&SnapshotService_ServiceDesc, srv)
}

// SnapshotService_ServiceDesc describes the viewer service for
// grpc.ServiceRegistrar.
var SnapshotService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SnapshotServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
		{MethodName: "GetCounters", Handler: getCountersHandler},
		{MethodName: "RankPaths", Handler: rankPathsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "netsim/viewer/v1/viewer.proto",
}

func getSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotServiceServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetSnapshot}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotServiceServer).GetSnapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getCountersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotServiceServer).GetCounters(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetCounters}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotServiceServer).GetCounters(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func rankPathsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotServiceServer).RankPaths(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRankPaths}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotServiceServer).RankPaths(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
