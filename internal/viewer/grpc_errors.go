package viewer

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/sim/state"
)

// ErrInvalidArgument marks malformed viewer requests.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, core.ErrDeviceNotFound),
		errors.Is(err, core.ErrCableNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, core.ErrSameDevice),
		errors.Is(err, core.ErrUnknownDeviceKind),
		errors.Is(err, core.ErrUnknownCableKind),
		errors.Is(err, core.ErrInvalidCapacity),
		errors.Is(err, state.ErrNotEndpoint):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, state.ErrInsufficientBudget),
		errors.Is(err, state.ErrNoRemainingRequests):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, core.ErrCableExists),
		errors.Is(err, state.ErrCellOccupied):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
