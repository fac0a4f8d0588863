package model

import (
	"math"

	"github.com/signalsfoundry/netsim/core"
)

// RequestID identifies a request within a session. IDs are assigned in
// generation order starting at 0.
type RequestID int

// RequestState is the lifecycle stage of a request.
type RequestState string

const (
	RequestUnrouted  RequestState = "unrouted"
	RequestInTransit RequestState = "in-transit"
	RequestCompleted RequestState = "completed"
	RequestFailed    RequestState = "failed"
)

// FailureReason records why a request failed.
type FailureReason string

const (
	FailureNone       FailureReason = ""
	FailureUnroutable FailureReason = "unroutable"
	FailureOverload   FailureReason = "overload"
)

// Request is one unit of simulated traffic from a client to a server.
//
// Once Path is set it never changes. Progress is measured in distance
// units along Path (core.DistanceUnitsPerHop per hop) and never
// decreases while the request is in transit.
type Request struct {
	ID          RequestID     `json:"id"`
	Source      core.DeviceID `json:"source"`
	Destination core.DeviceID `json:"destination"`

	Path     []core.DeviceID `json:"path,omitempty"`
	Progress float64         `json:"progress"`

	Active     bool `json:"active"`
	Successful bool `json:"successful"`

	CreatedTick  uint64        `json:"createdTick"`
	FinishedTick uint64        `json:"finishedTick,omitempty"`
	Failure      FailureReason `json:"failure,omitempty"`
}

// NewRequest returns an unrouted, active request.
func NewRequest(id RequestID, src, dst core.DeviceID, tick uint64) Request {
	return Request{
		ID:          id,
		Source:      src,
		Destination: dst,
		Active:      true,
		CreatedTick: tick,
	}
}

// State derives the lifecycle stage from Active, Successful and Path.
func (r *Request) State() RequestState {
	switch {
	case r.Active && len(r.Path) == 0:
		return RequestUnrouted
	case r.Active:
		return RequestInTransit
	case r.Successful:
		return RequestCompleted
	default:
		return RequestFailed
	}
}

// Terminal reports whether the request has completed or failed.
func (r *Request) Terminal() bool {
	return !r.Active
}

// SegmentIndex is the index into Path of the device the request most
// recently left.
func (r *Request) SegmentIndex() int {
	return int(math.Floor(r.Progress / core.DistanceUnitsPerHop))
}

// SegmentFraction is how far along the current segment the request is,
// in [0,1).
func (r *Request) SegmentFraction() float64 {
	return math.Mod(r.Progress, core.DistanceUnitsPerHop) / core.DistanceUnitsPerHop
}

// Route assigns the path of an unrouted request.
func (r *Request) Route(path []core.DeviceID) {
	r.Path = append([]core.DeviceID(nil), path...)
}

// Complete marks the request as successfully delivered.
func (r *Request) Complete(tick uint64) {
	r.Active = false
	r.Successful = true
	r.FinishedTick = tick
}

// Fail marks the request as failed.
func (r *Request) Fail(reason FailureReason, tick uint64) {
	r.Active = false
	r.Successful = false
	r.Failure = reason
	r.FinishedTick = tick
}

// Clone returns a deep copy.
func (r Request) Clone() Request {
	r.Path = append([]core.DeviceID(nil), r.Path...)
	return r
}
