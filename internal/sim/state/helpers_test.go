package state

import (
	"testing"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/logging"
)

func newTestState(t *testing.T, budget int) *SimulationState {
	t.Helper()
	return NewSimulationState(budget, 20, logging.Noop())
}

func mustPlace(t *testing.T, s *SimulationState, kind core.DeviceKind, x, y int) core.DeviceID {
	t.Helper()
	d, err := s.PlaceDevice(kind, core.GridPos{X: x, Y: y})
	if err != nil {
		t.Fatalf("PlaceDevice(%s,%d,%d) error = %v", kind, x, y, err)
	}
	return d.ID
}

func mustConnect(t *testing.T, s *SimulationState, a, b core.DeviceID, kind core.CableKind, opts ...ConnectOption) core.Cable {
	t.Helper()
	c, err := s.ConnectDevices(a, b, kind, opts...)
	if err != nil {
		t.Fatalf("ConnectDevices(%d,%d) error = %v", a, b, err)
	}
	return c
}
