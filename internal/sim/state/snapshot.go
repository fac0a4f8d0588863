package state

import (
	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/model"
)

// CableView is a cable plus its load classification.
type CableView struct {
	core.Cable
	Level core.LoadLevel `json:"level"`
}

// RequestView is a request plus its derived state and render position.
type RequestView struct {
	model.Request
	State    model.RequestState `json:"state"`
	Position core.Point         `json:"position"`
}

// Snapshot is a consistent read-only copy of the session. Frame and
// GameTime belong to the clock and are filled in by its owner.
type Snapshot struct {
	Tick     uint64         `json:"tick"`
	Frame    uint64         `json:"frame"`
	GameTime float64        `json:"gameTime"`
	Started  bool           `json:"started"`
	Devices  []core.Device  `json:"devices"`
	Cables   []CableView    `json:"cables"`
	Requests []RequestView  `json:"requests"`
	Counters model.Counters `json:"counters"`
}

// Snapshot copies the current state under the read lock.
func (s *SimulationState) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := s.topo.Devices()
	cables := s.topo.Cables()

	snap := &Snapshot{
		Tick:     s.tick,
		Started:  s.started,
		Devices:  devices,
		Cables:   make([]CableView, 0, len(cables)),
		Requests: make([]RequestView, 0, len(s.requests)),
		Counters: s.counters,
	}
	for _, c := range cables {
		snap.Cables = append(snap.Cables, CableView{Cable: c, Level: c.Level()})
	}
	for i := range s.requests {
		r := s.requests[i].Clone()
		snap.Requests = append(snap.Requests, RequestView{
			Request:  r,
			State:    r.State(),
			Position: RequestPosition(devices, &r),
		})
	}
	return snap
}

// RequestPosition interpolates where r is drawn: between path[seg] and
// path[seg+1] at the fraction of the current segment covered. Unrouted
// requests sit on their source and finished paths on their last device.
func RequestPosition(devices []core.Device, r *model.Request) core.Point {
	at := func(id core.DeviceID) core.Point {
		if id < 0 || int(id) >= len(devices) {
			return core.Point{}
		}
		return devices[id].Position.Point()
	}

	if len(r.Path) == 0 {
		return at(r.Source)
	}
	seg := r.SegmentIndex()
	if seg >= len(r.Path)-1 {
		return at(r.Path[len(r.Path)-1])
	}
	return core.Lerp(at(r.Path[seg]), at(r.Path[seg+1]), r.SegmentFraction())
}
