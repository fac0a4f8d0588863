package core

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrCableNotFound     = errors.New("cable not found")
	ErrSameDevice        = errors.New("cannot connect a device to itself")
	ErrCableExists       = errors.New("cable already connects these devices")
	ErrUnknownDeviceKind = errors.New("unknown device kind")
	ErrUnknownCableKind  = errors.New("unknown cable kind")
	ErrInvalidCapacity   = errors.New("cable capacity must be positive")
)

// Topology is the store of devices and cables. Devices and cables live
// in flat arenas indexed by their IDs; adjacency and cable lookup are
// id-keyed, so the graph holds no pointer cycles.
//
// Topology is safe for concurrent use. Accessors return copies; callers
// mutate loads through IncrementLoad and ResetLoads only.
type Topology struct {
	mu sync.RWMutex

	devices []Device
	cables  []Cable
	byPair  map[pairKey]CableID
	byCell  map[GridPos]DeviceID
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{
		byPair: make(map[pairKey]CableID),
		byCell: make(map[GridPos]DeviceID),
	}
}

//
// ---------- Devices ----------
//

// AddDevice appends a device and returns a copy of it. It has no effect
// on connections. Cell occupancy and budget are the caller's concern;
// DeviceAt keeps reporting the first device placed on a cell.
func (t *Topology) AddDevice(kind DeviceKind, pos GridPos, capacity, cost int) Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := Device{
		ID:       DeviceID(len(t.devices)),
		Kind:     kind,
		Position: pos,
		Capacity: capacity,
		Cost:     cost,
	}
	t.devices = append(t.devices, d)
	if _, taken := t.byCell[pos]; !taken {
		t.byCell[pos] = d.ID
	}
	return d.clone()
}

// Device returns the device with the given ID.
func (t *Topology) Device(id DeviceID) (Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.validLocked(id) {
		return Device{}, false
	}
	return t.devices[id].clone(), true
}

// DeviceAt returns the device occupying pos, if any.
func (t *Topology) DeviceAt(pos GridPos) (Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byCell[pos]
	if !ok {
		return Device{}, false
	}
	return t.devices[id].clone(), true
}

// Devices returns every device in creation order.
func (t *Topology) Devices() []Device {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d.clone())
	}
	return out
}

// DevicesOfKind returns the IDs of every device of the given kind, in
// creation order.
func (t *Topology) DevicesOfKind(kind DeviceKind) []DeviceID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []DeviceID
	for _, d := range t.devices {
		if d.Kind == kind {
			out = append(out, d.ID)
		}
	}
	return out
}

// Neighbors returns the devices adjacent to id in cable creation order.
func (t *Topology) Neighbors(id DeviceID) []DeviceID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.validLocked(id) {
		return nil
	}
	return append([]DeviceID(nil), t.devices[id].Neighbors...)
}

// Kind returns the kind of device id.
func (t *Topology) Kind(id DeviceID) (DeviceKind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.validLocked(id) {
		return "", false
	}
	return t.devices[id].Kind, true
}

// Len returns the number of devices and cables.
func (t *Topology) Len() (devices, cables int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.devices), len(t.cables)
}

//
// ---------- Cables ----------
//

// Connect creates a cable between a and b and records the adjacency in
// both directions. At most one cable may join any unordered pair and its
// capacity must be positive. Cost and budget checks are the caller's
// responsibility.
func (t *Topology) Connect(a, b DeviceID, kind CableKind, capacity, cost int) (Cable, error) {
	if a == b {
		return Cable{}, fmt.Errorf("%w: %d", ErrSameDevice, a)
	}
	if capacity <= 0 {
		return Cable{}, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.validLocked(a) {
		return Cable{}, fmt.Errorf("%w: %d", ErrDeviceNotFound, a)
	}
	if !t.validLocked(b) {
		return Cable{}, fmt.Errorf("%w: %d", ErrDeviceNotFound, b)
	}
	key := keyFor(a, b)
	if existing, ok := t.byPair[key]; ok {
		return Cable{}, fmt.Errorf("%w: %d-%d (cable %d)", ErrCableExists, a, b, existing)
	}

	c := Cable{
		ID:       CableID(len(t.cables)),
		A:        a,
		B:        b,
		Kind:     kind,
		Capacity: capacity,
		Cost:     cost,
	}
	t.cables = append(t.cables, c)
	t.byPair[key] = c.ID

	t.devices[a].Neighbors = append(t.devices[a].Neighbors, b)
	t.devices[b].Neighbors = append(t.devices[b].Neighbors, a)

	return c, nil
}

// CableBetween returns the cable joining a and b in either order.
func (t *Topology) CableBetween(a, b DeviceID) (Cable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byPair[keyFor(a, b)]
	if !ok {
		return Cable{}, false
	}
	return t.cables[id], true
}

// Cable returns a cable by ID.
func (t *Topology) Cable(id CableID) (Cable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id < 0 || int(id) >= len(t.cables) {
		return Cable{}, false
	}
	return t.cables[id], true
}

// Cables returns every cable in creation order.
func (t *Topology) Cables() []Cable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Cable(nil), t.cables...)
}

// IncrementLoad adds one request to the cable's load for this tick and
// returns the updated cable.
func (t *Topology) IncrementLoad(id CableID) (Cable, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || int(id) >= len(t.cables) {
		return Cable{}, fmt.Errorf("%w: %d", ErrCableNotFound, id)
	}
	t.cables[id].CurrentLoad++
	return t.cables[id], nil
}

// ResetLoads zeroes the load of every cable. The tick function calls it
// exactly once per tick, before any request advances.
func (t *Topology) ResetLoads() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.cables {
		t.cables[i].CurrentLoad = 0
	}
}

func (t *Topology) validLocked(id DeviceID) bool {
	return id >= 0 && int(id) < len(t.devices)
}
