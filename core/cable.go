package core

import (
	"fmt"
	"strings"
)

// CableID is the stable arena index of a cable in a Topology.
type CableID int

// CableKind is the physical medium of a cable.
type CableKind string

const (
	CableCopper CableKind = "copper"
	CableFiber  CableKind = "fiber"
)

// CableKinds lists every kind in catalog order.
var CableKinds = []CableKind{CableCopper, CableFiber}

// ParseCableKind maps a user-supplied name onto a CableKind.
func ParseCableKind(s string) (CableKind, error) {
	switch k := CableKind(strings.ToLower(strings.TrimSpace(s))); k {
	case CableCopper, CableFiber:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCableKind, s)
	}
}

// LoadLevel is a coarse classification of how busy a cable is this tick,
// used by renderers for colour and width coding.
type LoadLevel string

const (
	LoadIdle   LoadLevel = "idle"
	LoadLight  LoadLevel = "light"
	LoadMedium LoadLevel = "medium"
	LoadHeavy  LoadLevel = "heavy"
)

// Cable is an undirected, capacitated edge between two devices.
type Cable struct {
	ID       CableID   `json:"id" yaml:"id"`
	A        DeviceID  `json:"a" yaml:"a"`
	B        DeviceID  `json:"b" yaml:"b"`
	Kind     CableKind `json:"kind" yaml:"kind"`
	Capacity int       `json:"capacity" yaml:"capacity"`
	Cost     int       `json:"cost" yaml:"cost"`

	// CurrentLoad counts requests crossing the cable during the current
	// tick only. It is zeroed by ResetLoads at the start of every tick.
	CurrentLoad int `json:"currentLoad" yaml:"currentLoad"`
}

// LoadRatio returns CurrentLoad / Capacity. A cable without capacity
// reports 0 so scoring never divides by zero.
func (c Cable) LoadRatio() float64 {
	if c.Capacity <= 0 {
		return 0
	}
	return float64(c.CurrentLoad) / float64(c.Capacity)
}

// Overloaded reports whether the cable carries more requests than it can.
func (c Cable) Overloaded() bool {
	return c.CurrentLoad > c.Capacity
}

// Level classifies the current load ratio.
func (c Cable) Level() LoadLevel {
	ratio := c.LoadRatio()
	switch {
	case ratio > 0.8:
		return LoadHeavy
	case ratio > 0.5:
		return LoadMedium
	case ratio > 0:
		return LoadLight
	default:
		return LoadIdle
	}
}

// pairKey is the unordered endpoint pair used to index cables.
type pairKey struct {
	lo, hi DeviceID
}

func keyFor(a, b DeviceID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}
