package core

import (
	"fmt"
	"strings"
)

// DeviceID is the stable arena index of a device in a Topology.
type DeviceID int

// NoDevice is returned by lookups that did not match any device.
const NoDevice DeviceID = -1

// DeviceKind names the role a device plays in the network.
type DeviceKind string

const (
	DeviceRouter DeviceKind = "router"
	DeviceSwitch DeviceKind = "switch"
	DeviceServer DeviceKind = "server"
	DeviceClient DeviceKind = "client"
)

// DeviceKinds lists every kind in catalog order.
var DeviceKinds = []DeviceKind{DeviceRouter, DeviceSwitch, DeviceServer, DeviceClient}

// IsEndpoint reports whether the kind terminates traffic (client or
// server) rather than forwarding it.
func (k DeviceKind) IsEndpoint() bool {
	return k == DeviceClient || k == DeviceServer
}

// ParseDeviceKind maps a user-supplied name onto a DeviceKind.
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch k := DeviceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case DeviceRouter, DeviceSwitch, DeviceServer, DeviceClient:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDeviceKind, s)
	}
}

// Device is a node in the topology.
//
// Capacity is advisory: it describes how many cables the device is meant
// to terminate but Connect never enforces it.
type Device struct {
	ID       DeviceID   `json:"id" yaml:"id"`
	Kind     DeviceKind `json:"kind" yaml:"kind"`
	Position GridPos    `json:"position" yaml:"position"`
	Capacity int        `json:"capacity" yaml:"capacity"`
	Cost     int        `json:"cost" yaml:"cost"`

	// Neighbors lists adjacent devices in the order their cables were
	// created. Path enumeration walks this order, so it must stay stable.
	Neighbors []DeviceID `json:"neighbors,omitempty" yaml:"neighbors,omitempty"`
}

func (d Device) clone() Device {
	d.Neighbors = append([]DeviceID(nil), d.Neighbors...)
	return d
}
