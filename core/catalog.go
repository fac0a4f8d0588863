package core

import "fmt"

// DistanceUnitsPerHop is how far a request must progress to cross one
// cable. Request progress is measured in these abstract units.
const DistanceUnitsPerHop = 10

// DeviceSpec describes the purchase properties of a device kind.
type DeviceSpec struct {
	Capacity    int    `json:"capacity" yaml:"capacity"`
	Cost        int    `json:"cost" yaml:"cost"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CableSpec describes a cable kind. CostPerUnit is charged per grid unit
// of Euclidean length; Speed is the distance units a request advances
// per tick.
type CableSpec struct {
	Speed       float64 `json:"speed" yaml:"speed"`
	CostPerUnit float64 `json:"costPerUnit" yaml:"costPerUnit"`
	Capacity    int     `json:"capacity" yaml:"capacity"`
}

// Catalog is the table of purchasable device and cable kinds.
type Catalog struct {
	Devices map[DeviceKind]DeviceSpec `json:"devices" yaml:"devices"`
	Cables  map[CableKind]CableSpec   `json:"cables" yaml:"cables"`
}

// DefaultCatalog returns the stock prices and capacities.
func DefaultCatalog() Catalog {
	return Catalog{
		Devices: map[DeviceKind]DeviceSpec{
			DeviceRouter: {Capacity: 4, Cost: 1500, Description: "Router"},
			DeviceSwitch: {Capacity: 3, Cost: 1000, Description: "Switch"},
			DeviceServer: {Capacity: 5, Cost: 2000, Description: "Server"},
			DeviceClient: {Capacity: 10, Cost: 0, Description: "Client"},
		},
		Cables: map[CableKind]CableSpec{
			CableCopper: {Speed: 1, CostPerUnit: 5, Capacity: 3},
			CableFiber:  {Speed: 2, CostPerUnit: 10, Capacity: 5},
		},
	}
}

// Device returns the spec for kind.
func (c Catalog) Device(kind DeviceKind) (DeviceSpec, error) {
	spec, ok := c.Devices[kind]
	if !ok {
		return DeviceSpec{}, fmt.Errorf("%w: %q", ErrUnknownDeviceKind, kind)
	}
	return spec, nil
}

// Cable returns the spec for kind.
func (c Catalog) Cable(kind CableKind) (CableSpec, error) {
	spec, ok := c.Cables[kind]
	if !ok {
		return CableSpec{}, fmt.Errorf("%w: %q", ErrUnknownCableKind, kind)
	}
	return spec, nil
}

// Merge overlays the non-zero fields of override onto a copy of c.
func (c Catalog) Merge(override Catalog) Catalog {
	out := Catalog{
		Devices: make(map[DeviceKind]DeviceSpec, len(c.Devices)),
		Cables:  make(map[CableKind]CableSpec, len(c.Cables)),
	}
	for k, v := range c.Devices {
		out.Devices[k] = v
	}
	for k, v := range c.Cables {
		out.Cables[k] = v
	}
	for k, v := range override.Devices {
		base := out.Devices[k]
		if v.Capacity != 0 {
			base.Capacity = v.Capacity
		}
		if v.Cost != 0 {
			base.Cost = v.Cost
		}
		if v.Description != "" {
			base.Description = v.Description
		}
		out.Devices[k] = base
	}
	for k, v := range override.Cables {
		base := out.Cables[k]
		if v.Speed != 0 {
			base.Speed = v.Speed
		}
		if v.CostPerUnit != 0 {
			base.CostPerUnit = v.CostPerUnit
		}
		if v.Capacity != 0 {
			base.Capacity = v.Capacity
		}
		out.Cables[k] = base
	}
	return out
}

// Validate checks every known kind is present with sane values.
func (c Catalog) Validate() error {
	for _, kind := range DeviceKinds {
		spec, ok := c.Devices[kind]
		if !ok {
			return fmt.Errorf("catalog: missing device kind %q", kind)
		}
		if spec.Cost < 0 || spec.Capacity < 0 {
			return fmt.Errorf("catalog: device kind %q has negative cost or capacity", kind)
		}
	}
	for _, kind := range CableKinds {
		spec, ok := c.Cables[kind]
		if !ok {
			return fmt.Errorf("catalog: missing cable kind %q", kind)
		}
		if spec.Speed <= 0 {
			return fmt.Errorf("catalog: cable kind %q needs a positive speed", kind)
		}
		if spec.CostPerUnit < 0 || spec.Capacity < 0 {
			return fmt.Errorf("catalog: cable kind %q has negative cost or capacity", kind)
		}
	}
	return nil
}
