package state

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/netsim/core"
)

// Scenario is an initial topology described in YAML. Devices are named
// so cables can refer to them; the names never reach the topology.
type Scenario struct {
	Name    string           `yaml:"name"`
	Devices []ScenarioDevice `yaml:"devices"`
	Cables  []ScenarioCable  `yaml:"cables"`
}

// ScenarioDevice places one device, either on the cell X,Y or at a
// screen coordinate that is snapped to the grid. Screen wins when set.
type ScenarioDevice struct {
	Name   string      `yaml:"name"`
	Kind   string      `yaml:"kind"`
	X      int         `yaml:"x"`
	Y      int         `yaml:"y"`
	Screen *core.Point `yaml:"screen,omitempty"`
}

// Cell returns the grid cell the device goes on.
func (d ScenarioDevice) Cell(gridSize int) core.GridPos {
	if d.Screen != nil {
		return core.CellAt(d.Screen.X, d.Screen.Y, gridSize)
	}
	return core.GridPos{X: d.X, Y: d.Y}
}

// ScenarioCable connects two named devices. Capacity, when set,
// overrides the catalog capacity.
type ScenarioCable struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Kind     string `yaml:"kind"`
	Capacity int    `yaml:"capacity,omitempty"`
}

// ScenarioResult maps scenario device names to the IDs they were given.
type ScenarioResult struct {
	Devices map[string]core.DeviceID
	Cables  []core.CableID
}

// LoadScenario decodes a YAML scenario from r. It fails only on
// structural errors; placement rules are checked by ApplyScenario.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return &sc, nil
		}
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadScenarioFile reads a scenario from disk.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: %w", err)
	}
	defer f.Close()
	return LoadScenario(f)
}

// Validate checks names are unique and cables refer to known devices
// with known kinds.
func (sc *Scenario) Validate() error {
	var errs []error
	names := make(map[string]bool, len(sc.Devices))
	for i, d := range sc.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("device %d: name is required", i))
		} else if names[d.Name] {
			errs = append(errs, fmt.Errorf("device %q: duplicate name", d.Name))
		}
		names[d.Name] = true
		if _, err := core.ParseDeviceKind(d.Kind); err != nil {
			errs = append(errs, fmt.Errorf("device %q: %w", d.Name, err))
		}
	}
	for i, c := range sc.Cables {
		if !names[c.From] {
			errs = append(errs, fmt.Errorf("cable %d: unknown device %q", i, c.From))
		}
		if !names[c.To] {
			errs = append(errs, fmt.Errorf("cable %d: unknown device %q", i, c.To))
		}
		if _, err := core.ParseCableKind(c.Kind); err != nil {
			errs = append(errs, fmt.Errorf("cable %d: %w", i, err))
		}
		if c.Capacity < 0 {
			errs = append(errs, fmt.Errorf("cable %d: negative capacity", i))
		}
	}
	return errors.Join(errs...)
}

// ApplyScenario places every device and cable through the budgeted
// operations, in file order. Screen positions are snapped with gridSize
// (a non-positive size uses core.DefaultGridSize). It stops at the first
// rejection; whatever was bought before it stays bought.
func ApplyScenario(s *SimulationState, sc *Scenario, gridSize int) (*ScenarioResult, error) {
	if s == nil || sc == nil {
		return nil, errors.New("ApplyScenario: state and scenario are required")
	}
	res := &ScenarioResult{Devices: make(map[string]core.DeviceID, len(sc.Devices))}

	for _, d := range sc.Devices {
		kind, err := core.ParseDeviceKind(d.Kind)
		if err != nil {
			return res, fmt.Errorf("device %q: %w", d.Name, err)
		}
		placed, err := s.PlaceDevice(kind, d.Cell(gridSize))
		if err != nil {
			return res, fmt.Errorf("device %q: %w", d.Name, err)
		}
		res.Devices[d.Name] = placed.ID
	}

	for i, c := range sc.Cables {
		kind, err := core.ParseCableKind(c.Kind)
		if err != nil {
			return res, fmt.Errorf("cable %d: %w", i, err)
		}
		from, ok := res.Devices[c.From]
		if !ok {
			return res, fmt.Errorf("cable %d: %w: %q", i, ErrDeviceNotFound, c.From)
		}
		to, ok := res.Devices[c.To]
		if !ok {
			return res, fmt.Errorf("cable %d: %w: %q", i, ErrDeviceNotFound, c.To)
		}
		var opts []ConnectOption
		if c.Capacity > 0 {
			opts = append(opts, WithCableCapacity(c.Capacity))
		}
		cable, err := s.ConnectDevices(from, to, kind, opts...)
		if err != nil {
			return res, fmt.Errorf("cable %s-%s: %w", c.From, c.To, err)
		}
		res.Cables = append(res.Cables, cable.ID)
	}
	return res, nil
}
