package core

import (
	"errors"
	"sync"
	"testing"
)

func newLine(t *testing.T, kinds ...DeviceKind) (*Topology, []DeviceID) {
	t.Helper()
	topo := NewTopology()
	ids := make([]DeviceID, len(kinds))
	for i, k := range kinds {
		ids[i] = topo.AddDevice(k, GridPos{X: i * 2, Y: 0}, 4, 0).ID
	}
	for i := 0; i+1 < len(ids); i++ {
		if _, err := topo.Connect(ids[i], ids[i+1], CableFiber, 5, 20); err != nil {
			t.Fatalf("Connect(%d,%d): %v", ids[i], ids[i+1], err)
		}
	}
	return topo, ids
}

func TestAddDeviceAssignsSequentialIDs(t *testing.T) {
	topo := NewTopology()
	a := topo.AddDevice(DeviceClient, GridPos{1, 1}, 10, 0)
	b := topo.AddDevice(DeviceRouter, GridPos{2, 1}, 4, 1500)

	if a.ID != 0 || b.ID != 1 {
		t.Fatalf("ids = %d,%d, want 0,1", a.ID, b.ID)
	}
	if len(a.Neighbors) != 0 {
		t.Fatalf("new device should have no neighbors")
	}
	if n, c := topo.Len(); n != 2 || c != 0 {
		t.Fatalf("Len = %d devices %d cables", n, c)
	}
}

func TestDeviceAtReportsFirstPlacement(t *testing.T) {
	topo := NewTopology()
	first := topo.AddDevice(DeviceClient, GridPos{3, 3}, 10, 0)
	topo.AddDevice(DeviceServer, GridPos{3, 3}, 5, 2000)

	got, ok := topo.DeviceAt(GridPos{3, 3})
	if !ok || got.ID != first.ID {
		t.Fatalf("DeviceAt = %+v,%v, want device %d", got, ok, first.ID)
	}
	if _, ok := topo.DeviceAt(GridPos{0, 0}); ok {
		t.Fatalf("empty cell reported occupied")
	}
}

func TestConnectIsSymmetric(t *testing.T) {
	topo, ids := newLine(t, DeviceClient, DeviceRouter, DeviceServer)

	for _, pair := range [][2]DeviceID{{ids[0], ids[1]}, {ids[1], ids[2]}} {
		a, b := pair[0], pair[1]
		if !contains(topo.Neighbors(a), b) || !contains(topo.Neighbors(b), a) {
			t.Fatalf("adjacency not symmetric for %d-%d", a, b)
		}
		c1, ok1 := topo.CableBetween(a, b)
		c2, ok2 := topo.CableBetween(b, a)
		if !ok1 || !ok2 || c1.ID != c2.ID {
			t.Fatalf("CableBetween not order independent: %v %v", c1, c2)
		}
	}
	if _, ok := topo.CableBetween(ids[0], ids[2]); ok {
		t.Fatalf("unexpected cable between endpoints")
	}
}

func TestConnectRejectsSelfAndDuplicates(t *testing.T) {
	topo, ids := newLine(t, DeviceClient, DeviceServer)

	if _, err := topo.Connect(ids[0], ids[0], CableCopper, 3, 0); !errors.Is(err, ErrSameDevice) {
		t.Fatalf("expected ErrSameDevice, got %v", err)
	}
	if _, err := topo.Connect(ids[1], ids[0], CableCopper, 3, 0); !errors.Is(err, ErrCableExists) {
		t.Fatalf("expected ErrCableExists, got %v", err)
	}
	if _, err := topo.Connect(ids[0], 42, CableCopper, 3, 0); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	extra := topo.AddDevice(DeviceRouter, GridPos{X: 9, Y: 9}, 4, 0).ID
	for _, capacity := range []int{0, -2} {
		if _, err := topo.Connect(ids[0], extra, CableCopper, capacity, 0); !errors.Is(err, ErrInvalidCapacity) {
			t.Fatalf("capacity %d: expected ErrInvalidCapacity, got %v", capacity, err)
		}
	}
	if _, c := topo.Len(); c != 1 {
		t.Fatalf("rejected connects must not add cables, have %d", c)
	}
	if n := topo.Neighbors(extra); len(n) != 0 {
		t.Fatalf("rejected connects must not touch adjacency: %v", n)
	}
	if n := topo.Neighbors(ids[0]); len(n) != 1 {
		t.Fatalf("rejected connects must not touch adjacency: %v", n)
	}
}

func TestNeighborsKeepCableOrder(t *testing.T) {
	topo := NewTopology()
	hub := topo.AddDevice(DeviceRouter, GridPos{0, 0}, 4, 0).ID
	var spokes []DeviceID
	for i := 1; i <= 3; i++ {
		spokes = append(spokes, topo.AddDevice(DeviceClient, GridPos{i, 0}, 10, 0).ID)
	}
	for i := len(spokes) - 1; i >= 0; i-- {
		if _, err := topo.Connect(hub, spokes[i], CableCopper, 3, 5); err != nil {
			t.Fatal(err)
		}
	}

	got := topo.Neighbors(hub)
	want := []DeviceID{spokes[2], spokes[1], spokes[0]}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Neighbors = %v, want %v", got, want)
		}
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	topo, ids := newLine(t, DeviceClient, DeviceServer)

	d, _ := topo.Device(ids[0])
	d.Neighbors[0] = 99
	if n := topo.Neighbors(ids[0]); n[0] != ids[1] {
		t.Fatalf("mutating a copy leaked into the store: %v", n)
	}

	cables := topo.Cables()
	cables[0].CurrentLoad = 7
	if c, _ := topo.Cable(cables[0].ID); c.CurrentLoad != 0 {
		t.Fatalf("mutating Cables() result leaked into the store")
	}
}

func TestIncrementAndResetLoads(t *testing.T) {
	topo, ids := newLine(t, DeviceClient, DeviceRouter, DeviceServer)
	c, _ := topo.CableBetween(ids[0], ids[1])

	for i := 0; i < 3; i++ {
		if _, err := topo.IncrementLoad(c.ID); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := topo.Cable(c.ID)
	if got.CurrentLoad != 3 {
		t.Fatalf("load = %d, want 3", got.CurrentLoad)
	}

	topo.ResetLoads()
	for _, cable := range topo.Cables() {
		if cable.CurrentLoad != 0 {
			t.Fatalf("cable %d load = %d after reset", cable.ID, cable.CurrentLoad)
		}
	}

	if _, err := topo.IncrementLoad(CableID(17)); !errors.Is(err, ErrCableNotFound) {
		t.Fatalf("expected ErrCableNotFound, got %v", err)
	}
}

func TestConcurrentIncrementLoad(t *testing.T) {
	topo, ids := newLine(t, DeviceClient, DeviceServer)
	c, _ := topo.CableBetween(ids[0], ids[1])

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = topo.IncrementLoad(c.ID)
			_ = topo.Cables()
		}()
	}
	wg.Wait()

	got, _ := topo.Cable(c.ID)
	if got.CurrentLoad != 50 {
		t.Fatalf("load = %d, want 50", got.CurrentLoad)
	}
}

func TestDevicesOfKind(t *testing.T) {
	topo, ids := newLine(t, DeviceClient, DeviceRouter, DeviceClient, DeviceServer)

	clients := topo.DevicesOfKind(DeviceClient)
	if len(clients) != 2 || clients[0] != ids[0] || clients[1] != ids[2] {
		t.Fatalf("clients = %v", clients)
	}
	if k, ok := topo.Kind(ids[3]); !ok || k != DeviceServer {
		t.Fatalf("Kind = %q,%v", k, ok)
	}
	if _, ok := topo.Kind(NoDevice); ok {
		t.Fatalf("NoDevice should not resolve")
	}
}

func contains(ids []DeviceID, id DeviceID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
