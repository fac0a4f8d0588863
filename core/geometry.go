package core

import "math"

// DefaultGridSize is the edge length of one grid cell in screen units.
const DefaultGridSize = 20

// GridPos is the cell a device occupies, in grid units.
type GridPos struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Point is a continuous position in grid units, used for interpolated
// request positions.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Point converts the cell to a continuous position.
func (p GridPos) Point() Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// DistanceTo returns the Euclidean distance between two cells in grid
// units.
func (p GridPos) DistanceTo(other GridPos) float64 {
	dx := float64(p.X - other.X)
	dy := float64(p.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// CellAt snaps a screen coordinate onto the grid.
func CellAt(x, y float64, gridSize int) GridPos {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	return GridPos{
		X: int(math.Floor(x / float64(gridSize))),
		Y: int(math.Floor(y / float64(gridSize))),
	}
}

// CableCost is the price of a cable of the given spec between two cells:
// round(distance × costPerUnit).
func CableCost(a, b GridPos, spec CableSpec) int {
	return int(math.Round(a.DistanceTo(b) * spec.CostPerUnit))
}

// Lerp interpolates between a and b. t is clamped to [0,1].
func Lerp(a, b Point, t float64) Point {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return Point{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
	}
}
