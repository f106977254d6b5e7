package chunk

import "yave.dev/internal/world/material"

// Generator decides the material at a world position. y is the height inside the
// chunk (0..15); chunks are one section tall.
type Generator interface {
	Material(wx, y, wz int64) (id string, solid bool)
}

// Flat fills every position with one material.
type Flat struct {
	ID    string
	Solid bool
}

func (f Flat) Material(int64, int64, int64) (string, bool) { return f.ID, f.Solid }

// Layered builds rolling columns: stone, a few layers of dirt, grass on top and air
// above. Column height is a deterministic hash of (Seed, x, z) smoothed over a grid so
// neighbouring chunks line up.
type Layered struct {
	Seed int64
	// MinHeight/MaxHeight bound the surface height inside the chunk (0..15).
	MinHeight int
	MaxHeight int
	// Grid is the spacing, in blocks, of height control points.
	Grid int
	// DirtDepth is the number of dirt layers under the grass (default 3).
	DirtDepth int
	// Solid resolves solidity from the material registry. Nil treats air as the only
	// non-solid layer.
	Solid SolidityFunc
}

func (l Layered) Material(wx, y, wz int64) (string, bool) {
	h := int64(l.surface(wx, wz))
	var id string
	switch {
	case y > h:
		id = material.Air
	case y == h:
		id = material.Grass
	case y >= h-int64(l.dirtDepth()):
		id = material.Dirt
	default:
		id = material.Stone
	}
	if l.Solid != nil {
		return id, l.Solid(id)
	}
	return id, id != material.Air
}

func (l Layered) dirtDepth() int {
	if l.DirtDepth <= 0 {
		return 3
	}
	return l.DirtDepth
}

func (l Layered) surface(wx, wz int64) int {
	lo, hi := l.MinHeight, l.MaxHeight
	if lo < 0 {
		lo = 0
	}
	if hi <= lo || hi > Size-1 {
		hi = Size - 1
		if hi <= lo {
			return lo
		}
	}
	grid := int64(l.Grid)
	if grid <= 0 {
		grid = 8
	}
	gx, gz := floorDiv(wx, grid), floorDiv(wz, grid)
	fx := float64(wx-gx*grid) / float64(grid)
	fz := float64(wz-gz*grid) / float64(grid)

	corner := func(cx, cz int64) float64 {
		return float64(hash2(l.Seed, cx, cz)%1000) / 1000
	}
	top := lerp(corner(gx, gz), corner(gx+1, gz), fx)
	bottom := lerp(corner(gx, gz+1), corner(gx+1, gz+1), fx)
	n := lerp(top, bottom, fz)
	return lo + int(n*float64(hi-lo)+0.5)
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int64) uint64 {
	v := uint64(seed) ^ (uint64(x) * 0x9e3779b97f4a7c15) ^ (uint64(z) * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
