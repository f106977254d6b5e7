package chunk

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"yave.dev/internal/world/block"
	"yave.dev/internal/world/material"
)

const (
	Size   = 16
	Area   = Size * Size
	Volume = Size * Size * Size // 4096

	// MaxCoordinate bounds world coordinates. Beyond 2^52 a float64 no longer resolves
	// single blocks, and chunk keys stay far from int64 overflow.
	MaxCoordinate = 1 << 52
)

// Key identifies a chunk column in the infinite chunk grid. Y is the chunk
// coordinate along the world z axis.
type Key struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

func (k Key) String() string { return fmt.Sprintf("(%d,%d)", k.X, k.Y) }

// KeyForPosition maps a world position to the chunk containing it. Only the
// horizontal axes (x, z) take part. Coordinates are clamped to ±MaxCoordinate and
// NaN maps to 0.
func KeyForPosition(x, z float64) Key {
	return Key{
		X: int64(math.Floor(clampCoordinate(x) / Size)),
		Y: int64(math.Floor(clampCoordinate(z) / Size)),
	}
}

func clampCoordinate(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > MaxCoordinate:
		return MaxCoordinate
	case v < -MaxCoordinate:
		return -MaxCoordinate
	}
	return v
}

// Chunk is a 16x16x16 cube of blocks in canonical order: x fastest, then y, then z.
// A chunk is always fully populated.
type Chunk struct {
	X, Y   int64
	Blocks []block.Block // len = Volume
}

func (c *Chunk) Key() Key { return Key{X: c.X, Y: c.Y} }

// Index returns the canonical flat index of a local position.
func Index(x, y, z int) int {
	return z*Area + y*Size + x
}

// Coords is the inverse of Index.
func Coords(i int) (x, y, z int) {
	z = i / Area
	i -= z * Area
	y = i / Size
	x = i % Size
	return x, y, z
}

// New builds a flat stone chunk.
func New(x, y int64) *Chunk {
	return Generate(x, y, Flat{ID: material.Stone, Solid: true})
}

// Generate fills every position of the chunk at (x, y) from gen, in canonical order.
func Generate(x, y int64, gen Generator) *Chunk {
	c := &Chunk{X: x, Y: y, Blocks: make([]block.Block, Volume)}
	wx0, wz0 := x*Size, y*Size
	for i := range c.Blocks {
		lx, ly, lz := Coords(i)
		id, solid := gen.Material(wx0+int64(lx), int64(ly), wz0+int64(lz))
		c.Blocks[i] = block.New(uint8(lx), uint8(ly), uint8(lz), id, solid)
	}
	return c
}

// Get looks up a block by local coordinates. It reports false instead of panicking
// when the flat index falls outside the backing slice.
func (c *Chunk) Get(x, y, z int) (block.Block, bool) {
	i := Index(x, y, z)
	if i < 0 || i >= len(c.Blocks) {
		return block.Block{}, false
	}
	return c.Blocks[i], true
}

// Digest hashes the material ids and solidity bits in canonical order.
func (c *Chunk) Digest() uint64 {
	h := xxhash.New()
	var tmp [2]byte
	for _, b := range c.Blocks {
		binary.BigEndian.PutUint16(tmp[:], b.Data)
		_, _ = h.Write(tmp[:])
		_, _ = h.WriteString(b.ID)
	}
	return h.Sum64()
}
