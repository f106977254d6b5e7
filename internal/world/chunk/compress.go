package chunk

import (
	"errors"
	"fmt"

	"yave.dev/internal/world/block"
)

var (
	ErrChunkUnderflow = errors.New("chunk: block groups cover fewer than 4096 blocks")
	ErrChunkOverflow  = errors.New("chunk: block groups cover more than 4096 blocks")
	ErrEmptyGroup     = errors.New("chunk: block group with zero count")
)

// Group is a run of Count consecutive blocks (in canonical order) sharing one id.
type Group struct {
	ID    string
	Count uint32
}

// SolidityFunc resolves whether blocks of a material are solid. Groups carry only the
// material id, so solidity is recovered from the material registry on the receiving side.
type SolidityFunc func(id string) bool

// Compress run-length encodes the chunk's blocks in canonical order. Runs are maximal:
// two adjacent groups never share an id. Only ids are kept; solidity is not.
func Compress(c *Chunk) []Group {
	if len(c.Blocks) == 0 {
		return nil
	}
	var groups []Group
	cur := Group{ID: c.Blocks[0].ID, Count: 1}
	for _, b := range c.Blocks[1:] {
		if b.ID == cur.ID {
			cur.Count++
			continue
		}
		groups = append(groups, cur)
		cur = Group{ID: b.ID, Count: 1}
	}
	return append(groups, cur)
}

// GroupsTotal sums the group counts.
func GroupsTotal(groups []Group) uint64 {
	var n uint64
	for _, g := range groups {
		n += uint64(g.Count)
	}
	return n
}

// Decompress rebuilds the chunk at (x, y) from its groups. Counts must sum to exactly
// Volume. A nil solid marks every block solid.
func Decompress(groups []Group, x, y int64, solid SolidityFunc) (*Chunk, error) {
	var total uint64
	for i, g := range groups {
		if g.Count == 0 {
			return nil, fmt.Errorf("%w (group %d, id %q)", ErrEmptyGroup, i, g.ID)
		}
		total += uint64(g.Count)
		if total > Volume {
			return nil, fmt.Errorf("%w (at group %d)", ErrChunkOverflow, i)
		}
	}
	if total < Volume {
		return nil, fmt.Errorf("%w (got %d)", ErrChunkUnderflow, total)
	}

	c := &Chunk{X: x, Y: y, Blocks: make([]block.Block, 0, Volume)}
	for _, g := range groups {
		s := true
		if solid != nil {
			s = solid(g.ID)
		}
		for k := uint32(0); k < g.Count; k++ {
			lx, ly, lz := Coords(len(c.Blocks))
			c.Blocks = append(c.Blocks, block.New(uint8(lx), uint8(ly), uint8(lz), g.ID, s))
		}
	}
	return c, nil
}
