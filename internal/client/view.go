// Package client holds the receiving side of the protocol: the world as a client sees it.
package client

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"yave.dev/internal/protocol"
	"yave.dev/internal/world/chunk"
)

// View applies server packets to a local copy of the loaded chunks and the roster.
// It is not safe for concurrent use.
type View struct {
	solid   chunk.SolidityFunc
	chunks  map[chunk.Key]*chunk.Chunk
	players map[string]mgl64.Vec3
}

// NewView builds an empty view. solid resolves material solidity; nil treats every
// block as solid.
func NewView(solid chunk.SolidityFunc) *View {
	return &View{
		solid:   solid,
		chunks:  map[chunk.Key]*chunk.Chunk{},
		players: map[string]mgl64.Vec3{},
	}
}

// Apply updates the view. A corrupted chunk payload is rejected and leaves the
// view unchanged.
func (v *View) Apply(p protocol.Packet) error {
	switch p := p.(type) {
	case protocol.Chunk:
		c, err := chunk.Decompress(p.Groups, p.X, p.Y, v.solid)
		if err != nil {
			return fmt.Errorf("chunk %d,%d: %w", p.X, p.Y, err)
		}
		v.chunks[c.Key()] = c
	case protocol.UnloadChunk:
		delete(v.chunks, chunk.Key{X: p.X, Y: p.Y})
	case protocol.Connection:
		if _, ok := v.players[p.User]; !ok {
			v.players[p.User] = mgl64.Vec3{}
		}
	case protocol.OnlinePlayers:
		for _, pl := range p.Players {
			v.players[pl.Name] = mgl64.Vec3{float64(pl.X), float64(pl.Y), float64(pl.Z)}
		}
	case protocol.PlayerPosition:
		v.players[p.Name] = mgl64.Vec3{p.X, p.Y, p.Z}
	}
	return nil
}

func (v *View) Chunk(k chunk.Key) (*chunk.Chunk, bool) {
	c, ok := v.chunks[k]
	return c, ok
}

// Keys returns the loaded chunk keys sorted by (X, Y).
func (v *View) Keys() []chunk.Key {
	keys := make([]chunk.Key, 0, len(v.chunks))
	for k := range v.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Y < keys[j].Y
	})
	return keys
}

func (v *View) Position(name string) (mgl64.Vec3, bool) {
	p, ok := v.players[name]
	return p, ok
}

// Players returns the known player names, sorted.
func (v *View) Players() []string {
	out := make([]string, 0, len(v.players))
	for name := range v.players {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SolidBlocks counts solid blocks across the loaded chunks.
func (v *View) SolidBlocks() int {
	n := 0
	for _, c := range v.chunks {
		for _, b := range c.Blocks {
			if b.Solid() {
				n++
			}
		}
	}
	return n
}
