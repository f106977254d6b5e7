package server

import (
	"sort"

	"github.com/sirupsen/logrus"

	"yave.dev/internal/protocol"
	"yave.dev/internal/world/chunk"
	"yave.dev/internal/world/material"
)

type loadedChunk struct {
	chunk  *chunk.Chunk
	groups []chunk.Group
}

// Lifecycle keeps the set of loaded chunks in step with player positions.
type Lifecycle struct {
	chunks map[chunk.Key]*loadedChunk
	gen    chunk.Generator
	radius int
	log    logrus.FieldLogger
}

type TickReport struct {
	Loaded       []chunk.Key
	Unloaded     []chunk.Key
	SendFailures int
	Err          error

	// Digest is set by World.Step.
	Digest string
}

func NewLifecycle(gen chunk.Generator, radius int, log logrus.FieldLogger) *Lifecycle {
	if gen == nil {
		gen = chunk.Flat{ID: material.Stone, Solid: true}
	}
	if radius < 0 {
		radius = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Lifecycle{
		chunks: map[chunk.Key]*loadedChunk{},
		gen:    gen,
		radius: radius,
		log:    log,
	}
}

// Tick runs one lifecycle pass: unload chunks no player is near, tell every peer,
// then load and broadcast the chunks players stand in (or near, with a radius).
// Unloads are always broadcast before loads. A failing peer never stops delivery to
// the others; all failures come back in the report.
func (l *Lifecycle) Tick(players []*Player, peers []Peer) TickReport {
	var rep TickReport
	errs := &BroadcastError{}

	var stale []chunk.Key
	for k := range l.chunks {
		if !l.wanted(k, players) {
			stale = append(stale, k)
		}
	}
	sortKeys(stale)
	for _, k := range stale {
		broadcast(peers, protocol.UnloadChunk{X: k.X, Y: k.Y}, errs)
		delete(l.chunks, k)
		rep.Unloaded = append(rep.Unloaded, k)
	}

	for _, p := range players {
		center := p.ChunkKey()
		for dy := -l.radius; dy <= l.radius; dy++ {
			for dx := -l.radius; dx <= l.radius; dx++ {
				k := chunk.Key{X: center.X + int64(dx), Y: center.Y + int64(dy)}
				if _, ok := l.chunks[k]; ok {
					continue
				}
				lc := l.load(k)
				broadcast(peers, protocol.Chunk{X: k.X, Y: k.Y, Groups: lc.groups}, errs)
				rep.Loaded = append(rep.Loaded, k)
			}
		}
	}

	rep.SendFailures = len(errs.Failures)
	rep.Err = errs.errOrNil()
	if rep.Err != nil {
		l.log.WithField("failures", rep.SendFailures).WithError(rep.Err).Warn("chunk broadcast incomplete")
	}
	return rep
}

// SendLoaded delivers every loaded chunk to one peer, in key order.
func (l *Lifecycle) SendLoaded(peer Peer) error {
	errs := &BroadcastError{}
	l.sendLoaded(peer, errs)
	return errs.errOrNil()
}

func (l *Lifecycle) sendLoaded(peer Peer, errs *BroadcastError) {
	for _, k := range l.Keys() {
		p := protocol.Chunk{X: k.X, Y: k.Y, Groups: l.chunks[k].groups}
		if err := peer.Send(p); err != nil {
			errs.add(peer, p, err)
		}
	}
}

func (l *Lifecycle) Loaded(k chunk.Key) bool {
	_, ok := l.chunks[k]
	return ok
}

// Chunk returns a loaded chunk.
func (l *Lifecycle) Chunk(k chunk.Key) (*chunk.Chunk, bool) {
	lc, ok := l.chunks[k]
	if !ok {
		return nil, false
	}
	return lc.chunk, true
}

func (l *Lifecycle) Len() int { return len(l.chunks) }

// Keys returns the loaded keys sorted by (X, Y).
func (l *Lifecycle) Keys() []chunk.Key {
	keys := make([]chunk.Key, 0, len(l.chunks))
	for k := range l.chunks {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func (l *Lifecycle) load(k chunk.Key) *loadedChunk {
	c := chunk.Generate(k.X, k.Y, l.gen)
	lc := &loadedChunk{chunk: c, groups: chunk.Compress(c)}
	l.chunks[k] = lc
	l.log.WithField("chunk", k.String()).WithField("groups", len(lc.groups)).Debug("chunk loaded")
	return lc
}

func (l *Lifecycle) wanted(k chunk.Key, players []*Player) bool {
	for _, p := range players {
		if chebyshev(k, p.ChunkKey()) <= int64(l.radius) {
			return true
		}
	}
	return false
}

func chebyshev(a, b chunk.Key) int64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

func sortKeys(keys []chunk.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Y < keys[j].Y
	})
}
