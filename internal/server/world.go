package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"yave.dev/internal/protocol"
	"yave.dev/internal/world/chunk"
)

type Config struct {
	TickRateHz int
	ViewRadius int

	InboxSize     int
	PeerRateLimit float64 // packets per second per peer; 0 disables
	PeerBurst     int

	// IdleTimeout removes players that sent nothing for this long; 0 disables.
	IdleTimeout time.Duration

	Spawn     mgl64.Vec3
	Generator chunk.Generator
}

func DefaultConfig() Config {
	return Config{
		TickRateHz:    20,
		InboxSize:     4096,
		PeerRateLimit: 200,
		PeerBurst:     400,
		IdleTimeout:   30 * time.Second,
		Spawn:         mgl64.Vec3{0, 0, 10},
	}
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick         uint64          `json:"tick"`
	Events       []RecordedEvent `json:"events,omitempty"`
	Joins        []RecordedJoin  `json:"joins,omitempty"`
	Leaves       []RecordedLeave `json:"leaves,omitempty"`
	Loaded       []chunk.Key     `json:"loaded,omitempty"`
	Unloaded     []chunk.Key     `json:"unloaded,omitempty"`
	SendFailures int             `json:"send_failures,omitempty"`
	Digest       string          `json:"digest"`
}

type RecordedJoin struct {
	Session string `json:"session"`
	Name    string `json:"name"`
	Addr    string `json:"addr"`
}

type RecordedLeave struct {
	Session string `json:"session"`
	Name    string `json:"name"`
	Reason  string `json:"reason"`
}

// World owns every player and the loaded chunk set. All state is touched only by
// the goroutine running Run (or by Step callers when Run is not active).
type World struct {
	cfg Config
	log logrus.FieldLogger

	inbox   chan Event
	limiter *peerLimiter

	players   map[string]*Player
	order     []string
	lifecycle *Lifecycle

	tick       atomic.Uint64
	tickLogger TickLogger

	dropped     atomic.Uint64
	rateLimited atomic.Uint64
	malformed   atomic.Uint64
	ignored     uint64
	sendFails   uint64
	loadedTotal uint64
	unloadTotal uint64

	metrics atomic.Value
}

func New(cfg Config, log logrus.FieldLogger) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %d", cfg.TickRateHz)
	}
	if cfg.ViewRadius < 0 {
		return nil, fmt.Errorf("view radius must not be negative, got %d", cfg.ViewRadius)
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	w := &World{
		cfg:       cfg,
		log:       log,
		inbox:     make(chan Event, cfg.InboxSize),
		limiter:   newPeerLimiter(cfg.PeerRateLimit, cfg.PeerBurst),
		players:   map[string]*Player{},
		lifecycle: NewLifecycle(cfg.Generator, cfg.ViewRadius, log.WithField("component", "lifecycle")),
	}
	w.metrics.Store(Metrics{InboxCapacity: cfg.InboxSize})
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) TickRateHz() int { return w.cfg.TickRateHz }

// Submit queues an event for the next tick without blocking. It reports false when
// the event was dropped, either because the sending peer exceeded its rate or the
// inbox is full. Leave events skip the rate check.
func (w *World) Submit(ev Event) bool {
	if ev.Peer == nil {
		return false
	}
	if !ev.Leave && !w.limiter.allow(ev.Peer.Addr()) {
		w.rateLimited.Add(1)
		return false
	}
	select {
	case w.inbox <- ev:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// NoteMalformed counts a datagram the transport could not decode.
func (w *World) NoteMalformed() { w.malformed.Add(1) }

// Run steps the world at the configured rate until ctx is done. Events wait in the
// inbox until the next tick drains it, so one tick never applies more than InboxSize
// events.
func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make([]Event, 0, cap(w.inbox))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pending = w.drain(pending[:0])
			w.Step(pending)
		}
	}
}

// drain takes what is queued right now; events submitted meanwhile wait for the next tick.
func (w *World) drain(buf []Event) []Event {
	for n := len(w.inbox); n > 0; n-- {
		buf = append(buf, <-w.inbox)
	}
	return buf
}

// Step advances the world by one tick: apply events in order, expire idle players,
// run the chunk lifecycle, then publish metrics and the tick log entry.
func (w *World) Step(events []Event) TickReport {
	start := time.Now()
	tick := w.tick.Load()
	entry := TickLogEntry{Tick: tick}

	for _, ev := range events {
		if ev.Peer == nil {
			continue
		}
		entry.Events = append(entry.Events, recordEvent(ev))
		w.apply(tick, ev, &entry)
	}
	w.expireIdle(tick, &entry)

	players := w.Players()
	peers := make([]Peer, len(players))
	for i, p := range players {
		peers[i] = p.Peer
	}
	rep := w.lifecycle.Tick(players, peers)

	w.sendFails += uint64(rep.SendFailures)
	w.loadedTotal += uint64(len(rep.Loaded))
	w.unloadTotal += uint64(len(rep.Unloaded))
	entry.Loaded = rep.Loaded
	entry.Unloaded = rep.Unloaded
	entry.SendFailures = rep.SendFailures
	entry.Digest = w.stateDigest(tick)
	rep.Digest = entry.Digest

	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.WithError(err).WithField("tick", tick).Warn("tick log write failed")
		}
	}

	w.tick.Store(tick + 1)
	w.publishMetrics(tick+1, time.Since(start))
	return rep
}

// Players returns the connected players in join order.
func (w *World) Players() []*Player {
	out := make([]*Player, 0, len(w.order))
	for _, addr := range w.order {
		out = append(out, w.players[addr])
	}
	return out
}

func (w *World) Player(addr string) (*Player, bool) {
	p, ok := w.players[addr]
	return p, ok
}

func (w *World) Lifecycle() *Lifecycle { return w.lifecycle }

func (w *World) apply(tick uint64, ev Event, entry *TickLogEntry) {
	addr := ev.Peer.Addr()
	if ev.Leave {
		w.leave(addr, ev.Reason, entry)
		return
	}
	if p, ok := w.players[addr]; ok {
		p.LastSeen = tick
	}

	switch pkt := ev.Packet.(type) {
	case protocol.Connection:
		w.handleConnection(tick, ev.Peer, pkt, entry)
	case protocol.Movement:
		p, ok := w.players[addr]
		if !ok {
			w.ignored++
			return
		}
		pos := mgl64.Vec3{pkt.DeltaX, pkt.DeltaY, pkt.DeltaZ}
		if !validPosition(pos) {
			w.ignored++
			return
		}
		// The wire names say delta, but clients send their absolute position.
		p.Pos = pos
	case protocol.PositionRequest:
		w.handlePositionRequest(ev.Peer, pkt)
	default:
		w.ignored++
		w.log.WithField("peer", addr).WithField("kind", kindOf(ev.Packet)).Debug("ignoring client-bound packet")
	}
}

func (w *World) handleConnection(tick uint64, peer Peer, pkt protocol.Connection, entry *TickLogEntry) {
	addr := peer.Addr()
	if p, ok := w.players[addr]; ok {
		if p.Name != pkt.User {
			w.log.WithField("peer", addr).WithField("from", p.Name).WithField("to", pkt.User).Info("player renamed")
			p.Name = pkt.User
		}
		return
	}

	errs := &BroadcastError{}
	existing := w.Players()
	online := protocol.OnlinePlayers{Players: make([]protocol.OnlinePlayer, 0, len(existing))}
	for _, p := range existing {
		if err := p.Peer.Send(pkt); err != nil {
			errs.add(p.Peer, pkt, err)
		}
		online.Players = append(online.Players, protocol.OnlinePlayer{
			Name: p.Name,
			X:    float32(p.Pos.X()),
			Y:    float32(p.Pos.Y()),
			Z:    float32(p.Pos.Z()),
		})
	}
	if err := peer.Send(online); err != nil {
		errs.add(peer, online, err)
	}

	p := &Player{
		Name:       pkt.User,
		Pos:        w.cfg.Spawn,
		Peer:       peer,
		Session:    uuid.New(),
		JoinedTick: tick,
		LastSeen:   tick,
	}
	w.players[addr] = p
	w.order = append(w.order, addr)
	entry.Joins = append(entry.Joins, RecordedJoin{Session: p.Session.String(), Name: p.Name, Addr: addr})

	w.lifecycle.sendLoaded(peer, errs)
	w.sendFails += uint64(len(errs.Failures))
	if err := errs.errOrNil(); err != nil {
		w.log.WithField("peer", addr).WithError(err).Warn("join announcements incomplete")
	}
	w.log.WithField("peer", addr).WithField("name", p.Name).WithField("session", p.Session.String()).Info("player joined")
}

func (w *World) handlePositionRequest(peer Peer, pkt protocol.PositionRequest) {
	var target *Player
	for _, p := range w.Players() {
		if p.Name == pkt.Name {
			target = p
			break
		}
	}
	if target == nil {
		w.ignored++
		w.log.WithField("peer", peer.Addr()).WithField("name", pkt.Name).Debug("position request for unknown player")
		return
	}
	reply := protocol.PlayerPosition{X: target.Pos.X(), Y: target.Pos.Y(), Z: target.Pos.Z(), Name: target.Name}
	if err := peer.Send(reply); err != nil {
		w.sendFails++
		w.log.WithField("peer", peer.Addr()).WithError(err).Debug("position reply failed")
	}
}

func (w *World) leave(addr, reason string, entry *TickLogEntry) {
	w.limiter.forget(addr)
	p, ok := w.players[addr]
	if !ok {
		return
	}
	delete(w.players, addr)
	for i, a := range w.order {
		if a == addr {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	entry.Leaves = append(entry.Leaves, RecordedLeave{Session: p.Session.String(), Name: p.Name, Reason: reason})
	w.log.WithField("peer", addr).WithField("name", p.Name).WithField("reason", reason).Info("player left")
}

func (w *World) expireIdle(tick uint64, entry *TickLogEntry) {
	if w.cfg.IdleTimeout <= 0 {
		return
	}
	limit := uint64(w.cfg.IdleTimeout * time.Duration(w.cfg.TickRateHz) / time.Second)
	if limit == 0 {
		limit = 1
	}
	var idle []string
	for _, addr := range w.order {
		if tick-w.players[addr].LastSeen > limit {
			idle = append(idle, addr)
		}
	}
	for _, addr := range idle {
		w.leave(addr, "idle", entry)
	}
}

// stateDigest hashes the tick, every player position in join order and the loaded key set.
func (w *World) stateDigest(tick uint64) string {
	h := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	put(tick)
	for _, p := range w.Players() {
		_, _ = h.WriteString(p.Name)
		for _, v := range p.Pos {
			put(math.Float64bits(v))
		}
	}
	for _, k := range w.lifecycle.Keys() {
		put(uint64(k.X))
		put(uint64(k.Y))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func (w *World) publishMetrics(tick uint64, step time.Duration) {
	w.metrics.Store(Metrics{
		Tick:              tick,
		Players:           len(w.players),
		LoadedChunks:      w.lifecycle.Len(),
		InboxDepth:        len(w.inbox),
		InboxCapacity:     cap(w.inbox),
		DroppedEvents:     w.dropped.Load(),
		RateLimitedEvents: w.rateLimited.Load(),
		MalformedPackets:  w.malformed.Load(),
		IgnoredPackets:    w.ignored,
		SendFailures:      w.sendFails,
		ChunksLoaded:      w.loadedTotal,
		ChunksUnloaded:    w.unloadTotal,
		StepMS:            float64(step.Microseconds()) / 1000,
	})
}

func kindOf(p protocol.Packet) string {
	if p == nil {
		return "nil"
	}
	return p.Kind().String()
}

// validPosition rejects NaN, infinities and coordinates too far out to map onto a
// chunk key.
func validPosition(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.Abs(c) > chunk.MaxCoordinate {
			return false
		}
	}
	return true
}
