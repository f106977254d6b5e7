package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"

	"yave.dev/internal/protocol"
	"yave.dev/internal/world/chunk"
)

type recordingTickLogger struct{ entries []TickLogEntry }

func (r *recordingTickLogger) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func newTestWorld(t *testing.T, mutate func(*Config)) *World {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PeerRateLimit = 0
	cfg.IdleTimeout = 0
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickRateHz = 0
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected error for zero tick rate")
	}
	cfg = DefaultConfig()
	cfg.ViewRadius = -1
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected error for negative radius")
	}
}

func TestWorld_JoinAnnouncesAndSpawns(t *testing.T) {
	w := newTestWorld(t, nil)
	a, b := newFakePeer("a"), newFakePeer("b")

	w.Step([]Event{
		PacketEvent(a, protocol.Connection{User: "alice"}),
		PacketEvent(b, protocol.Connection{User: "bob"}),
	})

	players := w.Players()
	if len(players) != 2 || players[0].Name != "alice" || players[1].Name != "bob" {
		t.Fatalf("players=%v", players)
	}
	if players[0].Pos != (mgl64.Vec3{0, 0, 10}) {
		t.Fatalf("spawn=%v want (0,0,10)", players[0].Pos)
	}
	if players[0].Session == players[1].Session {
		t.Fatalf("sessions must differ")
	}

	wantA := []protocol.Packet{
		protocol.OnlinePlayers{Players: []protocol.OnlinePlayer{}},
		protocol.Connection{User: "bob"},
		protocol.Chunk{X: 0, Y: 0, Groups: []chunk.Group{{ID: "base:stone", Count: chunk.Volume}}},
	}
	if diff := cmp.Diff(wantA, a.packets()); diff != "" {
		t.Fatalf("alice packets (-want +got):\n%s", diff)
	}
	wantB := []protocol.Packet{
		protocol.OnlinePlayers{Players: []protocol.OnlinePlayer{{Name: "alice", X: 0, Y: 0, Z: 10}}},
		protocol.Chunk{X: 0, Y: 0, Groups: []chunk.Group{{ID: "base:stone", Count: chunk.Volume}}},
	}
	if diff := cmp.Diff(wantB, b.packets()); diff != "" {
		t.Fatalf("bob packets (-want +got):\n%s", diff)
	}
}

func TestWorld_LateJoinerReceivesLoadedChunks(t *testing.T) {
	w := newTestWorld(t, nil)
	a, c := newFakePeer("a"), newFakePeer("c")
	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alice"})})
	a.reset()

	rep := w.Step([]Event{PacketEvent(c, protocol.Connection{User: "carol"})})
	if len(rep.Loaded) != 0 {
		t.Fatalf("nothing new should load: %v", rep.Loaded)
	}
	if got := len(c.ofKind(protocol.KindChunk)); got != 1 {
		t.Fatalf("late joiner got %d chunks want 1", got)
	}
	if got := len(a.ofKind(protocol.KindChunk)); got != 0 {
		t.Fatalf("existing player re-sent %d chunks", got)
	}
	if got := a.ofKind(protocol.KindConnection); len(got) != 1 || got[0] != (protocol.Connection{User: "carol"}) {
		t.Fatalf("alice announcements=%v", got)
	}
}

func TestWorld_RepeatedConnectionRenames(t *testing.T) {
	w := newTestWorld(t, nil)
	a := newFakePeer("a")
	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alice"})})
	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alicia"})})
	if ps := w.Players(); len(ps) != 1 || ps[0].Name != "alicia" {
		t.Fatalf("players=%v", ps)
	}
}

func TestWorld_MovementDrivesLifecycle(t *testing.T) {
	w := newTestWorld(t, nil)
	a := newFakePeer("a")
	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alice"})})
	a.reset()

	rep := w.Step([]Event{PacketEvent(a, protocol.Movement{DeltaX: 20, DeltaY: 3, DeltaZ: 5})})
	p, _ := w.Player("a")
	if p.Pos != (mgl64.Vec3{20, 3, 5}) {
		t.Fatalf("pos=%v want absolute (20,3,5)", p.Pos)
	}
	if diff := cmp.Diff([]chunk.Key{{X: 0, Y: 0}}, rep.Unloaded); diff != "" {
		t.Fatalf("unloaded (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]chunk.Key{{X: 1, Y: 0}}, rep.Loaded); diff != "" {
		t.Fatalf("loaded (-want +got):\n%s", diff)
	}
	sent := a.packets()
	if len(sent) != 2 || sent[0].Kind() != protocol.KindUnloadChunk || sent[1].Kind() != protocol.KindChunk {
		t.Fatalf("sent=%v", sent)
	}
}

func TestWorld_MovementIgnoredForUnknownOrNonFinite(t *testing.T) {
	w := newTestWorld(t, nil)
	a, stranger := newFakePeer("a"), newFakePeer("x")
	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alice"})})
	w.Step([]Event{
		PacketEvent(stranger, protocol.Movement{DeltaX: 1}),
		PacketEvent(a, protocol.Movement{DeltaX: nan()}),
	})
	p, _ := w.Player("a")
	if p.Pos != (mgl64.Vec3{0, 0, 10}) {
		t.Fatalf("pos changed to %v", p.Pos)
	}
	if got := w.Metrics().IgnoredPackets; got != 2 {
		t.Fatalf("IgnoredPackets=%d want 2", got)
	}
}

func TestWorld_PositionRequest(t *testing.T) {
	w := newTestWorld(t, nil)
	a, b := newFakePeer("a"), newFakePeer("b")
	w.Step([]Event{
		PacketEvent(a, protocol.Connection{User: "alice"}),
		PacketEvent(b, protocol.Connection{User: "bob"}),
		PacketEvent(a, protocol.Movement{DeltaX: 1, DeltaY: 2, DeltaZ: 3}),
	})
	b.reset()

	w.Step([]Event{
		PacketEvent(b, protocol.PositionRequest{Name: "alice"}),
		PacketEvent(b, protocol.PositionRequest{Name: "nobody"}),
	})
	got := b.ofKind(protocol.KindPlayerPosition)
	want := []protocol.Packet{protocol.PlayerPosition{X: 1, Y: 2, Z: 3, Name: "alice"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("replies (-want +got):\n%s", diff)
	}
	if got := w.Metrics().IgnoredPackets; got != 1 {
		t.Fatalf("IgnoredPackets=%d want 1", got)
	}
}

func TestWorld_LeaveUnloadsChunks(t *testing.T) {
	w := newTestWorld(t, nil)
	a, b := newFakePeer("a"), newFakePeer("b")
	w.Step([]Event{
		PacketEvent(a, protocol.Connection{User: "alice"}),
		PacketEvent(b, protocol.Connection{User: "bob"}),
		PacketEvent(b, protocol.Movement{DeltaX: 100, DeltaZ: 100}),
	})
	if w.Lifecycle().Len() != 2 {
		t.Fatalf("loaded=%v", w.Lifecycle().Keys())
	}
	a.reset()

	rep := w.Step([]Event{LeaveEvent(b, "closed")})
	if len(w.Players()) != 1 {
		t.Fatalf("players=%v", w.Players())
	}
	if diff := cmp.Diff([]chunk.Key{{X: 6, Y: 6}}, rep.Unloaded); diff != "" {
		t.Fatalf("unloaded (-want +got):\n%s", diff)
	}
	if got := a.ofKind(protocol.KindUnloadChunk); len(got) != 1 {
		t.Fatalf("alice unloads=%v", got)
	}
	if got := b.ofKind(protocol.KindUnloadChunk); len(got) != 0 {
		t.Fatalf("departed peer should not be addressed: %v", got)
	}
}

func TestWorld_IdleTimeout(t *testing.T) {
	w := newTestWorld(t, func(c *Config) { c.IdleTimeout = 100 * time.Millisecond })
	a := newFakePeer("a")
	log := &recordingTickLogger{}
	w.SetTickLogger(log)

	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alice"})})
	w.Step(nil)
	w.Step(nil)
	if len(w.Players()) != 1 {
		t.Fatalf("player expired too early")
	}
	w.Step(nil)
	if len(w.Players()) != 0 {
		t.Fatalf("idle player not removed")
	}
	last := log.entries[len(log.entries)-1]
	if len(last.Leaves) != 1 || last.Leaves[0].Reason != "idle" {
		t.Fatalf("leaves=%+v", last.Leaves)
	}
}

func TestWorld_SubmitDropsWhenInboxFull(t *testing.T) {
	w := newTestWorld(t, func(c *Config) { c.InboxSize = 1 })
	a := newFakePeer("a")
	if !w.Submit(PacketEvent(a, protocol.Connection{User: "alice"})) {
		t.Fatalf("first submit should succeed")
	}
	if w.Submit(PacketEvent(a, protocol.Movement{})) {
		t.Fatalf("second submit should be dropped")
	}
	if w.Submit(Event{}) {
		t.Fatalf("event without peer accepted")
	}
	w.Step(nil)
	if got := w.Metrics().DroppedEvents; got != 1 {
		t.Fatalf("DroppedEvents=%d want 1", got)
	}
}

func TestWorld_SubmitRateLimitsPerPeer(t *testing.T) {
	w := newTestWorld(t, func(c *Config) {
		c.PeerRateLimit = 0.001
		c.PeerBurst = 2
	})
	a, b := newFakePeer("a"), newFakePeer("b")
	for i := 0; i < 2; i++ {
		if !w.Submit(PacketEvent(a, protocol.Movement{})) {
			t.Fatalf("submit %d should pass", i)
		}
	}
	if w.Submit(PacketEvent(a, protocol.Movement{})) {
		t.Fatalf("third submit should be limited")
	}
	if !w.Submit(PacketEvent(b, protocol.Movement{})) {
		t.Fatalf("other peer must not share the bucket")
	}
	if !w.Submit(LeaveEvent(a, "closed")) {
		t.Fatalf("leave must bypass the limiter")
	}
	w.Step(nil)
	if got := w.Metrics().RateLimitedEvents; got != 1 {
		t.Fatalf("RateLimitedEvents=%d want 1", got)
	}
}

func TestWorld_TickLogAndDigest(t *testing.T) {
	w := newTestWorld(t, nil)
	log := &recordingTickLogger{}
	w.SetTickLogger(log)
	a := newFakePeer("a")

	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alice"})})
	w.Step(nil)
	if len(log.entries) != 2 {
		t.Fatalf("entries=%d want 2", len(log.entries))
	}
	first := log.entries[0]
	if first.Tick != 0 || len(first.Joins) != 1 || first.Joins[0].Name != "alice" || first.Joins[0].Addr != "a" {
		t.Fatalf("first entry=%+v", first)
	}
	if diff := cmp.Diff([]chunk.Key{{X: 0, Y: 0}}, first.Loaded); diff != "" {
		t.Fatalf("loaded (-want +got):\n%s", diff)
	}
	if first.Digest == "" || first.Digest == log.entries[1].Digest {
		t.Fatalf("digests must be set and include the tick: %q %q", first.Digest, log.entries[1].Digest)
	}
	if w.CurrentTick() != 2 || w.Metrics().Tick != 2 {
		t.Fatalf("tick=%d metrics=%d", w.CurrentTick(), w.Metrics().Tick)
	}
}

func TestWorld_SendFailuresCounted(t *testing.T) {
	w := newTestWorld(t, nil)
	a, b := newFakePeer("a"), newFakePeer("b")
	w.Step([]Event{PacketEvent(a, protocol.Connection{User: "alice"})})
	a.fail = errors.New("gone")

	rep := w.Step([]Event{PacketEvent(b, protocol.Connection{User: "bob"})})
	if len(w.Players()) != 2 {
		t.Fatalf("join must complete despite failed announcement")
	}
	if rep.Err != nil {
		t.Fatalf("no lifecycle sends this tick, got %v", rep.Err)
	}
	if got := w.Metrics().SendFailures; got != 1 {
		t.Fatalf("SendFailures=%d want 1", got)
	}
}

func TestWorld_IgnoresClientBoundPackets(t *testing.T) {
	w := newTestWorld(t, nil)
	a := newFakePeer("a")
	w.Step([]Event{
		PacketEvent(a, protocol.UnloadChunk{}),
		PacketEvent(a, protocol.Chunk{}),
		PacketEvent(a, protocol.OnlinePlayers{}),
		PacketEvent(a, protocol.PlayerPosition{}),
	})
	if got := w.Metrics().IgnoredPackets; got != 4 {
		t.Fatalf("IgnoredPackets=%d want 4", got)
	}
	if len(a.packets()) != 0 {
		t.Fatalf("server replied to client-bound packets")
	}
}

func TestWorld_Run(t *testing.T) {
	w := newTestWorld(t, func(c *Config) { c.TickRateHz = 200 })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	a := newFakePeer("a")
	if !w.Submit(PacketEvent(a, protocol.Connection{User: "alice"})) {
		t.Fatalf("submit failed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for w.Metrics().Players != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("player never joined: %+v", w.Metrics())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w.Metrics().LoadedChunks != 1 {
		t.Fatalf("LoadedChunks=%d want 1", w.Metrics().LoadedChunks)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

type syncTickLogger struct {
	mu      sync.Mutex
	entries []TickLogEntry
}

func (l *syncTickLogger) WriteTick(e TickLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *syncTickLogger) eventCounts() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.entries))
	for i, e := range l.entries {
		out[i] = len(e.Events)
	}
	return out
}

func TestWorld_RunAppliesAtMostInboxSizePerTick(t *testing.T) {
	const inbox, submitted = 4, 200
	w := newTestWorld(t, func(c *Config) {
		c.InboxSize = inbox
		c.TickRateHz = 2
	})
	log := &syncTickLogger{}
	w.SetTickLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	a := newFakePeer("a")
	accepted := 0
	for i := 0; i < submitted; i++ {
		if w.Submit(PacketEvent(a, protocol.UnloadChunk{X: int64(i)})) {
			accepted++
		}
	}
	if accepted == submitted {
		t.Fatalf("inbox of %d accepted all %d events", inbox, submitted)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		applied := 0
		for _, n := range log.eventCounts() {
			if n > inbox {
				t.Fatalf("tick applied %d events, inbox holds %d", n, inbox)
			}
			applied += n
		}
		dropped := w.Metrics().DroppedEvents
		if applied == accepted && dropped == uint64(submitted-accepted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("applied=%d accepted=%d dropped=%d", applied, accepted, dropped)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
