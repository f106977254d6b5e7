package server

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"yave.dev/internal/protocol"
)

// RecordedEvent is an applied input, with enough detail to apply it again.
type RecordedEvent struct {
	Addr   string      `json:"addr"`
	Kind   string      `json:"kind"`
	Name   string      `json:"name,omitempty"`
	Pos    *[3]float64 `json:"pos,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

const kindLeave = "Leave"

func recordEvent(ev Event) RecordedEvent {
	r := RecordedEvent{Addr: ev.Peer.Addr()}
	if ev.Leave {
		r.Kind = kindLeave
		r.Reason = ev.Reason
		return r
	}
	r.Kind = kindOf(ev.Packet)
	switch p := ev.Packet.(type) {
	case protocol.Connection:
		r.Name = p.User
	case protocol.PositionRequest:
		r.Name = p.Name
	case protocol.Movement:
		// Rejected positions (NaN, infinities) cannot be written as JSON; they are
		// recorded without Pos and rejected again on replay.
		if validPosition(mgl64.Vec3{p.DeltaX, p.DeltaY, p.DeltaZ}) {
			r.Pos = &[3]float64{p.DeltaX, p.DeltaY, p.DeltaZ}
		}
	}
	return r
}

// Event rebuilds the input for peer. Client-bound kinds come back as zero packets;
// the world ignores them either way.
func (r RecordedEvent) Event(peer Peer) (Event, error) {
	var p protocol.Packet
	switch r.Kind {
	case kindLeave:
		return LeaveEvent(peer, r.Reason), nil
	case protocol.KindConnection.String():
		p = protocol.Connection{User: r.Name}
	case protocol.KindPositionRequest.String():
		p = protocol.PositionRequest{Name: r.Name}
	case protocol.KindMovement.String():
		if r.Pos == nil {
			p = protocol.Movement{DeltaX: math.NaN(), DeltaY: math.NaN(), DeltaZ: math.NaN()}
			break
		}
		p = protocol.Movement{DeltaX: r.Pos[0], DeltaY: r.Pos[1], DeltaZ: r.Pos[2]}
	case protocol.KindPlayerPosition.String():
		p = protocol.PlayerPosition{}
	case protocol.KindOnlinePlayers.String():
		p = protocol.OnlinePlayers{}
	case protocol.KindUnloadChunk.String():
		p = protocol.UnloadChunk{}
	case protocol.KindChunk.String():
		p = protocol.Chunk{}
	default:
		return Event{}, fmt.Errorf("unknown recorded kind %q", r.Kind)
	}
	return PacketEvent(peer, p), nil
}

// discardPeer stands in for a client during replay.
type discardPeer string

func (d discardPeer) Addr() string               { return string(d) }
func (d discardPeer) Send(protocol.Packet) error { return nil }

// ReplayTick applies a logged tick to w and returns the resulting digest. The world
// must be at entry.Tick and configured like the one that wrote the log.
func (w *World) ReplayTick(entry TickLogEntry) (string, error) {
	if entry.Tick != w.CurrentTick() {
		return "", fmt.Errorf("tick mismatch: world=%d entry=%d", w.CurrentTick(), entry.Tick)
	}
	events := make([]Event, 0, len(entry.Events))
	for _, r := range entry.Events {
		ev, err := r.Event(discardPeer(r.Addr))
		if err != nil {
			return "", fmt.Errorf("tick %d: %w", entry.Tick, err)
		}
		events = append(events, ev)
	}
	return w.Step(events).Digest, nil
}
