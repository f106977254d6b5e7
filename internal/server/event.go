package server

import "yave.dev/internal/protocol"

// Event is one input to the world loop: a decoded packet from a peer, or the peer leaving.
type Event struct {
	Peer   Peer
	Packet protocol.Packet
	Leave  bool
	Reason string
}

func PacketEvent(peer Peer, p protocol.Packet) Event {
	return Event{Peer: peer, Packet: p}
}

func LeaveEvent(peer Peer, reason string) Event {
	return Event{Peer: peer, Leave: true, Reason: reason}
}
