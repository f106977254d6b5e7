package protocol

import "yave.dev/internal/world/chunk"

// Kind is the leading tag byte of every message.
type Kind uint8

const (
	KindConnection Kind = iota
	KindMovement
	KindPositionRequest
	KindPlayerPosition
	KindOnlinePlayers
	KindUnloadChunk
	KindChunk
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "Connection"
	case KindMovement:
		return "Movement"
	case KindPositionRequest:
		return "PositionRequest"
	case KindPlayerPosition:
		return "PlayerPosition"
	case KindOnlinePlayers:
		return "OnlinePlayers"
	case KindUnloadChunk:
		return "UnloadChunk"
	case KindChunk:
		return "Chunk"
	default:
		return "Unknown"
	}
}

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// InvalidString replaces string fields whose bytes are not valid UTF-8.
const InvalidString = "invalid"

// Packet is one protocol message. Packets are plain values; the codec never retains them.
type Packet interface {
	Kind() Kind
}

// Connection is sent by a client when it connects, and by the server to announce
// a player to the other clients.
type Connection struct {
	User string
}

// Movement carries the sender's new position.
type Movement struct {
	DeltaX, DeltaY, DeltaZ float64
}

// PositionRequest asks the server where the named player is.
type PositionRequest struct {
	Name string
}

// PlayerPosition answers a PositionRequest.
type PlayerPosition struct {
	X, Y, Z float64
	Name    string
}

// OnlinePlayers lists the players already in the world. Sent to a client when it connects.
type OnlinePlayers struct {
	Players []OnlinePlayer
}

type OnlinePlayer struct {
	Name    string
	X, Y, Z float32
}

// UnloadChunk tells clients to drop a chunk.
type UnloadChunk struct {
	X, Y int64
}

// Chunk carries a chunk's run-length encoded blocks.
type Chunk struct {
	X, Y   int64
	Groups []chunk.Group
}

func (Connection) Kind() Kind      { return KindConnection }
func (Movement) Kind() Kind        { return KindMovement }
func (PositionRequest) Kind() Kind { return KindPositionRequest }
func (PlayerPosition) Kind() Kind  { return KindPlayerPosition }
func (OnlinePlayers) Kind() Kind   { return KindOnlinePlayers }
func (UnloadChunk) Kind() Kind     { return KindUnloadChunk }
func (Chunk) Kind() Kind           { return KindChunk }
