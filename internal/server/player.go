package server

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"yave.dev/internal/world/chunk"
)

type Player struct {
	Name    string
	Pos     mgl64.Vec3
	Peer    Peer
	Session uuid.UUID

	JoinedTick uint64
	LastSeen   uint64
}

// ChunkKey is the chunk column the player stands in.
func (p *Player) ChunkKey() chunk.Key {
	return chunk.KeyForPosition(p.Pos.X(), p.Pos.Z())
}
