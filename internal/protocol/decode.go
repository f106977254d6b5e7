package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"yave.dev/internal/world/chunk"
)

const (
	minOnlinePlayerSize = 8 + 3*4
	minGroupSize        = 8 + 4
)

// Decode parses one message. It fails with ErrInvalidPacket for an unknown tag and
// with ErrTruncated when a field (or a declared length or count) runs past the end
// of b. Bytes after a complete message are ignored.
func Decode(b []byte) (Packet, error) {
	r := reader{buf: b}
	tag := r.u8()
	if r.err != nil {
		return nil, r.err
	}

	var p Packet
	switch Kind(tag) {
	case KindConnection:
		p = Connection{User: r.str()}
	case KindMovement:
		var m Movement
		m.DeltaX = r.f64()
		m.DeltaY = r.f64()
		m.DeltaZ = r.f64()
		p = m
	case KindPositionRequest:
		p = PositionRequest{Name: r.str()}
	case KindPlayerPosition:
		var pp PlayerPosition
		pp.X = r.f64()
		pp.Y = r.f64()
		pp.Z = r.f64()
		pp.Name = r.str()
		p = pp
	case KindOnlinePlayers:
		n := r.count(minOnlinePlayerSize)
		op := OnlinePlayers{Players: make([]OnlinePlayer, 0, n)}
		for i := 0; i < n && r.err == nil; i++ {
			var pl OnlinePlayer
			pl.Name = r.str()
			pl.X = r.f32()
			pl.Y = r.f32()
			pl.Z = r.f32()
			op.Players = append(op.Players, pl)
		}
		p = op
	case KindUnloadChunk:
		var u UnloadChunk
		u.X = r.i64()
		u.Y = r.i64()
		p = u
	case KindChunk:
		var c Chunk
		c.X = r.i64()
		c.Y = r.i64()
		n := r.count(minGroupSize)
		c.Groups = make([]chunk.Group, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			var g chunk.Group
			g.ID = r.str()
			g.Count = r.u32()
			c.Groups = append(c.Groups, g)
		}
		p = c
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrInvalidPacket, tag)
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", Kind(tag), r.err)
	}
	return p, nil
}

// reader is a bounds-checked big-endian cursor. The first failure sticks and every
// later read returns zero.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)-r.off) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) i64() int64   { return int64(r.u64()) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }
func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) str() string {
	n := r.u64()
	b := r.take(n)
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		return InvalidString
	}
	return string(b)
}

// count reads a u64 element count and rejects counts whose minimal encoding cannot
// fit in the remaining bytes, so a hostile count never drives a large allocation.
func (r *reader) count(minElem int) int {
	n := r.u64()
	if r.err != nil {
		return 0
	}
	remaining := uint64(len(r.buf) - r.off)
	if n > remaining/uint64(minElem) {
		r.err = fmt.Errorf("%w: %d elements of at least %d bytes, have %d bytes", ErrTruncated, n, minElem, remaining)
		return 0
	}
	return int(n)
}
