package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encode serialises p into a new buffer: a one byte kind tag followed by the fields,
// big-endian, strings as a u64 length and raw bytes.
func Encode(p Packet) ([]byte, error) {
	n, err := Size(p)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, n)
	b = append(b, byte(p.Kind()))

	switch p := p.(type) {
	case Connection:
		b = appendString(b, p.User)
	case Movement:
		b = appendFloat64(b, p.DeltaX)
		b = appendFloat64(b, p.DeltaY)
		b = appendFloat64(b, p.DeltaZ)
	case PositionRequest:
		b = appendString(b, p.Name)
	case PlayerPosition:
		b = appendFloat64(b, p.X)
		b = appendFloat64(b, p.Y)
		b = appendFloat64(b, p.Z)
		b = appendString(b, p.Name)
	case OnlinePlayers:
		b = binary.BigEndian.AppendUint64(b, uint64(len(p.Players)))
		for _, pl := range p.Players {
			b = appendString(b, pl.Name)
			b = appendFloat32(b, pl.X)
			b = appendFloat32(b, pl.Y)
			b = appendFloat32(b, pl.Z)
		}
	case UnloadChunk:
		b = binary.BigEndian.AppendUint64(b, uint64(p.X))
		b = binary.BigEndian.AppendUint64(b, uint64(p.Y))
	case Chunk:
		b = binary.BigEndian.AppendUint64(b, uint64(p.X))
		b = binary.BigEndian.AppendUint64(b, uint64(p.Y))
		b = binary.BigEndian.AppendUint64(b, uint64(len(p.Groups)))
		for _, g := range p.Groups {
			b = appendString(b, g.ID)
			b = binary.BigEndian.AppendUint32(b, g.Count)
		}
	}
	return b, nil
}

// EncodeTo writes the encoding of p to w.
func EncodeTo(w io.Writer, p Packet) error {
	b, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Size returns the encoded length of p in bytes.
func Size(p Packet) (int, error) {
	n := 1
	switch p := p.(type) {
	case Connection:
		n += 8 + len(p.User)
	case Movement:
		n += 3 * 8
	case PositionRequest:
		n += 8 + len(p.Name)
	case PlayerPosition:
		n += 3*8 + 8 + len(p.Name)
	case OnlinePlayers:
		n += 8
		for _, pl := range p.Players {
			n += 8 + len(pl.Name) + 3*4
		}
	case UnloadChunk:
		n += 2 * 8
	case Chunk:
		n += 3 * 8
		for _, g := range p.Groups {
			n += 8 + len(g.ID) + 4
		}
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownType, p)
	}
	return n, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(len(s)))
	return append(b, s...)
}

func appendFloat64(b []byte, v float64) []byte {
	return binary.BigEndian.AppendUint64(b, math.Float64bits(v))
}

func appendFloat32(b []byte, v float32) []byte {
	return binary.BigEndian.AppendUint32(b, math.Float32bits(v))
}
