package block

// Block bit layout (16-bit word):
//
//	[15:11] x  [10:6] y  [5:1] z  [0] solid
//
// Coordinates are masked to 5 bits. Chunks only ever use 0..15; passing larger
// values silently truncates and is the caller's problem.
const (
	shiftX = 11
	shiftY = 6
	shiftZ = 1

	mask5    = 0x1f
	maskY    = mask5 << shiftY // 0x7c0
	maskZ    = mask5 << shiftZ // 0x3e
	solidBit = 0x1
)

func Pack(x, y, z uint8, solid bool) uint16 {
	d := uint16(x&mask5)<<shiftX | uint16(y&mask5)<<shiftY | uint16(z&mask5)<<shiftZ
	if solid {
		d |= solidBit
	}
	return d
}

func X(d uint16) uint8 { return uint8(d >> shiftX) }
func Y(d uint16) uint8 { return uint8((d & maskY) >> shiftY) }
func Z(d uint16) uint8 { return uint8((d & maskZ) >> shiftZ) }

func Solid(d uint16) bool { return d&solidBit != 0 }

// Block is a single voxel: packed local position + solidity, and the material id
// (a namespaced string such as "base:stone") resolved against the material registry.
type Block struct {
	Data uint16
	ID   string
}

func New(x, y, z uint8, id string, solid bool) Block {
	return Block{Data: Pack(x, y, z, solid), ID: id}
}

func (b Block) X() uint8    { return X(b.Data) }
func (b Block) Y() uint8    { return Y(b.Data) }
func (b Block) Z() uint8    { return Z(b.Data) }
func (b Block) Solid() bool { return Solid(b.Data) }

// Transparent reports whether neighbouring faces should be drawn against this block.
func (b Block) Transparent() bool { return !b.Solid() }
