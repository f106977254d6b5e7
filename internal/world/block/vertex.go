package block

// Vertex bit layout (32-bit word), shared with the mesher:
//
//	[31:27] x  [26:22] y  [21:17] z  [16:14] texture  [13:10] atlas
const (
	vShiftX       = 27
	vShiftY       = 22
	vShiftZ       = 17
	vShiftTexture = 14
	vShiftAtlas   = 10

	vMaskTexture = 0x7
	vMaskAtlas   = 0xf
)

// PackVertex packs a mesh vertex. x/y/z range over 0..16 inclusive (a face on the far
// edge of a chunk), texture over 0..7 and atlas over 0..15.
func PackVertex(x, y, z, texture, atlas uint32) uint32 {
	return (x&mask5)<<vShiftX |
		(y&mask5)<<vShiftY |
		(z&mask5)<<vShiftZ |
		(texture&vMaskTexture)<<vShiftTexture |
		(atlas&vMaskAtlas)<<vShiftAtlas
}

func VertexX(v uint32) uint32       { return v >> vShiftX }
func VertexY(v uint32) uint32       { return (v >> vShiftY) & mask5 }
func VertexZ(v uint32) uint32       { return (v >> vShiftZ) & mask5 }
func VertexTexture(v uint32) uint32 { return (v >> vShiftTexture) & vMaskTexture }
func VertexAtlas(v uint32) uint32   { return (v >> vShiftAtlas) & vMaskAtlas }
