package material

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Well-known ids of the built-in content.
const (
	Air   = "base:air"
	Stone = "base:stone"
	Dirt  = "base:dirt"
	Grass = "base:grass"
	Sand  = "base:sand"
)

//go:embed materials.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("materials.schema.json", schemaJSON)

// Def describes one material. Textures maps a face name (top, bottom, north, south,
// east, west) to a texture identifier; only the renderer reads it.
type Def struct {
	ID       string            `json:"id"`
	Solid    bool              `json:"solid"`
	Textures map[string]string `json:"textures,omitempty"`
}

// Registry resolves material ids. It is immutable once built and safe for concurrent use.
type Registry struct {
	defs   map[string]Def
	ids    []string
	digest string
}

func New(defs []Def) (*Registry, error) {
	r := &Registry{defs: make(map[string]Def, len(defs))}
	for _, d := range defs {
		if _, err := ParseIdentifier(d.ID); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate material id %q", d.ID)
		}
		r.defs[d.ID] = d
		r.ids = append(r.ids, d.ID)
	}
	sort.Strings(r.ids)
	b, _ := json.Marshal(r.ids)
	r.digest = sha256Hex(b)
	return r, nil
}

// Load reads a JSON array of material definitions.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}
	var defs []Def
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}
	r, err := New(defs)
	if err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}
	r.digest = sha256Hex(raw)
	return r, nil
}

// Default is the content shipped with the server when no materials file is given.
func Default() *Registry {
	r, err := New([]Def{
		{ID: Air, Solid: false},
		{ID: Stone, Solid: true, Textures: allFaces("base:stone")},
		{ID: Dirt, Solid: true, Textures: allFaces("base:dirt")},
		{ID: Grass, Solid: true, Textures: map[string]string{
			"top": "base:grass_top", "bottom": "base:dirt",
			"north": "base:grass_side", "south": "base:grass_side",
			"east": "base:grass_side", "west": "base:grass_side",
		}},
		{ID: Sand, Solid: true, Textures: allFaces("base:sand")},
	})
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(id string) (Def, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// Solid reports the solidity of id. Unknown ids are treated as solid, which is what
// a client without the content pack would assume.
func (r *Registry) Solid(id string) bool {
	if r == nil {
		return true
	}
	d, ok := r.defs[id]
	if !ok {
		return true
	}
	return d.Solid
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Len() int { return len(r.ids) }

func (r *Registry) Digest() string { return r.digest }

func allFaces(tex string) map[string]string {
	return map[string]string{
		"top": tex, "bottom": tex,
		"north": tex, "south": tex,
		"east": tex, "west": tex,
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
