package chunk

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"yave.dev/internal/world/material"
)

func mixedChunk() *Chunk {
	c := New(1, 1)
	// Two separate dirt runs with stone between them must stay separate groups.
	for i := 10; i < 20; i++ {
		c.Blocks[i].ID = material.Dirt
	}
	for i := 30; i < 31; i++ {
		c.Blocks[i].ID = material.Dirt
	}
	c.Blocks[Volume-1].ID = material.Grass
	return c
}

func TestCompress_SingleMaterial(t *testing.T) {
	groups := Compress(New(2, -1))
	want := []Group{{ID: material.Stone, Count: Volume}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestCompress_RunsAreMaximalAndNeverMerged(t *testing.T) {
	groups := Compress(mixedChunk())
	want := []Group{
		{ID: material.Stone, Count: 10},
		{ID: material.Dirt, Count: 10},
		{ID: material.Stone, Count: 10},
		{ID: material.Dirt, Count: 1},
		{ID: material.Stone, Count: Volume - 32},
		{ID: material.Grass, Count: 1},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestCompress_Invariants(t *testing.T) {
	chunks := []*Chunk{
		New(0, 0),
		mixedChunk(),
		Generate(-4, 9, Layered{Seed: 7, MinHeight: 2, MaxHeight: 14}),
		Generate(100, 100, Layered{Seed: 99}),
	}
	for _, c := range chunks {
		groups := Compress(c)
		if got := GroupsTotal(groups); got != Volume {
			t.Fatalf("chunk (%d,%d): groups total %d", c.X, c.Y, got)
		}
		for i := 1; i < len(groups); i++ {
			if groups[i-1].ID == groups[i].ID {
				t.Fatalf("chunk (%d,%d): adjacent groups %d/%d share id %q", c.X, c.Y, i-1, i, groups[i].ID)
			}
		}
	}
}

func TestDecompress_RoundTrip(t *testing.T) {
	reg := material.Default()
	chunks := []*Chunk{
		New(0, 0),
		mixedChunk(),
		Generate(-4, 9, Layered{Seed: 7, MinHeight: 2, MaxHeight: 14}),
	}
	for _, c := range chunks {
		got, err := Decompress(Compress(c), c.X, c.Y, reg.Solid)
		if err != nil {
			t.Fatalf("decompress (%d,%d): %v", c.X, c.Y, err)
		}
		if diff := cmp.Diff(c, got); diff != "" {
			t.Fatalf("round trip (%d,%d) mismatch (-want +got):\n%s", c.X, c.Y, diff)
		}
	}
}

func TestDecompress_NilSolidityMarksEverythingSolid(t *testing.T) {
	c := Generate(0, 0, Layered{Seed: 1})
	got, err := Decompress(Compress(c), 0, 0, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	for i, b := range got.Blocks {
		if !b.Solid() {
			t.Fatalf("block %d not solid", i)
		}
		if b.ID != c.Blocks[i].ID {
			t.Fatalf("block %d id %q want %q", i, b.ID, c.Blocks[i].ID)
		}
	}
}

func TestDecompress_StoneScenario(t *testing.T) {
	groups := Compress(New(2, -1))
	if len(groups) != 1 || groups[0] != (Group{ID: "base:stone", Count: 4096}) {
		t.Fatalf("unexpected groups: %+v", groups)
	}
	c, err := Decompress(groups, 2, -1, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if c.X != 2 || c.Y != -1 {
		t.Fatalf("coords: (%d,%d)", c.X, c.Y)
	}
	first, last := c.Blocks[0], c.Blocks[4095]
	if first.X() != 0 || first.Y() != 0 || first.Z() != 0 {
		t.Fatalf("block 0 at (%d,%d,%d)", first.X(), first.Y(), first.Z())
	}
	if last.X() != 15 || last.Y() != 15 || last.Z() != 15 {
		t.Fatalf("block 4095 at (%d,%d,%d)", last.X(), last.Y(), last.Z())
	}
}

func TestDecompress_RejectsBadCounts(t *testing.T) {
	cases := []struct {
		name   string
		groups []Group
		want   error
	}{
		{"empty", nil, ErrChunkUnderflow},
		{"short", []Group{{ID: material.Stone, Count: 4095}}, ErrChunkUnderflow},
		{"long", []Group{{ID: material.Stone, Count: 4096}, {ID: material.Dirt, Count: 1}}, ErrChunkOverflow},
		{"huge", []Group{{ID: material.Stone, Count: ^uint32(0)}}, ErrChunkOverflow},
		{"zero", []Group{{ID: material.Stone, Count: 0}, {ID: material.Dirt, Count: 4096}}, ErrEmptyGroup},
	}
	for _, tc := range cases {
		c, err := Decompress(tc.groups, 0, 0, nil)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got err=%v want %v", tc.name, err, tc.want)
		}
		if c != nil {
			t.Fatalf("%s: expected nil chunk on error", tc.name)
		}
	}
}
