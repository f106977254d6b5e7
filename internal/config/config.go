// Package config loads the server tuning file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"yave.dev/internal/server"
	"yave.dev/internal/world/chunk"
	"yave.dev/internal/world/material"
)

const (
	GeneratorFlat    = "flat"
	GeneratorLayered = "layered"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	ViewRadius int `yaml:"view_radius" json:"view_radius"`

	InboxSize     int     `yaml:"inbox_size" json:"inbox_size"`
	PeerRateLimit float64 `yaml:"peer_rate_limit" json:"peer_rate_limit"`
	PeerBurst     int     `yaml:"peer_burst" json:"peer_burst"`
	IdleTimeoutMs int     `yaml:"idle_timeout_ms" json:"idle_timeout_ms"`

	Spawn     [3]float64 `yaml:"spawn" json:"spawn"`
	Generator Generator  `yaml:"generator" json:"generator"`
}

type Generator struct {
	Kind     string `yaml:"kind" json:"kind"`
	Material string `yaml:"material" json:"material"`

	// Layered terrain only.
	Seed      int64 `yaml:"seed" json:"seed"`
	MinHeight int   `yaml:"min_height" json:"min_height"`
	MaxHeight int   `yaml:"max_height" json:"max_height"`
	Grid      int   `yaml:"grid" json:"grid"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:    20,
		ViewRadius:    0,
		InboxSize:     4096,
		PeerRateLimit: 200,
		PeerBurst:     400,
		IdleTimeoutMs: 30000,
		Spawn:         [3]float64{0, 0, 10},
		Generator: Generator{
			Kind:      GeneratorFlat,
			Material:  material.Stone,
			MinHeight: 4,
			MaxHeight: 12,
			Grid:      16,
		},
	}
}

// Load reads a yaml tuning file. Keys absent from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0 || t.TickRateHz > 1000:
		return fmt.Errorf("tick_rate_hz must be in 1..1000, got %d", t.TickRateHz)
	case t.ViewRadius < 0 || t.ViewRadius > 32:
		return fmt.Errorf("view_radius must be in 0..32, got %d", t.ViewRadius)
	case t.InboxSize <= 0:
		return fmt.Errorf("inbox_size must be positive, got %d", t.InboxSize)
	case t.PeerRateLimit < 0:
		return fmt.Errorf("peer_rate_limit must not be negative, got %v", t.PeerRateLimit)
	case t.PeerRateLimit > 0 && t.PeerBurst <= 0:
		return fmt.Errorf("peer_burst must be positive when peer_rate_limit is set, got %d", t.PeerBurst)
	case t.IdleTimeoutMs < 0:
		return fmt.Errorf("idle_timeout_ms must not be negative, got %d", t.IdleTimeoutMs)
	}
	switch t.Generator.Kind {
	case GeneratorFlat:
		if _, err := material.ParseIdentifier(t.Generator.Material); err != nil {
			return fmt.Errorf("generator.material: %w", err)
		}
	case GeneratorLayered:
		g := t.Generator
		if g.MinHeight < 0 || g.MaxHeight > chunk.Size-1 || g.MinHeight > g.MaxHeight {
			return fmt.Errorf("generator heights must satisfy 0 <= min <= max <= %d, got %d..%d", chunk.Size-1, g.MinHeight, g.MaxHeight)
		}
		if g.Grid <= 0 {
			return fmt.Errorf("generator.grid must be positive, got %d", g.Grid)
		}
	default:
		return fmt.Errorf("unknown generator kind %q", t.Generator.Kind)
	}
	return nil
}

// BuildGenerator resolves the generator section against the material registry.
func (t Tuning) BuildGenerator(reg *material.Registry) (chunk.Generator, error) {
	g := t.Generator
	switch g.Kind {
	case GeneratorFlat:
		if _, ok := reg.Lookup(g.Material); !ok {
			return nil, fmt.Errorf("generator material %q is not registered", g.Material)
		}
		return chunk.Flat{ID: g.Material, Solid: reg.Solid(g.Material)}, nil
	case GeneratorLayered:
		for _, id := range []string{material.Air, material.Stone, material.Dirt, material.Grass} {
			if _, ok := reg.Lookup(id); !ok {
				return nil, fmt.Errorf("layered terrain needs material %q", id)
			}
		}
		return chunk.Layered{Seed: g.Seed, MinHeight: g.MinHeight, MaxHeight: g.MaxHeight, Grid: g.Grid, Solid: reg.Solid}, nil
	default:
		return nil, fmt.Errorf("unknown generator kind %q", g.Kind)
	}
}

// ServerConfig maps the tuning onto the world loop configuration.
func (t Tuning) ServerConfig(reg *material.Registry) (server.Config, error) {
	gen, err := t.BuildGenerator(reg)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		TickRateHz:    t.TickRateHz,
		ViewRadius:    t.ViewRadius,
		InboxSize:     t.InboxSize,
		PeerRateLimit: t.PeerRateLimit,
		PeerBurst:     t.PeerBurst,
		IdleTimeout:   time.Duration(t.IdleTimeoutMs) * time.Millisecond,
		Spawn:         mgl64.Vec3(t.Spawn),
		Generator:     gen,
	}, nil
}
