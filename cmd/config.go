package cmd

import (
	"os"

	"gopkg.in/yaml.v3"
)

// BenchConfig describes a synthetic benchmark scene.
type BenchConfig struct {
	// Triangles per generated mesh.
	Triangles int `yaml:"triangles"`
	// Number of BLAS instances in the top-level structure.
	Instances int `yaml:"instances"`
	// Animation frames to simulate (each frame re-transforms every
	// instance and rebuilds the TLAS).
	Frames int `yaml:"frames"`
	// Rays traced through the agglomerative TLAS to measure traversal
	// cost; the quick-built TLAS is timed for construction only.
	Rays int `yaml:"rays"`
	// RNG seed for reproducible scenes.
	Seed int64 `yaml:"seed"`
}

// DefaultBenchConfig mirrors the classic animated-armadillo style demo:
// a moderate mesh instanced a few hundred times.
func DefaultBenchConfig() BenchConfig {
	return BenchConfig{
		Triangles: 12000,
		Instances: 256,
		Frames:    8,
		Rays:      10000,
		Seed:      1,
	}
}

// LoadBenchConfig reads a yaml benchmark description, filling unset
// fields from the defaults. An empty path yields the defaults.
func LoadBenchConfig(path string) (BenchConfig, error) {
	cfg := DefaultBenchConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	def := DefaultBenchConfig()
	if cfg.Triangles <= 0 {
		cfg.Triangles = def.Triangles
	}
	if cfg.Instances <= 0 {
		cfg.Instances = def.Instances
	}
	if cfg.Frames <= 0 {
		cfg.Frames = def.Frames
	}
	if cfg.Rays <= 0 {
		cfg.Rays = def.Rays
	}
	return cfg, nil
}
