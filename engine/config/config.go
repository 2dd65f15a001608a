package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// RendererConfig controls the sizing of the per-frame resource ring and the
// residency system. Values are fixed once the backend is initialized; ring
// growth happens only between frames.
type RendererConfig struct {
	AppName           string `toml:"app_name"`
	Width             uint32 `toml:"width"`
	Height            uint32 `toml:"height"`
	FramesInFlight    uint32 `toml:"frames_in_flight"`
	UniformRingSize   uint64 `toml:"uniform_ring_size"`
	VertexRingSize    uint64 `toml:"vertex_ring_size"`
	StagingRingSize   uint64 `toml:"staging_ring_size"`
	BindlessSlotCount uint32 `toml:"bindless_slot_count"`
	ShaderDir         string `toml:"shader_dir"`
	ShaderHotReload   bool   `toml:"shader_hot_reload"`
	EnableValidation  bool   `toml:"enable_validation"`
}

// Default returns the configuration used when no file is present.
func Default() *RendererConfig {
	return &RendererConfig{
		AppName:           "Aurora",
		Width:             1280,
		Height:            720,
		FramesInFlight:    2,
		UniformRingSize:   512 * 1024,
		VertexRingSize:    1024 * 1024,
		StagingRingSize:   12 * 1024 * 1024,
		BindlessSlotCount: 1024,
		ShaderDir:         "shaders",
		ShaderHotReload:   false,
		EnableValidation:  false,
	}
}

// Load reads a TOML config file, filling unset fields from Default.
func Load(path string) (*RendererConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
