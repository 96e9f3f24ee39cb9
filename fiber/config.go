// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/molecula/loom/arena"
)

// Config carries the runtime knobs recognized by the fiber runtime.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// StackSize is the pooled scratch-block size per fiber.
	StackSize int `toml:"stack-size"`
	// FiberNameMax bounds fiber names; longer names are truncated.
	FiberNameMax int `toml:"fiber-name-max"`
	// ReservedFIDCount is the top of the fiber-id range never handed
	// to user fibers.
	ReservedFIDCount uint32 `toml:"reserved-fid-count"`
	// StackWatermarkWindow is the near-end window for the stack
	// watermark pattern.
	StackWatermarkWindow int `toml:"stack-watermark-window"`
	// RegionGCThreshold is the cutoff between a cheap region reset
	// and a full slab release in Fiber.GC.
	RegionGCThreshold int `toml:"region-gc-threshold"`
}

// DefaultConfig returns the stock knob values.
func DefaultConfig() Config {
	return Config{
		StackSize:            arena.StackSizeDefault,
		FiberNameMax:         255,
		ReservedFIDCount:     100,
		StackWatermarkWindow: arena.WatermarkWindow,
		RegionGCThreshold:    arena.RegionGCThreshold,
	}
}

// LoadConfig reads a toml file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading fiber config")
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing fiber config")
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.StackSize < arena.StackSizeMinimal {
		return errors.Errorf("stack-size %d is below the %d minimum", c.StackSize, arena.StackSizeMinimal)
	}
	if c.FiberNameMax < 1 {
		return errors.New("fiber-name-max must be positive")
	}
	if c.StackWatermarkWindow >= c.StackSize {
		return errors.New("stack-watermark-window must be smaller than stack-size")
	}
	return nil
}
