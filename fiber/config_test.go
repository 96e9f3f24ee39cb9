// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/molecula/loom/arena"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, arena.StackSizeDefault, cfg.StackSize)
	require.Equal(t, arena.WatermarkWindow, cfg.StackWatermarkWindow)
	require.Equal(t, arena.RegionGCThreshold, cfg.RegionGCThreshold)
	require.NoError(t, cfg.validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fiber.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
stack-size = 262144
fiber-name-max = 64
reserved-fid-count = 50
region-gc-threshold = 65536
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 262144, cfg.StackSize)
	require.Equal(t, 64, cfg.FiberNameMax)
	require.Equal(t, uint32(50), cfg.ReservedFIDCount)
	require.Equal(t, 65536, cfg.RegionGCThreshold)
	// Untouched knobs keep their defaults.
	require.Equal(t, arena.WatermarkWindow, cfg.StackWatermarkWindow)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fiber.toml")
	require.NoError(t, os.WriteFile(path, []byte("stack-size = 1024\n"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
