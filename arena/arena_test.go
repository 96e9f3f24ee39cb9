// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackGuardAndPooling(t *testing.T) {
	a, err := NewArena(0, 0)
	require.NoError(t, err)

	s, err := a.Get(0)
	require.NoError(t, err)
	require.False(t, s.Custom())
	require.GreaterOrEqual(t, s.Size(), StackSizeDefault)

	// Untouched block: recycling must not release anything.
	a.Put(s)
	require.Equal(t, uint64(0), a.Released())

	// The pooled block comes back on the next Get.
	s2, err := a.Get(0)
	require.NoError(t, err)
	require.Equal(t, &s.mem[0], &s2.mem[0])
	a.Put(s2)
}

func TestStackWatermarkRelease(t *testing.T) {
	a, err := NewArena(0, 0)
	require.NoError(t, err)
	s, err := a.Get(0)
	require.NoError(t, err)

	// Clobber the first poison value, as an overflowing fiber would.
	copy(s.watermark[:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.False(t, s.hasWatermark())

	a.Put(s)
	require.Equal(t, uint64(1), a.Released())

	// The pattern must have been restored for the next user.
	s2, err := a.Get(0)
	require.NoError(t, err)
	require.True(t, s2.hasWatermark())
	a.Put(s2)
}

func TestStackCustomNotPooled(t *testing.T) {
	a, err := NewArena(0, 0)
	require.NoError(t, err)
	s, err := a.Get(64 * 1024)
	require.NoError(t, err)
	require.True(t, s.Custom())
	require.Nil(t, s.watermark)
	require.GreaterOrEqual(t, s.Size(), 64*1024)
	a.Put(s)
	require.Empty(t, a.free)

	_, err = a.Get(StackSizeMinimal / 2)
	require.Error(t, err)
}

func TestRegionBumpAndReset(t *testing.T) {
	s := make([]byte, 4096)
	r := NewRegion(s)

	b1 := r.Alloc(100)
	require.Len(t, b1, 100)
	b2 := r.Alloc(200)
	require.Len(t, b2, 200)
	require.Equal(t, 300, r.Used())

	// Overflow into a heap slab.
	b3 := r.Alloc(8192)
	require.Len(t, b3, 8192)
	require.Equal(t, 300+8192, r.Used())
	require.Len(t, r.slabs, 1)

	r.Reset()
	require.Equal(t, 0, r.Used())
	require.Len(t, r.slabs, 1)

	r.Alloc(50)
	r.Release()
	require.Equal(t, 0, r.Used())
	require.Empty(t, r.slabs)
}

func TestRegionGCPolicy(t *testing.T) {
	r := NewRegion(make([]byte, 1024))
	r.Alloc(512)
	r.Alloc(200 * 1024)
	require.NotEmpty(t, r.slabs)

	// Above the threshold: slabs go away.
	r.GC(0)
	require.Empty(t, r.slabs)

	// Below the threshold: slabs stay.
	r.Alloc(64 * 1024)
	r.GC(0)
	require.NotEmpty(t, r.slabs)
}
