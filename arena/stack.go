// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package arena manages the mmap-backed memory blocks handed to
// fibers: guard-protected stack blocks recycled through a free list,
// and bump-allocated scratch regions carved out of those blocks.
package arena

import (
	"encoding/binary"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// StackSizeMinimal is the smallest block a fiber may ask for.
	StackSizeMinimal = 16 * 1024
	// StackSizeDefault is the pooled block size.
	StackSizeDefault = 512 * 1024
	// WatermarkWindow is the window near the block's far end where
	// the watermark pattern starts.
	WatermarkWindow = 64 * 1024
)

// poisonPool holds the watermark pattern values. Random values,
// generated once with uuidgen.
var poisonPool = [8]uint64{
	0x74f31d37285c4c37, 0xb10269a05bf10c29,
	0x0994d845bd284e0f, 0x9ffd4f7129c184df,
	0x357151e6711c4415, 0x8c5e5f41aafe6f28,
	0x6917dd79e78049d5, 0xba61957c65ca2465,
}

// poisonOff is the byte stride between consecutive watermark values.
// 128 bytes covers the common write granularity without making the
// scatter pass expensive.
const poisonOff = 128

// growsDown reports whether the machine stack grows towards lower
// addresses. Checked once at package init by comparing frame-local
// addresses across a call.
var growsDown = detectGrowth()

//go:noinline
func deeperFrame(outer *byte) bool {
	var inner byte
	return uintptr(unsafe.Pointer(&inner)) < uintptr(unsafe.Pointer(outer))
}

func detectGrowth() bool {
	var outer byte
	return deeperFrame(&outer)
}

// Arena hands out guard-protected memory blocks. Default-sized blocks
// are pooled and carry a watermark; custom-sized blocks are unmapped
// on release.
type Arena struct {
	mu        sync.Mutex
	free      []*Stack
	pageSize  int
	stackSize int
	wmWindow  int

	// released counts MADV_DONTNEED calls issued while recycling
	// blocks. Exposed for tests and stats.
	released uint64
}

// Stack is one guard-protected block. The usable part is Mem; one
// page at the growth end is mapped PROT_NONE for the block's whole
// lifetime.
type Stack struct {
	slab      []byte // whole mapping, including the guard page
	mem       []byte // usable bytes
	watermark []byte // nil for custom-sized blocks
	custom    bool
	arena     *Arena
}

// NewArena creates an arena pooling blocks of the given default size.
// watermarkWindow bounds the randomized watermark placement near the
// block's far end; zero means WatermarkWindow.
func NewArena(stackSize, watermarkWindow int) (*Arena, error) {
	if stackSize == 0 {
		stackSize = StackSizeDefault
	}
	if watermarkWindow == 0 {
		watermarkWindow = WatermarkWindow
	}
	if stackSize < StackSizeMinimal {
		return nil, errors.Errorf("stack size %d is below the %d minimum", stackSize, StackSizeMinimal)
	}
	if watermarkWindow >= stackSize {
		return nil, errors.Errorf("watermark window %d does not fit a %d-byte stack", watermarkWindow, stackSize)
	}
	return &Arena{
		pageSize:  os.Getpagesize(),
		stackSize: stackSize,
		wmWindow:  watermarkWindow,
	}, nil
}

// DefaultSize returns the pooled block size.
func (a *Arena) DefaultSize() int { return a.stackSize }

// Released reports how many MADV_DONTNEED calls recycling has issued
// so far.
func (a *Arena) Released() uint64 { return atomic.LoadUint64(&a.released) }

// Get returns a block of the requested size, reusing a pooled one
// when size is zero or equal to the default. The returned block's
// watermark pattern is intact.
func (a *Arena) Get(size int) (*Stack, error) {
	custom := size != 0 && size != a.stackSize
	if !custom {
		a.mu.Lock()
		if n := len(a.free); n > 0 {
			s := a.free[n-1]
			a.free = a.free[:n-1]
			a.mu.Unlock()
			return s, nil
		}
		a.mu.Unlock()
		size = a.stackSize
	}
	if size < StackSizeMinimal {
		return nil, errors.Errorf("stack size %d is below the %d minimum", size, StackSizeMinimal)
	}
	return a.create(size, custom)
}

func (a *Arena) create(size int, custom bool) (*Stack, error) {
	// Round up so the guard page does not eat into the requested
	// usable size.
	mapLen := pageAlignUp(size, a.pageSize) + a.pageSize
	slab, err := unix.Mmap(-1, 0, mapLen, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mmap fiber stack")
	}
	s := &Stack{slab: slab, custom: custom, arena: a}
	var guard []byte
	if growsDown {
		guard = slab[:a.pageSize]
		s.mem = slab[a.pageSize:]
	} else {
		guard = slab[mapLen-a.pageSize:]
		s.mem = slab[:mapLen-a.pageSize]
	}
	if err := unix.Mprotect(guard, unix.PROT_NONE); err != nil {
		_ = unix.Munmap(slab)
		return nil, errors.Wrap(err, "mprotect stack guard")
	}
	if !custom {
		// Regular loads rarely touch the whole block; drop the
		// pages up front to keep rss down.
		_ = unix.Madvise(s.mem, unix.MADV_DONTNEED)
		s.createWatermark()
	}
	return s, nil
}

// Mem returns the usable bytes of the block.
func (s *Stack) Mem() []byte { return s.mem }

// Size returns the usable length of the block.
func (s *Stack) Size() int { return len(s.mem) }

// Custom reports whether this block bypasses pooling.
func (s *Stack) Custom() bool { return s.custom }

// Put recycles the block. Pooled blocks release pages between the
// base and the watermark only if the pattern was overwritten;
// custom blocks are unmapped.
func (a *Arena) Put(s *Stack) {
	if s.custom {
		a.destroy(s)
		return
	}
	s.Recycle()
	a.mu.Lock()
	a.free = append(a.free, s)
	a.mu.Unlock()
}

func (a *Arena) destroy(s *Stack) {
	// Lift the guard protection before unmapping so the kernel sees
	// one uniform mapping.
	if growsDown {
		_ = unix.Mprotect(s.slab[:a.pageSize], unix.PROT_READ|unix.PROT_WRITE)
	} else {
		_ = unix.Mprotect(s.slab[len(s.slab)-a.pageSize:], unix.PROT_READ|unix.PROT_WRITE)
	}
	_ = unix.Munmap(s.slab)
	s.slab, s.mem, s.watermark = nil, nil, nil
}

// hasWatermark checks whether the poison values survived since the
// last scatter.
func (s *Stack) hasWatermark() bool {
	off := 0
	for i := range poisonPool {
		if binary.LittleEndian.Uint64(s.watermark[off:]) != poisonPool[i] {
			return false
		}
		off += poisonOff
	}
	return true
}

// putWatermark scatters the poison values at the recorded offset.
func (s *Stack) putWatermark() {
	off := 0
	for i := range poisonPool {
		binary.LittleEndian.PutUint64(s.watermark[off:], poisonPool[i])
		off += poisonOff
	}
}

// Recycle drops pages between the block base and the watermark, but
// only when the fiber has actually written past it. The page holding
// the watermark itself is left alone since the pattern is rewritten
// anyway.
func (s *Stack) Recycle() {
	if s.watermark == nil || s.hasWatermark() {
		return
	}
	a := s.arena
	wm := s.offsetOf(s.watermark)
	if growsDown {
		end := pageAlignDown(wm, a.pageSize)
		if end > 0 {
			_ = unix.Madvise(s.mem[:end], unix.MADV_DONTNEED)
			atomic.AddUint64(&a.released, 1)
		}
	} else {
		start := pageAlignUp(wm, a.pageSize)
		if start < len(s.mem) {
			_ = unix.Madvise(s.mem[start:], unix.MADV_DONTNEED)
			atomic.AddUint64(&a.released, 1)
		}
	}
	s.putWatermark()
}

// createWatermark picks a randomized spot inside the near-end window
// and scatters the pattern there. Randomizing the start raises the
// odds that an overflowing write lands on a poison value.
func (s *Stack) createWatermark() {
	offset := rand.Intn(poisonOff/8) * 8
	var wm int
	if growsDown {
		wm = len(s.mem) - s.arena.wmWindow + offset
	} else {
		wm = s.arena.wmWindow - s.arena.pageSize + offset
	}
	s.watermark = s.mem[wm:]
	s.putWatermark()
}

func (s *Stack) offsetOf(b []byte) int {
	return len(s.mem) - len(b)
}

func pageAlignDown(n, page int) int { return n &^ (page - 1) }
func pageAlignUp(n, page int) int   { return (n + page - 1) &^ (page - 1) }
