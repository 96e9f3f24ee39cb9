// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package fiber implements cooperatively scheduled execution contexts
// multiplexed by a per-cord scheduler. Exactly one fiber of a cord
// runs at any instant; every suspension point is explicit (Yield,
// Sleep, Join, cond wait), so state shared within a cord needs no
// locks.
//
// Fibers are backed by goroutines parked on a private resume channel;
// a context switch is a channel handoff. The scratch block attached
// to each fiber keeps the guard-page and watermark discipline of a
// native stack arena.
package fiber

import (
	"time"

	"github.com/pkg/errors"

	"github.com/molecula/loom/arena"
)

// Flag is a fiber state bit.
type Flag uint32

const (
	// FlagReady: the fiber is on the ready list or inside the
	// dispatch chain.
	FlagReady Flag = 1 << iota
	// FlagDead: the body returned; the fiber never runs again.
	FlagDead
	// FlagCancellable: Cancel may wake this fiber.
	FlagCancellable
	// FlagCancelled: cancellation was requested.
	FlagCancelled
	// FlagJoinable: the fiber lingers after death until joined.
	FlagJoinable
	// FlagCustomStack: the scratch block is custom-sized and is
	// destroyed on recycle instead of pooled.
	FlagCustomStack
)

const defaultFlags = FlagCancellable

// idSched is the reserved id of every cord's scheduler fiber.
const idSched uint32 = 1

// Body is a fiber's main function. A non-nil return becomes the
// fiber's diagnostic; it never unwinds across a context switch.
type Body func(f *Fiber, args ...interface{}) error

// ErrCancelled is the failure delivered at cancellation points of a
// cancelled fiber.
var ErrCancelled = errors.New("fiber is cancelled")

// Attr carries creation-time fiber attributes.
type Attr struct {
	// StackSize requests a custom scratch-block size. Zero means
	// the pooled default.
	StackSize int
}

// Fiber is one cooperative execution context owned by a cord.
type Fiber struct {
	fid   uint32
	name  string
	flags Flag
	csw   uint64 // context switches into this fiber

	cord   *Cord
	caller *Fiber // switch target of the next yield

	body Body
	args []interface{}
	ret  error
	diag Diag

	resume    chan struct{}
	destroyed bool

	stack *arena.Stack
	gc    *arena.Region

	// storage is the slot reserved for the scripting collaborator.
	storage interface{}

	state node // ready-list / wait-list membership
	link  node // alive-list / dead-pool membership
	wake  list // fibers waiting for this one to die

	onYield Triggers
	onStop  Triggers
}

// ID returns the fiber's id, unique within its cord's lifetime.
func (f *Fiber) ID() uint32 { return f.fid }

// Name returns the fiber's name.
func (f *Fiber) Name() string { return f.name }

// SetName renames the fiber, truncating to the configured maximum.
func (f *Fiber) SetName(name string) {
	if max := f.cord.cfg.FiberNameMax; len(name) > max {
		name = name[:max]
	}
	f.name = name
}

// Cord returns the owning cord.
func (f *Fiber) Cord() *Cord { return f.cord }

// Switches returns how many times this fiber has received control.
func (f *Fiber) Switches() uint64 { return f.csw }

// Diag returns the fiber's diagnostics slot.
func (f *Fiber) Diag() *Diag { return &f.diag }

// Region returns the fiber's scratch region.
func (f *Fiber) Region() *arena.Region { return f.gc }

// Storage returns the collaborator-owned per-fiber slot.
func (f *Fiber) Storage() interface{} { return f.storage }

// SetStorage sets the collaborator-owned per-fiber slot.
func (f *Fiber) SetStorage(v interface{}) { f.storage = v }

// OnYield returns the trigger list run right before each yield.
// Triggers must not fail and must not yield.
func (f *Fiber) OnYield() *Triggers { return &f.onYield }

// OnStop returns the trigger list run when the fiber dies.
func (f *Fiber) OnStop() *Triggers { return &f.onStop }

// IsDead reports whether the body has finished.
func (f *Fiber) IsDead() bool { return f.flags&FlagDead != 0 }

// IsCancelled reports whether cancellation was requested.
func (f *Fiber) IsCancelled() bool { return f.flags&FlagCancelled != 0 }

// GC applies the scratch-region policy between requests: reset below
// the configured threshold, release above it.
func (f *Fiber) GC() {
	f.gc.GC(f.cord.cfg.RegionGCThreshold)
}

// Start sets the fiber's arguments and switches to it immediately.
// Must run in the owning cord.
func (f *Fiber) Start(args ...interface{}) {
	f.args = args
	f.cord.call(f)
}

// Wakeup appends the fiber to its cord's ready list unless it is
// already ready or dead, and nudges the loop if the list was empty.
// The tail append is a contract: fibers woken in one turn run in
// wakeup order.
func (f *Fiber) Wakeup() {
	c := f.cord
	if f.flags&(FlagReady|FlagDead) != 0 {
		return
	}
	if f == &c.sched {
		return
	}
	if c.ready.empty() {
		c.wakeupEvent.Send()
	}
	f.state.unlink()
	c.ready.pushBack(&f.state)
	f.flags |= FlagReady
}

// Yield delivers control to the fiber's caller, which is the next
// fiber of the dispatch chain or the scheduler. on_yield triggers run
// first.
func (f *Fiber) Yield() {
	c := f.cord
	callee := f.caller
	f.caller = &c.sched
	if !f.onYield.Empty() {
		// By convention these must not fail.
		_ = f.onYield.RunAll(nil)
	}
	c.switchTo(f, callee)
}

// Reschedule moves the fiber to the end of the ready list and yields,
// letting other ready fibers of equal priority run.
func (f *Fiber) Reschedule() {
	f.Wakeup()
	f.Yield()
}

// YieldTimeout yields with a one-shot timer armed; it reports whether
// the timer, rather than an explicit wakeup, resumed the fiber.
func (f *Fiber) YieldTimeout(d time.Duration) bool {
	c := f.cord
	var fired, cancelled bool
	timer := c.loop.After(d, func() {
		// The callback can still be queued after Stop; the
		// cancelled flag keeps it from waking a fiber that
		// already moved on.
		if cancelled {
			return
		}
		fired = true
		f.Wakeup()
	})
	f.Yield()
	cancelled = true
	timer.Stop()
	return fired
}

// Sleep suspends the fiber for at least d. Sleep(0) arms the idle
// watcher so the loop polls with a zero timeout instead of blocking.
func (f *Fiber) Sleep(d time.Duration) {
	c := f.cord
	if d == 0 {
		c.idleEvent.Start()
	}
	f.YieldTimeout(d)
	if d == 0 {
		c.idleEvent.Stop()
	}
}

// Cancel requests cancellation. It is asynchronous and cooperative:
// the target observes it at its next cancellation point. A dead fiber
// is left alone so its cause of death survives.
func (f *Fiber) Cancel() {
	if f.IsDead() {
		return
	}
	f.flags |= FlagCancelled
	if f != f.cord.fiber && f.flags&FlagCancellable != 0 {
		f.Wakeup()
	}
}

// TestCancel is a cancellation point: it fails with ErrCancelled when
// cancellation is pending.
func (f *Fiber) TestCancel() error {
	if f.flags&FlagCancelled == 0 {
		return nil
	}
	f.diag.Set(ErrCancelled)
	return ErrCancelled
}

// SetCancellable flips the cancellable bit on the fiber and returns
// the previous value. Not a cancellation point.
func (f *Fiber) SetCancellable(yes bool) bool {
	prev := f.flags&FlagCancellable != 0
	if yes {
		f.flags |= FlagCancellable
	} else {
		f.flags &^= FlagCancellable
	}
	return prev
}

// SetJoinable makes a living fiber linger after death until joined.
func (f *Fiber) SetJoinable(yes bool) {
	if yes {
		f.flags |= FlagJoinable
	} else {
		f.flags &^= FlagJoinable
	}
}

// Join waits until the fiber dies, moves its diagnostic into the
// caller and recycles it. The dead fiber's failure, if any, is
// returned. Joining a non-joinable (or already joined) fiber fails.
func (f *Fiber) Join() error {
	c := f.cord
	self := c.fiber
	if f.flags&FlagJoinable == 0 {
		return errors.Errorf("fiber %d is not joinable", f.fid)
	}
	for !f.IsDead() {
		// A wakeup following a cancel pulls the joiner off the
		// wake list, so re-add on every turn.
		f.wake.pushBack(&self.state)
		self.Yield()
	}
	ret := f.ret
	if ret != nil {
		f.diag.MoveTo(&self.diag)
	}
	f.flags &^= FlagJoinable
	c.recycle(f)
	return ret
}

// run is the trampoline loop of the backing goroutine. The goroutine
// parks on the resume channel between incarnations; a pooled fiber
// keeps its goroutine across recycles.
func (f *Fiber) run() {
	for {
		<-f.resume
		if f.destroyed {
			return
		}
		c := f.cord
		f.ret = f.invoke()
		if f.ret != nil {
			if f.diag.Empty() {
				f.diag.Set(f.ret)
			}
			// Joinable fibers leave the error for the joiner.
			if f.flags&FlagJoinable == 0 {
				if f.flags&FlagCancelled == 0 {
					c.log.Errorf("fiber %q: %v", f.name, f.ret)
				}
				f.diag.Clear()
			}
		} else {
			f.diag.Clear()
		}
		f.flags |= FlagDead
		for !f.wake.empty() {
			f.wake.shift().Wakeup()
		}
		if !f.onStop.Empty() {
			_ = f.onStop.RunAll(f)
		}
		// Drop any pending wakeup.
		f.state.unlink()
		if f.flags&FlagJoinable == 0 {
			c.recycle(f)
		}
		f.body = nil
		f.yieldFinal()
		if f.destroyed {
			return
		}
	}
}

// invoke runs the body behind the trampoline: a panic is converted
// into a diagnostic instead of unwinding across the handoff. The
// diagnostics slot is clear whenever control enters the body.
func (f *Fiber) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("fiber %q panicked: %v", f.name, r)
		}
	}()
	f.diag.Clear()
	return f.body(f, f.args...)
}

// yieldFinal hands control to the caller without parking; the run
// loop either parks at its top or exits.
func (f *Fiber) yieldFinal() {
	c := f.cord
	callee := f.caller
	f.caller = &c.sched
	c.fiber = callee
	callee.csw++
	callee.flags &^= FlagReady
	callee.resume <- struct{}{}
}
