// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

import (
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by WaitTimeout when the delay elapses before
// a signal.
var ErrTimeout = errors.New("timed out")

// Cond is a fiber condition variable. Like everything else in a cord
// it is single-threaded: Wait, Signal and Broadcast must run on the
// owning cord.
type Cond struct {
	waiters list
	inited  bool
}

func (c *Cond) lazyInit() {
	if !c.inited {
		c.waiters.init()
		c.inited = true
	}
}

// Wait suspends the calling fiber until signalled. A pending
// cancellation surfaces as ErrCancelled after the wakeup.
func (c *Cond) Wait(f *Fiber) error {
	c.lazyInit()
	c.waiters.pushBack(&f.state)
	f.Yield()
	return f.TestCancel()
}

// WaitTimeout is Wait bounded by d.
func (c *Cond) WaitTimeout(f *Fiber, d time.Duration) error {
	c.lazyInit()
	c.waiters.pushBack(&f.state)
	timedOut := f.YieldTimeout(d)
	if timedOut {
		// The timer woke us; drop the stale waiter entry.
		f.state.unlink()
		return ErrTimeout
	}
	return f.TestCancel()
}

// Signal wakes the longest-waiting fiber, if any.
func (c *Cond) Signal() {
	c.lazyInit()
	if f := c.waiters.shift(); f != nil {
		f.Wakeup()
	}
}

// Broadcast wakes all waiting fibers in wait order.
func (c *Cond) Broadcast() {
	c.lazyInit()
	for {
		f := c.waiters.shift()
		if f == nil {
			return
		}
		f.Wakeup()
	}
}
