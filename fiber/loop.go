// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loop is the per-cord event loop. Callbacks posted from any
// goroutine run serially in the scheduler's context, which is what
// makes watcher handlers safe to touch cord state without locks.
//
// The watcher surface (async, idle, one-shot timer) mirrors what the
// scheduler needs: an async watcher to rendezvous with background
// work, an idle watcher to keep the loop from blocking while someone
// needs a zero-timeout poll, and timers for sleeps.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	idleN   int32
	broken  bool
	running bool
}

// NewLoop creates a stopped loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post schedules fn to run in the loop's next turn. Callable from any
// goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// take drains the current queue.
func (l *Loop) take() []func() {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	return q
}

func (l *Loop) pending() bool {
	l.mu.Lock()
	n := len(l.queue)
	l.mu.Unlock()
	return n > 0
}

// Run processes posted callbacks until Break. While an idle watcher
// is active the loop never blocks; it keeps polling with a zero
// timeout the way a real poller would.
func (l *Loop) Run() {
	l.running = true
	l.broken = false
	for !l.broken {
		for _, fn := range l.take() {
			fn()
			if l.broken {
				break
			}
		}
		if l.broken {
			break
		}
		if l.pending() {
			continue
		}
		if atomic.LoadInt32(&l.idleN) > 0 {
			// Zero-timeout poll: give other goroutines (timer
			// callbacks, cross-cord posts) a chance to enqueue.
			select {
			case <-l.wake:
			default:
				time.Sleep(time.Microsecond)
			}
			continue
		}
		<-l.wake
	}
	l.running = false
}

// Break stops the loop after the current callback returns.
func (l *Loop) Break() {
	l.broken = true
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Async is a watcher whose handler runs in the loop on Send. Sends
// coalesce while one is pending, matching feed-event semantics.
type Async struct {
	loop    *Loop
	fn      func()
	pending int32
}

// NewAsync creates an async watcher with the given handler.
func NewAsync(l *Loop, fn func()) *Async {
	return &Async{loop: l, fn: fn}
}

// Send requests one handler run. Callable from any goroutine.
func (a *Async) Send() {
	if !atomic.CompareAndSwapInt32(&a.pending, 0, 1) {
		return
	}
	a.loop.Post(func() {
		atomic.StoreInt32(&a.pending, 0)
		a.fn()
	})
}

// Idle is a watcher that, while started, forces the loop to poll with
// a zero timeout instead of blocking.
type Idle struct {
	loop    *Loop
	started bool
}

// NewIdle creates a stopped idle watcher.
func NewIdle(l *Loop) *Idle {
	return &Idle{loop: l}
}

// Start activates the watcher. Must run in loop context.
func (i *Idle) Start() {
	if i.started {
		return
	}
	i.started = true
	atomic.AddInt32(&i.loop.idleN, 1)
}

// Stop deactivates the watcher. Must run in loop context.
func (i *Idle) Stop() {
	if !i.started {
		return
	}
	i.started = false
	atomic.AddInt32(&i.loop.idleN, -1)
}

// Timer is a one-shot timer whose callback runs in the loop.
type Timer struct {
	t *time.Timer
}

// After arms a one-shot timer.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	return &Timer{t: time.AfterFunc(d, func() { l.Post(fn) })}
}

// Stop disarms the timer. The callback may already be queued; callers
// keep their own fired flag, as the scheduler does for yield
// timeouts.
func (t *Timer) Stop() {
	t.t.Stop()
}
