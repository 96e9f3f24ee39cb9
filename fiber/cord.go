// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/molecula/loom/arena"
	"github.com/molecula/loom/logger"
)

// cordOnExit is the handler slot used by the cross-thread join
// handshake. The slot is change-once: either a joiner installs a
// handler, or the exiting thread stores the wont-run sentinel first.
type cordOnExit struct {
	fn func()
}

// cordWontRun is stored by an exiting cord thread when no joiner got
// there first; it is distinct from both nil and any real handler.
var cordWontRun = &cordOnExit{}

// Cord is one scheduler: an OS-thread-locked goroutine running an
// event loop and dispatching ready fibers.
type Cord struct {
	name string
	cfg  Config
	log  logger.Logger

	loop  *Loop
	arena *arena.Arena

	sched Fiber  // the scheduler's own execution context
	fiber *Fiber // currently running fiber

	alive list // living fibers
	ready list // fibers eligible to run this or next turn
	dead  list // recycled fiber pool

	registry map[uint32]*Fiber
	maxFid   uint32

	wakeupEvent *Async
	idleEvent   *Idle

	onExit atomic.Pointer[cordOnExit]
	done   chan struct{}
	ret    error
}

// NewCord creates a cord bound to the calling goroutine, which
// becomes the scheduler context.
func NewCord(name string, cfg Config, log logger.Logger) (*Cord, error) {
	if log == nil {
		log = logger.NopLogger
	}
	ar, err := arena.NewArena(cfg.StackSize, cfg.StackWatermarkWindow)
	if err != nil {
		return nil, errors.Wrap(err, "creating cord arena")
	}
	c := &Cord{
		name:     name,
		cfg:      cfg,
		log:      log,
		loop:     NewLoop(),
		arena:    ar,
		registry: make(map[uint32]*Fiber),
		maxFid:   cfg.ReservedFIDCount,
		done:     make(chan struct{}),
	}
	c.alive.init()
	c.ready.init()
	c.dead.init()
	c.wakeupEvent = NewAsync(c.loop, c.scheduleReady)
	c.idleEvent = NewIdle(c.loop)

	// The sched fiber is never on the ready list and keeps the
	// reserved id.
	s := &c.sched
	s.fid = idSched
	s.name = "sched"
	s.cord = c
	s.flags = defaultFlags
	s.resume = make(chan struct{}, 1)
	s.state.init(s)
	s.link.init(s)
	s.wake.init()
	s.gc = arena.NewRegion(nil)
	c.fiber = s
	return c, nil
}

// Name returns the cord name.
func (c *Cord) Name() string { return c.name }

// Self returns the currently running fiber (the sched fiber between
// dispatches).
func (c *Cord) Self() *Fiber { return c.fiber }

// Sched returns the scheduler fiber.
func (c *Cord) Sched() *Fiber { return &c.sched }

// Loop returns the cord's event loop.
func (c *Cord) Loop() *Loop { return c.loop }

// Logger returns the cord's logger.
func (c *Cord) Logger() logger.Logger { return c.log }

// Run drives the event loop until Break.
func (c *Cord) Run() { c.loop.Run() }

// Break stops the event loop.
func (c *Cord) Break() { c.loop.Break() }

// New creates (or recycles) a fiber with default attributes. The
// fiber is not started.
func (c *Cord) New(name string, body Body) (*Fiber, error) {
	return c.NewEx(name, nil, body)
}

// NewEx creates a fiber with explicit attributes. Custom-stack fibers
// bypass the pool entirely.
func (c *Cord) NewEx(name string, attr *Attr, body Body) (*Fiber, error) {
	size := 0
	if attr != nil && attr.StackSize != 0 && attr.StackSize != c.cfg.StackSize {
		size = attr.StackSize
	}
	var f *Fiber
	if size == 0 && !c.dead.empty() {
		f = c.dead.shift()
		c.alive.pushBack(&f.link)
		f.flags = defaultFlags
	} else {
		stack, err := c.arena.Get(size)
		if err != nil {
			return nil, err
		}
		f = &Fiber{
			cord:   c,
			resume: make(chan struct{}, 1),
			stack:  stack,
			gc:     arena.NewRegion(stack.Mem()),
		}
		f.flags = defaultFlags
		if size != 0 {
			f.flags |= FlagCustomStack
		}
		f.state.init(f)
		f.link.init(f)
		f.wake.init()
		c.alive.pushBack(&f.link)
		go f.run()
	}
	f.body = body
	// Skip the reserved id range.
	if c.maxFid++; c.maxFid <= c.cfg.ReservedFIDCount {
		c.maxFid = c.cfg.ReservedFIDCount + 1
	}
	f.fid = c.maxFid
	f.SetName(name)
	c.registry[f.fid] = f
	return f, nil
}

// Find looks a fiber up by id within this cord. It never crosses
// cords.
func (c *Cord) Find(fid uint32) *Fiber {
	return c.registry[fid]
}

// Stat walks the alive fibers; the callback returns false to stop.
func (c *Cord) Stat(fn func(f *Fiber) bool) {
	c.alive.forEach(fn)
}

// switchTo transfers control from the running fiber to callee: the
// callee's goroutine gets the token, from parks.
func (c *Cord) switchTo(from, to *Fiber) {
	c.fiber = to
	to.csw++
	to.flags &^= FlagReady
	to.resume <- struct{}{}
	<-from.resume
}

// call runs the caller's on_yield triggers, links callee's caller
// pointer back and switches. Both ends are marked ready: the callee
// because it is about to run, the caller because it is inside the
// chain and must not be re-added by a wakeup.
func (c *Cord) call(callee *Fiber) {
	caller := c.fiber
	if !caller.onYield.Empty() {
		_ = caller.onYield.RunAll(nil)
	}
	callee.caller = caller
	callee.flags |= FlagReady
	caller.flags |= FlagReady
	c.switchTo(caller, callee)
}

// scheduleReady forms the caller chain over the ready list and
// switches to its head. Fibers woken while the chain drains are
// dispatched on the next turn.
func (c *Cord) scheduleReady() {
	if c.ready.empty() {
		return
	}
	first := c.ready.shift()
	last := first
	for !c.ready.empty() {
		next := c.ready.shift()
		last.caller = next
		last = next
	}
	last.caller = &c.sched
	c.switchTo(&c.sched, first)
}

// recycle returns a dead fiber to the pool, or destroys it when its
// stack is custom-sized.
func (c *Cord) recycle(f *Fiber) {
	custom := f.flags&FlagCustomStack != 0
	f.onYield.Destroy()
	f.onStop.Destroy()
	f.state.unlink()
	delete(c.registry, f.fid)
	f.fid = 0
	f.name = ""
	f.body = nil
	f.args = nil
	f.ret = nil
	f.storage = nil
	f.gc.Release()
	if custom {
		f.link.unlink()
		f.destroyed = true
		c.arena.Put(f.stack)
		f.stack = nil
		if c.fiber != f {
			// The goroutine is parked; hand it the token so it
			// can exit.
			f.resume <- struct{}{}
		}
		return
	}
	f.stack.Recycle()
	f.flags = defaultFlags
	c.dead.pushBack(&f.link)
}

// Start spawns a cord on a fresh OS-thread-locked goroutine, waits
// until it is initialized and runs entry in its scheduler context.
func Start(name string, cfg Config, log logger.Logger, entry func(c *Cord) error) (*Cord, error) {
	type startRes struct {
		c   *Cord
		err error
	}
	ch := make(chan startRes)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		c, err := NewCord(name, cfg, log)
		ch <- startRes{c, err}
		if err != nil {
			return
		}
		c.threadFunc(entry)
	}()
	res := <-ch
	return res.c, res.err
}

// threadFunc is the cord thread body: run the entry, then perform the
// on-exit handshake so a cojoining fiber on another cord is woken.
func (c *Cord) threadFunc(entry func(*Cord) error) {
	c.ret = entry(c)
	if c.ret != nil {
		c.sched.diag.Set(c.ret)
	}
	// Change-once slot: if a joiner beat us here, run its handler;
	// otherwise leave the sentinel so a later joiner knows not to
	// wait.
	if !c.onExit.CompareAndSwap(nil, cordWontRun) {
		h := c.onExit.Load()
		if h != cordWontRun {
			h.fn()
		}
	}
	close(c.done)
}

// Join waits for the cord's thread to finish and propagates its last
// diagnostic.
func (c *Cord) Join() error {
	<-c.done
	return c.ret
}

// Cojoin is the fiber-aware cross-thread join: the calling fiber
// yields until the target cord exits instead of blocking its whole
// cord. The rendezvous is one CAS on the target's on-exit slot; if
// the target already left the sentinel there, the thread is gone and
// Cojoin falls through to a plain Join.
func (c *Cord) Cojoin(self *Fiber) error {
	taskComplete := false
	async := NewAsync(self.cord.loop, nil)
	async.fn = func() {
		taskComplete = true
		self.Wakeup()
	}
	h := &cordOnExit{fn: async.Send}
	if c.onExit.CompareAndSwap(nil, h) {
		// Non-cancellable around the yield: the handler above
		// closes over this frame's state.
		prev := self.SetCancellable(false)
		self.Yield()
		if !taskComplete {
			panic("wrong fiber woken")
		}
		self.SetCancellable(prev)
	}
	return c.Join()
}

// CoStart spawns a cord whose entry runs body inside a joinable
// "main" fiber with an on-stop trigger that breaks the loop, so the
// cord exits when the fiber dies.
func CoStart(name string, cfg Config, log logger.Logger, body Body, args ...interface{}) (*Cord, error) {
	return Start(name, cfg, log, func(c *Cord) error {
		f, err := c.New("main", body)
		if err != nil {
			return err
		}
		brk := &Trigger{Run: func(*Trigger, interface{}) error {
			c.Break()
			return nil
		}}
		f.OnStop().Add(brk)
		f.SetJoinable(true)
		f.Start(args...)
		if !f.IsDead() {
			c.Run()
		}
		return f.Join()
	})
}
