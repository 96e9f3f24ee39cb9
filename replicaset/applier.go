// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package replicaset

import (
	"time"

	"github.com/pkg/errors"

	"github.com/molecula/loom/fiber"
	"github.com/molecula/loom/logger"
)

// ApplierState tracks where an inbound replication channel is in its
// lifecycle.
type ApplierState int

const (
	ApplierOff ApplierState = iota
	ApplierConnect
	ApplierAuth
	ApplierReady
	ApplierSync
	ApplierFollow
	ApplierStopped
	ApplierDisconnected
)

var applierStateNames = [...]string{
	"off", "connect", "auth", "ready", "sync", "follow", "stopped", "disconnected",
}

func (s ApplierState) String() string {
	if int(s) < len(applierStateNames) {
		return applierStateNames[s]
	}
	return "unknown"
}

// Body is the applier's replication loop, supplied by the transport
// collaborator. It runs inside the applier fiber and must treat
// fiber.ErrCancelled as a request to stop.
type Body func(a *Applier) error

// Applier drives one inbound replication channel inside its own
// fiber.
type Applier struct {
	source string
	cord   *fiber.Cord
	log    logger.Logger
	body   Body

	state ApplierState
	f     *fiber.Fiber

	// OnState runs on every state transition with the applier as
	// the event.
	OnState fiber.Triggers

	// writerCond is signalled when a replicated transaction
	// commits or rolls back, waking the channel's writer.
	writerCond fiber.Cond
}

// NewApplier creates an applier for the named source.
func NewApplier(cord *fiber.Cord, source string, log logger.Logger, body Body) *Applier {
	if log == nil {
		log = logger.NopLogger
	}
	return &Applier{
		source: source,
		cord:   cord,
		log:    log,
		body:   body,
		state:  ApplierOff,
	}
}

// Source returns the channel's label.
func (a *Applier) Source() string { return a.source }

// State returns the current lifecycle state.
func (a *Applier) State() ApplierState { return a.state }

// Fiber returns the applier fiber, nil while stopped.
func (a *Applier) Fiber() *fiber.Fiber { return a.f }

// SetState advances the state machine and fans the transition out to
// the OnState triggers. Trigger failures abort the rest of the chain
// and surface to the caller.
func (a *Applier) SetState(s ApplierState) error {
	a.state = s
	a.log.Debugf("applier %s => %s", a.source, s)
	return a.OnState.RunAll(a)
}

// SignalWriter wakes the channel writer after a commit or rollback.
func (a *Applier) SignalWriter() {
	a.writerCond.Signal()
}

// WaitWriter parks the calling fiber until the writer is signalled or
// the timeout elapses.
func (a *Applier) WaitWriter(f *fiber.Fiber, d time.Duration) error {
	return a.writerCond.WaitTimeout(f, d)
}

// Start spawns the applier fiber and runs the replication body. The
// fiber is joinable and cancellable so Stop can take it down.
func (a *Applier) Start() error {
	if a.f != nil {
		return errors.Errorf("applier %s is already started", a.source)
	}
	f, err := a.cord.New("applier/"+a.source, func(f *fiber.Fiber, _ ...interface{}) error {
		if err := a.SetState(ApplierConnect); err != nil {
			return err
		}
		err := a.body(a)
		if err != nil {
			if stateErr := a.SetState(ApplierDisconnected); stateErr != nil {
				return stateErr
			}
			return err
		}
		return a.SetState(ApplierStopped)
	})
	if err != nil {
		return err
	}
	a.f = f
	f.SetJoinable(true)
	f.Start()
	return nil
}

// Stop cancels the applier fiber and joins it, leaving the applier
// restartable. The fiber's cancellation failure is expected and
// swallowed; anything else is reported.
func (a *Applier) Stop() error {
	if a.f == nil {
		return nil
	}
	a.f.Cancel()
	err := a.f.Join()
	a.f = nil
	a.state = ApplierOff
	if err != nil && !errors.Is(err, fiber.ErrCancelled) {
		return err
	}
	return nil
}
