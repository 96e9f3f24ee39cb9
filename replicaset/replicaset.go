// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package replicaset carries the control-plane surface the core
// exposes to replication: process identity, the applier state
// machine, and the trigger lists replication events fan out on. The
// wire protocol, WAL and consensus live elsewhere; only the contracts
// consumed through fiber primitives are here.
package replicaset

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/molecula/loom/fiber"
)

// Identity is the process-wide replication identity. It has an
// explicit lifecycle: Init installs it, Free tears it down.
type Identity struct {
	InstanceUUID   uuid.UUID
	ReplicasetUUID uuid.UUID
}

var (
	mu      sync.Mutex
	current *Identity
)

// Init installs the process identity, generating any zero UUID.
func Init(instance, replicaset uuid.UUID) (*Identity, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return nil, errors.New("replica set identity is already initialized")
	}
	if instance == uuid.Nil {
		instance = uuid.New()
	}
	if replicaset == uuid.Nil {
		replicaset = uuid.New()
	}
	current = &Identity{InstanceUUID: instance, ReplicasetUUID: replicaset}
	return current, nil
}

// Current returns the installed identity, nil before Init.
func Current() *Identity {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Free drops the process identity.
func Free() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}

// Set groups the appliers of one replica set with the trigger lists
// transaction outcomes fan out on. All access is cord-local.
type Set struct {
	appliers []*Applier

	// OnCommit and OnRollback run when a replicated transaction
	// commits or rolls back; appliers hook these to advance or
	// reset their state.
	OnCommit   fiber.Triggers
	OnRollback fiber.Triggers
}

// Add registers an applier with the set.
func (s *Set) Add(a *Applier) {
	s.appliers = append(s.appliers, a)
}

// Appliers returns the registered appliers.
func (s *Set) Appliers() []*Applier {
	return s.appliers
}

// Commit runs the commit triggers; the first failure aborts the
// chain.
func (s *Set) Commit(event interface{}) error {
	return s.OnCommit.RunAll(event)
}

// Rollback runs the rollback triggers in reverse list order, tail
// first: the opposite of the order Commit uses.
func (s *Set) Rollback(event interface{}) error {
	return s.OnRollback.RunReverse(event)
}
