// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

import (
	"github.com/pkg/errors"

	"github.com/molecula/loom/logger"
)

// mainCord is process-wide state with an explicit lifecycle, not an
// ambient global: Init installs it, Free tears it down.
var mainCord *Cord

// Init creates the process's main cord, bound to the calling
// goroutine.
func Init(cfg Config, log logger.Logger) (*Cord, error) {
	if mainCord != nil {
		return nil, errors.New("fiber runtime is already initialized")
	}
	c, err := NewCord("main", cfg, log)
	if err != nil {
		return nil, err
	}
	mainCord = c
	return c, nil
}

// Main returns the main cord, nil before Init.
func Main() *Cord { return mainCord }

// IsMain reports whether c is the process's main cord.
func (c *Cord) IsMain() bool { return c == mainCord }

// Free releases the process-wide runtime state.
func Free() { mainCord = nil }
