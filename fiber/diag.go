// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

// Diag is a one-slot diagnostics area. Each fiber carries one; user
// errors travel between fibers only by moving this slot (Join) and
// never cross cords except through Cord.Join.
type Diag struct {
	last error
}

// Set records err as the last error.
func (d *Diag) Set(err error) { d.last = err }

// Last returns the recorded error, nil if none.
func (d *Diag) Last() error { return d.last }

// Empty reports whether the slot is clear.
func (d *Diag) Empty() bool { return d.last == nil }

// Clear drops the recorded error.
func (d *Diag) Clear() { d.last = nil }

// MoveTo transfers the recorded error into dst, clearing the source.
func (d *Diag) MoveTo(dst *Diag) {
	dst.last = d.last
	d.last = nil
}
