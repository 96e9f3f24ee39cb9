// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package fiber

// Trigger is one callback on an event list. Triggers are intrusive:
// the caller owns the Trigger value and may embed it, and a trigger
// may unlink itself from inside its own callback.
type Trigger struct {
	next, prev *Trigger
	// Run handles the event. A non-nil return aborts the rest of
	// the chain with the same error.
	Run  func(t *Trigger, event interface{}) error
	Data interface{}
}

// Triggers is an ordered list of callbacks fired on a named event.
type Triggers struct {
	head Trigger
}

func (l *Triggers) lazyInit() {
	if l.head.next == nil {
		l.head.next, l.head.prev = &l.head, &l.head
	}
}

// Add prepends t, so the most recently added trigger runs first in
// forward order.
func (l *Triggers) Add(t *Trigger) {
	l.lazyInit()
	t.next = l.head.next
	t.prev = &l.head
	l.head.next.prev = t
	l.head.next = t
}

// AddTail appends t.
func (l *Triggers) AddTail(t *Trigger) {
	l.lazyInit()
	t.prev = l.head.prev
	t.next = &l.head
	l.head.prev.next = t
	l.head.prev = t
}

// Clear unlinks t from its list. Safe on an unlinked trigger.
func (t *Trigger) Clear() {
	if t.next == nil {
		return
	}
	t.prev.next = t.next
	t.next.prev = t.prev
	t.next, t.prev = nil, nil
}

// Empty reports whether the list has no triggers.
func (l *Triggers) Empty() bool {
	return l.head.next == nil || l.head.next == &l.head
}

// RunAll invokes the triggers in forward order. The first failure
// stops the chain. The next pointer is captured before each call so a
// trigger may clear itself.
func (l *Triggers) RunAll(event interface{}) error {
	if l.head.next == nil {
		return nil
	}
	for t := l.head.next; t != &l.head; {
		next := t.next
		if err := t.Run(t, event); err != nil {
			return err
		}
		t = next
	}
	return nil
}

// RunReverse invokes the triggers in reverse order with the same
// failure and self-unlink rules as RunAll.
func (l *Triggers) RunReverse(event interface{}) error {
	if l.head.next == nil {
		return nil
	}
	for t := l.head.prev; t != &l.head; {
		prev := t.prev
		if err := t.Run(t, event); err != nil {
			return err
		}
		t = prev
	}
	return nil
}

// Destroy unlinks every trigger.
func (l *Triggers) Destroy() {
	if l.head.next == nil {
		return
	}
	for t := l.head.next; t != &l.head; {
		next := t.next
		t.Clear()
		t = next
	}
}
