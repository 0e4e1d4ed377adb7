// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"time"
)

// Manual is a Clock that moves only when told to. Tests use it to
// give registrations exact, ordered timestamps. It is safe for
// concurrent use.
type Manual struct {
	nanos atomic.Int64
}

// Fake returns a Manual clock reading initial.
func Fake(initial time.Time) *Manual {
	m := &Manual{}
	m.Set(initial)
	return m
}

func (m *Manual) Now() time.Time {
	return time.Unix(0, m.nanos.Load()).UTC()
}

// Advance moves the clock by d, which may be negative.
func (m *Manual) Advance(d time.Duration) {
	m.nanos.Add(int64(d))
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.nanos.Store(t.UnixNano())
}
