// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the source of registration timestamps. Code that stamps a
// record takes a Clock rather than calling time.Now.
type Clock interface {
	Now() time.Time
}

// Func adapts a function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// Real returns the wall clock.
func Real() Clock { return Func(time.Now) }
