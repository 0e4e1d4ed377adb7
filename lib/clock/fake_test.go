// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManual(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}

	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Errorf("after Advance: %v, want %v", got, want)
	}

	clock.Advance(-90 * time.Minute)
	if got, want := clock.Now(), epoch.Add(5*time.Second-90*time.Minute); !got.Equal(want) {
		t.Errorf("after negative Advance: %v, want %v", got, want)
	}

	later := epoch.AddDate(1, 0, 0)
	clock.Set(later)
	if got := clock.Now(); !got.Equal(later) {
		t.Errorf("after Set: %v, want %v", got, later)
	}
}

func TestManualConcurrentAdvance(t *testing.T) {
	clock := Fake(epoch)
	var wait sync.WaitGroup
	for range 100 {
		wait.Go(func() { clock.Advance(time.Second) })
	}
	wait.Wait()
	if got := clock.Now().Sub(epoch); got != 100*time.Second {
		t.Fatalf("clock moved %v after 100 concurrent advances, want 100s", got)
	}
}

func TestFunc(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()

	fixed := Func(func() time.Time { return epoch })
	if got := fixed.Now(); !got.Equal(epoch) {
		t.Errorf("Func.Now() = %v, want %v", got, epoch)
	}
}
