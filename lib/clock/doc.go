// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets the store's timestamps be fixed in tests.
//
//	store.Open(ctx, store.Config{Root: dir, Clock: clock.Real()})
//	store.Open(ctx, store.Config{Root: dir, Clock: clock.Fake(epoch)})
package clock
