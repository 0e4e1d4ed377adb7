// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Xuehua packs directory trees into signed archives, verifies and
// applies them, and keeps them in a local store.
//
// Usage:
//
//	xuehua <command> [flags]
//
// Run "xuehua --help" for the command list. Configuration comes from
// the file named by --config or XUEHUA_CONFIG; without either, built-in
// defaults place the store under ~/.local/share/xuehua.
package main
