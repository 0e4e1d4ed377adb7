// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package version identifies the running xuehua binary.
//
// Release builds stamp [GitCommit], [GitDirty], [BuildTime] and
// [Version] through the linker:
//
//	go build -ldflags "-X github.com/xuehua-build/xuehua/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/xuehua
//
// Unstamped builds fall back to the VCS information the go command
// records in module builds, so "go install" binaries still report the
// commit they came from.
package version
