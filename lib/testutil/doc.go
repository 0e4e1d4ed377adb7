// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for xuehua packages.
//
// [WriteTree] materializes a filesystem fixture from a declarative
// entry list, and [ReadTree] reads one back in the same form, so
// packer and unpacker tests can state their input and expected output
// as plain data.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no xuehua-internal dependencies.
package testutil
