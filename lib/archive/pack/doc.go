// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package pack connects archives to real directory trees.
//
// [Pack] turns a directory into the sorted Create operations that
// [archive.Encode] expects. [Unpack] applies a decoded, verified
// [archive.Archive] to a directory. [Diff] computes the operations
// that edit one packed snapshot into another, for incremental
// archives decoded against a base tree.
package pack
