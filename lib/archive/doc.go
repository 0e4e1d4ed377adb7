// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the xuehua archive format: a
// self-describing binary container that represents a filesystem
// subtree, or an edit to one, as an ordered stream of Create and
// Delete operations.
//
// Every operation is followed by a keyed BLAKE3 digest of its
// plaintext. The footer carries the aggregate digest over all
// operation digests and any number of Ed25519 signatures over it. File
// bodies are zstd-compressed, optionally primed with a dictionary that
// is embedded in the stream or named by digest and resolved by the
// caller.
//
// Stream layout (all integers little-endian, lenp(x) = u64(len(x)) || x):
//
//	archive   = "xuehua-archive" u16(1) { operation digest[32] } u8(2) footer
//	operation = u8(0) lenp(location) u32(permissions) body
//	          | u8(1) lenp(location)
//	body      = u8(0) dict-ref lenp(zstd-frame)
//	          | u8(1) lenp(symlink-target)
//	          | u8(2)
//	dict-ref  = u8(0) | u8(1) lenp(dictionary) | u8(2) digest[32]
//	footer    = aggregate[32] lenp({ lenp(public-key) signature[64] })
//
// The u8(2) that ends the operations takes the place of an operation
// tag: 0 and 1 open an operation, 2 opens the footer, and any other
// tag is [ErrMalformedOperation].
//
// Operations must form a valid tree edit. Creates ascend strictly by
// location, as do Deletes. A location may be created once and deleted
// once. Every Create's parent is the root or a live directory, and a
// Delete removes a live entry along with everything beneath it. See
// [Validator].
//
// [Decode] verifies everything before returning: a caller holding an
// [*Archive] never sees an operation from a stream that failed any
// check. The package never logs and never touches a filesystem; see
// package pack for that.
package archive
