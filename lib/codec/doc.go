// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides xuehua's standard CBOR encoding
// configuration.
//
// Archives have their own binary format (package archive). CBOR is
// for everything else that is machine-read: artifact summaries stored
// in the local store's index and the CLI's --cbor output. The encoder
// uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// summary always produces identical bytes.
//
//	data, err := codec.Marshal(summary)
//	err = codec.Unmarshal(data, &summary)
//
// Types that are only ever stored as CBOR use `cbor` struct tags.
// fxamacker/cbor falls back to `json` tags, so types that also appear
// in the CLI's JSON output may carry json tags alone. When both are
// present they must name the field the same way.
package codec
