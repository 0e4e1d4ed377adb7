// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"crypto/ed25519"
	"iter"
	"slices"
)

// Archive is a fully verified archive: every operation digest matched,
// the operations form a valid tree edit, and the footer's aggregate
// digest and signatures verified. An Archive is immutable.
//
// The only ways to obtain one are [Decode] and [Writer.Close], so
// holding an *Archive is proof that verification happened.
type Archive struct {
	operations []Operation
	digests    []Digest
	aggregate  Digest
	signatures []Signature
	tree       *Tree
	size       int64
}

// Operations yields the operations in stream order with their index.
func (a *Archive) Operations() iter.Seq2[int, Operation] {
	return func(yield func(int, Operation) bool) {
		for i, op := range a.operations {
			if !yield(i, op) {
				return
			}
		}
	}
}

// Operation returns the i-th operation.
func (a *Archive) Operation(i int) Operation { return a.operations[i] }

// Len returns the number of operations.
func (a *Archive) Len() int { return len(a.operations) }

// Digests returns a copy of the per-operation digests in stream order.
func (a *Archive) Digests() []Digest { return slices.Clone(a.digests) }

// Aggregate returns the archive digest: the value the footer signs
// and the archive's identity in a store.
func (a *Archive) Aggregate() Digest { return a.aggregate }

// Size returns the encoded size of the archive in bytes.
func (a *Archive) Size() int64 { return a.size }

// Tree returns the live set after applying every operation to the
// base tree the archive was validated against.
func (a *Archive) Tree() *Tree { return a.tree }

// Signers returns the public keys whose signatures verified, in
// footer order. Whether any of them is trusted is the caller's
// decision; see [Archive.SignedBy].
func (a *Archive) Signers() []ed25519.PublicKey {
	keys := make([]ed25519.PublicKey, len(a.signatures))
	for i, s := range a.signatures {
		keys[i] = s.PublicKey
	}
	return keys
}

// SignedBy reports whether at least one of trusted signed the archive.
func (a *Archive) SignedBy(trusted ...ed25519.PublicKey) bool {
	for _, s := range a.signatures {
		for _, key := range trusted {
			if bytes.Equal(s.PublicKey, key) {
				return true
			}
		}
	}
	return false
}

// Index returns the ascending set of locations named by any
// operation, Create or Delete.
func (a *Archive) Index() []Location {
	index := make([]Location, 0, len(a.operations))
	for _, op := range a.operations {
		index = append(index, op.Location)
	}
	slices.Sort(index)
	return slices.Compact(index)
}

// IndexDigest returns the digest of [Archive.Index]. It identifies the
// archive's table of contents independently of file bodies.
func (a *Archive) IndexDigest() Digest { return IndexDigest(a.Index()) }
