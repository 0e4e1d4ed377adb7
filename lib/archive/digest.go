// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. Operation, aggregate, index and
// dictionary digests are all this size.
type Digest [32]byte

// DigestSize is the encoded size of a [Digest].
const DigestSize = len(Digest{})

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Each digest
// purpose has its own key, so equal input bytes in two purposes never
// produce equal digests.
type domainKey [32]byte

// Domain keys are the ASCII domain name zero-padded to 32 bytes. They
// are format constants: changing one invalidates every digest in its
// domain.
var (
	operationDomainKey = domainKey{
		'x', 'u', 'e', 'h', 'u', 'a', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
		'o', 'p', 'e', 'r', 'a', 't', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0,
	}

	aggregateDomainKey = domainKey{
		'x', 'u', 'e', 'h', 'u', 'a', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
		'a', 'g', 'g', 'r', 'e', 'g', 'a', 't', 'e', 0, 0, 0, 0, 0, 0, 0, 0,
	}

	indexDomainKey = domainKey{
		'x', 'u', 'e', 'h', 'u', 'a', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
		'i', 'n', 'd', 'e', 'x', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	dictionaryDomainKey = domainKey{
		'x', 'u', 'e', 'h', 'u', 'a', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
		'd', 'i', 'c', 't', 'i', 'o', 'n', 'a', 'r', 'y', 0, 0, 0, 0, 0, 0, 0,
	}
)

// digester feeds framed parts into a keyed BLAKE3 hasher. Parts are
// framed with [appendFramed], the same primitive the stream uses.
type digester struct {
	hasher  *blake3.Hasher
	scratch []byte
}

func newDigester(key domainKey) *digester {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &digester{hasher: hasher, scratch: make([]byte, 0, 16)}
}

// frame feeds u64(len(p)) || p.
func (d *digester) frame(p []byte) {
	d.scratch = appendUint(d.scratch[:0], 8, uint64(len(p)))
	d.hasher.Write(d.scratch)
	d.hasher.Write(p)
}

func (d *digester) uint32(v uint32) {
	d.scratch = appendUint(d.scratch[:0], 4, uint64(v))
	d.hasher.Write(d.scratch)
}

func (d *digester) tag(v uint8) {
	d.scratch = append(d.scratch[:0], v)
	d.hasher.Write(d.scratch)
}

func (d *digester) sum() Digest {
	var result Digest
	copy(result[:], d.hasher.Sum(nil))
	return result
}

// OperationDigest returns the digest of an operation's plaintext.
// A Create covers its location, permissions, body tag and payload
// (file contents, symlink target, or nothing for a directory). A
// Delete covers only its location. Dictionary references and
// compressed bytes never contribute, so the digest is independent of
// how the body was compressed.
func OperationDigest(op Operation) Digest {
	d := newDigester(operationDomainKey)
	writeOperationDigest(d, op)
	return d.sum()
}

func writeOperationDigest(d *digester, op Operation) {
	d.frame([]byte(op.Location))
	if op.Kind != KindCreate {
		return
	}
	d.uint32(uint32(op.Permissions))
	d.tag(uint8(op.Body.Type()))
	d.frame(op.Body.payload())
}

// AggregateDigest returns the archive digest over the ordered
// operation digests. It is the value the footer signs.
func AggregateDigest(digests []Digest) Digest {
	d := newDigester(aggregateDomainKey)
	for i := range digests {
		d.frame(digests[i][:])
	}
	return d.sum()
}

// IndexDigest returns the digest of an ordered list of locations.
func IndexDigest(index []Location) Digest {
	d := newDigester(indexDomainKey)
	for _, location := range index {
		d.frame([]byte(location))
	}
	return d.sum()
}

// DictionaryDigest returns the content address of a dictionary, as
// written in an External reference.
func DictionaryDigest(dictionary []byte) Digest {
	d := newDigester(dictionaryDomainKey)
	d.frame(dictionary)
	return d.sum()
}

// String returns the full lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText encodes d as lowercase hex, so digests appear as
// strings in JSON and CBOR output.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses the form MarshalText produces.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*DigestSize {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", 2*DigestSize, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("invalid digest hex: %w", err)
	}
	return d, nil
}

// FormatRef returns the short display form "xha-" followed by the
// first 12 hex characters of d, for humans and logs. Lookups that
// accept it must detect ambiguous prefixes.
func FormatRef(d Digest) string {
	return "xha-" + hex.EncodeToString(d[:6])
}
