// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"strings"
	"testing"
)

func TestOperationDigestDeterministic(t *testing.T) {
	op := Create("dir/file", 0o644, File{Contents: []byte("contents")})
	if OperationDigest(op) != OperationDigest(op) {
		t.Fatal("same operation produced different digests")
	}
}

func TestOperationDigestIgnoresDictionary(t *testing.T) {
	plain := Create("a", 0o644, File{Contents: []byte("hello")})
	primed := Create("a", 0o644, File{Contents: []byte("hello"), Dictionary: InlineDictionary([]byte("hello hello"))})
	if OperationDigest(plain) != OperationDigest(primed) {
		t.Error("dictionary reference changed the plaintext digest")
	}
}

func TestOperationDigestSingleByteChanges(t *testing.T) {
	base := Create("dir/name", 0o644, File{Contents: []byte("payload bytes")})
	baseDigest := OperationDigest(base)

	// Flip every byte of the location and contents in turn, and every
	// permission bit.
	location := []byte(base.Location)
	for i := range location {
		changed := append([]byte(nil), location...)
		changed[i] ^= 0x01
		op := base
		op.Location = Location(changed)
		if OperationDigest(op) == baseDigest {
			t.Errorf("flipping location byte %d did not change the digest", i)
		}
	}

	contents := base.Body.(File).Contents
	for i := range contents {
		changed := append([]byte(nil), contents...)
		changed[i] ^= 0x80
		op := base
		op.Body = File{Contents: changed}
		if OperationDigest(op) == baseDigest {
			t.Errorf("flipping contents byte %d did not change the digest", i)
		}
	}

	for bit := range 12 {
		op := base
		op.Permissions ^= 1 << bit
		if OperationDigest(op) == baseDigest {
			t.Errorf("flipping permission bit %d did not change the digest", bit)
		}
	}
}

func TestOperationDigestFraming(t *testing.T) {
	// Moving a byte between adjacent fields must change the digest.
	tests := []struct {
		name string
		a, b Operation
	}{
		{
			name: "location into contents",
			a:    Create("ab", 0o644, File{Contents: []byte("c")}),
			b:    Create("a", 0o644, File{Contents: []byte("bc")}),
		},
		{
			name: "body type",
			a:    Create("a", 0o644, File{Contents: []byte("x")}),
			b:    Create("a", 0o644, Symlink{Target: "x"}),
		},
		{
			name: "empty file versus directory",
			a:    Create("a", 0o755, File{}),
			b:    Create("a", 0o755, Directory{}),
		},
		{
			name: "create versus delete",
			a:    Create("a", 0, Directory{}),
			b:    Delete("a"),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if OperationDigest(test.a) == OperationDigest(test.b) {
				t.Errorf("digests collide: %+v and %+v", test.a, test.b)
			}
		})
	}
}

func TestDigestDomainsAreSeparated(t *testing.T) {
	// The same framed bytes hashed in different domains must differ.
	location := Location("x")
	operation := OperationDigest(Delete(location))
	index := IndexDigest([]Location{location})
	dictionary := DictionaryDigest([]byte(location))
	if operation == index || operation == dictionary || index == dictionary {
		t.Errorf("domain collision: operation=%s index=%s dictionary=%s", operation, index, dictionary)
	}
}

func TestAggregateDigestOrderSensitive(t *testing.T) {
	a := OperationDigest(Delete("a"))
	b := OperationDigest(Delete("b"))
	if AggregateDigest([]Digest{a, b}) == AggregateDigest([]Digest{b, a}) {
		t.Error("aggregate ignores operation order")
	}
	if AggregateDigest(nil) == AggregateDigest([]Digest{{}}) {
		t.Error("aggregate of no digests equals aggregate of one zero digest")
	}
}

func TestParseDigest(t *testing.T) {
	digest := DictionaryDigest([]byte("dictionary"))
	parsed, err := ParseDigest(digest.String())
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != digest {
		t.Errorf("ParseDigest(%s) = %s", digest, parsed)
	}

	for _, input := range []string{"", "abc", strings.Repeat("zz", 32), digest.String() + "00"} {
		if _, err := ParseDigest(input); err == nil {
			t.Errorf("ParseDigest(%q) succeeded", input)
		}
	}
}

func TestFormatRef(t *testing.T) {
	digest := DictionaryDigest(nil)
	ref := FormatRef(digest)
	if !strings.HasPrefix(ref, "xha-") || len(ref) != 16 {
		t.Errorf("FormatRef = %q, want xha- and 12 hex characters", ref)
	}
	if !strings.HasPrefix(digest.String(), ref[4:]) {
		t.Errorf("FormatRef %q is not a prefix of %s", ref, digest)
	}
}
