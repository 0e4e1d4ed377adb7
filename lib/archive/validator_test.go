// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func file(location Location, contents string) Operation {
	return Create(location, 0o644, File{Contents: []byte(contents)})
}

func dir(location Location) Operation {
	return Create(location, 0o755, Directory{})
}

func TestValidator(t *testing.T) {
	tests := []struct {
		name       string
		operations []Operation
		// failAt is the index of the rejected operation, or -1.
		failAt int
		want   error
	}{
		{
			name:       "empty",
			operations: nil,
			failAt:     -1,
		},
		{
			name:       "nested tree",
			operations: []Operation{file("a", "x"), dir("d"), dir("d/e"), file("d/e/f", "y"), file("d/g", "z")},
			failAt:     -1,
		},
		{
			name:       "out of order",
			operations: []Operation{file("b", ""), file("a", "")},
			failAt:     1,
			want:       ErrOutOfOrder,
		},
		{
			name:       "duplicate create",
			operations: []Operation{file("a", "1"), file("a", "2")},
			failAt:     1,
			want:       ErrDuplicateLocation,
		},
		{
			name:       "orphan",
			operations: []Operation{file("d/a", "")},
			failAt:     0,
			want:       ErrOrphanObject,
		},
		{
			name:       "parent is a file",
			operations: []Operation{file("d", ""), file("d/a", "")},
			failAt:     1,
			want:       ErrOrphanObject,
		},
		{
			name:       "delete unknown",
			operations: []Operation{Delete("a")},
			failAt:     0,
			want:       ErrUnknownLocation,
		},
		{
			name:       "recursive delete",
			operations: []Operation{dir("dir"), file("dir/a", ""), Delete("dir")},
			failAt:     -1,
		},
		{
			name:       "delete descendant of deleted directory",
			operations: []Operation{dir("dir"), file("dir/a", ""), Delete("dir"), Delete("dir/a")},
			failAt:     3,
			want:       ErrUnknownLocation,
		},
		{
			name:       "delete twice",
			operations: []Operation{file("a", ""), Delete("a"), Delete("a")},
			failAt:     2,
			want:       ErrDuplicateLocation,
		},
		{
			name:       "deletes out of order",
			operations: []Operation{file("a", ""), file("b", ""), Delete("b"), Delete("a")},
			failAt:     3,
			want:       ErrOutOfOrder,
		},
		{
			name:       "create below deleted directory",
			operations: []Operation{dir("d"), Delete("d"), file("d/a", "")},
			failAt:     2,
			want:       ErrOrphanObject,
		},
		{
			name:       "invalid location",
			operations: []Operation{file("a/../b", "")},
			failAt:     0,
			want:       ErrMalformedOperation,
		},
		{
			name:       "absolute location",
			operations: []Operation{file("/etc", "")},
			failAt:     0,
			want:       ErrMalformedOperation,
		},
		{
			name:       "empty symlink target",
			operations: []Operation{Create("l", 0o777, Symlink{})},
			failAt:     0,
			want:       ErrMalformedOperation,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			validator := NewValidator(nil)
			for i, op := range test.operations {
				err := validator.Check(op)
				if i == test.failAt {
					if !errors.Is(err, test.want) {
						t.Fatalf("operation %d: got %v, want %v", i, err, test.want)
					}
					return
				}
				if err != nil {
					t.Fatalf("operation %d: unexpected error: %v", i, err)
				}
			}
			if test.failAt >= 0 {
				t.Fatalf("sequence accepted, want %v at %d", test.want, test.failAt)
			}
		})
	}
}

func TestValidatorRecursiveDeleteTree(t *testing.T) {
	tree, err := TreeOf([]Operation{
		dir("a"), dir("a/b"), file("a/b/c", ""), file("a/d", ""), dir("ab"), file("ab/x", ""),
		Delete("a"),
	})
	if err != nil {
		t.Fatalf("TreeOf: %v", err)
	}
	// Deleting "a" must not take "ab" with it.
	if diff := cmp.Diff([]Location{"ab", "ab/x"}, tree.Locations()); diff != "" {
		t.Errorf("live set mismatch (-want +got):\n%s", diff)
	}
}

func TestValidatorBase(t *testing.T) {
	base, err := TreeOf([]Operation{dir("d"), file("d/f", ""), file("g", "")})
	if err != nil {
		t.Fatalf("TreeOf: %v", err)
	}

	validator := NewValidator(base)
	if err := validator.Check(file("g", "new")); !errors.Is(err, ErrDuplicateLocation) {
		t.Errorf("create over live base entry: got %v, want ErrDuplicateLocation", err)
	}
	for _, op := range []Operation{Delete("d/f"), Delete("g"), file("d/h", ""), file("g", "replacement")} {
		if err := validator.Check(op); err != nil {
			t.Fatalf("Check(%v %s): %v", op.Kind, op.Location, err)
		}
	}
	if diff := cmp.Diff([]Location{"d", "d/h", "g"}, validator.Tree().Locations()); diff != "" {
		t.Errorf("live set mismatch (-want +got):\n%s", diff)
	}
	if !validator.Tree().IsDirectory("d") || validator.Tree().IsDirectory("g") {
		t.Error("directory flags not preserved")
	}

	// The base itself is unchanged.
	if diff := cmp.Diff([]Location{"d", "d/f", "g"}, base.Locations()); diff != "" {
		t.Errorf("base mutated (-want +got):\n%s", diff)
	}
}

func TestValidatorRejectionLeavesStateUnchanged(t *testing.T) {
	validator := NewValidator(nil)
	if err := validator.Check(file("b", "")); err != nil {
		t.Fatal(err)
	}
	if err := validator.Check(file("a", "")); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("got %v, want ErrOutOfOrder", err)
	}
	if err := validator.Check(file("c", "")); err != nil {
		t.Fatalf("valid create after rejection: %v", err)
	}
	if got := validator.Tree().Len(); got != 2 {
		t.Errorf("live entries = %d, want 2", got)
	}
}

func TestLocation(t *testing.T) {
	for _, valid := range []string{"a", "a/b", "a.b", "..a", "a/.b", "with space/x"} {
		if _, err := ParseLocation(valid); err != nil {
			t.Errorf("ParseLocation(%q): %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "/", "/a", "a/", "a//b", ".", "..", "a/./b", "a/..", "a\x00b"} {
		if _, err := ParseLocation(invalid); !errors.Is(err, ErrMalformedOperation) {
			t.Errorf("ParseLocation(%q) = %v, want ErrMalformedOperation", invalid, err)
		}
	}

	if parent, ok := Location("a/b/c").Parent(); !ok || parent != "a/b" {
		t.Errorf("Parent(a/b/c) = %q, %v", parent, ok)
	}
	if _, ok := Location("a").Parent(); ok {
		t.Error("top-level location reported a parent")
	}
	if !Location("a/b").Within("a") || Location("ab").Within("a") || Location("a").Within("a") {
		t.Error("Within misclassified")
	}
	if got := Location("a/b/c").Base(); got != "c" {
		t.Errorf("Base = %q", got)
	}
}
