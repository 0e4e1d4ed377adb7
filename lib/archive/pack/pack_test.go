// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/testutil"
)

var fixture = []testutil.Entry{
	{Path: "a", Dir: true},
	{Path: "a/b", Contents: "nested file\n"},
	{Path: "a/c", Dir: true, Mode: 0o750},
	{Path: "a/c/d", Contents: "deeper\n", Mode: 0o600},
	{Path: "a-b", Contents: "sorts before a/b\n"},
	{Path: "bin", Dir: true},
	{Path: "bin/run", Contents: "#!/bin/sh\necho hi\n", Mode: 0o755},
	{Path: "empty", Contents: ""},
	{Path: "link", Target: "a/b"},
	{Path: "outside", Target: "../../etc/passwd"},
}

// roundTrip encodes operations and decodes them again, as a consumer
// of an archive file would see them.
func roundTrip(t *testing.T, operations []archive.Operation, base *archive.Tree) *archive.Archive {
	t.Helper()
	var buffer bytes.Buffer
	if _, err := archive.Encode(context.Background(), &buffer, operations, archive.EncodeOptions{Base: base}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := archive.Decode(context.Background(), &buffer, archive.DecodeOptions{Base: base})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return decoded
}

func TestPackOrdering(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, fixture)

	operations, err := Pack(context.Background(), root, PackOptions{})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	var got []archive.Location
	for _, op := range operations {
		got = append(got, op.Location)
	}
	want := []archive.Location{"a", "a-b", "a/b", "a/c", "a/c/d", "bin", "bin/run", "empty", "link", "outside"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("locations mismatch (-want +got):\n%s", diff)
	}
	if _, err := archive.TreeOf(operations); err != nil {
		t.Errorf("packed operations do not validate: %v", err)
	}
}

func TestPackBodies(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, fixture)
	dictionary := archive.InlineDictionary([]byte("shared dictionary bytes"))

	operations, err := Pack(context.Background(), root, PackOptions{Dictionary: dictionary})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	byLocation := make(map[archive.Location]archive.Operation)
	for _, op := range operations {
		byLocation[op.Location] = op
	}

	run := byLocation["bin/run"]
	if run.Permissions != 0o755 {
		t.Errorf("bin/run permissions = %s, want 0755", run.Permissions)
	}
	if body, ok := run.Body.(archive.File); !ok || string(body.Contents) != "#!/bin/sh\necho hi\n" || body.Dictionary.Kind != archive.DictionaryInline {
		t.Errorf("bin/run body = %#v", run.Body)
	}
	if link, ok := byLocation["link"].Body.(archive.Symlink); !ok || link.Target != "a/b" {
		t.Errorf("link body = %#v", byLocation["link"].Body)
	}
	if c := byLocation["a/c"]; c.Body.Type() != archive.BodyDirectory || c.Permissions != 0o750 {
		t.Errorf("a/c = %+v, want directory 0750", c)
	}
}

func TestPackUnsupportedType(t *testing.T) {
	root := t.TempDir()
	if err := syscall.Mkfifo(filepath.Join(root, "pipe"), 0o644); err != nil {
		t.Skipf("cannot create a fifo: %v", err)
	}
	if _, err := Pack(context.Background(), root, PackOptions{}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("got %v, want ErrUnsupportedType", err)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	source := t.TempDir()
	testutil.WriteTree(t, source, fixture)

	operations, err := Pack(context.Background(), source, PackOptions{})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	decoded := roundTrip(t, operations, nil)

	destination := t.TempDir()
	if err := Unpack(context.Background(), destination, decoded, UnpackOptions{}); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if diff := cmp.Diff(testutil.ReadTree(t, source), testutil.ReadTree(t, destination)); diff != "" {
		t.Errorf("unpacked tree mismatch (-want +got):\n%s", diff)
	}
}

func TestUnpackRefusesExistingEntry(t *testing.T) {
	decoded := roundTrip(t, []archive.Operation{
		archive.Create("a", 0o644, archive.File{Contents: []byte("new")}),
	}, nil)

	destination := t.TempDir()
	testutil.WriteTree(t, destination, []testutil.Entry{{Path: "a", Contents: "old"}})
	if err := Unpack(context.Background(), destination, decoded, UnpackOptions{}); err == nil {
		t.Fatal("Unpack overwrote an existing file")
	}
	if contents, _ := os.ReadFile(filepath.Join(destination, "a")); string(contents) != "old" {
		t.Errorf("existing file changed to %q", contents)
	}
}

func TestUnpackStopsAtFirstFailure(t *testing.T) {
	decoded := roundTrip(t, []archive.Operation{
		archive.Create("a", 0o644, archive.File{Contents: []byte("a")}),
		archive.Create("b", 0o644, archive.File{Contents: []byte("new")}),
		archive.Create("c", 0o644, archive.File{Contents: []byte("c")}),
	}, nil)

	destination := t.TempDir()
	testutil.WriteTree(t, destination, []testutil.Entry{{Path: "b", Contents: "old", Mode: 0o644}})
	if err := Unpack(context.Background(), destination, decoded, UnpackOptions{}); err == nil {
		t.Fatal("Unpack succeeded over an existing entry")
	}
	want := []testutil.Entry{
		{Path: "a", Contents: "a", Mode: 0o644},
		{Path: "b", Contents: "old", Mode: 0o644},
	}
	if diff := cmp.Diff(want, testutil.ReadTree(t, destination)); diff != "" {
		t.Errorf("tree after failed unpack (-want +got):\n%s", diff)
	}
}

func TestUnpackCancelled(t *testing.T) {
	decoded := roundTrip(t, []archive.Operation{
		archive.Create("a", 0o644, archive.File{Contents: []byte("a")}),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	destination := t.TempDir()
	if err := Unpack(ctx, destination, decoded, UnpackOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if entries := testutil.ReadTree(t, destination); len(entries) != 0 {
		t.Errorf("cancelled unpack wrote %v", entries)
	}
}

func TestUnpackRefusesSymlinkParent(t *testing.T) {
	base, err := archive.TreeOf([]archive.Operation{archive.Create("d", 0o755, archive.Directory{})})
	if err != nil {
		t.Fatalf("TreeOf: %v", err)
	}
	decoded := roundTrip(t, []archive.Operation{
		archive.Create("d/x", 0o644, archive.File{Contents: []byte("escape")}),
	}, base)

	outside := t.TempDir()
	destination := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(destination, "d")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if err := Unpack(context.Background(), destination, decoded, UnpackOptions{}); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("got %v, want ErrUnsafePath", err)
	}
	if _, err := os.Lstat(filepath.Join(outside, "x")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file written through symlink: %v", err)
	}
}

func TestUnpackRecursiveDelete(t *testing.T) {
	decoded := roundTrip(t, []archive.Operation{
		archive.Create("dir", 0o755, archive.Directory{}),
		archive.Create("dir/a", 0o644, archive.File{Contents: []byte("a")}),
		archive.Create("keep", 0o644, archive.File{Contents: []byte("k")}),
		archive.Delete("dir"),
	}, nil)

	destination := t.TempDir()
	if err := Unpack(context.Background(), destination, decoded, UnpackOptions{}); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	want := []testutil.Entry{{Path: "keep", Contents: "k", Mode: 0o644}}
	if diff := cmp.Diff(want, testutil.ReadTree(t, destination)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestScanTree(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, fixture)

	tree, err := ScanTree(context.Background(), root)
	if err != nil {
		t.Fatalf("ScanTree: %v", err)
	}
	operations, err := Pack(context.Background(), root, PackOptions{})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	want, err := archive.TreeOf(operations)
	if err != nil {
		t.Fatalf("TreeOf: %v", err)
	}
	if diff := cmp.Diff(want.Locations(), tree.Locations()); diff != "" {
		t.Errorf("scanned locations mismatch (-want +got):\n%s", diff)
	}
	if !tree.IsDirectory("a/c") || tree.IsDirectory("a/c/d") {
		t.Error("ScanTree recorded the wrong entry types")
	}
}
