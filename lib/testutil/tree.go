// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// Entry describes one filesystem entry of a fixture tree. Exactly one
// of Dir, Target (a symlink) or neither (a regular file holding
// Contents) applies. A zero Mode defaults to 0755 for directories and
// 0644 for files; symlinks carry no mode.
type Entry struct {
	Path     string
	Dir      bool
	Target   string
	Contents string
	Mode     fs.FileMode
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// WriteTree creates entries under root. Paths are slash-separated and
// relative to root; missing parents are created with mode 0755.
// Directory modes are applied after every entry exists, so read-only
// directories can still be populated.
//
//	testutil.WriteTree(t, root, []testutil.Entry{
//	    {Path: "bin", Dir: true},
//	    {Path: "bin/tool", Contents: "#!/bin/sh\n", Mode: 0o755},
//	    {Path: "current", Target: "bin/tool"},
//	})
func WriteTree(t fataler, root string, entries []Entry) {
	t.Helper()
	var directories []Entry
	for _, entry := range entries {
		path := filepath.Join(root, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating parent of %s: %v", entry.Path, err)
		}
		switch {
		case entry.Dir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatalf("creating directory %s: %v", entry.Path, err)
			}
			directories = append(directories, entry)
		case entry.Target != "":
			if err := os.Symlink(entry.Target, path); err != nil {
				t.Fatalf("creating symlink %s: %v", entry.Path, err)
			}
		default:
			mode := entry.Mode
			if mode == 0 {
				mode = 0o644
			}
			if err := os.WriteFile(path, []byte(entry.Contents), 0o600); err != nil {
				t.Fatalf("writing %s: %v", entry.Path, err)
			}
			if err := os.Chmod(path, mode); err != nil {
				t.Fatalf("chmod %s: %v", entry.Path, err)
			}
		}
	}
	// Deepest first, so a read-only parent is locked last.
	slices.Reverse(directories)
	for _, entry := range directories {
		mode := entry.Mode
		if mode == 0 {
			mode = 0o755
		}
		if err := os.Chmod(filepath.Join(root, filepath.FromSlash(entry.Path)), mode); err != nil {
			t.Fatalf("chmod %s: %v", entry.Path, err)
		}
	}
}

// ReadTree returns every entry under root (excluding root itself),
// sorted by path, in the form WriteTree accepts. Modes are always
// filled in, except for symlinks.
func ReadTree(t fataler, root string) []Entry {
	t.Helper()
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := Entry{Path: filepath.ToSlash(relative)}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			if entry.Target, err = os.Readlink(path); err != nil {
				return err
			}
		case d.IsDir():
			entry.Dir = true
			entry.Mode = info.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
		default:
			contents, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			entry.Contents = string(contents)
			entry.Mode = info.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree %s: %v", root, err)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return entries
}
