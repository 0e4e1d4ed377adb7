// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/xuehua-build/xuehua/lib/archive"
)

var (
	// ErrUnsupportedType reports a device, socket, named pipe or other
	// entry that has no archive representation.
	ErrUnsupportedType = errors.New("pack: unsupported file type")

	// ErrUnsafePath reports an unpack target whose parent path is not
	// a real directory inside the root.
	ErrUnsafePath = errors.New("pack: unsafe path")
)

// PackOptions configures [Pack].
type PackOptions struct {
	// Dictionary is attached to every file body. The zero value packs
	// without a dictionary.
	Dictionary archive.DictionaryRef

	// Logger receives one debug record per entry and a summary. Nil
	// discards.
	Logger *slog.Logger
}

// Pack walks the tree under root and returns one Create per entry,
// sorted by location, ready for [archive.Encode]. Root itself is not
// included. Symlinks are recorded, never followed.
func Pack(ctx context.Context, root string, options PackOptions) ([]archive.Operation, error) {
	return walk(ctx, root, options, true)
}

// ScanTree returns the live set of the directory under root, for use
// as the base when decoding or unpacking an archive that edits it.
// File contents are not read.
func ScanTree(ctx context.Context, root string) (*archive.Tree, error) {
	operations, err := walk(ctx, root, PackOptions{}, false)
	if err != nil {
		return nil, err
	}
	return archive.TreeOf(operations)
}

func walk(ctx context.Context, root string, options PackOptions, readContents bool) ([]archive.Operation, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		operations []archive.Operation
		bytes      int64
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			if !d.IsDir() {
				return fmt.Errorf("pack root %s is not a directory", root)
			}
			return nil
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		location, err := archive.ParseLocation(filepath.ToSlash(relative))
		if err != nil {
			return fmt.Errorf("entry %s: %w", relative, err)
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", location, err)
		}
		permissions := archive.PermissionsFromMode(info.Mode())

		var body archive.Body
		switch kind := d.Type(); {
		case kind.IsRegular() && !readContents:
			body = archive.File{}
		case kind.IsRegular():
			contents, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", location, err)
			}
			bytes += int64(len(contents))
			body = archive.File{Contents: contents, Dictionary: options.Dictionary}
		case kind&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %s: %w", location, err)
			}
			body = archive.Symlink{Target: target}
		case kind.IsDir():
			body = archive.Directory{}
		default:
			return fmt.Errorf("%w: %s is %s", ErrUnsupportedType, location, kind.Type())
		}

		logger.Debug("packing entry",
			"location", location,
			"type", body.Type(),
			"permissions", permissions,
		)
		operations = append(operations, archive.Create(location, permissions, body))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// WalkDir orders entries per directory, which differs from byte
	// order across directories ("a-b" sorts before "a/b").
	slices.SortFunc(operations, func(a, b archive.Operation) int {
		return cmp.Compare(a.Location, b.Location)
	})
	if !readContents {
		return operations, nil
	}
	logger.Info("packed tree",
		"root", root,
		"entries", len(operations),
		"file_bytes", bytes,
	)
	return operations, nil
}
