// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/xuehua-build/xuehua/lib/archive"
)

// UnpackOptions configures [Unpack].
type UnpackOptions struct {
	// Logger receives one debug record per operation and a summary.
	// Nil discards.
	Logger *slog.Logger
}

// Unpack applies a verified archive to the directory root. Creates
// fail if the entry already exists; Deletes remove the entry and
// everything beneath it. All filesystem access goes through an
// [os.Root], so no operation can reach outside root, and any parent
// path that is not a real directory fails with [ErrUnsafePath].
//
// Directory permissions are applied after every operation, so an
// archive can populate a directory it also marks read-only.
//
// Operations are applied in order and never rolled back. When Unpack
// fails part way, whether from cancellation (checked before each
// operation), an I/O error or an entry that already exists, the
// operations before the failing one stay applied and the rest are
// not. Callers that need all or nothing can unpack into a fresh
// staging directory and rename it into place, and can rule out
// collisions beforehand by decoding against a [ScanTree] of root.
func Unpack(ctx context.Context, root string, a *archive.Archive, options UnpackOptions) error {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	handle, err := os.OpenRoot(root)
	if err != nil {
		return fmt.Errorf("opening unpack root: %w", err)
	}
	defer handle.Close()

	type pendingMode struct {
		path string
		mode fs.FileMode
	}
	var directories []pendingMode

	for index, op := range a.Operations() {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := string(op.Location)
		if err := checkParents(handle, op.Location); err != nil {
			return fmt.Errorf("operation %d: %w", index, err)
		}

		switch op.Kind {
		case archive.KindDelete:
			if err := handle.RemoveAll(path); err != nil {
				return fmt.Errorf("deleting %s: %w", path, err)
			}
		case archive.KindCreate:
			switch body := op.Body.(type) {
			case archive.Directory:
				if err := handle.Mkdir(path, 0o700); err != nil {
					return fmt.Errorf("creating directory %s: %w", path, err)
				}
				directories = append(directories, pendingMode{path: path, mode: op.Permissions.FileMode()})
			case archive.File:
				if err := writeFile(handle, path, body.Contents, op.Permissions.FileMode()); err != nil {
					return err
				}
			case archive.Symlink:
				if err := handle.Symlink(body.Target, path); err != nil {
					return fmt.Errorf("creating symlink %s: %w", path, err)
				}
			}
		}
		logger.Debug("applied operation", "index", index, "kind", op.Kind, "location", op.Location)
	}

	// Deepest first: a read-only parent must not block its children.
	slices.Reverse(directories)
	for _, directory := range directories {
		err := handle.Chmod(directory.path, directory.mode)
		if errors.Is(err, fs.ErrNotExist) {
			// Deleted later in the same archive.
			continue
		}
		if err != nil {
			return fmt.Errorf("setting permissions on %s: %w", directory.path, err)
		}
	}

	logger.Info("unpacked archive",
		"root", root,
		"operations", a.Len(),
		"aggregate", archive.FormatRef(a.Aggregate()),
	)
	return nil
}

func writeFile(handle *os.Root, path string, contents []byte, mode fs.FileMode) error {
	file, err := handle.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := file.Write(contents); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	// Chmod rather than OpenFile's mode, which the umask would trim.
	if err := handle.Chmod(path, mode); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}
	return nil
}

// checkParents requires every ancestor of location to be a real
// directory, not a symlink, under root.
func checkParents(handle *os.Root, location archive.Location) error {
	var ancestors []archive.Location
	for parent, ok := location.Parent(); ok; parent, ok = parent.Parent() {
		ancestors = append(ancestors, parent)
	}
	slices.Reverse(ancestors)
	for _, ancestor := range ancestors {
		info, err := handle.Lstat(string(ancestor))
		if err != nil {
			return fmt.Errorf("%w: parent %s of %s: %w", ErrUnsafePath, ancestor, location, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: parent %s of %s is not a directory", ErrUnsafePath, ancestor, location)
		}
	}
	return nil
}
