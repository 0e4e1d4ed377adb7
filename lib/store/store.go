// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/clock"
	"github.com/xuehua-build/xuehua/lib/sqlitepool"
)

var (
	// ErrNotFound is returned when no artifact or package matches.
	ErrNotFound = errors.New("store: not found")

	// ErrAmbiguous is returned when a short reference matches more
	// than one artifact.
	ErrAmbiguous = errors.New("store: ambiguous reference")
)

// migrations is the catalog schema. Digests are 32-byte blobs and
// timestamps are Unix nanoseconds.
var migrations = []string{`
CREATE TABLE artifacts (
	digest     BLOB PRIMARY KEY,
	size       INTEGER NOT NULL,
	operations INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	summary    BLOB NOT NULL
);

CREATE TABLE packages (
	package    TEXT NOT NULL,
	artifact   BLOB NOT NULL REFERENCES artifacts(digest),
	created_at INTEGER NOT NULL
);
CREATE INDEX packages_by_name ON packages(package, created_at);

CREATE TABLE dictionaries (
	digest     BLOB PRIMARY KEY,
	size       INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`}

// Config holds the parameters for opening a store.
type Config struct {
	// Root is the store directory. It is created if missing.
	Root string

	// Clock stamps registrations. Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives registration events. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Store is a local, content-addressed collection of verified archives
// and the dictionaries they reference. Archive blobs live under
// content/, dictionaries under dictionaries/, and store.db catalogs
// both along with package names.
//
// A Store is an [archive.DictionaryResolver], so archives that
// reference a stored dictionary decode against it directly.
//
// Store is safe for concurrent use.
type Store struct {
	root   string
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

var _ archive.DictionaryResolver = (*Store)(nil)

// Open opens the store at cfg.Root, creating its layout and catalog on
// first use.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("store: Root is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	for _, dir := range []string{cfg.Root, filepath.Join(cfg.Root, contentDir), filepath.Join(cfg.Root, dictionaryDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}

	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       filepath.Join(cfg.Root, "store.db"),
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{root: cfg.Root, pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the catalog. Blocks until in-flight calls return their
// connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

const (
	contentDir    = "content"
	dictionaryDir = "dictionaries"
)

func (s *Store) contentPath(digest archive.Digest) string {
	return filepath.Join(s.root, contentDir, digest.String())
}

func (s *Store) dictionaryPath(digest archive.Digest) string {
	return filepath.Join(s.root, dictionaryDir, digest.String())
}

// staged is a temp file filled in the directory it will be renamed
// within, so the rename is atomic.
type staged struct {
	path      string
	committed bool
}

// stage creates a temp file in dir and fills it via fill. On failure
// the temp file is removed.
func stage(dir string, fill func(w io.Writer) error) (*staged, error) {
	temp, err := os.CreateTemp(dir, "incoming-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	file := &staged{path: temp.Name()}

	buffered := bufio.NewWriter(temp)
	fillErr := fill(buffered)
	if err := buffered.Flush(); err != nil {
		temp.Close()
		file.discard()
		return nil, fmt.Errorf("writing %s: %w", file.path, err)
	}
	if fillErr != nil {
		temp.Close()
		file.discard()
		return nil, fillErr
	}
	if err := temp.Close(); err != nil {
		file.discard()
		return nil, fmt.Errorf("closing %s: %w", file.path, err)
	}
	return file, nil
}

// commit renames the staged file to finalPath.
func (f *staged) commit(finalPath string) error {
	if err := os.Rename(f.path, finalPath); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	f.committed = true
	return nil
}

// discard removes the staged file unless it was committed. Safe to
// defer unconditionally.
func (f *staged) discard() {
	if !f.committed {
		os.Remove(f.path)
	}
}
