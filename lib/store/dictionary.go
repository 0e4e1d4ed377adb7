// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/xuehua-build/xuehua/lib/archive"
)

// PutDictionary stores dictionary under its [archive.DictionaryDigest]
// and returns the digest. Storing the same bytes twice is a no-op.
func (s *Store) PutDictionary(ctx context.Context, dictionary []byte) (archive.Digest, error) {
	if len(dictionary) == 0 {
		return archive.Digest{}, fmt.Errorf("store: refusing to store an empty dictionary")
	}
	digest := archive.DictionaryDigest(dictionary)

	file, err := stage(filepath.Join(s.root, dictionaryDir), func(w io.Writer) error {
		_, err := w.Write(dictionary)
		return err
	})
	if err != nil {
		return archive.Digest{}, fmt.Errorf("store: staging dictionary: %w", err)
	}
	defer file.discard()

	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"INSERT INTO dictionaries (digest, size, created_at) VALUES (?, ?, ?) ON CONFLICT (digest) DO NOTHING",
			&sqlitex.ExecOptions{Args: []any{digest[:], len(dictionary), s.clock.Now().UnixNano()}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return nil
		}
		return file.commit(s.dictionaryPath(digest))
	})
	if err != nil {
		return archive.Digest{}, fmt.Errorf("store: put dictionary %s: %w", archive.FormatRef(digest), err)
	}
	if file.committed {
		s.logger.Info("dictionary stored", "dictionary", archive.FormatRef(digest), "size", len(dictionary))
	}
	return digest, nil
}

// ResolveDictionary returns the stored dictionary for digest, or an
// error wrapping [archive.ErrDictionaryNotFound].
func (s *Store) ResolveDictionary(ctx context.Context, digest archive.Digest) ([]byte, error) {
	var known bool
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT 1 FROM dictionaries WHERE digest = ?", &sqlitex.ExecOptions{
			Args: []any{digest[:]},
			ResultFunc: func(*sqlite.Stmt) error {
				known = true
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: dictionary %s: %w", archive.FormatRef(digest), err)
	}
	if !known {
		return nil, fmt.Errorf("store: %w: %s", archive.ErrDictionaryNotFound, digest)
	}

	dictionary, err := os.ReadFile(s.dictionaryPath(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("store: %w: %s is cataloged but its file is missing", archive.ErrDictionaryNotFound, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading dictionary %s: %w", archive.FormatRef(digest), err)
	}
	return dictionary, nil
}
