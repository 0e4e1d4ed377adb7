// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/xuehua-build/xuehua/lib/archive"
)

// PackageEntry pairs a package name with the artifact it currently
// points at.
type PackageEntry struct {
	Name         string    `json:"name"`
	Artifact     Artifact  `json:"artifact"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisterPackage points name at the stored artifact id. Earlier
// registrations of the same name are kept as history; [Store.Package]
// returns the newest.
func (s *Store) RegisterPackage(ctx context.Context, name, id string) (PackageEntry, error) {
	if err := validatePackageName(name); err != nil {
		return PackageEntry{}, err
	}

	var entry PackageEntry
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		digest, err := s.resolveID(conn, id)
		if err != nil {
			return err
		}
		artifact, err := s.artifactByDigest(conn, digest)
		if err != nil {
			return err
		}
		entry = PackageEntry{Name: name, Artifact: artifact, RegisteredAt: s.clock.Now().UTC()}
		return sqlitex.Execute(conn,
			"INSERT INTO packages (package, artifact, created_at) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{name, digest[:], entry.RegisteredAt.UnixNano()}})
	})
	if err != nil {
		return PackageEntry{}, fmt.Errorf("store: register package %q: %w", name, err)
	}
	s.logger.Info("package registered", "package", name, "artifact", archive.FormatRef(entry.Artifact.Digest))
	return entry, nil
}

// Package returns the newest registration of name.
func (s *Store) Package(ctx context.Context, name string) (PackageEntry, error) {
	var (
		entry PackageEntry
		found bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT p.package, p.created_at, a.digest, a.size, a.operations, a.created_at, a.summary
			FROM packages p JOIN artifacts a ON a.digest = p.artifact
			WHERE p.package = ?
			ORDER BY p.created_at DESC, p.rowid DESC
			LIMIT 1`,
			&sqlitex.ExecOptions{
				Args: []any{name},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					entry, err = scanPackage(stmt)
					found = true
					return err
				},
			})
	})
	if err != nil {
		return PackageEntry{}, fmt.Errorf("store: package %q: %w", name, err)
	}
	if !found {
		return PackageEntry{}, fmt.Errorf("store: package %q: %w", name, ErrNotFound)
	}
	return entry, nil
}

// Packages lists the newest registration of every package, by name.
func (s *Store) Packages(ctx context.Context) ([]PackageEntry, error) {
	var entries []PackageEntry
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT p.package, p.created_at, a.digest, a.size, a.operations, a.created_at, a.summary
			FROM packages p JOIN artifacts a ON a.digest = p.artifact
			WHERE p.rowid = (
				SELECT latest.rowid FROM packages latest
				WHERE latest.package = p.package
				ORDER BY latest.created_at DESC, latest.rowid DESC
				LIMIT 1
			)
			ORDER BY p.package`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entry, err := scanPackage(stmt)
					if err != nil {
						return err
					}
					entries = append(entries, entry)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing packages: %w", err)
	}
	return entries, nil
}

// scanPackage reads package(0), created_at(1) and the artifact
// columns starting at 2.
func scanPackage(stmt *sqlite.Stmt) (PackageEntry, error) {
	entry := PackageEntry{
		Name:         stmt.ColumnText(0),
		RegisteredAt: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
	}
	artifact, err := scanArtifactAt(stmt, 2)
	if err != nil {
		return PackageEntry{}, err
	}
	entry.Artifact = artifact
	return entry, nil
}

func validatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("store: package name is empty")
	}
	if strings.TrimSpace(name) != name || strings.ContainsAny(name, "\x00\n") {
		return fmt.Errorf("store: package name %q has surrounding space or control characters", name)
	}
	return nil
}
