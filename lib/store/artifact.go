// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/codec"
)

// Artifact is the catalog record of a stored archive.
type Artifact struct {
	// Digest is the archive's aggregate digest and its identity in
	// the store.
	Digest     archive.Digest `json:"digest"`
	Size       int64          `json:"size"`
	Operations int            `json:"operations"`
	CreatedAt  time.Time      `json:"created_at"`
	Summary    Summary        `json:"summary"`
}

// Summary is derived from the decoded archive at registration and
// kept as a CBOR blob.
type Summary struct {
	Creates     int            `json:"creates"`
	Deletes     int            `json:"deletes"`
	IndexDigest archive.Digest `json:"index_digest"`
	// Signers are hex-encoded Ed25519 public keys.
	Signers []string `json:"signers,omitempty"`
}

func summarize(decoded *archive.Archive) Summary {
	var summary Summary
	for _, op := range decoded.Operations() {
		if op.Kind == archive.KindCreate {
			summary.Creates++
		} else {
			summary.Deletes++
		}
	}
	summary.IndexDigest = decoded.IndexDigest()
	for _, signer := range decoded.Signers() {
		summary.Signers = append(summary.Signers, hex.EncodeToString(signer))
	}
	return summary
}

// RegisterArtifact reads one archive from r, verifies it in full, and
// stores it under its aggregate digest. External dictionaries are
// resolved from the store. Registering an archive whose aggregate is
// already stored returns the existing record and leaves the stored
// blob untouched.
//
// The archive must be self-contained: deletes need a base tree, which
// the store does not track.
func (s *Store) RegisterArtifact(ctx context.Context, r io.Reader) (Artifact, error) {
	var decoded *archive.Archive
	blob, err := stage(filepath.Join(s.root, contentDir), func(w io.Writer) error {
		var err error
		decoded, err = archive.Decode(ctx, io.TeeReader(r, w), archive.DecodeOptions{Resolver: s})
		return err
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store: register: %w", err)
	}
	defer blob.discard()

	summary := summarize(decoded)
	summaryBlob, err := codec.Marshal(summary)
	if err != nil {
		return Artifact{}, fmt.Errorf("store: encoding summary: %w", err)
	}

	digest := decoded.Aggregate()
	var artifact Artifact
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		existing, err := s.artifactByDigest(conn, digest)
		if err == nil {
			artifact = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		artifact = Artifact{
			Digest:     digest,
			Size:       decoded.Size(),
			Operations: decoded.Len(),
			CreatedAt:  s.clock.Now().UTC(),
			Summary:    summary,
		}
		err = sqlitex.Execute(conn,
			"INSERT INTO artifacts (digest, size, operations, created_at, summary) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				digest[:], artifact.Size, artifact.Operations, artifact.CreatedAt.UnixNano(), summaryBlob,
			}})
		if err != nil {
			return fmt.Errorf("inserting artifact: %w", err)
		}
		return blob.commit(s.contentPath(digest))
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store: register %s: %w", archive.FormatRef(digest), err)
	}

	if blob.committed {
		s.logger.Info("artifact registered",
			"artifact", archive.FormatRef(digest),
			"operations", artifact.Operations,
			"size", artifact.Size,
			"signers", len(artifact.Summary.Signers),
		)
	} else {
		s.logger.Debug("artifact already registered", "artifact", archive.FormatRef(digest))
	}
	return artifact, nil
}

// Artifact returns the record for id, which is a full hex digest or a
// short reference such as [archive.FormatRef] produces. A short
// reference that matches more than one artifact fails with
// [ErrAmbiguous].
func (s *Store) Artifact(ctx context.Context, id string) (Artifact, error) {
	var artifact Artifact
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		digest, err := s.resolveID(conn, id)
		if err != nil {
			return err
		}
		artifact, err = s.artifactByDigest(conn, digest)
		return err
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store: artifact %q: %w", id, err)
	}
	return artifact, nil
}

// Open decodes and verifies the stored archive for id. The blob is
// checked again in full; the catalog is not trusted for integrity.
func (s *Store) Open(ctx context.Context, id string) (*archive.Archive, error) {
	file, _, err := s.Blob(ctx, id)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoded, err := archive.Decode(ctx, file, archive.DecodeOptions{Resolver: s})
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", id, err)
	}
	return decoded, nil
}

// Blob opens the raw archive bytes for id without decoding them.
func (s *Store) Blob(ctx context.Context, id string) (io.ReadCloser, Artifact, error) {
	artifact, err := s.Artifact(ctx, id)
	if err != nil {
		return nil, Artifact{}, err
	}
	file, err := os.Open(s.contentPath(artifact.Digest))
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("store: blob for %s: %w", archive.FormatRef(artifact.Digest), err)
	}
	return file, artifact, nil
}

// Artifacts lists every stored artifact, oldest first.
func (s *Store) Artifacts(ctx context.Context) ([]Artifact, error) {
	var artifacts []Artifact
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT digest, size, operations, created_at, summary FROM artifacts ORDER BY created_at, digest",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					artifact, err := scanArtifact(stmt)
					if err != nil {
						return err
					}
					artifacts = append(artifacts, artifact)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing artifacts: %w", err)
	}
	return artifacts, nil
}

// resolveID turns a full digest or a short reference into the digest
// of exactly one stored artifact.
func (s *Store) resolveID(conn *sqlite.Conn, id string) (archive.Digest, error) {
	if digest, err := archive.ParseDigest(id); err == nil {
		return digest, nil
	}
	prefix := strings.ToLower(strings.TrimPrefix(id, "xha-"))
	if prefix == "" || len(prefix) >= 2*archive.DigestSize {
		return archive.Digest{}, fmt.Errorf("invalid artifact reference")
	}
	if strings.Trim(prefix, "0123456789abcdef") != "" {
		return archive.Digest{}, fmt.Errorf("invalid artifact reference")
	}

	var matches []archive.Digest
	err := sqlitex.Execute(conn,
		"SELECT digest FROM artifacts WHERE lower(hex(digest)) LIKE ? ORDER BY digest LIMIT 2",
		&sqlitex.ExecOptions{
			Args: []any{prefix + "%"},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var digest archive.Digest
				stmt.ColumnBytes(0, digest[:])
				matches = append(matches, digest)
				return nil
			},
		})
	if err != nil {
		return archive.Digest{}, err
	}
	switch len(matches) {
	case 0:
		return archive.Digest{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return archive.Digest{}, ErrAmbiguous
	}
}

func (s *Store) artifactByDigest(conn *sqlite.Conn, digest archive.Digest) (Artifact, error) {
	var (
		artifact Artifact
		found    bool
	)
	err := sqlitex.Execute(conn,
		"SELECT digest, size, operations, created_at, summary FROM artifacts WHERE digest = ?",
		&sqlitex.ExecOptions{
			Args: []any{digest[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				artifact, err = scanArtifact(stmt)
				found = true
				return err
			},
		})
	if err != nil {
		return Artifact{}, err
	}
	if !found {
		return Artifact{}, ErrNotFound
	}
	return artifact, nil
}

// scanArtifact reads the columns digest, size, operations, created_at
// and summary, in that order.
func scanArtifact(stmt *sqlite.Stmt) (Artifact, error) {
	return scanArtifactAt(stmt, 0)
}

// scanArtifactAt is scanArtifact for a result whose artifact columns
// start at column first.
func scanArtifactAt(stmt *sqlite.Stmt, first int) (Artifact, error) {
	var artifact Artifact
	stmt.ColumnBytes(first, artifact.Digest[:])
	artifact.Size = stmt.ColumnInt64(first + 1)
	artifact.Operations = stmt.ColumnInt(first + 2)
	artifact.CreatedAt = time.Unix(0, stmt.ColumnInt64(first+3)).UTC()

	summary := make([]byte, stmt.ColumnLen(first+4))
	stmt.ColumnBytes(first+4, summary)
	if err := codec.Unmarshal(summary, &artifact.Summary); err != nil {
		return Artifact{}, fmt.Errorf("decoding summary of %s: %w", archive.FormatRef(artifact.Digest), err)
	}
	return artifact, nil
}
