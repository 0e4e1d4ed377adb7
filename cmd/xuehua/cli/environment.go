// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/clock"
	"github.com/xuehua-build/xuehua/lib/config"
	"github.com/xuehua-build/xuehua/lib/keys"
	"github.com/xuehua-build/xuehua/lib/store"
)

// Environment carries the flags every command that touches
// configuration shares. Embed it in a params struct:
//
//	type packParams struct {
//	    cli.Environment
//	    Output string `flag:"output,o" desc:"archive file (default stdout)"`
//	}
type Environment struct {
	ConfigPath string
	Verbose    bool
}

// AddFlags registers --config and --verbose.
func (e *Environment) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&e.ConfigPath, "config", "", "configuration file (default $"+config.EnvVar+", then built-in defaults)")
	flagSet.BoolVarP(&e.Verbose, "verbose", "v", false, "log at debug level")
}

// Session is the resolved state of one command invocation.
type Session struct {
	Config *config.Config
	Logger *slog.Logger

	once  sync.Once
	store *store.Store
	err   error
}

// Open resolves and validates the configuration and builds the
// invocation's logger, which writes to streams.Err.
func (e *Environment) Open(streams Streams) (*Session, error) {
	cfg, err := config.Resolve(e.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Session{Config: cfg, Logger: NewLogger(streams.Err, e.Verbose)}, nil
}

// Store opens the configured store on first use and returns the same
// handle afterwards. Close releases it.
func (s *Session) Store(ctx context.Context) (*store.Store, error) {
	s.once.Do(func() {
		s.store, s.err = store.Open(ctx, store.Config{
			Root:   s.Config.Store.Root,
			Clock:  clock.Real(),
			Logger: s.Logger,
		})
	})
	return s.store, s.err
}

// Close releases the store if one was opened.
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// ResolveDictionary makes a session an [archive.DictionaryResolver]
// backed by the configured store. A store that was never created
// holds no dictionaries, and is not created by asking.
func (s *Session) ResolveDictionary(ctx context.Context, digest archive.Digest) ([]byte, error) {
	if s.store == nil {
		if _, err := os.Stat(filepath.Join(s.Config.Store.Root, "store.db")); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (no store at %s)", archive.ErrDictionaryNotFound, digest, s.Config.Store.Root)
		}
	}
	st, err := s.Store(ctx)
	if err != nil {
		return nil, err
	}
	return st.ResolveDictionary(ctx, digest)
}

// Signers loads the signing key. keyPath overrides signing.key from
// the configuration; with neither set the archive is unsigned.
func (s *Session) Signers(keyPath string) ([]archive.Signer, error) {
	if keyPath == "" {
		keyPath = s.Config.Signing.Key
	}
	if keyPath == "" {
		return nil, nil
	}
	private, err := keys.LoadPrivate(keyPath)
	if err != nil {
		return nil, err
	}
	s.Logger.Debug("loaded signing key", "path", keyPath, "fingerprint", keys.Fingerprint(private.Public().(ed25519.PublicKey)))
	return []archive.Signer{archive.KeySigner(private)}, nil
}

// Trusted loads trusted public keys. paths replaces signing.trusted
// from the configuration when non-empty.
func (s *Session) Trusted(paths []string) ([]ed25519.PublicKey, error) {
	if len(paths) == 0 {
		paths = s.Config.Signing.Trusted
	}
	trusted := make([]ed25519.PublicKey, 0, len(paths))
	for _, path := range paths {
		public, err := keys.LoadPublic(path)
		if err != nil {
			return nil, err
		}
		trusted = append(trusted, public)
	}
	return trusted, nil
}

// OpenInput returns path for reading, or stdin when path is empty or
// "-".
func OpenInput(streams Streams, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(streams.In), nil
	}
	return os.Open(path)
}

// CreateOutput returns path for writing, or stdout when path is empty
// or "-". A file is created with mode 0644 and truncated if it exists.
func CreateOutput(streams Streams, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{streams.Out}, nil
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
