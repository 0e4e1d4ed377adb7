// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/ssh"
)

// PublicSuffix is appended to the private key file name to name the
// public key file.
const PublicSuffix = ".pub"

// ErrEncryptedKey is returned for passphrase-protected OpenSSH keys.
var ErrEncryptedKey = errors.New("keys: passphrase-protected keys are not supported")

// Generate creates a new Ed25519 keypair.
func Generate() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// Save writes the raw keypair to dir/name (mode 0600) and
// dir/name.pub (mode 0644) and returns the private key path. Existing
// files are never overwritten.
func Save(dir, name string, public ed25519.PublicKey, private ed25519.PrivateKey) (string, error) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("keys: invalid key name %q", name)
	}
	if !bytes.Equal(private.Public().(ed25519.PublicKey), public) {
		return "", fmt.Errorf("keys: public key does not match private key")
	}

	privatePath := filepath.Join(dir, name)
	if err := writeNew(privatePath, private, 0o600); err != nil {
		return "", fmt.Errorf("writing private key: %w", err)
	}
	if err := writeNew(privatePath+PublicSuffix, public, 0o644); err != nil {
		os.Remove(privatePath)
		return "", fmt.Errorf("writing public key: %w", err)
	}
	return privatePath, nil
}

func writeNew(path string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

// LoadPrivate reads an Ed25519 private key in either the raw 64-byte
// form Save writes or an unencrypted OpenSSH private key file.
func LoadPrivate(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	if len(data) == ed25519.PrivateKeySize {
		private := ed25519.PrivateKey(data)
		derived := ed25519.NewKeyFromSeed(private.Seed())
		if !bytes.Equal(derived, private) {
			return nil, fmt.Errorf("keys: %s: public half does not match seed", path)
		}
		return private, nil
	}

	parsed, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrEncryptedKey, path)
		}
		return nil, fmt.Errorf("keys: %s is neither a raw %d-byte key nor an OpenSSH key: %w",
			path, ed25519.PrivateKeySize, err)
	}
	switch key := parsed.(type) {
	case *ed25519.PrivateKey:
		return *key, nil
	case ed25519.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("keys: %s holds a %T, want an Ed25519 key", path, parsed)
	}
}

// LoadPublic reads an Ed25519 public key in either the raw 32-byte
// form Save writes or a single authorized_keys line
// ("ssh-ed25519 AAAA... comment").
func LoadPublic(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(data) == ed25519.PublicKeySize {
		return ed25519.PublicKey(data), nil
	}
	return ParseAuthorizedKey(data)
}

// ParseAuthorizedKey parses one authorized_keys line holding an
// Ed25519 key.
func ParseAuthorizedKey(line []byte) (ed25519.PublicKey, error) {
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return nil, fmt.Errorf("keys: parsing authorized key: %w", err)
	}
	if parsed.Type() != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("keys: authorized key has type %s, want %s", parsed.Type(), ssh.KeyAlgoED25519)
	}
	crypto, ok := parsed.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: cannot extract %s key", parsed.Type())
	}
	public, ok := crypto.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: authorized key is not Ed25519")
	}
	return public, nil
}

// AuthorizedKey formats public as an authorized_keys line without a
// trailing newline.
func AuthorizedKey(public ed25519.PublicKey) (string, error) {
	key, err := ssh.NewPublicKey(public)
	if err != nil {
		return "", fmt.Errorf("keys: %w", err)
	}
	return strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(key)), "\n"), nil
}

// Fingerprint returns a short display form of public: "xhk-" and the
// first 16 hex characters of a BLAKE3-derived key over it.
func Fingerprint(public ed25519.PublicKey) string {
	var sum [8]byte
	blake3.DeriveKey("xuehua.keys.fingerprint", public, sum[:])
	return "xhk-" + hex.EncodeToString(sum[:])
}
