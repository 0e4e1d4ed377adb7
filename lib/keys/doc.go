// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the Ed25519 keys that sign and verify archive
// footers. Keys are stored raw, as the 64-byte private key and 32-byte
// public key crypto/ed25519 uses; existing OpenSSH ed25519 keys are
// accepted for loading.
package keys
