// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

// signatureContext prefixes the aggregate digest in every signed
// message, so an archive signature can never be replayed as a
// signature over some other 32-byte value.
const signatureContext = "xuehua-archive/signature/v1\x00"

// Signer produces Ed25519 signatures for archive footers.
type Signer interface {
	Public() ed25519.PublicKey
	Sign(message []byte) ([]byte, error)
}

// KeySigner is a [Signer] backed by an in-memory private key.
type KeySigner ed25519.PrivateKey

func (k KeySigner) Public() ed25519.PublicKey {
	return ed25519.PrivateKey(k).Public().(ed25519.PublicKey)
}

func (k KeySigner) Sign(message []byte) ([]byte, error) {
	if len(k) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(k), ed25519.PrivateKeySize)
	}
	return ed25519.Sign(ed25519.PrivateKey(k), message), nil
}

// Signature is one footer entry: a public key and its signature over
// the archive's aggregate digest.
type Signature struct {
	PublicKey ed25519.PublicKey
	Signature []byte
}

// signatureMessage returns the bytes a signer signs for aggregate.
func signatureMessage(aggregate Digest) []byte {
	message := make([]byte, 0, len(signatureContext)+DigestSize)
	message = append(message, signatureContext...)
	return append(message, aggregate[:]...)
}

// signAggregate collects one signature per signer.
func signAggregate(signers []Signer, aggregate Digest) ([]Signature, error) {
	message := signatureMessage(aggregate)
	signatures := make([]Signature, 0, len(signers))
	for i, signer := range signers {
		public := signer.Public()
		if len(public) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("signer %d: public key is %d bytes, want %d", i, len(public), ed25519.PublicKeySize)
		}
		signature, err := signer.Sign(message)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		if len(signature) != ed25519.SignatureSize {
			return nil, fmt.Errorf("signer %d: signature is %d bytes, want %d", i, len(signature), ed25519.SignatureSize)
		}
		signatures = append(signatures, Signature{PublicKey: public, Signature: signature})
	}
	return signatures, nil
}

// verifySignatures checks every signature against aggregate. The
// first failure is returned; no partial verdict exists.
func verifySignatures(signatures []Signature, aggregate Digest) error {
	message := signatureMessage(aggregate)
	for i, s := range signatures {
		if len(s.PublicKey) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: signature %d: public key is %d bytes, want %d",
				ErrSignatureInvalid, i, len(s.PublicKey), ed25519.PublicKeySize)
		}
		if len(s.Signature) != ed25519.SignatureSize {
			return fmt.Errorf("%w: signature %d: %d bytes, want %d",
				ErrSignatureInvalid, i, len(s.Signature), ed25519.SignatureSize)
		}
		if !ed25519.Verify(s.PublicKey, message, s.Signature) {
			return fmt.Errorf("%w: signature %d does not verify", ErrSignatureInvalid, i)
		}
	}
	return nil
}

// encodeSignatureList serializes the footer's signature list body:
// lenp(public-key) || signature, per entry.
func encodeSignatureList(signatures []Signature) []byte {
	var list []byte
	for _, s := range signatures {
		list = appendFramed(list, s.PublicKey)
		list = append(list, s.Signature...)
	}
	return list
}

// decodeSignatureList parses what encodeSignatureList produced.
func decodeSignatureList(list []byte) ([]Signature, error) {
	reader := newFrameReader(bytes.NewReader(list), uint64(len(list)))
	var signatures []Signature
	for reader.offset < int64(len(list)) {
		publicKey, err := reader.framed()
		if err != nil {
			return nil, fmt.Errorf("signature %d public key: %w", len(signatures), err)
		}
		if len(publicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: signature %d: public key is %d bytes, want %d",
				ErrSignatureInvalid, len(signatures), len(publicKey), ed25519.PublicKeySize)
		}
		signature, err := reader.fixed(ed25519.SignatureSize)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", len(signatures), err)
		}
		signatures = append(signatures, Signature{PublicKey: publicKey, Signature: signature})
	}
	return signatures, nil
}
