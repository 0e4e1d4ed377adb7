// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// DecodeOptions configures [Decode].
type DecodeOptions struct {
	// Resolver supplies External dictionaries. Without one, any
	// External reference fails with [ErrUnresolvedDictionary].
	Resolver DictionaryResolver

	// Base seeds the validator's live set. It must match the tree the
	// archive was encoded against.
	Base *Tree

	// MaxFieldSize bounds every framed field and every decompressed
	// body. Zero selects [DefaultMaxFieldSize].
	MaxFieldSize uint64
}

// Decode reads and verifies a complete archive from r. Each
// operation's digest is checked as soon as the operation is read, the
// validator runs over the whole sequence, and the footer is verified
// last. Nothing is returned unless all of it succeeds; a failure is an
// [*Error] wrapping one of the package's sentinel errors. Cancelling
// ctx stops decoding between operations and returns ctx.Err().
//
// r must hold exactly one archive: bytes after the footer fail with
// [ErrTrailingData].
func Decode(ctx context.Context, r io.Reader, options DecodeOptions) (*Archive, error) {
	fr := newFrameReader(bufio.NewReader(r), options.MaxFieldSize)
	if err := readHeader(fr); err != nil {
		return nil, err
	}

	d := newDecompressor(options.MaxFieldSize)
	defer d.close()
	validator := NewValidator(options.Base)

	var (
		operations []Operation
		digests    []Digest
	)
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := fr.offset
		op, digest, done, err := readOperation(ctx, fr, d, options.Resolver)
		if err != nil {
			return nil, wrapError(err, start, index, op.Location)
		}
		if done {
			break
		}
		if err := validator.Check(op); err != nil {
			return nil, wrapError(err, start, index, op.Location)
		}
		operations = append(operations, op)
		digests = append(digests, digest)
	}

	aggregate, signatures, err := readFooter(fr, digests)
	if err != nil {
		return nil, err
	}
	end := fr.offset
	if eof, err := fr.atEOF(); err != nil {
		return nil, &Error{Offset: end, Index: -1, Err: fmt.Errorf("checking for trailing data: %w", err)}
	} else if !eof {
		return nil, &Error{Offset: end, Index: -1, Err: ErrTrailingData}
	}

	return &Archive{
		operations: operations,
		digests:    digests,
		aggregate:  aggregate,
		signatures: signatures,
		tree:       validator.Tree(),
		size:       end,
	}, nil
}

func readHeader(fr *frameReader) error {
	header, err := fr.fixed(len(magic))
	if err != nil {
		return &Error{Offset: 0, Index: -1, Err: fmt.Errorf("reading magic: %w", err)}
	}
	if string(header) != magic {
		return &Error{Offset: 0, Index: -1, Err: fmt.Errorf("%w: magic %q", ErrBadMagic, header)}
	}
	version, err := fr.u16()
	if err != nil {
		return &Error{Offset: int64(len(magic)), Index: -1, Err: fmt.Errorf("reading version: %w", err)}
	}
	if version != FormatVersion {
		return &Error{Offset: int64(len(magic)), Index: -1, Err: fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)}
	}
	return nil
}

// readFooter reads the stored aggregate and signature list, then
// verifies both against the operation digests already read.
func readFooter(fr *frameReader, digests []Digest) (Digest, []Signature, error) {
	var aggregate Digest
	start := fr.offset
	stored, err := fr.fixed(DigestSize)
	if err != nil {
		return aggregate, nil, &Error{Offset: start, Index: -1, Err: fmt.Errorf("reading aggregate digest: %w", err)}
	}
	copy(aggregate[:], stored)

	listOffset := fr.offset
	list, err := fr.framed()
	if err != nil {
		return aggregate, nil, &Error{Offset: listOffset, Index: -1, Err: fmt.Errorf("reading signature list: %w", err)}
	}
	signatures, err := decodeSignatureList(list)
	if err != nil {
		return aggregate, nil, &Error{Offset: listOffset, Index: -1, Err: err}
	}

	if computed := AggregateDigest(digests); computed != aggregate {
		return aggregate, nil, &Error{Offset: start, Index: -1,
			Err: fmt.Errorf("%w: stored aggregate %s, computed %s", ErrDigestMismatch, aggregate, computed)}
	}
	if err := verifySignatures(signatures, aggregate); err != nil {
		return aggregate, nil, &Error{Offset: listOffset, Index: -1, Err: err}
	}
	return aggregate, signatures, nil
}
