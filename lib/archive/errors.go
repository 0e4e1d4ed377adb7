// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every failure the codec reports wraps exactly one
// of these inside an [*Error], so callers branch with [errors.Is]
// and print the [*Error] for context. No error is recoverable: a
// decode that fails yields nothing.
var (
	// ErrTruncated reports that the stream ended before a field was
	// complete, or that a declared field length exceeds the
	// configured maximum.
	ErrTruncated = errors.New("truncated stream")

	// ErrMalformedOperation reports an unknown operation, body, or
	// dictionary tag, or a location that is not a valid relative
	// path.
	ErrMalformedOperation = errors.New("malformed operation")

	// ErrOutOfOrder reports a Create (or Delete) whose location does
	// not sort strictly after the previous Create (or Delete).
	ErrOutOfOrder = errors.New("operation out of order")

	// ErrDuplicateLocation reports a location created twice, created
	// while already live, or deleted twice.
	ErrDuplicateLocation = errors.New("duplicate location")

	// ErrOrphanObject reports a Create whose parent is neither the
	// root nor a live directory.
	ErrOrphanObject = errors.New("orphan object")

	// ErrUnknownLocation reports a Delete of a location that is not
	// live.
	ErrUnknownLocation = errors.New("unknown location")

	// ErrDigestMismatch reports that a stored operation digest or the
	// stored aggregate digest differs from the recomputed one.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrUnresolvedDictionary reports an External dictionary
	// reference that the configured resolver could not supply.
	ErrUnresolvedDictionary = errors.New("unresolved dictionary")

	// ErrSignatureInvalid reports a footer signature that does not
	// verify against its public key, or a malformed key.
	ErrSignatureInvalid = errors.New("invalid signature")

	// ErrBadMagic reports a stream that does not start with the
	// archive magic.
	ErrBadMagic = errors.New("not a xuehua archive")

	// ErrUnsupportedVersion reports an archive format version this
	// codec does not implement.
	ErrUnsupportedVersion = errors.New("unsupported archive version")

	// ErrTrailingData reports bytes after the footer.
	ErrTrailingData = errors.New("trailing data after footer")

	// ErrDictionaryNotFound is returned by a [DictionaryResolver]
	// that does not hold the requested dictionary. The codec turns
	// it into [ErrUnresolvedDictionary].
	ErrDictionaryNotFound = errors.New("dictionary not found")
)

// Error carries the position of a codec failure. Offset is the byte
// offset in the stream where the failing field starts (or -1 when
// unknown). Index is the zero-based operation index, or -1 for
// failures in the header or footer. Location is set when the failing
// operation's location was already known.
type Error struct {
	Offset   int64
	Index    int
	Location Location
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("archive: ")
	if e.Index >= 0 {
		fmt.Fprintf(&b, "operation %d", e.Index)
		if e.Location != "" {
			fmt.Fprintf(&b, " (%q)", string(e.Location))
		}
		if e.Offset >= 0 {
			fmt.Fprintf(&b, " at offset %d", e.Offset)
		}
		b.WriteString(": ")
	} else if e.Offset >= 0 {
		fmt.Fprintf(&b, "offset %d: ", e.Offset)
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// wrapError attaches position information to err. An err that is
// already an [*Error] is returned unchanged so the innermost position
// wins.
func wrapError(err error, offset int64, index int, location Location) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Offset: offset, Index: index, Location: location, Err: err}
}
