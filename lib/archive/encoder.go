// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// magic opens every archive, followed by the u16 format version.
const magic = "xuehua-archive"

// FormatVersion is the archive format this package reads and writes.
const FormatVersion = 1

// EncodeOptions configures [Encode] and [NewWriter].
type EncodeOptions struct {
	// Level is the zstd compression level, 1 (fastest) through 22.
	// Zero selects the default level.
	Level int

	// Concurrency bounds how many operations [Encode] hashes and
	// compresses at once. Values below 2 encode sequentially. The
	// stream is identical either way.
	Concurrency int

	// Signers sign the footer. With no signers the footer carries an
	// empty signature list.
	Signers []Signer

	// Resolver supplies dictionary bytes for file bodies that use an
	// External dictionary reference.
	Resolver DictionaryResolver

	// Base seeds the validator's live set, for archives that edit an
	// existing tree. Nil means the archive starts from nothing.
	Base *Tree
}

// Writer encodes an archive incrementally. Operations are validated
// as they are written; the first error is sticky and every later call
// returns it. Close writes the footer.
type Writer struct {
	fw         *frameWriter
	options    EncodeOptions
	compressor *compressor
	validator  *Validator

	operations []Operation
	digests    []Digest

	archive *Archive
	err     error
}

// NewWriter writes the archive header to w and returns a Writer.
func NewWriter(w io.Writer, options EncodeOptions) (*Writer, error) {
	c, err := newCompressor(options.Level)
	if err != nil {
		return nil, err
	}
	writer := &Writer{
		fw:         newFrameWriter(w),
		options:    options,
		compressor: c,
		validator:  NewValidator(options.Base),
	}
	writer.fw.write([]byte(magic))
	writer.fw.u16(FormatVersion)
	if err := writer.fw.err; err != nil {
		c.close()
		return nil, &Error{Offset: 0, Index: -1, Err: fmt.Errorf("writing header: %w", err)}
	}
	return writer, nil
}

// Write validates op, then hashes, compresses and writes it.
func (w *Writer) Write(ctx context.Context, op Operation) error {
	if w.err != nil {
		return w.err
	}
	if err := ctx.Err(); err != nil {
		return w.fail(err)
	}
	index := len(w.operations)
	if err := w.validator.Check(op); err != nil {
		return w.fail(wrapError(err, w.fw.offset, index, op.Location))
	}
	prepared, err := prepareOperation(ctx, op, w.compressor, w.options.Resolver)
	if err != nil {
		return w.fail(wrapError(err, w.fw.offset, index, op.Location))
	}
	return w.commit(prepared)
}

// commit writes an operation that was already validated and prepared.
func (w *Writer) commit(prepared preparedOperation) error {
	index := len(w.operations)
	offset := w.fw.offset
	if err := writeOperation(w.fw, prepared); err != nil {
		return w.fail(wrapError(fmt.Errorf("writing operation: %w", err), offset, index, prepared.op.Location))
	}
	w.operations = append(w.operations, prepared.op)
	w.digests = append(w.digests, prepared.digest)
	return nil
}

// Close writes the end tag and the signed footer. It does not close
// the underlying writer. After a successful Close, [Writer.Archive]
// returns the written archive.
func (w *Writer) Close() error {
	if w.archive != nil {
		return nil
	}
	if w.err != nil {
		return w.err
	}
	defer w.compressor.close()

	aggregate := AggregateDigest(w.digests)
	signatures, err := signAggregate(w.options.Signers, aggregate)
	if err != nil {
		return w.fail(&Error{Offset: w.fw.offset, Index: -1, Err: fmt.Errorf("signing: %w", err)})
	}

	offset := w.fw.offset
	w.fw.u8(uint8(kindEnd))
	w.fw.write(aggregate[:])
	w.fw.framed(encodeSignatureList(signatures))
	if err := w.fw.err; err != nil {
		return w.fail(&Error{Offset: offset, Index: -1, Err: fmt.Errorf("writing footer: %w", err)})
	}

	w.archive = &Archive{
		operations: w.operations,
		digests:    w.digests,
		aggregate:  aggregate,
		signatures: signatures,
		tree:       w.validator.Tree(),
		size:       w.fw.offset,
	}
	return nil
}

// Archive returns the written archive, or nil before a successful
// Close.
func (w *Writer) Archive() *Archive { return w.archive }

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
		w.compressor.close()
	}
	return w.err
}

// Encode writes operations to w as a complete archive and returns the
// archive it wrote. The operations must form a valid tree edit from
// options.Base. On error, w may hold a partial stream.
func Encode(ctx context.Context, w io.Writer, operations []Operation, options EncodeOptions) (*Archive, error) {
	writer, err := NewWriter(w, options)
	if err != nil {
		return nil, err
	}
	if options.Concurrency < 2 || len(operations) < 2 {
		for _, op := range operations {
			if err := writer.Write(ctx, op); err != nil {
				return nil, err
			}
		}
	} else if err := writer.writeConcurrently(ctx, operations, options.Concurrency); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return writer.Archive(), nil
}

// writeConcurrently validates every operation first, prepares them in
// parallel, then writes them in order.
func (w *Writer) writeConcurrently(ctx context.Context, operations []Operation, limit int) error {
	base := len(w.operations)
	for i, op := range operations {
		if err := w.validator.Check(op); err != nil {
			return w.fail(wrapError(err, -1, base+i, op.Location))
		}
	}

	prepared := make([]preparedOperation, len(operations))
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i, op := range operations {
		group.Go(func() error {
			if err := groupContext.Err(); err != nil {
				return err
			}
			result, err := prepareOperation(groupContext, op, w.compressor, w.options.Resolver)
			if err != nil {
				return wrapError(err, -1, base+i, op.Location)
			}
			prepared[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		// Report the caller's cancellation rather than the group's
		// derived one.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, context.Canceled) {
			return w.fail(ctxErr)
		}
		return w.fail(err)
	}

	for _, p := range prepared {
		if err := w.commit(p); err != nil {
			return err
		}
	}
	return nil
}
