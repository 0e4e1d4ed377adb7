// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFieldSize bounds the declared length of any framed field
// the decoder will accept. A length above the bound is reported as
// [ErrTruncated]: no stream the decoder is willing to read could
// satisfy it.
const DefaultMaxFieldSize = 1 << 30

// readChunkSize is the largest single allocation the reader makes
// before it has seen the bytes it is allocating for. Longer fields
// grow as data actually arrives, so a forged length in a short
// stream cannot force a large allocation.
const readChunkSize = 1 << 20

// appendUint appends v as a little-endian integer of the given width
// in bytes (1, 2, 4 or 8).
func appendUint(dst []byte, width int, v uint64) []byte {
	switch width {
	case 1:
		return append(dst, byte(v))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(v))
	case 4:
		return binary.LittleEndian.AppendUint32(dst, uint32(v))
	case 8:
		return binary.LittleEndian.AppendUint64(dst, v)
	default:
		panic(fmt.Sprintf("archive: invalid integer width %d", width))
	}
}

// appendFramed appends u64(len(p)) || p. This is the one encoding of
// a variable-length field: stream writes, digest inputs and the
// signature list all go through it, so no two distinct part lists
// can serialize to the same bytes.
func appendFramed(dst, p []byte) []byte {
	dst = appendUint(dst, 8, uint64(len(p)))
	return append(dst, p...)
}

// frameWriter writes framed primitives to an underlying stream and
// counts the bytes written. The first write error is sticky.
type frameWriter struct {
	w       io.Writer
	offset  int64
	err     error
	scratch []byte
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w, scratch: make([]byte, 0, 16)}
}

func (fw *frameWriter) write(p []byte) error {
	if fw.err != nil {
		return fw.err
	}
	n, err := fw.w.Write(p)
	fw.offset += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	fw.err = err
	return err
}

func (fw *frameWriter) uint(width int, v uint64) error {
	fw.scratch = appendUint(fw.scratch[:0], width, v)
	return fw.write(fw.scratch)
}

func (fw *frameWriter) u8(v uint8) error   { return fw.uint(1, uint64(v)) }
func (fw *frameWriter) u16(v uint16) error { return fw.uint(2, uint64(v)) }
func (fw *frameWriter) u32(v uint32) error { return fw.uint(4, uint64(v)) }
func (fw *frameWriter) u64(v uint64) error { return fw.uint(8, v) }

// framed writes u64(len(p)) || p.
func (fw *frameWriter) framed(p []byte) error {
	fw.scratch = appendUint(fw.scratch[:0], 8, uint64(len(p)))
	if err := fw.write(fw.scratch); err != nil {
		return err
	}
	return fw.write(p)
}

// frameReader reads framed primitives and tracks the absolute offset
// of the next unread byte.
type frameReader struct {
	r        io.Reader
	offset   int64
	maxField uint64
	scratch  [8]byte
}

func newFrameReader(r io.Reader, maxField uint64) *frameReader {
	if maxField == 0 {
		maxField = DefaultMaxFieldSize
	}
	return &frameReader{r: r, maxField: maxField}
}

// readInto fills p completely. A short read is [ErrTruncated].
func (fr *frameReader) readInto(p []byte) error {
	n, err := io.ReadFull(fr.r, p)
	fr.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: wanted %d bytes, got %d", ErrTruncated, len(p), n)
		}
		return err
	}
	return nil
}

// fixed reads exactly n bytes into a fresh slice.
func (fr *frameReader) fixed(n int) ([]byte, error) {
	buffer := make([]byte, n)
	if err := fr.readInto(buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (fr *frameReader) uint(width int) (uint64, error) {
	p := fr.scratch[:width]
	if err := fr.readInto(p); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(p)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(p)), nil
	default:
		return binary.LittleEndian.Uint64(p), nil
	}
}

func (fr *frameReader) u8() (uint8, error) {
	v, err := fr.uint(1)
	return uint8(v), err
}

func (fr *frameReader) u16() (uint16, error) {
	v, err := fr.uint(2)
	return uint16(v), err
}

func (fr *frameReader) u32() (uint32, error) {
	v, err := fr.uint(4)
	return uint32(v), err
}

func (fr *frameReader) u64() (uint64, error) { return fr.uint(8) }

// framed reads u64(len) followed by len bytes.
func (fr *frameReader) framed() ([]byte, error) {
	length, err := fr.u64()
	if err != nil {
		return nil, err
	}
	if length > fr.maxField {
		return nil, fmt.Errorf("%w: field length %d exceeds limit %d", ErrTruncated, length, fr.maxField)
	}
	if length <= readChunkSize {
		return fr.fixed(int(length))
	}
	var buffer bytes.Buffer
	buffer.Grow(readChunkSize)
	n, err := io.CopyN(&buffer, fr.r, int64(length))
	fr.offset += n
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: wanted %d bytes, got %d", ErrTruncated, length, n)
		}
		return nil, err
	}
	return buffer.Bytes(), nil
}

// atEOF reports whether the stream has no further bytes.
func (fr *frameReader) atEOF() (bool, error) {
	n, err := fr.r.Read(fr.scratch[:1])
	if n > 0 {
		fr.offset += int64(n)
		return false, nil
	}
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	// A zero-byte read without error says nothing; ask once more
	// through ReadFull semantics.
	n, err = io.ReadFull(fr.r, fr.scratch[:1])
	fr.offset += int64(n)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
