// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Package-level zstd encoder and decoder for bodies without a
// dictionary at the default level. Both are safe for concurrent use
// through EncodeAll/DecodeAll and are never closed.
var (
	defaultEncoder *zstd.Encoder
	defaultDecoder *zstd.Decoder
)

func init() {
	var err error
	defaultEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderCRC(false),
	)
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	defaultDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(decoderLimit(DefaultMaxFieldSize)),
	)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// compressor compresses file bodies for one encode. Encoders primed
// with a dictionary are created on first use and cached by dictionary
// digest; all methods are safe for concurrent use.
type compressor struct {
	level zstd.EncoderLevel
	plain *zstd.Encoder
	owned bool

	mu          sync.Mutex
	dictionized map[Digest]*zstd.Encoder
}

// newCompressor returns a compressor for the given zstd-style level
// (1 through 22). Zero selects the default level.
func newCompressor(level int) (*compressor, error) {
	c := &compressor{level: zstd.SpeedDefault, dictionized: make(map[Digest]*zstd.Encoder)}
	if level != 0 {
		c.level = zstd.EncoderLevelFromZstd(level)
	}
	if c.level == zstd.SpeedDefault {
		c.plain = defaultEncoder
		return c, nil
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level), zstd.WithEncoderCRC(false))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder at level %s: %w", c.level, err)
	}
	c.plain, c.owned = encoder, true
	return c, nil
}

// compress returns the zstd frame for plaintext. A nil or empty
// dictionary selects plain compression.
func (c *compressor) compress(plaintext, dictionary []byte) ([]byte, error) {
	if len(dictionary) == 0 {
		return c.plain.EncodeAll(plaintext, nil), nil
	}
	encoder, err := c.encoderFor(dictionary)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(plaintext, nil), nil
}

func (c *compressor) encoderFor(dictionary []byte) (*zstd.Encoder, error) {
	digest := DictionaryDigest(dictionary)

	c.mu.Lock()
	defer c.mu.Unlock()
	if encoder, ok := c.dictionized[digest]; ok {
		return encoder, nil
	}
	options := []zstd.EOption{
		zstd.WithEncoderLevel(c.level),
		zstd.WithEncoderCRC(false),
	}
	if isTrainedDictionary(dictionary) {
		options = append(options, zstd.WithEncoderDict(dictionary))
	} else {
		options = append(options, zstd.WithEncoderDictRaw(rawDictionaryID(digest), dictionary))
	}
	encoder, err := zstd.NewWriter(nil, options...)
	if err != nil {
		return nil, fmt.Errorf("loading dictionary %s: %w", FormatRef(digest), err)
	}
	c.dictionized[digest] = encoder
	return encoder, nil
}

func (c *compressor) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for digest, encoder := range c.dictionized {
		encoder.Close()
		delete(c.dictionized, digest)
	}
	if c.owned {
		c.plain.Close()
		c.owned = false
	}
}

// decompressor is the decode-side counterpart of compressor. It is
// used by a single decode goroutine. Every zstd decoder it uses is
// limited by [decoderLimit], so a frame that claims or produces a body
// far beyond maxSize fails before the body is allocated.
type decompressor struct {
	maxSize     uint64
	plain       *zstd.Decoder
	dictionized map[Digest]*zstd.Decoder
}

func newDecompressor(maxSize uint64) *decompressor {
	if maxSize == 0 {
		maxSize = DefaultMaxFieldSize
	}
	return &decompressor{maxSize: maxSize, dictionized: make(map[Digest]*zstd.Decoder)}
}

// decompress reverses compress. Output larger than the field limit is
// [ErrTruncated]; corrupt input and a frame that needs a different
// dictionary are [ErrDigestMismatch], since neither can reproduce the
// digested plaintext.
func (d *decompressor) decompress(compressed, dictionary []byte) ([]byte, error) {
	var (
		decoder *zstd.Decoder
		err     error
	)
	if len(dictionary) > 0 {
		decoder, err = d.decoderFor(dictionary)
	} else {
		decoder, err = d.plainDecoder()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDigestMismatch, err)
	}
	plaintext, err := decoder.DecodeAll(compressed, nil)
	switch {
	case errors.Is(err, zstd.ErrDecoderSizeExceeded), errors.Is(err, zstd.ErrWindowSizeExceeded):
		return nil, fmt.Errorf("%w: body exceeds limit %d", ErrTruncated, d.maxSize)
	case err != nil:
		return nil, fmt.Errorf("%w: decompressing body: %w", ErrDigestMismatch, err)
	case uint64(len(plaintext)) > d.maxSize:
		return nil, fmt.Errorf("%w: body of %d bytes exceeds limit %d", ErrTruncated, len(plaintext), d.maxSize)
	}
	return plaintext, nil
}

// decoderLimit is the zstd memory limit for a body limit of maxSize.
// zstd holds a frame's window to the same limit, and encoders round a
// small body's window up to a power of two of at least 1 KiB, so the
// limit is rounded up likewise. decompress enforces maxSize exactly.
func decoderLimit(maxSize uint64) uint64 {
	limit := uint64(zstd.MinWindowSize)
	for limit < maxSize && limit < 1<<63 {
		limit <<= 1
	}
	return limit
}

// plainDecoder returns the shared decoder at the default limit and a
// private one otherwise.
func (d *decompressor) plainDecoder() (*zstd.Decoder, error) {
	if decoderLimit(d.maxSize) == decoderLimit(DefaultMaxFieldSize) {
		return defaultDecoder, nil
	}
	if d.plain == nil {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(decoderLimit(d.maxSize)),
		)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		d.plain = decoder
	}
	return d.plain, nil
}

func (d *decompressor) decoderFor(dictionary []byte) (*zstd.Decoder, error) {
	digest := DictionaryDigest(dictionary)
	if decoder, ok := d.dictionized[digest]; ok {
		return decoder, nil
	}
	options := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(decoderLimit(d.maxSize)),
	}
	if isTrainedDictionary(dictionary) {
		options = append(options, zstd.WithDecoderDicts(dictionary))
	} else {
		options = append(options, zstd.WithDecoderDictRaw(rawDictionaryID(digest), dictionary))
	}
	decoder, err := zstd.NewReader(nil, options...)
	if err != nil {
		return nil, fmt.Errorf("loading dictionary %s: %w", FormatRef(digest), err)
	}
	d.dictionized[digest] = decoder
	return decoder, nil
}

func (d *decompressor) close() {
	if d.plain != nil {
		d.plain.Close()
		d.plain = nil
	}
	for digest, decoder := range d.dictionized {
		decoder.Close()
		delete(d.dictionized, digest)
	}
}
