// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// allocatedBy returns the bytes the process allocated while f ran.
func allocatedBy(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestDecodeBodyLimitBoundsAllocation(t *testing.T) {
	const (
		bodySize = 64 << 20
		limit    = 1 << 20
	)
	encoded := encode(t, []Operation{
		Create("zeros", 0o644, File{Contents: make([]byte, bodySize)}),
	}, EncodeOptions{})
	if len(encoded) > 1<<20 {
		t.Fatalf("encoded archive is %d bytes; zeros should compress far better", len(encoded))
	}

	var err error
	allocated := allocatedBy(func() {
		_, err = Decode(context.Background(), bytes.NewReader(encoded), DecodeOptions{MaxFieldSize: limit})
	})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("Decode error = %v, want ErrTruncated", err)
	}
	if errors.Is(err, ErrDigestMismatch) {
		t.Errorf("oversized body also reported as a digest mismatch: %v", err)
	}
	if allocated > 16<<20 {
		t.Errorf("Decode allocated %d MiB for a body over a %d MiB limit", allocated>>20, limit>>20)
	}
}

func TestDecompressLimit(t *testing.T) {
	// A streamed frame does not declare its size, so the decoder only
	// learns it is too large while inflating.
	var streamed bytes.Buffer
	writer, err := zstd.NewWriter(&streamed, zstd.WithWindowSize(64<<10))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := writer.Write(make([]byte, 64<<20)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d := newDecompressor(1 << 20)
	defer d.close()
	allocated := allocatedBy(func() {
		_, err = d.decompress(streamed.Bytes(), nil)
	})
	if !errors.Is(err, ErrTruncated) || errors.Is(err, ErrDigestMismatch) {
		t.Errorf("streamed frame: error = %v, want ErrTruncated alone", err)
	}
	if allocated > 16<<20 {
		t.Errorf("streamed frame: allocated %d MiB under a 1 MiB limit", allocated>>20)
	}

	c, err := newCompressor(0)
	if err != nil {
		t.Fatalf("newCompressor: %v", err)
	}
	defer c.close()

	tests := []struct {
		name     string
		limit    uint64
		size     int
		truncate bool
	}{
		{name: "small body under a small limit", limit: 1000, size: 600},
		{name: "body at the limit", limit: 600, size: 600},
		{name: "body one byte over", limit: 600, size: 601, truncate: true},
		{name: "body well over", limit: 4096, size: 1 << 20, truncate: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			plaintext := bytes.Repeat([]byte("xuehua "), test.size/7+1)[:test.size]
			compressed, err := c.compress(plaintext, nil)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			d := newDecompressor(test.limit)
			defer d.close()
			got, err := d.decompress(compressed, nil)
			if test.truncate {
				if !errors.Is(err, ErrTruncated) || errors.Is(err, ErrDigestMismatch) {
					t.Errorf("error = %v, want ErrTruncated alone", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("decompressed %d bytes, want %d", len(got), len(plaintext))
			}
		})
	}
}

func TestDecompressCorruptFrame(t *testing.T) {
	d := newDecompressor(0)
	defer d.close()
	_, err := d.decompress([]byte("not a zstd frame"), nil)
	if !errors.Is(err, ErrDigestMismatch) || errors.Is(err, ErrTruncated) {
		t.Errorf("error = %v, want ErrDigestMismatch alone", err)
	}
}

func TestDecoderLimit(t *testing.T) {
	tests := []struct {
		maxSize, want uint64
	}{
		{maxSize: 1, want: 1 << 10},
		{maxSize: 600, want: 1 << 10},
		{maxSize: 1 << 10, want: 1 << 10},
		{maxSize: 1<<20 + 1, want: 1 << 21},
		{maxSize: DefaultMaxFieldSize, want: DefaultMaxFieldSize},
		{maxSize: 1<<63 + 5, want: 1 << 63},
	}
	for _, test := range tests {
		if got := decoderLimit(test.maxSize); got != test.want {
			t.Errorf("decoderLimit(%d) = %d, want %d", test.maxSize, got, test.want)
		}
	}
}
