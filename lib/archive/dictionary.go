// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"
)

// zstdDictionaryMagic starts every trained zstd dictionary. Bytes
// without it are used as raw content: an initial history window the
// compressor can reference.
const zstdDictionaryMagic = 0xEC30A437

// DictionaryResolver supplies dictionary bytes for External
// references. Implementations return [ErrDictionaryNotFound] (possibly
// wrapped) when they do not hold the requested digest.
type DictionaryResolver interface {
	ResolveDictionary(ctx context.Context, digest Digest) ([]byte, error)
}

// Dictionaries is an in-memory [DictionaryResolver].
type Dictionaries map[Digest][]byte

// Add stores dictionary under its digest and returns the digest.
func (d Dictionaries) Add(dictionary []byte) Digest {
	digest := DictionaryDigest(dictionary)
	d[digest] = dictionary
	return digest
}

func (d Dictionaries) ResolveDictionary(_ context.Context, digest Digest) ([]byte, error) {
	dictionary, ok := d[digest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDictionaryNotFound, digest)
	}
	return dictionary, nil
}

// resolveDictionary returns the dictionary bytes a reference stands
// for. The resolved bytes of an External reference must hash to the
// referenced digest.
func resolveDictionary(ctx context.Context, resolver DictionaryResolver, ref DictionaryRef) ([]byte, error) {
	switch ref.Kind {
	case DictionaryNone:
		return nil, nil
	case DictionaryInline:
		return ref.Inline, nil
	case DictionaryExternal:
		if resolver == nil {
			return nil, fmt.Errorf("%w: %s (no resolver configured)", ErrUnresolvedDictionary, ref.Digest)
		}
		dictionary, err := resolver.ResolveDictionary(ctx, ref.Digest)
		if err != nil {
			if errors.Is(err, ErrDictionaryNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnresolvedDictionary, ref.Digest)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrUnresolvedDictionary, ref.Digest, err)
		}
		if got := DictionaryDigest(dictionary); got != ref.Digest {
			return nil, fmt.Errorf("%w: resolver returned dictionary %s for %s", ErrUnresolvedDictionary, got, ref.Digest)
		}
		return dictionary, nil
	default:
		return nil, fmt.Errorf("%w: dictionary kind %s", ErrMalformedOperation, ref.Kind)
	}
}

func isTrainedDictionary(dictionary []byte) bool {
	return len(dictionary) >= 8 && binary.LittleEndian.Uint32(dictionary) == zstdDictionaryMagic
}

// rawDictionaryID derives the frame dictionary ID for raw-content
// dictionaries. Zero means "no dictionary" in a zstd frame header and
// is never returned.
func rawDictionaryID(digest Digest) uint32 {
	id := binary.LittleEndian.Uint32(digest[:4])
	if id == 0 {
		id = 1
	}
	return id
}

// minTrainingSize is the least total sample size handed to the zstd
// trainer. Smaller sample sets become raw-content dictionaries.
const minTrainingSize = 4 << 10

// minHistorySize is the smallest history budget worth training for
// once the entropy tables have been paid for.
const minHistorySize = 256

// TrainDictionary builds a dictionary of at most maxSize bytes from
// sample file contents. The result is a trained zstd dictionary when
// the samples support one and a raw-content dictionary otherwise:
// sample sets below a few KiB, or so repetitive that training finds
// nothing, yield the tail of the concatenated samples. Both kinds
// load the same way through a [DictionaryRef]. Raw-content
// dictionaries depend only on the samples; the trainer breaks ties
// in an unspecified order, so trained dictionaries from the same
// samples may differ between runs.
func TrainDictionary(samples [][]byte, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("dictionary size must be positive, got %d", maxSize)
	}
	total := 0
	for _, sample := range samples {
		total += len(sample)
	}
	if total == 0 {
		return nil, errors.New("training a dictionary requires at least one non-empty sample")
	}

	if total >= minTrainingSize {
		if trained, err := trainZstd(samples, maxSize); err == nil {
			return trained, nil
		}
	}
	return rawDictionary(samples, maxSize), nil
}

// trainZstd runs the zstd trainer and checks that its output loads.
// The trainer bounds only the history; the header and entropy tables
// come on top, so the history budget shrinks by the overshoot until
// the whole dictionary fits in maxSize. The trainer panics on some
// degenerate inputs; that is reported as an error.
func trainZstd(samples [][]byte, maxSize int) (trained []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			trained, err = nil, fmt.Errorf("zstd dictionary trainer failed: %v", r)
		}
	}()

	d := newDigester(dictionaryDomainKey)
	for _, sample := range samples {
		d.frame(sample)
	}
	id := rawDictionaryID(d.sum())

	budget := maxSize
	for range 3 {
		if budget < minHistorySize {
			break
		}
		trained, err = dict.BuildZstdDict(samples, dict.Options{
			MaxDictSize: budget,
			HashBytes:   6,
			ZstdDictID:  id,
			ZstdLevel:   zstd.SpeedDefault,
		})
		if err != nil {
			return nil, fmt.Errorf("training zstd dictionary: %w", err)
		}
		if !isTrainedDictionary(trained) {
			return nil, errors.New("zstd dictionary trainer produced an unusable dictionary")
		}
		if len(trained) <= maxSize {
			decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderDicts(trained))
			if err != nil {
				return nil, fmt.Errorf("loading trained dictionary: %w", err)
			}
			decoder.Close()
			return trained, nil
		}
		budget -= len(trained) - maxSize
	}
	return nil, fmt.Errorf("zstd dictionary does not fit in %d bytes", maxSize)
}

// rawDictionary returns the last maxSize bytes of the concatenated
// samples. Leading bytes are dropped until the result no longer reads
// as a trained dictionary.
func rawDictionary(samples [][]byte, maxSize int) []byte {
	raw := bytes.Join(samples, nil)
	if len(raw) > maxSize {
		raw = raw[len(raw)-maxSize:]
	}
	for isTrainedDictionary(raw) {
		raw = raw[1:]
	}
	return bytes.Clone(raw)
}
