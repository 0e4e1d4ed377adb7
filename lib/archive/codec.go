// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
)

// preparedOperation is an operation with everything computed that the
// stream needs: its digest and, for files, the compressed body.
// Preparing is independent per operation, so preparation may run in
// parallel while writing stays in stream order.
type preparedOperation struct {
	op         Operation
	digest     Digest
	compressed []byte
}

// prepareOperation hashes op and compresses its file body.
func prepareOperation(ctx context.Context, op Operation, c *compressor, resolver DictionaryResolver) (preparedOperation, error) {
	prepared := preparedOperation{op: op, digest: OperationDigest(op)}
	if op.Kind != KindCreate {
		return prepared, nil
	}
	file, ok := op.Body.(File)
	if !ok {
		return prepared, nil
	}
	dictionary, err := resolveDictionary(ctx, resolver, file.Dictionary)
	if err != nil {
		return prepared, err
	}
	prepared.compressed, err = c.compress(file.Contents, dictionary)
	if err != nil {
		return prepared, fmt.Errorf("compressing %q: %w", op.Location, err)
	}
	return prepared, nil
}

// writeOperation writes the wire form of a prepared operation
// followed by its digest.
func writeOperation(fw *frameWriter, prepared preparedOperation) error {
	op := prepared.op
	fw.u8(uint8(op.Kind))
	fw.framed([]byte(op.Location))
	if op.Kind == KindCreate {
		fw.u32(uint32(op.Permissions))
		fw.u8(uint8(op.Body.Type()))
		switch body := op.Body.(type) {
		case File:
			writeDictionaryRef(fw, body.Dictionary)
			fw.framed(prepared.compressed)
		case Symlink:
			fw.framed([]byte(body.Target))
		case Directory:
		}
	}
	fw.write(prepared.digest[:])
	return fw.err
}

func writeDictionaryRef(fw *frameWriter, ref DictionaryRef) {
	fw.u8(uint8(ref.Kind))
	switch ref.Kind {
	case DictionaryInline:
		fw.framed(ref.Inline)
	case DictionaryExternal:
		fw.write(ref.Digest[:])
	}
}

// readOperation reads one operation and its digest. It returns done
// when it reads the end-of-operations tag u8(2) instead, the only tag
// besides Create and Delete accepted in operation position. The
// returned operation carries whatever fields were read before a
// failure, so the caller can report the location.
func readOperation(ctx context.Context, fr *frameReader, d *decompressor, resolver DictionaryResolver) (op Operation, digest Digest, done bool, err error) {
	tag, err := fr.u8()
	if err != nil {
		return op, digest, false, fmt.Errorf("reading operation tag: %w", err)
	}
	switch kind := OperationKind(tag); kind {
	case kindEnd:
		return op, digest, true, nil
	case KindCreate, KindDelete:
		op.Kind = kind
	default:
		return op, digest, false, fmt.Errorf("%w: operation tag %d", ErrMalformedOperation, tag)
	}

	location, err := fr.framed()
	if err != nil {
		return op, digest, false, fmt.Errorf("reading location: %w", err)
	}
	op.Location = Location(location)
	if err := op.Location.Validate(); err != nil {
		return op, digest, false, err
	}

	if op.Kind == KindCreate {
		if err := readCreate(ctx, fr, d, resolver, &op); err != nil {
			return op, digest, false, err
		}
	}

	stored, err := fr.fixed(DigestSize)
	if err != nil {
		return op, digest, false, fmt.Errorf("reading operation digest: %w", err)
	}
	copy(digest[:], stored)
	if computed := OperationDigest(op); computed != digest {
		return op, digest, false, fmt.Errorf("%w: stored %s, computed %s", ErrDigestMismatch, digest, computed)
	}
	return op, digest, false, nil
}

func readCreate(ctx context.Context, fr *frameReader, d *decompressor, resolver DictionaryResolver, op *Operation) error {
	permissions, err := fr.u32()
	if err != nil {
		return fmt.Errorf("reading permissions: %w", err)
	}
	op.Permissions = Permissions(permissions)
	if op.Permissions&^PermissionMask != 0 {
		return fmt.Errorf("%w: permissions %o outside %o", ErrMalformedOperation, permissions, uint32(PermissionMask))
	}

	bodyTag, err := fr.u8()
	if err != nil {
		return fmt.Errorf("reading body tag: %w", err)
	}
	switch BodyType(bodyTag) {
	case BodyFile:
		ref, err := readDictionaryRef(fr)
		if err != nil {
			return err
		}
		compressed, err := fr.framed()
		if err != nil {
			return fmt.Errorf("reading file body: %w", err)
		}
		dictionary, err := resolveDictionary(ctx, resolver, ref)
		if err != nil {
			return err
		}
		contents, err := d.decompress(compressed, dictionary)
		if err != nil {
			return err
		}
		op.Body = File{Contents: contents, Dictionary: ref}
	case BodySymlink:
		target, err := fr.framed()
		if err != nil {
			return fmt.Errorf("reading symlink target: %w", err)
		}
		op.Body = Symlink{Target: string(target)}
	case BodyDirectory:
		op.Body = Directory{}
	default:
		return fmt.Errorf("%w: body tag %d", ErrMalformedOperation, bodyTag)
	}
	return nil
}

func readDictionaryRef(fr *frameReader) (DictionaryRef, error) {
	var ref DictionaryRef
	tag, err := fr.u8()
	if err != nil {
		return ref, fmt.Errorf("reading dictionary tag: %w", err)
	}
	ref.Kind = DictionaryKind(tag)
	switch ref.Kind {
	case DictionaryNone:
	case DictionaryInline:
		if ref.Inline, err = fr.framed(); err != nil {
			return ref, fmt.Errorf("reading inline dictionary: %w", err)
		}
	case DictionaryExternal:
		digest, err := fr.fixed(DigestSize)
		if err != nil {
			return ref, fmt.Errorf("reading dictionary digest: %w", err)
		}
		copy(ref.Digest[:], digest)
	default:
		return ref, fmt.Errorf("%w: dictionary tag %d", ErrMalformedOperation, tag)
	}
	return ref, nil
}
