// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/xuehua-build/xuehua/lib/archive"
)

// Diff returns the operations that turn the snapshot base into the
// snapshot target. Both inputs are Create-only lists such as [Pack]
// returns. The result holds every Delete in ascending order followed
// by every Create in ascending order, and validates against a
// validator seeded with base's tree.
//
// An entry whose type, permissions or payload changed is deleted and
// created again. Deleting a directory removes its whole subtree, so
// descendants that survive in target are created again too.
func Diff(base, target []archive.Operation) ([]archive.Operation, error) {
	baseEntries, err := snapshot(base)
	if err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}
	targetEntries, err := snapshot(target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	// removed holds every base location that the deletes take away,
	// whether named directly or swept up by a directory delete.
	removed := mapset.NewThreadUnsafeSet[archive.Location]()
	var deletes []archive.Operation
	for _, location := range sortedKeys(baseEntries) {
		if ancestorRemoved(removed, location) {
			removed.Add(location)
			continue
		}
		want, kept := targetEntries[location]
		if kept && sameEntry(baseEntries[location], want) {
			continue
		}
		removed.Add(location)
		deletes = append(deletes, archive.Delete(location))
	}

	var creates []archive.Operation
	for _, location := range sortedKeys(targetEntries) {
		if _, existed := baseEntries[location]; existed && !removed.Contains(location) {
			continue
		}
		creates = append(creates, targetEntries[location])
	}
	return append(deletes, creates...), nil
}

// snapshot indexes a Create-only operation list by location.
func snapshot(operations []archive.Operation) (map[archive.Location]archive.Operation, error) {
	entries := make(map[archive.Location]archive.Operation, len(operations))
	for _, op := range operations {
		if op.Kind != archive.KindCreate {
			return nil, fmt.Errorf("snapshot contains %s of %s", op.Kind, op.Location)
		}
		if _, duplicate := entries[op.Location]; duplicate {
			return nil, fmt.Errorf("%w: %s", archive.ErrDuplicateLocation, op.Location)
		}
		entries[op.Location] = op
	}
	return entries, nil
}

func sortedKeys(entries map[archive.Location]archive.Operation) []archive.Location {
	keys := make([]archive.Location, 0, len(entries))
	for location := range entries {
		keys = append(keys, location)
	}
	slices.SortFunc(keys, func(a, b archive.Location) int { return cmp.Compare(a, b) })
	return keys
}

func ancestorRemoved(removed mapset.Set[archive.Location], location archive.Location) bool {
	for parent, ok := location.Parent(); ok; parent, ok = parent.Parent() {
		if removed.Contains(parent) {
			return true
		}
	}
	return false
}

// sameEntry compares what an operation digest covers, ignoring how a
// file body would be compressed.
func sameEntry(a, b archive.Operation) bool {
	if a.Permissions != b.Permissions || a.Body.Type() != b.Body.Type() {
		return false
	}
	switch body := a.Body.(type) {
	case archive.File:
		return bytes.Equal(body.Contents, b.Body.(archive.File).Contents)
	case archive.Symlink:
		return body.Target == b.Body.(archive.Symlink).Target
	default:
		return true
	}
}
