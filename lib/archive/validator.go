// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	iradix "github.com/hashicorp/go-immutable-radix/v2"
)

// Tree is an immutable set of live entries: each location maps to
// whether it is a directory. Trees share structure, so keeping many
// snapshots is cheap.
type Tree struct {
	root *iradix.Tree[bool]
}

// TreeOf validates a sequence of operations against an empty tree and
// returns the resulting live set.
func TreeOf(operations []Operation) (*Tree, error) {
	v := NewValidator(nil)
	for i, op := range operations {
		if err := v.Check(op); err != nil {
			return nil, wrapError(err, -1, i, op.Location)
		}
	}
	return v.Tree(), nil
}

// Len returns the number of live entries.
func (t *Tree) Len() int {
	return t.tree().Len()
}

// Contains reports whether location is live.
func (t *Tree) Contains(location Location) bool {
	_, ok := t.tree().Get([]byte(location))
	return ok
}

// IsDirectory reports whether location is a live directory.
func (t *Tree) IsDirectory(location Location) bool {
	directory, ok := t.tree().Get([]byte(location))
	return ok && directory
}

// Locations returns every live location in ascending order.
func (t *Tree) Locations() []Location {
	locations := make([]Location, 0, t.Len())
	iterator := t.tree().Root().Iterator()
	for key, _, ok := iterator.Next(); ok; key, _, ok = iterator.Next() {
		locations = append(locations, Location(key))
	}
	return locations
}

func (t *Tree) tree() *iradix.Tree[bool] {
	if t == nil || t.root == nil {
		return iradix.New[bool]()
	}
	return t.root
}

// Validator checks that a sequence of operations is a valid tree
// edit, one operation at a time. It keeps:
//
//   - the live set, seeded from a base tree;
//   - every location created and every location deleted so far;
//   - the last Create and the last Delete, for ordering.
//
// Creates must ascend strictly among Creates and Deletes among
// Deletes, so a Delete may follow a Create at a smaller location
// (deleting a directory after populating it, for instance).
// Validation is pure bookkeeping; it never touches a filesystem.
type Validator struct {
	live    *iradix.Tree[bool]
	created mapset.Set[Location]
	deleted mapset.Set[Location]

	lastCreate    Location
	hasLastCreate bool
	lastDelete    Location
	hasLastDelete bool
}

// NewValidator returns a validator whose live set starts as base. A
// nil base starts empty.
func NewValidator(base *Tree) *Validator {
	return &Validator{
		live:    base.tree(),
		created: mapset.NewThreadUnsafeSet[Location](),
		deleted: mapset.NewThreadUnsafeSet[Location](),
	}
}

// Check validates op against everything checked before it and, if it
// is valid, applies it to the live set. A rejected operation leaves
// the validator unchanged.
func (v *Validator) Check(op Operation) error {
	if err := op.check(); err != nil {
		return err
	}
	switch op.Kind {
	case KindCreate:
		return v.create(op)
	default:
		return v.delete(op.Location)
	}
}

func (v *Validator) create(op Operation) error {
	location := op.Location
	key := []byte(location)
	if v.created.Contains(location) {
		return fmt.Errorf("%w: %q is already created", ErrDuplicateLocation, location)
	}
	if _, live := v.live.Get(key); live {
		return fmt.Errorf("%w: %q is already live", ErrDuplicateLocation, location)
	}
	if v.hasLastCreate && location <= v.lastCreate {
		return fmt.Errorf("%w: create %q after create %q", ErrOutOfOrder, location, v.lastCreate)
	}
	if parent, nested := location.Parent(); nested {
		directory, live := v.live.Get([]byte(parent))
		if !live {
			return fmt.Errorf("%w: parent %q of %q does not exist", ErrOrphanObject, parent, location)
		}
		if !directory {
			return fmt.Errorf("%w: parent %q of %q is not a directory", ErrOrphanObject, parent, location)
		}
	}

	v.live, _, _ = v.live.Insert(key, op.Body.Type() == BodyDirectory)
	v.created.Add(location)
	v.lastCreate, v.hasLastCreate = location, true
	return nil
}

func (v *Validator) delete(location Location) error {
	key := []byte(location)
	if v.deleted.Contains(location) {
		return fmt.Errorf("%w: %q is already deleted", ErrDuplicateLocation, location)
	}
	if v.hasLastDelete && location <= v.lastDelete {
		return fmt.Errorf("%w: delete %q after delete %q", ErrOutOfOrder, location, v.lastDelete)
	}
	if _, live := v.live.Get(key); !live {
		return fmt.Errorf("%w: %q is not live", ErrUnknownLocation, location)
	}

	transaction := v.live.Txn()
	transaction.Delete(key)
	transaction.DeletePrefix(append(key, '/'))
	v.live = transaction.Commit()
	v.deleted.Add(location)
	v.lastDelete, v.hasLastDelete = location, true
	return nil
}

// Tree returns a snapshot of the current live set.
func (v *Validator) Tree() *Tree {
	return &Tree{root: v.live}
}
