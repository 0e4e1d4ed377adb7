// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io/fs"
	"strings"
)

// Location is a relative, slash-separated path naming an entry inside
// the archived tree. Valid locations are non-empty, have no leading or
// trailing slash, no empty segments, no "." or ".." segments, and no
// NUL bytes. Locations order by plain byte comparison.
type Location string

// ParseLocation validates s as a [Location].
func ParseLocation(s string) (Location, error) {
	if err := Location(s).Validate(); err != nil {
		return "", err
	}
	return Location(s), nil
}

// Validate reports why l is not a valid location. The returned error
// wraps [ErrMalformedOperation].
func (l Location) Validate() error {
	s := string(l)
	if s == "" {
		return fmt.Errorf("%w: empty location", ErrMalformedOperation)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: location %q contains NUL", ErrMalformedOperation, s)
	}
	if s[0] == '/' {
		return fmt.Errorf("%w: location %q is absolute", ErrMalformedOperation, s)
	}
	for segment := range strings.SplitSeq(s, "/") {
		switch segment {
		case "":
			return fmt.Errorf("%w: location %q has an empty segment", ErrMalformedOperation, s)
		case ".", "..":
			return fmt.Errorf("%w: location %q has a %q segment", ErrMalformedOperation, s, segment)
		}
	}
	return nil
}

// Parent returns the directory containing l. The second result is
// false for a top-level location, whose parent is the root.
func (l Location) Parent() (Location, bool) {
	i := strings.LastIndexByte(string(l), '/')
	if i < 0 {
		return "", false
	}
	return l[:i], true
}

// Base returns the final segment of l.
func (l Location) Base() string {
	return string(l[strings.LastIndexByte(string(l), '/')+1:])
}

// Join appends a segment to l. Joining onto the empty location yields
// the segment itself.
func (l Location) Join(segment string) Location {
	if l == "" {
		return Location(segment)
	}
	return l + "/" + Location(segment)
}

// Within reports whether l is a strict descendant of dir.
func (l Location) Within(dir Location) bool {
	return len(l) > len(dir) && strings.HasPrefix(string(l), string(dir)) && l[len(dir)] == '/'
}

// Permissions holds POSIX permission bits: rwx for owner, group and
// other, plus setuid, setgid and sticky.
type Permissions uint32

// PermissionMask covers every bit a [Permissions] value may carry.
const PermissionMask Permissions = 0o7777

// PermissionsFromMode extracts the permission bits of a Go file mode.
func PermissionsFromMode(mode fs.FileMode) Permissions {
	p := Permissions(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		p |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		p |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		p |= 0o1000
	}
	return p
}

// FileMode converts p to the equivalent Go file mode bits.
func (p Permissions) FileMode() fs.FileMode {
	mode := fs.FileMode(p & 0o777)
	if p&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if p&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if p&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func (p Permissions) String() string {
	return fmt.Sprintf("%04o", uint32(p))
}

// BodyType is the wire tag of a Create body.
type BodyType uint8

const (
	BodyFile      BodyType = 0
	BodySymlink   BodyType = 1
	BodyDirectory BodyType = 2
)

func (t BodyType) String() string {
	switch t {
	case BodyFile:
		return "file"
	case BodySymlink:
		return "symlink"
	case BodyDirectory:
		return "directory"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Body is the content of a Create: a [File], [Symlink] or
// [Directory]. The set is closed.
type Body interface {
	Type() BodyType

	// payload returns the plaintext bytes that feed the operation
	// digest.
	payload() []byte
}

// File is a regular file body. Contents is the plaintext; the codec
// compresses it on the wire using Dictionary.
type File struct {
	Contents   []byte
	Dictionary DictionaryRef
}

func (File) Type() BodyType     { return BodyFile }
func (f File) payload() []byte { return f.Contents }

// Symlink is a symbolic link body. Target is stored verbatim; it is
// not a [Location] and may point anywhere, including outside the tree.
type Symlink struct {
	Target string
}

func (Symlink) Type() BodyType     { return BodySymlink }
func (s Symlink) payload() []byte { return []byte(s.Target) }

// Directory is a directory body. It has no payload.
type Directory struct{}

func (Directory) Type() BodyType  { return BodyDirectory }
func (Directory) payload() []byte { return nil }

// DictionaryKind is the wire tag of a [DictionaryRef].
type DictionaryKind uint8

const (
	DictionaryNone     DictionaryKind = 0
	DictionaryInline   DictionaryKind = 1
	DictionaryExternal DictionaryKind = 2
)

func (k DictionaryKind) String() string {
	switch k {
	case DictionaryNone:
		return "none"
	case DictionaryInline:
		return "inline"
	case DictionaryExternal:
		return "external"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseDictionaryKind parses "none", "inline" or "external".
func ParseDictionaryKind(name string) (DictionaryKind, error) {
	switch name {
	case "none", "":
		return DictionaryNone, nil
	case "inline":
		return DictionaryInline, nil
	case "external":
		return DictionaryExternal, nil
	default:
		return 0, fmt.Errorf("unknown dictionary kind %q (want none, inline or external)", name)
	}
}

// DictionaryRef says how a file body's compressed stream was primed.
// Inline holds the dictionary bytes for [DictionaryInline]; Digest
// names the dictionary for [DictionaryExternal]. The zero value is
// [DictionaryNone].
type DictionaryRef struct {
	Kind   DictionaryKind
	Inline []byte
	Digest Digest
}

// NoDictionary returns a reference to plain compression.
func NoDictionary() DictionaryRef { return DictionaryRef{} }

// InlineDictionary returns a reference that embeds dictionary in the
// stream ahead of the compressed body.
func InlineDictionary(dictionary []byte) DictionaryRef {
	return DictionaryRef{Kind: DictionaryInline, Inline: dictionary}
}

// ExternalDictionary returns a reference that names a dictionary by
// digest. Decoding requires a [DictionaryResolver] that holds it.
func ExternalDictionary(digest Digest) DictionaryRef {
	return DictionaryRef{Kind: DictionaryExternal, Digest: digest}
}

// OperationKind is the wire tag of an operation.
type OperationKind uint8

const (
	KindCreate OperationKind = 0
	KindDelete OperationKind = 1

	// kindEnd terminates the operation sequence on the wire. It is
	// never the Kind of an [Operation].
	kindEnd OperationKind = 2
)

func (k OperationKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Operation is one step of an archive: create an entry, or delete one
// and everything beneath it. Permissions and Body are only meaningful
// for Create.
type Operation struct {
	Kind        OperationKind
	Location    Location
	Permissions Permissions
	Body        Body
}

// Create returns a Create operation.
func Create(location Location, permissions Permissions, body Body) Operation {
	return Operation{Kind: KindCreate, Location: location, Permissions: permissions, Body: body}
}

// Delete returns a Delete operation.
func Delete(location Location) Operation {
	return Operation{Kind: KindDelete, Location: location}
}

// check reports structural problems with op that the wire format
// cannot express. Tree rules are the validator's concern.
func (op Operation) check() error {
	if err := op.Location.Validate(); err != nil {
		return err
	}
	switch op.Kind {
	case KindCreate:
		if op.Permissions&^PermissionMask != 0 {
			return fmt.Errorf("%w: permissions %o outside %o", ErrMalformedOperation, uint32(op.Permissions), uint32(PermissionMask))
		}
		switch body := op.Body.(type) {
		case File:
			if body.Dictionary.Kind > DictionaryExternal {
				return fmt.Errorf("%w: dictionary kind %s", ErrMalformedOperation, body.Dictionary.Kind)
			}
		case Symlink:
			if body.Target == "" {
				return fmt.Errorf("%w: empty symlink target", ErrMalformedOperation)
			}
			if strings.IndexByte(body.Target, 0) >= 0 {
				return fmt.Errorf("%w: symlink target contains NUL", ErrMalformedOperation)
			}
		case Directory:
		case nil:
			return fmt.Errorf("%w: create without a body", ErrMalformedOperation)
		default:
			return fmt.Errorf("%w: unsupported body %T", ErrMalformedOperation, op.Body)
		}
	case KindDelete:
		if op.Body != nil {
			return fmt.Errorf("%w: delete with a body", ErrMalformedOperation)
		}
	default:
		return fmt.Errorf("%w: operation kind %s", ErrMalformedOperation, op.Kind)
	}
	return nil
}
