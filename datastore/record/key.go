package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrBadKey indicates that a key could not be constructed or decoded
	ErrBadKey = errors.New("malformed key")
)

// Key identifies a record in the remote store. It is an ordered chain
// of (kind, identifier) pairs where the identifier is either a positive
// numeric id or a non-empty symbolic name, never both. A key whose final
// component carries neither is incomplete and awaits a server-assigned id.
type Key struct {
	parent *Key
	kind   string
	id     int64
	name   string
}

// NewKey creates a root key with a symbolic name
func NewKey(kind string, name string) *Key {
	return &Key{kind: kind, name: name}
}

// NewIDKey creates a root key with a numeric id
func NewIDKey(kind string, id int64) *Key {
	return &Key{kind: kind, id: id}
}

// NewIncompleteKey creates a root key with no identifier. The remote
// store assigns an id when a record addressed by it is first put.
func NewIncompleteKey(kind string) *Key {
	return &Key{kind: kind}
}

// NewChildKey creates a named key descending from parent. The parent
// chain is copied, not referenced.
func NewChildKey(parent *Key, kind string, name string) *Key {
	return &Key{parent: parent.copy(), kind: kind, name: name}
}

// NewChildIDKey creates an id key descending from parent. The parent
// chain is copied, not referenced.
func NewChildIDKey(parent *Key, kind string, id int64) *Key {
	return &Key{parent: parent.copy(), kind: kind, id: id}
}

// NewIncompleteChildKey creates an incomplete key descending from parent
func NewIncompleteChildKey(parent *Key, kind string) *Key {
	return &Key{parent: parent.copy(), kind: kind}
}

// Kind returns the kind of the final component
func (key *Key) Kind() string {
	return key.kind
}

// ID returns the numeric id of the final component, zero if unset
func (key *Key) ID() int64 {
	return key.id
}

// Name returns the symbolic name of the final component, empty if unset
func (key *Key) Name() string {
	return key.name
}

// Parent returns a copy of the parent key, or nil for a root key
func (key *Key) Parent() *Key {
	return key.parent.copy()
}

// Incomplete reports whether the final component has neither a symbolic
// name nor a positive numeric id
func (key *Key) Incomplete() bool {
	return key.name == "" && key.id <= 0
}

// WithID returns a copy of this key whose final component carries id.
// It is how a server-assigned id is folded back into an incomplete key.
func (key *Key) WithID(id int64) *Key {
	k := key.copy()
	k.id = id
	k.name = ""

	return k
}

// Equal reports whether two keys denote the same record, comparing the
// whole parent chain
func (key *Key) Equal(other *Key) bool {
	if key == nil || other == nil {
		return key == nil && other == nil
	}

	if key.kind != other.kind || key.id != other.id || key.name != other.name {
		return false
	}

	return key.parent.Equal(other.parent)
}

// HasAncestor reports whether ancestor appears in this key's parent
// chain, or equals this key itself
func (key *Key) HasAncestor(ancestor *Key) bool {
	for k := key; k != nil; k = k.parent {
		if k.Equal(ancestor) {
			return true
		}
	}

	return false
}

func (key *Key) copy() *Key {
	if key == nil {
		return nil
	}

	k := *key
	k.parent = key.parent.copy()

	return &k
}

// path returns the components from root ancestor to this key
func (key *Key) path() []*Key {
	var path []*Key

	for k := key; k != nil; k = k.parent {
		path = append([]*Key{k}, path...)
	}

	return path
}

func (key *Key) String() string {
	var buf bytes.Buffer

	for i, k := range key.path() {
		if i > 0 {
			buf.WriteByte('/')
		}

		buf.WriteString(k.kind)
		buf.WriteByte('(')

		if k.name != "" {
			buf.WriteString(strconv.Quote(k.name))
		} else {
			buf.WriteString(strconv.FormatInt(k.id, 10))
		}

		buf.WriteByte(')')
	}

	return buf.String()
}

const (
	keyElemIncomplete byte = 0
	keyElemID         byte = 1
	keyElemName       byte = 2
)

// Bytes encodes the key's full path to a stable byte form. The encoding
// sorts root-first, so sibling keys under one parent group together when
// drivers order records by encoded key.
func (key *Key) Bytes() []byte {
	var buf bytes.Buffer

	path := key.path()
	writeUvarint(&buf, uint64(len(path)))

	for _, k := range path {
		writeString(&buf, k.kind)

		switch {
		case k.name != "":
			buf.WriteByte(keyElemName)
			writeString(&buf, k.name)
		case k.id > 0:
			buf.WriteByte(keyElemID)
			writeUvarint(&buf, uint64(k.id))
		default:
			buf.WriteByte(keyElemIncomplete)
		}
	}

	return buf.Bytes()
}

// DecodeKey decodes a key produced by Bytes
func DecodeKey(b []byte) (*Key, error) {
	key, rest, err := decodeKey(b)

	if err != nil {
		return nil, err
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadKey, len(rest))
	}

	return key, nil
}

func decodeKey(b []byte) (*Key, []byte, error) {
	n, b, err := readUvarint(b)

	// Each element needs at least one byte, so a count beyond the
	// remaining input is malformed
	if err != nil || n == 0 || n > uint64(len(b)) {
		return nil, nil, fmt.Errorf("%w: bad element count", ErrBadKey)
	}

	var key *Key

	for i := uint64(0); i < n; i++ {
		var kind string

		kind, b, err = readString(b)

		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad kind: %s", ErrBadKey, err)
		}

		if len(b) == 0 {
			return nil, nil, fmt.Errorf("%w: truncated element", ErrBadKey)
		}

		tag := b[0]
		b = b[1:]
		elem := &Key{parent: key, kind: kind}

		switch tag {
		case keyElemName:
			elem.name, b, err = readString(b)
		case keyElemID:
			var id uint64

			id, b, err = readUvarint(b)
			elem.id = int64(id)
		case keyElemIncomplete:
		default:
			return nil, nil, fmt.Errorf("%w: unknown element tag %d", ErrBadKey, tag)
		}

		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad element: %s", ErrBadKey, err)
		}

		key = elem
	}

	return key, b, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte

	buf.Write(tmp[:binary.PutUvarint(tmp[:], v)])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

var errTruncated = errors.New("truncated input")

func readUvarint(b []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(b)

	if n <= 0 {
		return 0, nil, errTruncated
	}

	return v, b[n:], nil
}

func readString(b []byte) (string, []byte, error) {
	n, b, err := readUvarint(b)

	if err != nil {
		return "", nil, err
	}

	if uint64(len(b)) < n {
		return "", nil, errTruncated
	}

	return string(b[:n]), b[n:], nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	n, b, err := readUvarint(b)

	if err != nil {
		return nil, nil, err
	}

	if uint64(len(b)) < n {
		return nil, nil, errTruncated
	}

	return append([]byte(nil), b[:n]...), b[n:], nil
}
