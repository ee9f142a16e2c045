// Package record holds the storage-level data model: hierarchical keys
// and the schemaless property bags they address, together with the
// length-prefixed binary encoding the remote store speaks.
package record

import "sort"

const (
	// ClassHierarchyProperty is the reserved property holding an ordered
	// list of fully-qualified model type names from root ancestor to most
	// derived type. Its presence makes a record polymorphic.
	ClassHierarchyProperty = "slim3.classHierarchyList"
	// VersionProperty is the reserved property carrying the optimistic
	// concurrency counter
	VersionProperty = "version"
)

// Record is an untyped property bag addressed by a Key
type Record struct {
	key   *Key
	props map[string]any
}

// New creates an empty record addressed by key
func New(key *Key) *Record {
	return &Record{key: key, props: map[string]any{}}
}

// Key returns the record's key
func (rec *Record) Key() *Key {
	return rec.key
}

// SetKey rebinds the record to key
func (rec *Record) SetKey(key *Key) {
	rec.key = key
}

// Get returns the named property value, nil if absent
func (rec *Record) Get(name string) any {
	return rec.props[name]
}

// Has reports whether the named property is present
func (rec *Record) Has(name string) bool {
	_, ok := rec.props[name]

	return ok
}

// Set stores a property value. The value must already be normalized
// (see Normalize); Set does not validate it.
func (rec *Record) Set(name string, value any) {
	rec.props[name] = value
}

// Delete removes a property
func (rec *Record) Delete(name string) {
	delete(rec.props, name)
}

// Names returns the property names in ascending order
func (rec *Record) Names() []string {
	names := make([]string, 0, len(rec.props))

	for name := range rec.props {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// StringList reads a multi-valued property as a string list. It returns
// nil when the property is absent or holds anything but strings.
func (rec *Record) StringList(name string) []string {
	list, ok := rec.props[name].([]any)

	if !ok {
		return nil
	}

	strs := make([]string, len(list))

	for i, v := range list {
		s, ok := v.(string)

		if !ok {
			return nil
		}

		strs[i] = s
	}

	return strs
}

// Clone returns a deep copy sharing no mutable state with the original
func (rec *Record) Clone() *Record {
	clone := New(rec.key.copy())

	for name, value := range rec.props {
		clone.props[name] = copyValue(value)
	}

	return clone
}
