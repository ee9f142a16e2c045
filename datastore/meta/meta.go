// Package meta describes model types to the storage layer. A ModelMeta
// is the single descriptor for one concrete model type: its storage
// kind, its attributes with their storage names and declared types, the
// bindings for the key and version fields, and the type's place in a
// polymorphic hierarchy. Descriptors come from externally generated
// factories registered with a Registry.
package meta

import (
	"errors"
	"reflect"
	"strings"

	"github.com/kitaindia/slim3/datastore/record"
)

var (
	// ErrNoSuchMeta indicates that no descriptor factory is registered
	// for a model type. This is a configuration problem, a
	// build/deployment mismatch, never a transient one.
	ErrNoSuchMeta = errors.New("model metadata is not registered")
	// ErrNotAssignable indicates a polymorphic record whose concrete
	// type does not descend from the requested base type
	ErrNotAssignable = errors.New("model type is not assignable")
	// ErrConversion indicates a value that could not be coerced between
	// a model attribute's declared type and its storage representation
	ErrConversion = errors.New("cannot convert attribute value")
	// ErrNilModel indicates a nil model where a value was required
	ErrNilModel = errors.New("model must not be nil")
)

// Type is an attribute's declared storage type
type Type int

const (
	// Int covers every integer width, normalized to int64
	Int Type = iota + 1
	// Float covers float32 and float64, normalized to float64
	Float
	// Bool is a boolean attribute
	Bool
	// String is a string attribute, stored long-form when the attribute
	// carries the Text marker
	String
	// Time is a time.Time attribute
	Time
	// Decimal is an arbitrary-precision decimal attribute
	Decimal
	// Bytes is a raw binary attribute, indexed short form unless the
	// attribute carries the Blob marker
	Bytes
	// Serialized is an opaque attribute whose value implements
	// encoding.BinaryMarshaler; it is stored as its length-prefixed
	// binary encoding. Setters receive the raw bytes back.
	Serialized
)

// Attribute binds one model field to one storage property
type Attribute struct {
	// Name is the storage property name
	Name string
	// Type is the declared attribute type
	Type Type
	// Text routes a String attribute to the unindexed long-text form
	Text bool
	// Blob routes a Bytes or Serialized attribute to the large
	// unindexed binary form
	Blob bool
	// Get reads the field from a model instance
	Get func(model any) any
	// Set writes the field on a model instance. It is never called
	// with a nil value; absent properties leave the field at its
	// default. It reports values that cannot be applied, such as
	// serialized bytes that fail to deserialize.
	Set func(model any, value any) error
}

// KeyBinding reads and writes a model's designated key field
type KeyBinding struct {
	Get func(model any) *record.Key
	Set func(model any, key *record.Key)
}

// ModelMeta is the descriptor for one concrete model type
type ModelMeta struct {
	// Kind is the storage kind name. Types sharing a polymorphic
	// hierarchy share the root type's kind.
	Kind string
	// ModelName is the fully-qualified model type name,
	// e.g. "github.com/acme/app/model.Employee"
	ModelName string
	// Hierarchy lists fully-qualified type names from root ancestor to
	// this type. Empty means the type stands alone.
	Hierarchy []string
	// Attributes are the ordinary attribute bindings. The version
	// attribute is bound separately through Version.
	Attributes []Attribute
	// Version designates the optimistic-concurrency counter, nil when
	// the model has none. Its Type must be Int.
	Version *Attribute
	// Key binds the model's identifying key field
	Key KeyBinding
	// New constructs a zero model instance
	New func() any
}

// Attr returns the attribute with this storage name, nil if unknown
func (m *ModelMeta) Attr(name string) *Attribute {
	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			return &m.Attributes[i]
		}
	}

	if m.Version != nil && m.Version.Name == name {
		return m.Version
	}

	return nil
}

// hierarchy returns the type chain, falling back to the type itself
func (m *ModelMeta) hierarchy() []string {
	if len(m.Hierarchy) == 0 {
		return []string{m.ModelName}
	}

	return m.Hierarchy
}

// assignableTo reports whether m's type descends from (or is) base's type
func (m *ModelMeta) assignableTo(base *ModelMeta) bool {
	for _, name := range m.hierarchy() {
		if name == base.ModelName {
			return true
		}
	}

	return false
}

// NameOf returns the fully-qualified type name of a model instance,
// dereferencing pointers. It is the lookup key for descriptor
// resolution.
func NameOf(model any) string {
	t := reflect.TypeOf(model)

	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil {
		return ""
	}

	return t.PkgPath() + "." + t.Name()
}

// MetaName derives the descriptor name for a model type name by the
// fixed naming convention: the model namespace segment becomes the meta
// namespace segment and the type name gains the Meta suffix.
func MetaName(modelName string) string {
	return strings.Replace(modelName, "/model.", "/meta.", 1) + "Meta"
}
