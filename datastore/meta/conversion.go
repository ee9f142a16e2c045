package meta

import (
	"encoding"
	"fmt"
	"time"

	"github.com/kitaindia/slim3/datastore/record"
)

// ToRecord converts a model to its record form. When the descriptor
// designates a version attribute, the model's in-memory counter is
// incremented first, so every persisted write carries a strictly
// greater version than its predecessor; a fresh model's first write
// stores one past the type's zero value.
func ToRecord(m *ModelMeta, model any) (*record.Record, error) {
	if model == nil {
		return nil, ErrNilModel
	}

	rec := record.New(m.Key.Get(model))

	if m.Version != nil {
		version, err := intValue(m.Version, m.Version.Get(model))

		if err != nil {
			return nil, err
		}

		version++

		if err := m.Version.Set(model, version); err != nil {
			return nil, conversionError(m.Version, version, err)
		}

		rec.Set(m.Version.Name, version)
	}

	for i := range m.Attributes {
		a := &m.Attributes[i]
		stored, err := toStored(a, a.Get(model))

		if err != nil {
			return nil, err
		}

		rec.Set(a.Name, stored)
	}

	if len(m.Hierarchy) > 1 {
		hierarchy, err := record.Normalize(m.Hierarchy)

		if err != nil {
			return nil, err
		}

		rec.Set(record.ClassHierarchyProperty, hierarchy)
	}

	return rec, nil
}

// ToModel converts a record back to a typed model. Properties the
// descriptor does not declare are ignored; declared attributes absent
// from the record leave the field at its default. The model's key field
// is populated from the record's own key.
func ToModel(m *ModelMeta, rec *record.Record) (any, error) {
	model := m.New()

	for i := range m.Attributes {
		a := &m.Attributes[i]

		if !rec.Has(a.Name) {
			continue
		}

		value, err := FromStored(a, rec.Get(a.Name))

		if err != nil {
			return nil, err
		}

		if value != nil {
			if err := a.Set(model, value); err != nil {
				return nil, conversionError(a, value, err)
			}
		}
	}

	if m.Version != nil && rec.Has(m.Version.Name) {
		version, err := intValue(m.Version, rec.Get(m.Version.Name))

		if err != nil {
			return nil, err
		}

		if err := m.Version.Set(model, version); err != nil {
			return nil, conversionError(m.Version, version, err)
		}
	}

	m.Key.Set(model, rec.Key())

	return model, nil
}

// toStored coerces a model field value to the attribute's storage
// representation
func toStored(a *Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch a.Type {
	case Int:
		return intValue(a, v)
	case Float:
		n, err := record.Normalize(v)

		if err != nil {
			return nil, conversionError(a, v, err)
		}

		switch t := n.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case String:
		if s, ok := v.(string); ok {
			if a.Text {
				return record.Text(s), nil
			}

			return s, nil
		}
	case Time:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case Decimal:
		if d, ok := v.(record.Decimal); ok {
			return d, nil
		}
	case Bytes:
		if b, ok := byteForm(v); ok {
			return routeBytes(a, b), nil
		}
	case Serialized:
		marshaler, ok := v.(encoding.BinaryMarshaler)

		if !ok {
			return nil, conversionError(a, v, fmt.Errorf("%T does not implement encoding.BinaryMarshaler", v))
		}

		b, err := marshaler.MarshalBinary()

		if err != nil {
			return nil, conversionError(a, v, err)
		}

		return routeBytes(a, b), nil
	}

	return nil, conversionError(a, v, nil)
}

// FromStored coerces a stored property value back to the attribute's
// declared type. Serialized attributes come back as their raw bytes;
// the attribute setter owns the unmarshaling.
func FromStored(a *Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch a.Type {
	case Int:
		return intValue(a, v)
	case Float:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case String:
		switch t := v.(type) {
		case string:
			return t, nil
		case record.Text:
			return string(t), nil
		}
	case Time:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case Decimal:
		if d, ok := v.(record.Decimal); ok {
			return d, nil
		}
	case Bytes, Serialized:
		if b, ok := byteForm(v); ok {
			return b, nil
		}
	}

	return nil, conversionError(a, v, nil)
}

func routeBytes(a *Attribute, b []byte) any {
	if a.Blob {
		return record.Blob(b)
	}

	return record.ShortBlob(b)
}

func byteForm(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case record.ShortBlob:
		return []byte(t), true
	case record.Blob:
		return []byte(t), true
	}

	return nil, false
}

func intValue(a *Attribute, v any) (int64, error) {
	if v == nil {
		return 0, nil
	}

	n, err := record.Normalize(v)

	if err != nil {
		return 0, conversionError(a, v, err)
	}

	i, ok := n.(int64)

	if !ok {
		return 0, conversionError(a, v, nil)
	}

	return i, nil
}

func conversionError(a *Attribute, v any, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: attribute %q: %T: %s", ErrConversion, a.Name, v, cause)
	}

	return fmt.Errorf("%w: attribute %q: unexpected value type %T", ErrConversion, a.Name, v)
}

// MetasFor resolves a descriptor per batch element. Raw *record.Record
// elements yield a nil descriptor, marking them as pass-through for the
// batch conversion helpers. A nil element is an error.
func (registry *Registry) MetasFor(models []any) ([]*ModelMeta, error) {
	metas := make([]*ModelMeta, len(models))

	for i, model := range models {
		if model == nil {
			return nil, fmt.Errorf("%w: batch element %d", ErrNilModel, i)
		}

		if _, ok := model.(*record.Record); ok {
			continue
		}

		m, err := registry.ResolveModel(model)

		if err != nil {
			return nil, err
		}

		metas[i] = m
	}

	return metas, nil
}

// ToRecords converts a batch element-wise, preserving order. Elements
// with a nil descriptor must be raw records and pass through unchanged.
func ToRecords(metas []*ModelMeta, models []any) ([]*record.Record, error) {
	if len(metas) != len(models) {
		return nil, fmt.Errorf("descriptor count %d does not match model count %d", len(metas), len(models))
	}

	recs := make([]*record.Record, len(models))

	for i, model := range models {
		if metas[i] == nil {
			rec, ok := model.(*record.Record)

			if !ok {
				return nil, fmt.Errorf("batch element %d has no descriptor and is not a record: %T", i, model)
			}

			recs[i] = rec

			continue
		}

		rec, err := ToRecord(metas[i], model)

		if err != nil {
			return nil, err
		}

		recs[i] = rec
	}

	return recs, nil
}

// AssignKeys writes server-assigned keys back onto each model's key
// field after a batch write, skipping raw-record elements
func AssignKeys(metas []*ModelMeta, models []any, keys []*record.Key) error {
	if len(keys) != len(models) {
		return fmt.Errorf("key count %d does not match model count %d", len(keys), len(models))
	}

	for i, model := range models {
		if metas[i] == nil {
			continue
		}

		metas[i].Key.Set(model, keys[i])
	}

	return nil
}
