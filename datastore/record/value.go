package record

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrUnsupportedValue indicates a property value outside the storable set
	ErrUnsupportedValue = errors.New("unsupported property value")
	// ErrIncomparable indicates two property values that cannot be ordered
	// relative to each other
	ErrIncomparable = errors.New("values are not comparable")
)

// Text is a long string stored unindexed by the remote store
type Text string

// ShortBlob is a binary payload short enough to remain indexed
type ShortBlob []byte

// Blob is a large binary payload stored unindexed
type Blob []byte

// Decimal is an arbitrary-precision decimal scalar. It is stored as its
// exact string form and round-trips without loss.
type Decimal struct {
	s string
}

// ParseDecimal validates s as a decimal number
func ParseDecimal(s string) (Decimal, error) {
	if _, ok := new(big.Rat).SetString(s); !ok {
		return Decimal{}, fmt.Errorf("%w: cannot parse decimal %q", ErrUnsupportedValue, s)
	}

	return Decimal{s: s}, nil
}

// MustDecimal is ParseDecimal for statically known literals
func MustDecimal(s string) Decimal {
	d, err := ParseDecimal(s)

	if err != nil {
		panic(err)
	}

	return d
}

func (d Decimal) String() string {
	return d.s
}

// Rat returns the exact rational value. The zero Decimal is zero.
func (d Decimal) Rat() *big.Rat {
	if d.s == "" {
		return new(big.Rat)
	}

	r, _ := new(big.Rat).SetString(d.s)

	return r
}

// Normalize coerces v to its canonical stored representation: every
// integer width becomes int64, float32 becomes float64, raw byte slices
// become ShortBlob. Storable values pass through unchanged. A nil value
// stays nil.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case bool:
		return t, nil
	case string:
		return t, nil
	case time.Time:
		return t, nil
	case Decimal:
		return t, nil
	case Text:
		return t, nil
	case ShortBlob:
		return t, nil
	case Blob:
		return t, nil
	case []byte:
		return ShortBlob(t), nil
	case []any:
		list := make([]any, len(t))

		for i, elem := range t {
			n, err := Normalize(elem)

			if err != nil {
				return nil, err
			}

			list[i] = n
		}

		return list, nil
	case []string:
		list := make([]any, len(t))

		for i, s := range t {
			list[i] = s
		}

		return list, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// Compare orders two normalized property values. Nil sorts before every
// non-nil value. Text compares as string, ShortBlob and Blob compare as
// bytes, integers and floats compare numerically across the two kinds.
func Compare(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}

	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			ia, aInt := a.(int64)
			ib, bInt := b.(int64)

			if aInt && bInt {
				return compareOrdered(ia, ib), nil
			}

			return compareOrdered(fa, fb), nil
		}
	}

	if sa, ok := stringValue(a); ok {
		if sb, ok := stringValue(b); ok {
			return compareOrdered(sa, sb), nil
		}
	}

	if ba, ok := byteValue(a); ok {
		if bb, ok := byteValue(b); ok {
			return bytes.Compare(ba, bb), nil
		}
	}

	switch ta := a.(type) {
	case bool:
		if tb, ok := b.(bool); ok {
			switch {
			case ta == tb:
				return 0, nil
			case !ta:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if tb, ok := b.(time.Time); ok {
			switch {
			case ta.Before(tb):
				return -1, nil
			case ta.After(tb):
				return 1, nil
			default:
				return 0, nil
			}
		}
	case Decimal:
		if tb, ok := b.(Decimal); ok {
			return ta.Rat().Cmp(tb.Rat()), nil
		}
	}

	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}

	return 0, false
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case Text:
		return string(t), true
	}

	return "", false
}

func byteValue(v any) ([]byte, bool) {
	switch t := v.(type) {
	case ShortBlob:
		return t, true
	case Blob:
		return t, true
	}

	return nil, false
}

func copyValue(v any) any {
	switch t := v.(type) {
	case ShortBlob:
		return ShortBlob(append([]byte(nil), t...))
	case Blob:
		return Blob(append([]byte(nil), t...))
	case []any:
		list := make([]any, len(t))

		for i, elem := range t {
			list[i] = copyValue(elem)
		}

		return list
	}

	return v
}
