package record

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Binary record layout: format version byte, encoded key, uvarint
// property count, then per property a length-prefixed name, a type tag
// and the tag-specific payload. Properties are written in name order so
// equal records encode identically.

const codecVersion byte = 1

const (
	tagNil byte = iota
	tagInt
	tagFloat
	tagBool
	tagString
	tagTime
	tagDecimal
	tagText
	tagShortBlob
	tagBlob
	tagList
)

var (
	// ErrBadRecord indicates bytes that do not decode to a record
	ErrBadRecord = errors.New("malformed record encoding")
)

// Encode serializes the record to its length-prefixed binary form,
// suitable for out-of-band storage or transport of individual records
func Encode(rec *Record) []byte {
	var buf bytes.Buffer

	buf.WriteByte(codecVersion)
	buf.Write(rec.key.Bytes())

	names := make([]string, 0, len(rec.props))

	for name := range rec.props {
		names = append(names, name)
	}

	sort.Strings(names)
	writeUvarint(&buf, uint64(len(names)))

	for _, name := range names {
		writeString(&buf, name)
		encodeValue(&buf, rec.props[name])
	}

	return buf.Bytes()
}

// Decode deserializes bytes produced by Encode
func Decode(b []byte) (*Record, error) {
	if len(b) == 0 || b[0] != codecVersion {
		return nil, fmt.Errorf("%w: bad format version", ErrBadRecord)
	}

	key, b, err := decodeKey(b[1:])

	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadRecord, err)
	}

	n, b, err := readUvarint(b)

	if err != nil {
		return nil, fmt.Errorf("%w: bad property count", ErrBadRecord)
	}

	rec := New(key)

	for i := uint64(0); i < n; i++ {
		var name string
		var value any

		name, b, err = readString(b)

		if err != nil {
			return nil, fmt.Errorf("%w: bad property name: %s", ErrBadRecord, err)
		}

		value, b, err = decodeValue(b)

		if err != nil {
			return nil, fmt.Errorf("%w: property %q: %s", ErrBadRecord, name, err)
		}

		rec.props[name] = value
	}

	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadRecord, len(b))
	}

	return rec, nil
}

func encodeValue(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case int64:
		buf.WriteByte(tagInt)
		writeUvarint(buf, zigzag(t))
	case float64:
		buf.WriteByte(tagFloat)
		writeUvarint(buf, math.Float64bits(t))
	case bool:
		buf.WriteByte(tagBool)

		if t {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case string:
		buf.WriteByte(tagString)
		writeString(buf, t)
	case time.Time:
		buf.WriteByte(tagTime)
		writeUvarint(buf, zigzag(t.UnixNano()))
	case Decimal:
		buf.WriteByte(tagDecimal)
		writeString(buf, t.String())
	case Text:
		buf.WriteByte(tagText)
		writeString(buf, string(t))
	case ShortBlob:
		buf.WriteByte(tagShortBlob)
		writeUvarint(buf, uint64(len(t)))
		buf.Write(t)
	case Blob:
		buf.WriteByte(tagBlob)
		writeUvarint(buf, uint64(len(t)))
		buf.Write(t)
	case []any:
		buf.WriteByte(tagList)
		writeUvarint(buf, uint64(len(t)))

		for _, elem := range t {
			encodeValue(buf, elem)
		}
	default:
		// Set requires normalized values, so this is unreachable for
		// records built through the public API
		panic(fmt.Sprintf("record: cannot encode %T", v))
	}
}

func decodeValue(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, errTruncated
	}

	tag := b[0]
	b = b[1:]

	switch tag {
	case tagNil:
		return nil, b, nil
	case tagInt:
		u, b, err := readUvarint(b)

		return unzigzag(u), b, err
	case tagFloat:
		u, b, err := readUvarint(b)

		return math.Float64frombits(u), b, err
	case tagBool:
		if len(b) == 0 {
			return nil, nil, errTruncated
		}

		return b[0] != 0, b[1:], nil
	case tagString:
		s, b, err := readString(b)

		return s, b, err
	case tagTime:
		u, b, err := readUvarint(b)

		return time.Unix(0, unzigzag(u)).UTC(), b, err
	case tagDecimal:
		s, b, err := readString(b)

		if err != nil {
			return nil, nil, err
		}

		if s == "" {
			return Decimal{}, b, nil
		}

		d, err := ParseDecimal(s)

		return d, b, err
	case tagText:
		s, b, err := readString(b)

		return Text(s), b, err
	case tagShortBlob:
		p, b, err := readBytes(b)

		return ShortBlob(p), b, err
	case tagBlob:
		p, b, err := readBytes(b)

		return Blob(p), b, err
	case tagList:
		n, b, err := readUvarint(b)

		if err != nil {
			return nil, nil, err
		}

		// Every element takes at least its tag byte, so a count beyond
		// the remaining input cannot be honest. Checked before the
		// allocation the count sizes.
		if n > uint64(len(b)) {
			return nil, nil, errTruncated
		}

		list := make([]any, n)

		for i := uint64(0); i < n; i++ {
			list[i], b, err = decodeValue(b)

			if err != nil {
				return nil, nil, err
			}
		}

		return list, b, nil
	}

	return nil, nil, fmt.Errorf("unknown type tag %d", tag)
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
