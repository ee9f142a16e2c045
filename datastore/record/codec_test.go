package record_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kitaindia/slim3/datastore/record"
)

func TestEncodeDecodeRecord(t *testing.T) {
	key := record.NewChildIDKey(record.NewKey("Dept", "eng"), "Employee", 5)
	rec := record.New(key)
	rec.Set("name", "bob")
	rec.Set("age", int64(41))
	rec.Set("score", 0.25)
	rec.Set("active", true)
	rec.Set("joined", time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC))
	rec.Set("salary", record.MustDecimal("1234.56"))
	rec.Set("bio", record.Text("a very long story"))
	rec.Set("avatar", record.Blob{0xde, 0xad})
	rec.Set("token", record.ShortBlob{0x01})
	rec.Set("tags", []any{"a", "b"})
	rec.Set("nothing", nil)

	decoded, err := record.Decode(record.Encode(rec))

	if err != nil {
		t.Fatalf("expected decode to succeed: %s", err)
	}

	if !decoded.Key().Equal(key) {
		t.Fatalf("expected key %s, got %s", key, decoded.Key())
	}

	if diff := cmp.Diff(rec.Names(), decoded.Names()); diff != "" {
		t.Fatalf("unexpected property names (-want +got):\n%s", diff)
	}

	for _, name := range rec.Names() {
		cmpResult, err := record.Compare(rec.Get(name), decoded.Get(name))

		if err != nil || cmpResult != 0 {
			t.Fatalf("property %q did not round trip: %v %v (err %v)", name, rec.Get(name), decoded.Get(name), err)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	build := func() *record.Record {
		rec := record.New(record.NewIDKey("Employee", 1))
		rec.Set("b", int64(2))
		rec.Set("a", int64(1))
		rec.Set("c", "x")

		return rec
	}

	if diff := cmp.Diff(record.Encode(build()), record.Encode(build())); diff != "" {
		t.Fatalf("expected identical encodings (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	good := record.Encode(record.New(record.NewIDKey("Employee", 1)))

	// An encoding ending in an empty list, so its final byte is the list
	// element count; patching that varint forges a count far beyond the
	// remaining input
	listRec := record.New(record.NewIDKey("Employee", 1))
	listRec.Set("tags", []any{})
	listEnc := record.Encode(listRec)
	hugeListCount := append(append([]byte(nil), listEnc[:len(listEnc)-1]...),
		binary.AppendUvarint(nil, 1<<62)...)

	for name, input := range map[string][]byte{
		"empty":           {},
		"bad version":     {0xff},
		"truncated":       good[:len(good)-1],
		"trailing":        append(append([]byte(nil), good...), 0x00),
		"huge list count": hugeListCount,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := record.Decode(input); !errors.Is(err, record.ErrBadRecord) {
				t.Fatalf("expected ErrBadRecord, got %v", err)
			}
		})
	}
}

func TestCloneSharesNothing(t *testing.T) {
	rec := record.New(record.NewIDKey("Employee", 1))
	rec.Set("avatar", record.Blob{1, 2})
	rec.Set("tags", []any{"a"})

	clone := rec.Clone()
	clone.Get("avatar").(record.Blob)[0] = 9
	clone.Get("tags").([]any)[0] = "mutated"
	clone.Set("extra", true)

	if rec.Get("avatar").(record.Blob)[0] != 1 {
		t.Fatalf("expected clone's blob mutation not to reach the original")
	}

	if rec.Get("tags").([]any)[0] != "a" {
		t.Fatalf("expected clone's list mutation not to reach the original")
	}

	if rec.Has("extra") {
		t.Fatalf("expected clone's property not to reach the original")
	}
}
