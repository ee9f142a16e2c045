package remote_test

import (
	"errors"
	"testing"
	"time"

	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/storage/remote"
)

// Every driver runs the same contract suite, so filters, ordering and
// transactional visibility cannot drift between backends.
func stores(t *testing.T) map[string]remote.Store {
	t.Helper()

	bbolt, err := remote.NewTempBBoltStore()

	if err != nil {
		t.Fatalf("expected the bbolt store to open: %s", err)
	}

	t.Cleanup(func() { bbolt.Purge() })

	sqlite, err := remote.NewTempSQLiteStore()

	if err != nil {
		t.Fatalf("expected the sqlite store to open: %s", err)
	}

	t.Cleanup(func() { sqlite.Purge() })

	memory := remote.NewMemoryStore()

	t.Cleanup(func() { memory.Close() })

	return map[string]remote.Store{
		"memory": memory,
		"bbolt":  bbolt,
		"sqlite": sqlite,
	}
}

func sampleRecord(key *record.Key, name string, age int64) *record.Record {
	rec := record.New(key)
	rec.Set("name", name)
	rec.Set("age", age)
	rec.Set("joined", time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC))
	rec.Set("salary", record.MustDecimal("1234.56"))
	rec.Set("avatar", record.Blob{0xde, 0xad})

	return rec
}

func TestStoreRoundTrip(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			key := record.NewChildIDKey(record.NewKey("Dept", "eng"), "Employee", 1)
			rec := sampleRecord(key, "bob", 41)

			keys, err := store.Put(nil, []*record.Record{rec})

			if err != nil {
				t.Fatalf("expected put to succeed: %s", err)
			}

			if !keys[0].Equal(key) {
				t.Fatalf("expected %s, got %s", key, keys[0])
			}

			restored, err := store.Get(nil, key)

			if err != nil {
				t.Fatalf("expected get to succeed: %s", err)
			}

			for _, name := range rec.Names() {
				cmpResult, err := record.Compare(rec.Get(name), restored.Get(name))

				if err != nil || cmpResult != 0 {
					t.Fatalf("property %q did not survive the driver: %v vs %v (err %v)",
						name, rec.Get(name), restored.Get(name), err)
				}
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			if _, err := store.Get(nil, record.NewIDKey("Employee", 404)); !errors.Is(err, remote.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreGetMultiKeepsPositions(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			key := record.NewIDKey("Employee", 1)

			if _, err := store.Put(nil, []*record.Record{sampleRecord(key, "bob", 41)}); err != nil {
				t.Fatalf("expected put to succeed: %s", err)
			}

			recs, err := store.GetMulti(nil, []*record.Key{record.NewIDKey("Employee", 404), key})

			if err != nil {
				t.Fatalf("expected get to succeed: %s", err)
			}

			if recs[0] != nil || recs[1] == nil {
				t.Fatalf("expected [nil, record], got %v", recs)
			}
		})
	}
}

func TestStoreAssignsIncompleteKeys(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			rec := sampleRecord(record.NewIncompleteKey("Employee"), "bob", 41)

			keys, err := store.Put(nil, []*record.Record{rec})

			if err != nil {
				t.Fatalf("expected put to succeed: %s", err)
			}

			if keys[0].Incomplete() {
				t.Fatalf("expected a server-assigned id")
			}

			restored, err := store.Get(nil, keys[0])

			if err != nil {
				t.Fatalf("expected the record under its assigned key: %s", err)
			}

			if !restored.Key().Equal(keys[0]) {
				t.Fatalf("expected the stored record to carry its assigned key")
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			key := record.NewIDKey("Employee", 1)

			if _, err := store.Put(nil, []*record.Record{sampleRecord(key, "bob", 41)}); err != nil {
				t.Fatalf("expected put to succeed: %s", err)
			}

			if err := store.Delete(nil, []*record.Key{key}); err != nil {
				t.Fatalf("expected delete to succeed: %s", err)
			}

			if _, err := store.Get(nil, key); !errors.Is(err, remote.ErrNotFound) {
				t.Fatalf("expected the record to be gone, got %v", err)
			}

			if err := store.Delete(nil, []*record.Key{key}); err != nil {
				t.Fatalf("expected deleting a missing key to succeed: %s", err)
			}
		})
	}
}

func TestStoreAllocateIDs(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			first, err := store.AllocateIDs(nil, "Employee", 3)

			if err != nil {
				t.Fatalf("expected allocation to succeed: %s", err)
			}

			if first.Size() != 3 {
				t.Fatalf("expected 3 ids, got %d", first.Size())
			}

			second, err := store.AllocateIDs(nil, "Employee", 2)

			if err != nil {
				t.Fatalf("expected allocation to succeed: %s", err)
			}

			if second.Start <= first.End {
				t.Fatalf("expected disjoint ranges: %d <= %d", second.Start, first.End)
			}
		})
	}
}

func TestStoreQuery(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			recs := []*record.Record{
				sampleRecord(record.NewIDKey("Employee", 1), "bob", 41),
				sampleRecord(record.NewIDKey("Employee", 2), "alice", 30),
				sampleRecord(record.NewIDKey("Employee", 3), "carol", 25),
				sampleRecord(record.NewKey("Dept", "eng"), "eng", 0),
			}

			if _, err := store.Put(nil, recs); err != nil {
				t.Fatalf("expected put to succeed: %s", err)
			}

			t.Run("filter and order", func(t *testing.T) {
				pq, err := store.Prepare(nil, remote.Query{
					Kind:    "Employee",
					Filters: []remote.Filter{{Property: "age", Op: remote.OpGreaterThan, Value: int64(25)}},
					Orders:  []remote.Order{{Property: "age", Descending: true}},
				})

				if err != nil {
					t.Fatalf("expected prepare to succeed: %s", err)
				}

				matched, err := pq.AsList(remote.FetchOptions{})

				if err != nil {
					t.Fatalf("expected fetch to succeed: %s", err)
				}

				if len(matched) != 2 || matched[0].Get("name") != "bob" || matched[1].Get("name") != "alice" {
					t.Fatalf("expected [bob alice], got %v", matched)
				}
			})

			t.Run("window", func(t *testing.T) {
				pq, err := store.Prepare(nil, remote.Query{
					Kind:   "Employee",
					Orders: []remote.Order{{Property: "age"}},
				})

				if err != nil {
					t.Fatalf("expected prepare to succeed: %s", err)
				}

				matched, err := pq.AsList(remote.FetchOptions{Offset: 1, Limit: 1})

				if err != nil {
					t.Fatalf("expected fetch to succeed: %s", err)
				}

				if len(matched) != 1 || matched[0].Get("name") != "alice" {
					t.Fatalf("expected [alice], got %v", matched)
				}
			})

			t.Run("single", func(t *testing.T) {
				pq, err := store.Prepare(nil, remote.Query{
					Kind:    "Employee",
					Filters: []remote.Filter{{Property: "name", Op: remote.OpEqual, Value: "carol"}},
				})

				if err != nil {
					t.Fatalf("expected prepare to succeed: %s", err)
				}

				rec, err := pq.AsSingle()

				if err != nil || rec == nil {
					t.Fatalf("expected one record, got %v (err %v)", rec, err)
				}

				broad, err := store.Prepare(nil, remote.Query{Kind: "Employee"})

				if err != nil {
					t.Fatalf("expected prepare to succeed: %s", err)
				}

				if _, err := broad.AsSingle(); !errors.Is(err, remote.ErrTooManyResults) {
					t.Fatalf("expected ErrTooManyResults, got %v", err)
				}
			})

			t.Run("count and iterator", func(t *testing.T) {
				pq, err := store.Prepare(nil, remote.Query{Kind: "Employee"})

				if err != nil {
					t.Fatalf("expected prepare to succeed: %s", err)
				}

				n, err := pq.Count()

				if err != nil || n != 3 {
					t.Fatalf("expected 3, got %d (err %v)", n, err)
				}

				iter, err := pq.AsIterator(remote.FetchOptions{})

				if err != nil {
					t.Fatalf("expected iteration to start: %s", err)
				}

				seen := 0

				for iter.Next() {
					if iter.Record() == nil {
						t.Fatalf("expected a record at position %d", seen)
					}

					seen++
				}

				if err := iter.Error(); err != nil {
					t.Fatalf("expected iteration to succeed: %s", err)
				}

				if seen != 3 {
					t.Fatalf("expected 3 records, got %d", seen)
				}
			})

			t.Run("ancestor scope", func(t *testing.T) {
				dept := record.NewKey("Dept", "eng")
				scoped := sampleRecord(record.NewChildIDKey(dept, "Employee", 9), "erin", 33)

				if _, err := store.Put(nil, []*record.Record{scoped}); err != nil {
					t.Fatalf("expected put to succeed: %s", err)
				}

				pq, err := store.Prepare(nil, remote.Query{Kind: "Employee", Ancestor: dept})

				if err != nil {
					t.Fatalf("expected prepare to succeed: %s", err)
				}

				matched, err := pq.AsList(remote.FetchOptions{})

				if err != nil {
					t.Fatalf("expected fetch to succeed: %s", err)
				}

				if len(matched) != 1 || matched[0].Get("name") != "erin" {
					t.Fatalf("expected [erin], got %v", matched)
				}
			})
		})
	}
}

func TestStoreTransactions(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			key := record.NewIDKey("Employee", 100)

			tx, err := store.BeginTransaction()

			if err != nil {
				t.Fatalf("expected begin to succeed: %s", err)
			}

			if tx.ID() == "" {
				t.Fatalf("expected the transaction to carry an id")
			}

			if _, err := store.Put(tx, []*record.Record{sampleRecord(key, "bob", 41)}); err != nil {
				t.Fatalf("expected put to succeed: %s", err)
			}

			// The transaction observes its own write
			if _, err := store.Get(tx, key); err != nil {
				t.Fatalf("expected the transaction to see its write: %s", err)
			}

			// Readers outside it do not
			if _, err := store.Get(nil, key); !errors.Is(err, remote.ErrNotFound) {
				t.Fatalf("expected the write to stay buffered, got %v", err)
			}

			if err := tx.Commit(); err != nil {
				t.Fatalf("expected commit to succeed: %s", err)
			}

			if tx.Active() {
				t.Fatalf("expected the transaction to settle")
			}

			if _, err := store.Get(nil, key); err != nil {
				t.Fatalf("expected the committed write to be visible: %s", err)
			}

			if err := tx.Commit(); !errors.Is(err, remote.ErrInactiveTransaction) {
				t.Fatalf("expected ErrInactiveTransaction, got %v", err)
			}

			if _, err := store.Get(tx, key); !errors.Is(err, remote.ErrInactiveTransaction) {
				t.Fatalf("expected ErrInactiveTransaction, got %v", err)
			}
		})
	}
}

func TestStoreTransactionRollback(t *testing.T) {
	for driver, store := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			key := record.NewIDKey("Employee", 200)

			tx, err := store.BeginTransaction()

			if err != nil {
				t.Fatalf("expected begin to succeed: %s", err)
			}

			if _, err := store.Put(tx, []*record.Record{sampleRecord(key, "bob", 41)}); err != nil {
				t.Fatalf("expected put to succeed: %s", err)
			}

			if err := tx.Rollback(); err != nil {
				t.Fatalf("expected rollback to succeed: %s", err)
			}

			if _, err := store.Get(nil, key); !errors.Is(err, remote.ErrNotFound) {
				t.Fatalf("expected the write to be discarded, got %v", err)
			}
		})
	}
}
