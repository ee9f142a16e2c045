package remote

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/kitaindia/slim3/datastore/record"
)

// kind buckets are namespaced so reserved bucket names can be added
// later without colliding with application kinds
func kindBucketName(kind string) []byte {
	return []byte("kind:" + kind)
}

// BBoltConfig configures the bbolt driver
type BBoltConfig struct {
	Path string
}

var _ Store = (*BBoltStore)(nil)

// BBoltStore is an embedded driver backed by a bbolt file. Records live
// in one bucket per kind, keyed by encoded key and stored in the binary
// record encoding. Ids are allocated from the bucket sequence.
type BBoltStore struct {
	db *bolt.DB
}

// NewBBoltStore opens a bbolt-backed store at config.Path
func NewBBoltStore(config BBoltConfig) (*BBoltStore, error) {
	db, err := bolt.Open(config.Path, 0666, nil)

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %s", config.Path, err.Error())
	}

	return &BBoltStore{db: db}, nil
}

// NewTempBBoltStore opens a bbolt store at a fresh temp path. It is
// meant for tests that need a working store without configuring one.
func NewTempBBoltStore() (*BBoltStore, error) {
	return NewBBoltStore(BBoltConfig{
		Path: filepath.Join(os.TempDir(), fmt.Sprintf("slim3-bbolt-%s", uuid.New().String())),
	})
}

// Purge closes the store and deletes its file
func (store *BBoltStore) Purge() error {
	path := store.db.Path()

	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %s", err.Error())
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %s", path, err.Error())
	}

	return nil
}

// Close implements Store.Close
func (store *BBoltStore) Close() error {
	return store.db.Close()
}

// BeginTransaction implements Store.BeginTransaction
func (store *BBoltStore) BeginTransaction() (Transaction, error) {
	tx, err := store.db.Begin(true)

	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %s", err.Error())
	}

	return &bboltTransaction{tx: tx, id: uuid.New().String(), active: true}, nil
}

// update runs fn in tx when one is given, otherwise in its own
// read-write transaction
func (store *BBoltStore) update(tx Transaction, fn func(*bolt.Tx) error) error {
	if err := checkTx(tx); err != nil {
		return err
	}

	if btx, ok := tx.(*bboltTransaction); ok && btx != nil {
		return fn(btx.tx)
	}

	return store.db.Update(fn)
}

// view runs fn in tx when one is given, otherwise in its own read-only
// transaction
func (store *BBoltStore) view(tx Transaction, fn func(*bolt.Tx) error) error {
	if err := checkTx(tx); err != nil {
		return err
	}

	if btx, ok := tx.(*bboltTransaction); ok && btx != nil {
		return fn(btx.tx)
	}

	return store.db.View(fn)
}

// AllocateIDs implements Store.AllocateIDs
func (store *BBoltStore) AllocateIDs(parent *record.Key, kind string, n int) (KeyRange, error) {
	var r KeyRange

	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(kindBucketName(kind))

		if err != nil {
			return fmt.Errorf("could not ensure bucket for kind %s: %s", kind, err.Error())
		}

		start, err := nextIDs(bucket, n)

		if err != nil {
			return err
		}

		r = KeyRange{Parent: parent, Kind: kind, Start: start, End: start + int64(n) - 1}

		return nil
	})

	return r, err
}

func nextIDs(bucket *bolt.Bucket, n int) (int64, error) {
	var start int64

	for i := 0; i < n; i++ {
		id, err := bucket.NextSequence()

		if err != nil {
			return 0, fmt.Errorf("could not advance id sequence: %s", err.Error())
		}

		if i == 0 {
			start = int64(id)
		}
	}

	return start, nil
}

// Get implements Store.Get
func (store *BBoltStore) Get(tx Transaction, key *record.Key) (*record.Record, error) {
	var rec *record.Record

	err := store.view(tx, func(btx *bolt.Tx) error {
		bucket := btx.Bucket(kindBucketName(key.Kind()))

		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}

		raw := bucket.Get(key.Bytes())

		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}

		var err error

		rec, err = record.Decode(raw)

		return err
	})

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetMulti implements Store.GetMulti
func (store *BBoltStore) GetMulti(tx Transaction, keys []*record.Key) ([]*record.Record, error) {
	recs := make([]*record.Record, len(keys))

	err := store.view(tx, func(btx *bolt.Tx) error {
		for i, key := range keys {
			bucket := btx.Bucket(kindBucketName(key.Kind()))

			if bucket == nil {
				continue
			}

			raw := bucket.Get(key.Bytes())

			if raw == nil {
				continue
			}

			rec, err := record.Decode(raw)

			if err != nil {
				return err
			}

			recs[i] = rec
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return recs, nil
}

// Put implements Store.Put
func (store *BBoltStore) Put(tx Transaction, records []*record.Record) ([]*record.Key, error) {
	keys := make([]*record.Key, len(records))

	err := store.update(tx, func(btx *bolt.Tx) error {
		for i, rec := range records {
			key := rec.Key()
			bucket, err := btx.CreateBucketIfNotExists(kindBucketName(key.Kind()))

			if err != nil {
				return fmt.Errorf("could not ensure bucket for kind %s: %s", key.Kind(), err.Error())
			}

			if key.Incomplete() {
				start, err := nextIDs(bucket, 1)

				if err != nil {
					return err
				}

				key = key.WithID(start)
			}

			stored := rec.Clone()
			stored.SetKey(key)

			if err := bucket.Put(key.Bytes(), record.Encode(stored)); err != nil {
				return fmt.Errorf("could not put record %s: %s", key, err.Error())
			}

			keys[i] = key
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Delete implements Store.Delete
func (store *BBoltStore) Delete(tx Transaction, keys []*record.Key) error {
	return store.update(tx, func(btx *bolt.Tx) error {
		for _, key := range keys {
			bucket := btx.Bucket(kindBucketName(key.Kind()))

			if bucket == nil {
				continue
			}

			if err := bucket.Delete(key.Bytes()); err != nil {
				return fmt.Errorf("could not delete record %s: %s", key, err.Error())
			}
		}

		return nil
	})
}

// Prepare implements Store.Prepare
func (store *BBoltStore) Prepare(tx Transaction, query Query) (PreparedQuery, error) {
	if err := checkTx(tx); err != nil {
		return nil, err
	}

	return &preparedQuery{query: query, scan: func() ([]*record.Record, error) {
		var recs []*record.Record

		scanTx := tx

		if btx, ok := tx.(*bboltTransaction); ok && btx != nil && !btx.active {
			// The handle outlives a settled transaction; fall back to a
			// fresh read so repeated executions keep working
			scanTx = nil
		}

		err := store.view(scanTx, func(btx *bolt.Tx) error {
			bucket := btx.Bucket(kindBucketName(query.Kind))

			if bucket == nil {
				return nil
			}

			return bucket.ForEach(func(_, raw []byte) error {
				rec, err := record.Decode(raw)

				if err != nil {
					return err
				}

				recs = append(recs, rec)

				return nil
			})
		})

		if err != nil {
			return nil, err
		}

		return recs, nil
	}}, nil
}

var _ Transaction = (*bboltTransaction)(nil)

type bboltTransaction struct {
	tx     *bolt.Tx
	id     string
	active bool
}

// ID implements Transaction.ID
func (tx *bboltTransaction) ID() string {
	return tx.id
}

// Active implements Transaction.Active
func (tx *bboltTransaction) Active() bool {
	return tx.active
}

// Commit implements Transaction.Commit
func (tx *bboltTransaction) Commit() error {
	if !tx.active {
		return ErrInactiveTransaction
	}

	tx.active = false

	if err := tx.tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %s", err.Error())
	}

	return nil
}

// Rollback implements Transaction.Rollback
func (tx *bboltTransaction) Rollback() error {
	if !tx.active {
		return ErrInactiveTransaction
	}

	tx.active = false

	if err := tx.tx.Rollback(); err != nil {
		return fmt.Errorf("could not roll back transaction: %s", err.Error())
	}

	return nil
}
