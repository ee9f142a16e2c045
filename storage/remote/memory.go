package remote

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"

	"github.com/kitaindia/slim3/datastore/record"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory driver. It keeps one treemap per kind
// ordered by encoded key, and can be scripted to fail upcoming
// operations, which is how retry behavior is exercised in tests.
type MemoryStore struct {
	mu     sync.Mutex
	kinds  map[string]*treemap.Map
	nextID map[string]int64
	faults map[string][]error
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kinds:  map[string]*treemap.Map{},
		nextID: map[string]int64{},
		faults: map[string][]error{},
	}
}

// FailNext queues errors to be returned by the next invocations of the
// named operation, one per call, before the operation does any work.
// Operation names match the Store method names, with query
// materializations filed under "Fetch".
func (store *MemoryStore) FailNext(op string, errs ...error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.faults[op] = append(store.faults[op], errs...)
}

func (store *MemoryStore) takeFault(op string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return ErrClosed
	}

	queue := store.faults[op]

	if len(queue) == 0 {
		return nil
	}

	store.faults[op] = queue[1:]

	return queue[0]
}

func (store *MemoryStore) kind(name string) *treemap.Map {
	m, ok := store.kinds[name]

	if !ok {
		m = treemap.NewWith(func(a, b interface{}) int {
			return bytes.Compare(a.([]byte), b.([]byte))
		})
		store.kinds[name] = m
	}

	return m
}

func (store *MemoryStore) allocate(kind string, n int) KeyRange {
	start := store.nextID[kind] + 1
	store.nextID[kind] += int64(n)

	return KeyRange{Kind: kind, Start: start, End: start + int64(n) - 1}
}

// BeginTransaction implements Store.BeginTransaction
func (store *MemoryStore) BeginTransaction() (Transaction, error) {
	if err := store.takeFault("BeginTransaction"); err != nil {
		return nil, err
	}

	return &memoryTransaction{store: store, id: uuid.New().String(), active: true}, nil
}

// AllocateIDs implements Store.AllocateIDs
func (store *MemoryStore) AllocateIDs(parent *record.Key, kind string, n int) (KeyRange, error) {
	if err := store.takeFault("AllocateIDs"); err != nil {
		return KeyRange{}, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	r := store.allocate(kind, n)
	r.Parent = parent

	return r, nil
}

// Get implements Store.Get
func (store *MemoryStore) Get(tx Transaction, key *record.Key) (*record.Record, error) {
	if err := store.takeFault("Get"); err != nil {
		return nil, err
	}

	if err := checkTx(tx); err != nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	rec := store.lookup(tx, key)

	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return rec.Clone(), nil
}

// lookup reads a record, observing the transaction's pending writes.
// Caller holds the store lock.
func (store *MemoryStore) lookup(tx Transaction, key *record.Key) *record.Record {
	if mtx, ok := tx.(*memoryTransaction); ok && mtx != nil {
		if rec, shadowed := mtx.pending(key); shadowed {
			return rec
		}
	}

	v, ok := store.kind(key.Kind()).Get(key.Bytes())

	if !ok {
		return nil
	}

	return v.(*record.Record)
}

// GetMulti implements Store.GetMulti
func (store *MemoryStore) GetMulti(tx Transaction, keys []*record.Key) ([]*record.Record, error) {
	if err := store.takeFault("GetMulti"); err != nil {
		return nil, err
	}

	if err := checkTx(tx); err != nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	recs := make([]*record.Record, len(keys))

	for i, key := range keys {
		if rec := store.lookup(tx, key); rec != nil {
			recs[i] = rec.Clone()
		}
	}

	return recs, nil
}

// Put implements Store.Put
func (store *MemoryStore) Put(tx Transaction, records []*record.Record) ([]*record.Key, error) {
	if err := store.takeFault("Put"); err != nil {
		return nil, err
	}

	if err := checkTx(tx); err != nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	keys := make([]*record.Key, len(records))

	for i, rec := range records {
		key := rec.Key()

		if key.Incomplete() {
			key = key.WithID(store.allocate(key.Kind(), 1).Start)
		}

		keys[i] = key
		stored := rec.Clone()
		stored.SetKey(key)

		if mtx, ok := tx.(*memoryTransaction); ok && mtx != nil {
			mtx.writes = append(mtx.writes, txWrite{key: key, rec: stored})
		} else {
			store.kind(key.Kind()).Put(key.Bytes(), stored)
		}
	}

	return keys, nil
}

// Delete implements Store.Delete
func (store *MemoryStore) Delete(tx Transaction, keys []*record.Key) error {
	if err := store.takeFault("Delete"); err != nil {
		return err
	}

	if err := checkTx(tx); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	for _, key := range keys {
		if mtx, ok := tx.(*memoryTransaction); ok && mtx != nil {
			mtx.writes = append(mtx.writes, txWrite{key: key})
		} else {
			store.kind(key.Kind()).Remove(key.Bytes())
		}
	}

	return nil
}

// Prepare implements Store.Prepare
func (store *MemoryStore) Prepare(tx Transaction, query Query) (PreparedQuery, error) {
	if err := store.takeFault("Prepare"); err != nil {
		return nil, err
	}

	if err := checkTx(tx); err != nil {
		return nil, err
	}

	return &preparedQuery{query: query, scan: func() ([]*record.Record, error) {
		if err := store.takeFault("Fetch"); err != nil {
			return nil, err
		}

		store.mu.Lock()
		defer store.mu.Unlock()

		var recs []*record.Record

		mtx, _ := tx.(*memoryTransaction)
		seen := map[string]bool{}
		iter := store.kind(query.Kind).Iterator()

		for iter.Next() {
			rec := iter.Value().(*record.Record)

			if mtx != nil {
				if shadow, shadowed := mtx.pending(rec.Key()); shadowed {
					seen[string(rec.Key().Bytes())] = true

					if shadow != nil {
						recs = append(recs, shadow.Clone())
					}

					continue
				}
			}

			recs = append(recs, rec.Clone())
		}

		// Buffered inserts have no stored counterpart to shadow; add
		// them too, last write per key winning
		if mtx != nil {
			for i := len(mtx.writes) - 1; i >= 0; i-- {
				w := mtx.writes[i]
				id := string(w.key.Bytes())

				if seen[id] {
					continue
				}

				seen[id] = true

				if w.rec != nil && w.key.Kind() == query.Kind {
					recs = append(recs, w.rec.Clone())
				}
			}
		}

		return recs, nil
	}}, nil
}

// Close implements Store.Close
func (store *MemoryStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.closed = true

	return nil
}

func checkTx(tx Transaction) error {
	if tx != nil && !tx.Active() {
		return ErrInactiveTransaction
	}

	return nil
}

type txWrite struct {
	key *record.Key
	// rec is nil for a delete
	rec *record.Record
}

var _ Transaction = (*memoryTransaction)(nil)

// memoryTransaction buffers writes and applies them on commit. Reads
// through the transaction observe its own pending writes, last write
// winning per key.
type memoryTransaction struct {
	store  *MemoryStore
	id     string
	active bool
	writes []txWrite
}

func (tx *memoryTransaction) pending(key *record.Key) (*record.Record, bool) {
	for i := len(tx.writes) - 1; i >= 0; i-- {
		if tx.writes[i].key.Equal(key) {
			return tx.writes[i].rec, true
		}
	}

	return nil, false
}

// ID implements Transaction.ID
func (tx *memoryTransaction) ID() string {
	return tx.id
}

// Active implements Transaction.Active
func (tx *memoryTransaction) Active() bool {
	return tx.active
}

// Commit implements Transaction.Commit
func (tx *memoryTransaction) Commit() error {
	if !tx.active {
		return ErrInactiveTransaction
	}

	if err := tx.store.takeFault("Commit"); err != nil {
		return err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	tx.active = false

	for _, w := range tx.writes {
		kind := tx.store.kind(w.key.Kind())

		if w.rec != nil {
			kind.Put(w.key.Bytes(), w.rec)
		} else {
			kind.Remove(w.key.Bytes())
		}
	}

	return nil
}

// Rollback implements Transaction.Rollback
func (tx *memoryTransaction) Rollback() error {
	if !tx.active {
		return ErrInactiveTransaction
	}

	if err := tx.store.takeFault("Rollback"); err != nil {
		return err
	}

	tx.active = false
	tx.writes = nil

	return nil
}
