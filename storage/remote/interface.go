// Package remote defines the client contract for the remote
// hierarchical key/value store, the only network-facing collaborator of
// the access layer, together with an in-memory driver for tests, an
// embedded bbolt driver and a sqlite driver.
package remote

import (
	"errors"

	"github.com/kitaindia/slim3/datastore/record"
)

var (
	// ErrTimeout is the transient failure class. Callers retry
	// operations failing with it; every other error is permanent.
	ErrTimeout = errors.New("remote store timed out")
	// ErrNotFound indicates a single-key lookup that matched no record
	ErrNotFound = errors.New("no record for key")
	// ErrTooManyResults indicates a single-result query that matched
	// more than one record
	ErrTooManyResults = errors.New("query matched more than one record")
	// ErrInactiveTransaction indicates an operation handed a committed
	// or rolled-back transaction
	ErrInactiveTransaction = errors.New("transaction is not active")
	// ErrClosed indicates the store was closed
	ErrClosed = errors.New("remote store was closed")
)

// Store is a client for the remote store. Implementations own the
// translation between records and their wire form; consumers reach the
// network only through this interface. Any operation may fail with
// ErrTimeout, which marks it as safe to retry.
type Store interface {
	// BeginTransaction starts a server-side unit of work
	BeginTransaction() (Transaction, error)
	// AllocateIDs reserves n ids for keys of this kind scoped under
	// parent. A nil parent allocates unscoped ids.
	AllocateIDs(parent *record.Key, kind string, n int) (KeyRange, error)
	// Get returns the record for key, ErrNotFound if none exists.
	// A nil tx executes outside any transaction.
	Get(tx Transaction, key *record.Key) (*record.Record, error)
	// GetMulti returns records positionally matching keys, with nil
	// slots for keys that matched nothing
	GetMulti(tx Transaction, keys []*record.Key) ([]*record.Record, error)
	// Put writes records atomically as one batch, assigning ids to
	// incomplete keys, and returns the final key of each record in order
	Put(tx Transaction, records []*record.Record) ([]*record.Key, error)
	// Delete removes the records for keys as one batch. Keys matching
	// nothing are ignored.
	Delete(tx Transaction, keys []*record.Key) error
	// Prepare obtains an executable handle for query. The handle may be
	// executed any number of times; each execution fetches fresh results.
	Prepare(tx Transaction, query Query) (PreparedQuery, error)
	// Close releases the store. Later operations fail with ErrClosed.
	Close() error
}

// Transaction is an opaque handle to a server-side unit of work. It is
// single-threaded: the caller that begins it passes it explicitly to
// every participating operation and settles it exactly once.
type Transaction interface {
	// ID identifies the transaction for logging
	ID() string
	// Active reports whether the transaction can still be used
	Active() bool
	// Commit applies the transaction's writes. A commit failing with
	// ErrTimeout may leave the transaction active so the caller can
	// retry it; any other outcome settles the transaction.
	Commit() error
	// Rollback discards the transaction's writes
	Rollback() error
}

// KeyRange is a contiguous range of allocated ids for one kind
type KeyRange struct {
	Parent *record.Key
	Kind   string
	// Start and End are inclusive id bounds
	Start int64
	End   int64
}

// Size returns the number of allocated ids
func (r KeyRange) Size() int {
	return int(r.End - r.Start + 1)
}

// Keys materializes the range as complete keys
func (r KeyRange) Keys() []*record.Key {
	keys := make([]*record.Key, 0, r.Size())

	for id := r.Start; id <= r.End; id++ {
		if r.Parent != nil {
			keys = append(keys, record.NewChildIDKey(r.Parent, r.Kind, id))
		} else {
			keys = append(keys, record.NewIDKey(r.Kind, id))
		}
	}

	return keys
}

// Operator is a remote filter comparison
type Operator int

const (
	// OpEqual matches records whose property equals the comparand
	OpEqual Operator = iota + 1
	// OpLessThan matches records whose property orders before the comparand
	OpLessThan
	// OpLessThanOrEqual matches records at or before the comparand
	OpLessThanOrEqual
	// OpGreaterThan matches records ordering after the comparand
	OpGreaterThan
	// OpGreaterThanOrEqual matches records at or after the comparand
	OpGreaterThanOrEqual
)

func (op Operator) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	}

	return "?"
}

// Filter is one conjunctive clause of a remote query
type Filter struct {
	Property string
	Op       Operator
	Value    any
}

// Order is one sort clause of a remote query. Records lacking the
// property are excluded from ordered results.
type Order struct {
	Property   string
	Descending bool
}

// Query is the remote query representation: one kind, optionally scoped
// to an ancestor key, with conjunctive filters and lexicographic orders
type Query struct {
	Kind     string
	Ancestor *record.Key
	Filters  []Filter
	Orders   []Order
}

// FetchOptions bound a query execution's result window
type FetchOptions struct {
	// Offset skips the first records of the result
	Offset int
	// Limit caps the result size; zero or negative means no limit
	Limit int
}

// PreparedQuery is an executable query handle
type PreparedQuery interface {
	// AsList fetches matching records within the fetch window
	AsList(opts FetchOptions) ([]*record.Record, error)
	// AsIterator fetches matching records for sequential consumption
	AsIterator(opts FetchOptions) (Iterator, error)
	// AsSingle fetches the only matching record, nil if none matches
	// and ErrTooManyResults if several do
	AsSingle() (*record.Record, error)
	// Count returns the number of matching records
	Count() (int, error)
}

// Iterator walks a query result. Call Next before the first Record.
type Iterator interface {
	// Next advances to the next record, false when exhausted or failed
	Next() bool
	// Record returns the record at the current position
	Record() *record.Record
	// Error returns the error that stopped iteration, if any
	Error() error
}
