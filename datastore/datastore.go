// Package datastore is the typed facade over the remote hierarchical
// key/value store. It converts between models and records through
// registered descriptors, wraps every remote call in the uniform retry
// policy, and validates arguments before anything reaches the network.
package datastore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kitaindia/slim3/datastore/meta"
	"github.com/kitaindia/slim3/datastore/query"
	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/datastore/retry"
	"github.com/kitaindia/slim3/storage/remote"
	"github.com/kitaindia/slim3/utils/log"
)

// Config configures a Datastore
type Config struct {
	Logger   *zap.Logger
	Store    remote.Store
	Registry *meta.Registry
}

// Datastore is the storage access facade. It is safe for concurrent
// use; transactions are the single-threaded exception and stay with the
// caller that began them.
type Datastore struct {
	logger   *zap.Logger
	store    remote.Store
	registry *meta.Registry
}

// New creates a Datastore over the configured remote store
func New(config Config) (*Datastore, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilArgument)
	}

	if config.Registry == nil {
		return nil, fmt.Errorf("%w: registry", ErrNilArgument)
	}

	return &Datastore{
		logger:   log.Default(config.Logger),
		store:    config.Store,
		registry: config.Registry,
	}, nil
}

// Registry returns the descriptor registry the facade resolves against
func (s *Datastore) Registry() *meta.Registry {
	return s.registry
}

// BeginTransaction starts a server-side unit of work
func (s *Datastore) BeginTransaction() (remote.Transaction, error) {
	tx, err := retry.Call(s.logger, "begin transaction", s.store.BeginTransaction)

	if err != nil {
		return nil, err
	}

	s.logger.Debug("transaction started", zap.String("tx", tx.ID()))

	return tx, nil
}

// Commit applies the transaction's writes. A nil transaction is an
// error; an already settled one fails with ErrInactiveTransaction
// before any remote call.
func (s *Datastore) Commit(tx remote.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction", ErrNilArgument)
	}

	if !tx.Active() {
		return fmt.Errorf("%w: %s", ErrInactiveTransaction, tx.ID())
	}

	return retry.Run(s.logger, "commit", tx.Commit)
}

// Rollback discards the transaction's writes. Settled transactions are
// rejected the same way Commit rejects them.
func (s *Datastore) Rollback(tx remote.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction", ErrNilArgument)
	}

	if !tx.Active() {
		return fmt.Errorf("%w: %s", ErrInactiveTransaction, tx.ID())
	}

	return retry.Run(s.logger, "rollback", tx.Rollback)
}

// AllocateIDs reserves n ids for keys of the kind
func (s *Datastore) AllocateIDs(kind string, n int) (remote.KeyRange, error) {
	return s.AllocateChildIDs(nil, kind, n)
}

// AllocateChildIDs reserves n ids for keys of the kind scoped under
// parent
func (s *Datastore) AllocateChildIDs(parent *record.Key, kind string, n int) (remote.KeyRange, error) {
	if kind == "" {
		return remote.KeyRange{}, fmt.Errorf("%w: kind", ErrNilArgument)
	}

	if n <= 0 {
		return remote.KeyRange{}, fmt.Errorf("cannot allocate %d ids", n)
	}

	return retry.Call(s.logger, "allocate ids", func() (remote.KeyRange, error) {
		return s.store.AllocateIDs(parent, kind, n)
	})
}

// Get returns the model stored under key, materialized through m or,
// for polymorphic records, through the most derived registered
// descriptor assignable to m. A missing key fails with NotFoundError.
func (s *Datastore) Get(m *meta.ModelMeta, key *record.Key) (any, error) {
	return s.GetTx(nil, m, key)
}

// GetTx is Get within a transaction
func (s *Datastore) GetTx(tx remote.Transaction, m *meta.ModelMeta, key *record.Key) (any, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: model metadata", ErrNilArgument)
	}

	rec, err := s.GetRecordTx(tx, key)

	if err != nil {
		return nil, err
	}

	concrete, err := s.registry.ResolvePolymorphic(m, rec)

	if err != nil {
		return nil, err
	}

	return meta.ToModel(concrete, rec)
}

// GetMulti returns the models for keys in order, with nil slots for
// keys that matched nothing
func (s *Datastore) GetMulti(m *meta.ModelMeta, keys []*record.Key) ([]any, error) {
	return s.GetMultiTx(nil, m, keys)
}

// GetMultiTx is GetMulti within a transaction
func (s *Datastore) GetMultiTx(tx remote.Transaction, m *meta.ModelMeta, keys []*record.Key) ([]any, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: model metadata", ErrNilArgument)
	}

	recs, err := s.GetRecordMultiTx(tx, keys)

	if err != nil {
		return nil, err
	}

	models := make([]any, len(recs))

	for i, rec := range recs {
		if rec == nil {
			continue
		}

		concrete, err := s.registry.ResolvePolymorphic(m, rec)

		if err != nil {
			return nil, err
		}

		models[i], err = meta.ToModel(concrete, rec)

		if err != nil {
			return nil, err
		}
	}

	return models, nil
}

// Put persists the model and returns its final key. Incomplete keys
// receive a server-assigned id, written back onto the model; when the
// descriptor designates a version attribute the model's counter is
// incremented before the write.
func (s *Datastore) Put(model any) (*record.Key, error) {
	return s.PutTx(nil, model)
}

// PutTx is Put within a transaction
func (s *Datastore) PutTx(tx remote.Transaction, model any) (*record.Key, error) {
	keys, err := s.PutMultiTx(tx, []any{model})

	if err != nil {
		return nil, err
	}

	return keys[0], nil
}

// PutMulti persists the models as one atomic batch and returns their
// final keys in order. Elements may be typed models or raw
// *record.Record values; raw records pass through unconverted.
func (s *Datastore) PutMulti(models []any) ([]*record.Key, error) {
	return s.PutMultiTx(nil, models)
}

// PutMultiTx is PutMulti within a transaction
func (s *Datastore) PutMultiTx(tx remote.Transaction, models []any) ([]*record.Key, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: models", ErrNilArgument)
	}

	if err := s.checkTx(tx); err != nil {
		return nil, err
	}

	metas, err := s.registry.MetasFor(models)

	if err != nil {
		return nil, err
	}

	recs, err := meta.ToRecords(metas, models)

	if err != nil {
		return nil, err
	}

	keys, err := retry.Call(s.logger, "put", func() ([]*record.Key, error) {
		return s.store.Put(tx, recs)
	})

	if err != nil {
		return nil, err
	}

	if err := meta.AssignKeys(metas, models, keys); err != nil {
		return nil, err
	}

	return keys, nil
}

// Delete removes the record stored under key. Missing keys are not an
// error.
func (s *Datastore) Delete(key *record.Key) error {
	return s.DeleteTx(nil, key)
}

// DeleteTx is Delete within a transaction
func (s *Datastore) DeleteTx(tx remote.Transaction, key *record.Key) error {
	if key == nil {
		return fmt.Errorf("%w: key", ErrNilArgument)
	}

	return s.DeleteMultiTx(tx, []*record.Key{key})
}

// DeleteMulti removes the records for keys as one atomic batch
func (s *Datastore) DeleteMulti(keys []*record.Key) error {
	return s.DeleteMultiTx(nil, keys)
}

// DeleteMultiTx is DeleteMulti within a transaction
func (s *Datastore) DeleteMultiTx(tx remote.Transaction, keys []*record.Key) error {
	if err := s.checkKeys(keys); err != nil {
		return err
	}

	if err := s.checkTx(tx); err != nil {
		return err
	}

	return retry.Run(s.logger, "delete", func() error {
		return s.store.Delete(tx, keys)
	})
}

// GetRecord returns the raw record stored under key, NotFoundError if
// none exists
func (s *Datastore) GetRecord(key *record.Key) (*record.Record, error) {
	return s.GetRecordTx(nil, key)
}

// GetRecordTx is GetRecord within a transaction
func (s *Datastore) GetRecordTx(tx remote.Transaction, key *record.Key) (*record.Record, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: key", ErrNilArgument)
	}

	if err := s.checkTx(tx); err != nil {
		return nil, err
	}

	rec, err := retry.Call(s.logger, "get", func() (*record.Record, error) {
		return s.store.Get(tx, key)
	})

	if IsNotFound(err) {
		return nil, &NotFoundError{Key: key}
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetRecordMulti returns the raw records for keys in order, with nil
// slots for keys that matched nothing
func (s *Datastore) GetRecordMulti(keys []*record.Key) ([]*record.Record, error) {
	return s.GetRecordMultiTx(nil, keys)
}

// GetRecordMultiTx is GetRecordMulti within a transaction
func (s *Datastore) GetRecordMultiTx(tx remote.Transaction, keys []*record.Key) ([]*record.Record, error) {
	if err := s.checkKeys(keys); err != nil {
		return nil, err
	}

	if err := s.checkTx(tx); err != nil {
		return nil, err
	}

	return retry.Call(s.logger, "get multi", func() ([]*record.Record, error) {
		return s.store.GetMulti(tx, keys)
	})
}

// Query starts a typed query over m's kind
func (s *Datastore) Query(m *meta.ModelMeta) *query.ModelQuery {
	return query.New(s.queryConfig(nil), m)
}

// QueryTx is Query scoped to a transaction
func (s *Datastore) QueryTx(tx remote.Transaction, m *meta.ModelMeta) *query.ModelQuery {
	return query.New(s.queryConfig(tx), m)
}

// QueryAncestor starts a typed query over the records descending from
// ancestor
func (s *Datastore) QueryAncestor(m *meta.ModelMeta, ancestor *record.Key) *query.ModelQuery {
	return query.NewWithAncestor(s.queryConfig(nil), m, ancestor)
}

// QueryAncestorTx is QueryAncestor scoped to a transaction
func (s *Datastore) QueryAncestorTx(tx remote.Transaction, m *meta.ModelMeta, ancestor *record.Key) *query.ModelQuery {
	return query.NewWithAncestor(s.queryConfig(tx), m, ancestor)
}

func (s *Datastore) queryConfig(tx remote.Transaction) query.Config {
	return query.Config{
		Logger:      s.logger,
		Store:       s.store,
		Registry:    s.registry,
		Transaction: tx,
	}
}

// checkTx rejects settled transactions before any remote call. A nil
// transaction means non-transactional execution and passes.
func (s *Datastore) checkTx(tx remote.Transaction) error {
	if tx != nil && !tx.Active() {
		return fmt.Errorf("%w: %s", ErrInactiveTransaction, tx.ID())
	}

	return nil
}

func (s *Datastore) checkKeys(keys []*record.Key) error {
	if keys == nil {
		return fmt.Errorf("%w: keys", ErrNilArgument)
	}

	for i, key := range keys {
		if key == nil {
			return fmt.Errorf("%w: key %d", ErrNilArgument, i)
		}
	}

	return nil
}
