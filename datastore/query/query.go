package query

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kitaindia/slim3/datastore/meta"
	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/datastore/retry"
	"github.com/kitaindia/slim3/storage/remote"
	"github.com/kitaindia/slim3/utils/log"
)

// Config carries the collaborators a ModelQuery executes against
type Config struct {
	Logger   *zap.Logger
	Store    remote.Store
	Registry *meta.Registry
	// Transaction, when set, scopes every execution of the query to the
	// transaction
	Transaction remote.Transaction
}

// ModelQuery accumulates criteria against one model kind and executes
// them as typed materializations. The builder is single-use and not
// safe for concurrent mutation; construction errors are deferred and
// surface on the first execution. Remote-expressible criteria compile
// into the remote query, the rest run in memory after the fetch, with
// the result window applied after in-memory filtering so both paths
// see the same records.
type ModelQuery struct {
	logger   *zap.Logger
	store    remote.Store
	registry *meta.Registry
	tx       remote.Transaction

	m        *meta.ModelMeta
	q        remote.Query
	inMemory []FilterCriterion
	opts     remote.FetchOptions
	err      error
}

// New starts a query over m's kind
func New(config Config, m *meta.ModelMeta) *ModelQuery {
	q := &ModelQuery{
		logger:   log.Default(config.Logger),
		store:    config.Store,
		registry: config.Registry,
		tx:       config.Transaction,
		m:        m,
		q:        remote.Query{Kind: m.Kind},
	}

	if m.New == nil {
		q.err = fmt.Errorf("descriptor for %s cannot construct models", m.ModelName)
	}

	return q
}

// NewWithAncestor starts a query over m's kind scoped to the records
// descending from ancestor
func NewWithAncestor(config Config, m *meta.ModelMeta, ancestor *record.Key) *ModelQuery {
	q := New(config, m)
	q.q.Ancestor = ancestor

	if ancestor == nil {
		q.fail(fmt.Errorf("ancestor key must not be nil"))
	}

	return q
}

func (q *ModelQuery) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Filter adds criteria to the query's conjunction. A criterion built
// against another model type is rejected; criteria the remote language
// cannot express are kept for in-memory evaluation after the fetch.
func (q *ModelQuery) Filter(criteria ...FilterCriterion) *ModelQuery {
	for _, c := range criteria {
		if c == nil {
			continue
		}

		if name := c.ModelName(); name != "" && name != q.m.ModelName {
			q.fail(fmt.Errorf("%w: criterion is for %s, query is for %s",
				ErrModelMismatch, name, q.m.ModelName))

			continue
		}

		if !c.Remote() {
			q.inMemory = append(q.inMemory, c)

			continue
		}

		if err := c.Apply(&q.q); err != nil {
			q.fail(err)
		}
	}

	return q
}

// Sort adds orderings to the query, applied in the order given
func (q *ModelQuery) Sort(criteria ...SortCriterion) *ModelQuery {
	for _, c := range criteria {
		if c == nil {
			continue
		}

		if err := c.Apply(&q.q); err != nil {
			q.fail(err)
		}
	}

	return q
}

// Limit caps the number of results
func (q *ModelQuery) Limit(n int) *ModelQuery {
	q.opts.Limit = n

	return q
}

// Offset skips the first n results
func (q *ModelQuery) Offset(n int) *ModelQuery {
	q.opts.Offset = n

	return q
}

func (q *ModelQuery) prepare() (remote.PreparedQuery, error) {
	if q.err != nil {
		return nil, q.err
	}

	return retry.Call(q.logger, "prepare", func() (remote.PreparedQuery, error) {
		return q.store.Prepare(q.tx, q.q)
	})
}

// materialize resolves the concrete descriptor for rec, honoring the
// class hierarchy, and converts it to a model
func (q *ModelQuery) materialize(rec *record.Record) (any, error) {
	m, err := q.registry.ResolvePolymorphic(q.m, rec)

	if err != nil {
		return nil, err
	}

	return meta.ToModel(m, rec)
}

// fetch runs the remote query and materializes and filters the results.
// The result window is pushed to the driver only when no in-memory
// criteria exist; otherwise it is applied after filtering.
func (q *ModelQuery) fetch() ([]any, error) {
	pq, err := q.prepare()

	if err != nil {
		return nil, err
	}

	opts := q.opts

	if len(q.inMemory) > 0 {
		opts = remote.FetchOptions{}
	}

	recs, err := retry.Call(q.logger, "fetch", func() ([]*record.Record, error) {
		return pq.AsList(opts)
	})

	if err != nil {
		return nil, err
	}

	models := make([]any, 0, len(recs))

	for _, rec := range recs {
		ok, err := q.matchesStored(rec)

		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		model, err := q.materialize(rec)

		if err != nil {
			return nil, err
		}

		models = append(models, model)
	}

	if len(q.inMemory) == 0 {
		return models, nil
	}

	if residual := q.residual(); len(residual) > 0 {
		models, err = FilterInMemory(models, residual...)

		if err != nil {
			return nil, err
		}
	}

	return window(models, q.opts), nil
}

// matchesStored evaluates the deferred criteria that can read the
// stored property directly, before any model exists. Reading the record
// keeps evaluation independent of the concrete type a polymorphic
// result materializes into.
func (q *ModelQuery) matchesStored(rec *record.Record) (bool, error) {
	for _, c := range q.inMemory {
		sc, ok := c.(storedCriterion)

		if !ok {
			continue
		}

		matched, err := sc.matchStored(rec.Get(sc.property()))

		if err != nil {
			return false, err
		}

		if !matched {
			return false, nil
		}
	}

	return true, nil
}

// residual returns the deferred criteria that only evaluate against a
// materialized model
func (q *ModelQuery) residual() []FilterCriterion {
	var residual []FilterCriterion

	for _, c := range q.inMemory {
		if _, ok := c.(storedCriterion); !ok {
			residual = append(residual, c)
		}
	}

	return residual
}

// AsList executes the query and returns every matching model within the
// result window
func (q *ModelQuery) AsList() ([]any, error) {
	return q.fetch()
}

// AsSingle executes the query expecting at most one match. It returns
// nil without error when nothing matches and remote.ErrTooManyResults
// when several records do.
func (q *ModelQuery) AsSingle() (any, error) {
	if len(q.inMemory) > 0 {
		models, err := q.fetch()

		if err != nil {
			return nil, err
		}

		switch len(models) {
		case 0:
			return nil, nil
		case 1:
			return models[0], nil
		}

		return nil, fmt.Errorf("%w: kind %s", remote.ErrTooManyResults, q.m.Kind)
	}

	pq, err := q.prepare()

	if err != nil {
		return nil, err
	}

	rec, err := retry.Call(q.logger, "single", pq.AsSingle)

	if err != nil {
		return nil, err
	}

	if rec == nil {
		return nil, nil
	}

	return q.materialize(rec)
}

// AsIterator executes the query and returns an iterator over the
// matching models
func (q *ModelQuery) AsIterator() (*Iterator, error) {
	models, err := q.fetch()

	if err != nil {
		return nil, err
	}

	return &Iterator{models: models}, nil
}

// Count executes the query and returns the number of matches. The
// result window does not apply to counting.
func (q *ModelQuery) Count() (int, error) {
	if len(q.inMemory) > 0 {
		opts := q.opts
		q.opts = remote.FetchOptions{}
		models, err := q.fetch()
		q.opts = opts

		if err != nil {
			return 0, err
		}

		return len(models), nil
	}

	pq, err := q.prepare()

	if err != nil {
		return 0, err
	}

	return retry.Call(q.logger, "count", pq.Count)
}

// Min returns the smallest non-nil value of the named attribute among
// the matching records, nil when no record carries one. Filters apply;
// the result window and orderings do not.
func (q *ModelQuery) Min(name string) (any, error) {
	return q.extreme(name, false)
}

// Max returns the largest non-nil value of the named attribute among
// the matching records, nil when no record carries one
func (q *ModelQuery) Max(name string) (any, error) {
	return q.extreme(name, true)
}

func (q *ModelQuery) extreme(name string, descending bool) (any, error) {
	if q.err != nil {
		return nil, q.err
	}

	a := q.m.Attr(name)

	if a == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, q.m.ModelName, name)
	}

	// Ordered execution excludes records lacking the attribute, so the
	// scan only has to skip explicit nil values.
	ordered := q.q
	ordered.Orders = []remote.Order{{Property: name, Descending: descending}}

	pq, err := retry.Call(q.logger, "prepare", func() (remote.PreparedQuery, error) {
		return q.store.Prepare(q.tx, ordered)
	})

	if err != nil {
		return nil, err
	}

	recs, err := retry.Call(q.logger, "extreme", func() ([]*record.Record, error) {
		return pq.AsList(remote.FetchOptions{})
	})

	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if rec.Get(name) == nil {
			continue
		}

		if len(q.inMemory) > 0 {
			ok, err := q.matchesStored(rec)

			if err != nil {
				return nil, err
			}

			if !ok {
				continue
			}

			if residual := q.residual(); len(residual) > 0 {
				model, err := q.materialize(rec)

				if err != nil {
					return nil, err
				}

				accepted, err := FilterInMemory([]any{model}, residual...)

				if err != nil {
					return nil, err
				}

				if len(accepted) == 0 {
					continue
				}
			}
		}

		return meta.FromStored(a, rec.Get(name))
	}

	return nil, nil
}

// window applies a fetch window to an in-memory result
func window(models []any, opts remote.FetchOptions) []any {
	if opts.Offset > 0 {
		if opts.Offset >= len(models) {
			return models[:0]
		}

		models = models[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(models) {
		models = models[:opts.Limit]
	}

	return models
}

// Iterator walks a query result. Call Next before the first Model.
type Iterator struct {
	models []any
	pos    int
	model  any
}

// Next advances to the next model, false when exhausted
func (it *Iterator) Next() bool {
	if it.pos >= len(it.models) {
		it.model = nil

		return false
	}

	it.model = it.models[it.pos]
	it.pos++

	return true
}

// Model returns the model at the current position
func (it *Iterator) Model() any {
	return it.model
}
