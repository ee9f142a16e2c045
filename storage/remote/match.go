package remote

import (
	"fmt"
	"sort"

	"github.com/kitaindia/slim3/datastore/record"
)

// Shared query evaluation used by every driver, so a filter or sort
// behaves identically whether the backing store is the treemap fake,
// bbolt or sqlite.

// Matches reports whether rec satisfies the query's ancestor scope and
// every filter clause
func Matches(rec *record.Record, query Query) (bool, error) {
	if rec.Key().Kind() != query.Kind {
		return false, nil
	}

	if query.Ancestor != nil && !rec.Key().HasAncestor(query.Ancestor) {
		return false, nil
	}

	for _, f := range query.Filters {
		if !rec.Has(f.Property) {
			return false, nil
		}

		cmp, err := record.Compare(rec.Get(f.Property), f.Value)

		if err != nil {
			return false, fmt.Errorf("filter %s %s: %w", f.Property, f.Op, err)
		}

		var ok bool

		switch f.Op {
		case OpEqual:
			ok = cmp == 0
		case OpLessThan:
			ok = cmp < 0
		case OpLessThanOrEqual:
			ok = cmp <= 0
		case OpGreaterThan:
			ok = cmp > 0
		case OpGreaterThanOrEqual:
			ok = cmp >= 0
		default:
			return false, fmt.Errorf("unknown filter operator %d", f.Op)
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// SortRecords orders recs by the query's order clauses, first clause
// primary and later clauses breaking ties. Records lacking any ordered
// property are excluded, mirroring the remote query language. The sort
// is stable. With no order clauses recs is returned untouched.
func SortRecords(recs []*record.Record, orders []Order) ([]*record.Record, error) {
	if len(orders) == 0 {
		return recs, nil
	}

	kept := make([]*record.Record, 0, len(recs))

	for _, rec := range recs {
		hasAll := true

		for _, o := range orders {
			if !rec.Has(o.Property) {
				hasAll = false

				break
			}
		}

		if hasAll {
			kept = append(kept, rec)
		}
	}

	var sortErr error

	sort.SliceStable(kept, func(i, j int) bool {
		for _, o := range orders {
			cmp, err := record.Compare(kept[i].Get(o.Property), kept[j].Get(o.Property))

			if err != nil {
				if sortErr == nil {
					sortErr = fmt.Errorf("order by %s: %w", o.Property, err)
				}

				return false
			}

			if cmp == 0 {
				continue
			}

			if o.Descending {
				return cmp > 0
			}

			return cmp < 0
		}

		return false
	})

	if sortErr != nil {
		return nil, sortErr
	}

	return kept, nil
}

func window(recs []*record.Record, opts FetchOptions) []*record.Record {
	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			return nil
		}

		recs = recs[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(recs) {
		recs = recs[:opts.Limit]
	}

	return recs
}

// preparedQuery implements PreparedQuery on top of a driver-supplied
// kind scan. Each materialization runs a fresh scan, so one prepared
// handle may be executed repeatedly.
type preparedQuery struct {
	query Query
	// scan fetches every record of the query's kind
	scan func() ([]*record.Record, error)
}

func (pq *preparedQuery) matching() ([]*record.Record, error) {
	recs, err := pq.scan()

	if err != nil {
		return nil, err
	}

	matched := make([]*record.Record, 0, len(recs))

	for _, rec := range recs {
		ok, err := Matches(rec, pq.query)

		if err != nil {
			return nil, err
		}

		if ok {
			matched = append(matched, rec)
		}
	}

	return SortRecords(matched, pq.query.Orders)
}

func (pq *preparedQuery) AsList(opts FetchOptions) ([]*record.Record, error) {
	recs, err := pq.matching()

	if err != nil {
		return nil, err
	}

	return window(recs, opts), nil
}

func (pq *preparedQuery) AsIterator(opts FetchOptions) (Iterator, error) {
	recs, err := pq.AsList(opts)

	if err != nil {
		return nil, err
	}

	return &sliceIterator{recs: recs}, nil
}

func (pq *preparedQuery) AsSingle() (*record.Record, error) {
	recs, err := pq.matching()

	if err != nil {
		return nil, err
	}

	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recs[0], nil
	}

	return nil, fmt.Errorf("%w: %d matches", ErrTooManyResults, len(recs))
}

func (pq *preparedQuery) Count() (int, error) {
	recs, err := pq.matching()

	if err != nil {
		return 0, err
	}

	return len(recs), nil
}

var _ Iterator = (*sliceIterator)(nil)

type sliceIterator struct {
	recs []*record.Record
	pos  int
}

func (iter *sliceIterator) Next() bool {
	if iter.pos >= len(iter.recs) {
		return false
	}

	iter.pos++

	return true
}

func (iter *sliceIterator) Record() *record.Record {
	return iter.recs[iter.pos-1]
}

func (iter *sliceIterator) Error() error {
	return nil
}
