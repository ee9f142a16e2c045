// Package query builds and executes typed queries over one model kind.
// Criteria are immutable value objects bound to a model attribute; a
// criterion either compiles into the remote query language or, when the
// language cannot express it, is evaluated in memory after the fetch.
// One interface covers both paths behind the Remote capability flag.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kitaindia/slim3/datastore/meta"
	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/storage/remote"
)

var (
	// ErrModelMismatch indicates a criterion built against a different
	// model type than the query it was handed to
	ErrModelMismatch = errors.New("criterion model differs from query model")
	// ErrUnknownAttribute indicates a criterion over an attribute the
	// descriptor does not declare
	ErrUnknownAttribute = errors.New("model does not declare attribute")
	// ErrNilList indicates a nil model list where one was required
	ErrNilList = errors.New("model list must not be nil")
	// ErrNilModel indicates a nil element inside a model list
	ErrNilModel = errors.New("model list element must not be nil")
)

// FilterCriterion is one conjunctive filter clause. Remote reports
// whether the clause is expressible in the remote query language;
// inexpressible clauses are evaluated through Accept after the fetch.
type FilterCriterion interface {
	// ModelName names the model type the criterion was built against
	ModelName() string
	// Remote reports whether Apply can compile this criterion into the
	// remote query representation
	Remote() bool
	// Apply compiles the criterion into the remote query
	Apply(q *remote.Query) error
	// Accept evaluates the criterion against a model in memory
	Accept(model any) (bool, error)
}

// SortCriterion is one ordering clause, usable both remotely and as a
// comparator for in-memory sorting
type SortCriterion interface {
	// Apply appends the ordering to the remote query
	Apply(q *remote.Query) error
	// Compare orders two models by the criterion's attribute
	Compare(a, b any) (int, error)
}

// AttributeMeta is a handle on one model attribute, the factory for
// criteria over it
type AttributeMeta struct {
	m    *meta.ModelMeta
	attr *meta.Attribute
}

// Attr returns the criterion factory for the named attribute of m.
// An unknown name is reported when the first criterion built from the
// handle is used.
func Attr(m *meta.ModelMeta, name string) AttributeMeta {
	a := AttributeMeta{m: m, attr: m.Attr(name)}

	if a.attr == nil {
		a.attr = &meta.Attribute{Name: name}
	}

	return a
}

func (a AttributeMeta) check() error {
	if a.m.Attr(a.attr.Name) == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, a.m.ModelName, a.attr.Name)
	}

	return nil
}

func (a AttributeMeta) filter(op remote.Operator, value any) FilterCriterion {
	c := &operatorCriterion{a: a, op: op, err: a.check()}

	if c.err == nil {
		c.value, c.err = record.Normalize(value)
	}

	return c
}

// Equal matches models whose attribute equals value
func (a AttributeMeta) Equal(value any) FilterCriterion {
	return a.filter(remote.OpEqual, value)
}

// LessThan matches models whose attribute orders before value
func (a AttributeMeta) LessThan(value any) FilterCriterion {
	return a.filter(remote.OpLessThan, value)
}

// LessThanOrEqual matches models at or before value
func (a AttributeMeta) LessThanOrEqual(value any) FilterCriterion {
	return a.filter(remote.OpLessThanOrEqual, value)
}

// GreaterThan matches models whose attribute orders after value
func (a AttributeMeta) GreaterThan(value any) FilterCriterion {
	return a.filter(remote.OpGreaterThan, value)
}

// GreaterThanOrEqual matches models at or after value
func (a AttributeMeta) GreaterThanOrEqual(value any) FilterCriterion {
	return a.filter(remote.OpGreaterThanOrEqual, value)
}

// NotEqual matches models whose attribute differs from value. It is
// not expressible remotely and always filters in memory.
func (a AttributeMeta) NotEqual(value any) FilterCriterion {
	c := &notEqualCriterion{a: a, err: a.check()}

	if c.err == nil {
		c.value, c.err = record.Normalize(value)
	}

	return c
}

// In matches models whose attribute equals any of values. In-memory only.
func (a AttributeMeta) In(values ...any) FilterCriterion {
	c := &inCriterion{a: a, err: a.check()}

	for _, v := range values {
		if c.err != nil {
			break
		}

		var n any

		n, c.err = record.Normalize(v)
		c.values = append(c.values, n)
	}

	return c
}

// StartsWith matches models whose string attribute has the prefix.
// In-memory only.
func (a AttributeMeta) StartsWith(prefix string) FilterCriterion {
	return &startsWithCriterion{a: a, prefix: prefix, err: a.check()}
}

// Asc orders ascending by the attribute
func (a AttributeMeta) Asc() SortCriterion {
	return &sortCriterion{a: a, err: a.check()}
}

// Desc orders descending by the attribute
func (a AttributeMeta) Desc() SortCriterion {
	return &sortCriterion{a: a, descending: true, err: a.check()}
}

// modelValue reads the criterion's attribute from a model, normalized
// for comparison
func (a AttributeMeta) modelValue(model any) (any, error) {
	if model == nil {
		return nil, ErrNilModel
	}

	return record.Normalize(a.attr.Get(model))
}

// storedCriterion is implemented by every criterion built in this
// package. The query engine evaluates deferred criteria through it,
// against the fetched record's stored property, so heterogeneous
// results of a polymorphic kind never pass through one concrete type's
// getter. Accept stays the contract for criteria from other packages
// and for FilterInMemory over homogeneous model lists.
type storedCriterion interface {
	// property names the stored property the criterion reads
	property() string
	// matchStored evaluates the criterion against a stored value
	matchStored(v any) (bool, error)
}

type operatorCriterion struct {
	a     AttributeMeta
	op    remote.Operator
	value any
	err   error
}

func (c *operatorCriterion) ModelName() string {
	return c.a.m.ModelName
}

func (c *operatorCriterion) Remote() bool {
	return true
}

func (c *operatorCriterion) Apply(q *remote.Query) error {
	if c.err != nil {
		return c.err
	}

	q.Filters = append(q.Filters, remote.Filter{Property: c.a.attr.Name, Op: c.op, Value: c.value})

	return nil
}

func (c *operatorCriterion) Accept(model any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	v, err := c.a.modelValue(model)

	if err != nil {
		return false, err
	}

	return c.matchStored(v)
}

func (c *operatorCriterion) property() string {
	return c.a.attr.Name
}

func (c *operatorCriterion) matchStored(v any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	cmp, err := record.Compare(v, c.value)

	if err != nil {
		return false, err
	}

	switch c.op {
	case remote.OpEqual:
		return cmp == 0, nil
	case remote.OpLessThan:
		return cmp < 0, nil
	case remote.OpLessThanOrEqual:
		return cmp <= 0, nil
	case remote.OpGreaterThan:
		return cmp > 0, nil
	case remote.OpGreaterThanOrEqual:
		return cmp >= 0, nil
	}

	return false, fmt.Errorf("unknown operator %d", c.op)
}

type notEqualCriterion struct {
	a     AttributeMeta
	value any
	err   error
}

func (c *notEqualCriterion) ModelName() string {
	return c.a.m.ModelName
}

func (c *notEqualCriterion) Remote() bool {
	return false
}

func (c *notEqualCriterion) Apply(*remote.Query) error {
	return fmt.Errorf("criterion on %s is not expressible remotely", c.a.attr.Name)
}

func (c *notEqualCriterion) Accept(model any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	v, err := c.a.modelValue(model)

	if err != nil {
		return false, err
	}

	return c.matchStored(v)
}

func (c *notEqualCriterion) property() string {
	return c.a.attr.Name
}

func (c *notEqualCriterion) matchStored(v any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	cmp, err := record.Compare(v, c.value)

	if err != nil {
		return false, err
	}

	return cmp != 0, nil
}

type inCriterion struct {
	a      AttributeMeta
	values []any
	err    error
}

func (c *inCriterion) ModelName() string {
	return c.a.m.ModelName
}

func (c *inCriterion) Remote() bool {
	return false
}

func (c *inCriterion) Apply(*remote.Query) error {
	return fmt.Errorf("criterion on %s is not expressible remotely", c.a.attr.Name)
}

func (c *inCriterion) Accept(model any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	v, err := c.a.modelValue(model)

	if err != nil {
		return false, err
	}

	return c.matchStored(v)
}

func (c *inCriterion) property() string {
	return c.a.attr.Name
}

func (c *inCriterion) matchStored(v any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	for _, candidate := range c.values {
		cmp, err := record.Compare(v, candidate)

		if err != nil {
			return false, err
		}

		if cmp == 0 {
			return true, nil
		}
	}

	return false, nil
}

type startsWithCriterion struct {
	a      AttributeMeta
	prefix string
	err    error
}

func (c *startsWithCriterion) ModelName() string {
	return c.a.m.ModelName
}

func (c *startsWithCriterion) Remote() bool {
	return false
}

func (c *startsWithCriterion) Apply(*remote.Query) error {
	return fmt.Errorf("criterion on %s is not expressible remotely", c.a.attr.Name)
}

func (c *startsWithCriterion) Accept(model any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	v, err := c.a.modelValue(model)

	if err != nil {
		return false, err
	}

	return c.matchStored(v)
}

func (c *startsWithCriterion) property() string {
	return c.a.attr.Name
}

func (c *startsWithCriterion) matchStored(v any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}

	s, ok := stringForm(v)

	if !ok {
		return false, nil
	}

	return strings.HasPrefix(s, c.prefix), nil
}

type sortCriterion struct {
	a          AttributeMeta
	descending bool
	err        error
}

func (c *sortCriterion) Apply(q *remote.Query) error {
	if c.err != nil {
		return c.err
	}

	q.Orders = append(q.Orders, remote.Order{Property: c.a.attr.Name, Descending: c.descending})

	return nil
}

func (c *sortCriterion) Compare(a, b any) (int, error) {
	if c.err != nil {
		return 0, c.err
	}

	va, err := c.a.modelValue(a)

	if err != nil {
		return 0, err
	}

	vb, err := c.a.modelValue(b)

	if err != nil {
		return 0, err
	}

	cmp, err := record.Compare(va, vb)

	if err != nil {
		return 0, err
	}

	if c.descending {
		cmp = -cmp
	}

	return cmp, nil
}

func stringForm(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case record.Text:
		return string(t), true
	}

	return "", false
}
