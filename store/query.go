package store

import "strings"

// Filter operators.
const (
	OpEqual        = "="
	OpLess         = "<"
	OpGreater      = ">"
	OpLessEqual    = "<="
	OpGreaterEqual = ">="
	OpIn           = "in"
	OpNotIn        = "not-in"
)

// Filter restricts a query to documents whose field satisfies Op with
// respect to Value. For OpIn and OpNotIn, Value must be a non-empty List.
type Filter struct {
	FieldPath string
	Op        string
	Value     Value
}

// NewFilter returns a validated filter.
func NewFilter(fieldPath, op string, v Value) (Filter, error) {
	f := Filter{FieldPath: fieldPath, Op: op, Value: v}
	if err := f.validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func (f Filter) validate() error {
	if f.FieldPath == "" || strings.HasPrefix(f.FieldPath, ".") || strings.HasSuffix(f.FieldPath, ".") {
		return newError(InvalidArgument, "filter", "invalid field path %q", f.FieldPath)
	}
	switch f.Op {
	case OpEqual, OpLess, OpGreater, OpLessEqual, OpGreaterEqual:
		if f.Value.Kind() == ListKind || f.Value.Kind() == MapKind {
			return newError(InvalidArgument, "filter", "operator %q needs a scalar value for %q", f.Op, f.FieldPath)
		}
	case OpIn, OpNotIn:
		vs, ok := f.Value.AsList()
		if !ok || len(vs) == 0 {
			return newError(InvalidArgument, "filter", "operator %q needs a non-empty list for %q", f.Op, f.FieldPath)
		}
	default:
		return newError(InvalidArgument, "filter", "unknown operator %q", f.Op)
	}
	return nil
}

// isKeyCondition reports whether f can be part of a key condition
// expression on a sort key.
func (f Filter) isKeyCondition() bool {
	switch f.Op {
	case OpEqual, OpLess, OpGreater, OpLessEqual, OpGreaterEqual:
		return true
	}
	return false
}

// Query describes a read over the table or one of its indexes.
type Query struct {
	Filters []Filter

	// FieldPaths restricts the fields returned. Empty means all fields.
	FieldPaths []string

	// OrderByField requires results ordered by this field. It can only be
	// satisfied by a table or index whose sort key is this field.
	OrderByField   string
	OrderAscending bool

	// Limit caps the number of documents returned (0 = no limit).
	Limit int

	// Offset skips this many matching documents before returning any.
	Offset int

	// PaginationToken resumes a previous iteration of the same query.
	PaginationToken string
}

// Validate checks the query for statically detectable errors.
func (q *Query) Validate() error {
	if q == nil {
		return newError(InvalidArgument, "query", "nil query")
	}
	if q.Limit < 0 {
		return newError(InvalidArgument, "query", "negative limit %d", q.Limit)
	}
	if q.Offset < 0 {
		return newError(InvalidArgument, "query", "negative offset %d", q.Offset)
	}
	for _, f := range q.Filters {
		if err := f.validate(); err != nil {
			return err
		}
	}
	for _, fp := range q.FieldPaths {
		if fp == "" {
			return newError(InvalidArgument, "query", "empty field path")
		}
	}
	return nil
}

func (q *Query) hasFilter(field string) bool {
	if field == "" {
		return false
	}
	for _, f := range q.Filters {
		if f.FieldPath == field && f.isKeyCondition() {
			return true
		}
	}
	return false
}

func (q *Query) hasEqualityFilter(field string) bool {
	if field == "" {
		return false
	}
	for _, f := range q.Filters {
		if f.FieldPath == field && f.Op == OpEqual {
			return true
		}
	}
	return false
}

// orderingConsistent reports whether a queryable with sortKey can satisfy
// the query's ordering requirement.
func (q *Query) orderingConsistent(sortKey string) bool {
	return q.OrderByField == "" || q.OrderByField == sortKey
}
