package store

import (
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/jacentio/docstore/internal/cursor"
)

// queryable is the table or index chosen to serve a query.
type queryable struct {
	// index is nil for the base table.
	index *indexDescription
	key   Key
}

func (qa *queryable) indexName() string {
	if qa.index == nil {
		return ""
	}
	return qa.index.Name
}

// queryPlan is the planner's output: exactly one of scan and query is set.
type queryPlan struct {
	scan  *dynamodb.ScanInput
	query *dynamodb.QueryInput

	// queryable is nil for scans.
	queryable *queryable

	// keyNames are the attributes making up an exclusive start key.
	keyNames    []string
	fingerprint uint32
	label       string
}

// QueryPlan describes how q would be executed: "Scan", "Table" or
// "Index <name>".
func (s *Store) QueryPlan(q *Query) (string, error) {
	p, err := s.planQuery(q)
	if err != nil {
		return "", err
	}
	return p.label, nil
}

// planQuery chooses a queryable for q and assembles the native request.
// All failures are detected before any I/O.
func (s *Store) planQuery(q *Query) (*queryPlan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	qa := s.bestQueryable(q)
	if qa == nil {
		if q.OrderByField != "" {
			return nil, newError(InvalidArgument, "plan",
				"query requires a table scan, but has an ordering requirement on %q", q.OrderByField)
		}
		if !s.config.AllowScans {
			return nil, newError(InvalidArgument, "plan",
				"query requires a table scan, but scans are not allowed (set AllowScans)")
		}
		return s.planScan(q)
	}
	return s.planKeyQuery(q, qa)
}

// bestQueryable returns the table or index that can serve q without a
// scan, or nil if none can. When several indexes qualify equally, the first
// in schema-listed order wins.
func (s *Store) bestQueryable(q *Query) *queryable {
	table := s.desc.Key

	// A perfect match uses both the partition and the sort key.
	if q.hasEqualityFilter(table.PartitionKey) {
		if q.orderingConsistent(table.SortKey) && (table.SortKey == "" || q.hasFilter(table.SortKey)) {
			return &queryable{key: table}
		}
		for i := range s.desc.Local {
			li := &s.desc.Local[i]
			if q.hasFilter(li.Key.SortKey) && s.fieldsIncluded(q, li) && q.orderingConsistent(li.Key.SortKey) {
				return &queryable{index: li, key: li.Key}
			}
		}
	}
	for i := range s.desc.Global {
		gi := &s.desc.Global[i]
		if gi.Key.SortKey == "" {
			continue
		}
		if q.hasEqualityFilter(gi.Key.PartitionKey) && q.hasFilter(gi.Key.SortKey) &&
			s.fieldsIncluded(q, gi) && q.orderingConsistent(gi.Key.SortKey) {
			return &queryable{index: gi, key: gi.Key}
		}
	}

	// A partition-key-only match is still better than a scan. A local index
	// only wins here when it supplies the requested ordering.
	if q.hasEqualityFilter(table.PartitionKey) {
		if q.orderingConsistent(table.SortKey) {
			return &queryable{key: table}
		}
		for i := range s.desc.Local {
			li := &s.desc.Local[i]
			if s.fieldsIncluded(q, li) && q.orderingConsistent(li.Key.SortKey) {
				return &queryable{index: li, key: li.Key}
			}
		}
	}
	for i := range s.desc.Global {
		gi := &s.desc.Global[i]
		if q.hasEqualityFilter(gi.Key.PartitionKey) && s.fieldsIncluded(q, gi) && q.orderingConsistent(gi.Key.SortKey) {
			return &queryable{index: gi, key: gi.Key}
		}
	}
	return nil
}

// fieldsIncluded reports whether idx projects every field the query needs:
// the requested field paths and the fields its filters test. A query with
// no explicit field list wants every attribute, which only an ALL
// projection has.
func (s *Store) fieldsIncluded(q *Query, idx *indexDescription) bool {
	if idx.ProjectionAll {
		return true
	}
	if len(q.FieldPaths) == 0 {
		return false
	}
	covered := func(fp string) bool {
		top := topLevel(fp)
		switch top {
		case s.desc.Key.PartitionKey, s.desc.Key.SortKey, idx.Key.PartitionKey, idx.Key.SortKey:
			return top != ""
		}
		return idx.Projected[top]
	}
	for _, fp := range q.FieldPaths {
		if !covered(fp) {
			return false
		}
	}
	for _, f := range q.Filters {
		if !covered(f.FieldPath) {
			return false
		}
	}
	return true
}

func topLevel(fieldPath string) string {
	if i := strings.IndexByte(fieldPath, '.'); i >= 0 {
		return fieldPath[:i]
	}
	return fieldPath
}

func (s *Store) planScan(q *Query) (*queryPlan, error) {
	b := newExprBuilder()
	filter, err := b.conjunction(q.Filters)
	if err != nil {
		return nil, &Error{Kind: InvalidArgument, Op: "plan", Err: err}
	}
	keyNames := s.desc.Key.names()
	in := &dynamodb.ScanInput{
		TableName:        aws.String(s.desc.Name),
		FilterExpression: optionalString(filter),
	}
	if len(q.FieldPaths) > 0 {
		in.ProjectionExpression = aws.String(b.projection(withKeyFields(q.FieldPaths, keyNames)))
	}
	if s.config.ConsistentRead {
		in.ConsistentRead = aws.Bool(true)
	}
	if limit := nativeLimit(q, filter); limit > 0 {
		in.Limit = aws.Int32(limit)
	}
	in.ExpressionAttributeNames = b.attrNames()
	in.ExpressionAttributeValues = b.attrValues()

	p := &queryPlan{
		scan:        in,
		keyNames:    keyNames,
		fingerprint: cursor.Fingerprint(s.desc.Name, "", true),
		label:       "Scan",
	}
	s.notePlan(q, p)
	return p, nil
}

func (s *Store) planKeyQuery(q *Query, qa *queryable) (*queryPlan, error) {
	var keyFilters, rest []Filter
	var havePK, haveSK bool
	for _, f := range q.Filters {
		switch {
		case !havePK && f.FieldPath == qa.key.PartitionKey && f.Op == OpEqual:
			keyFilters = append(keyFilters, f)
			havePK = true
		case !haveSK && qa.key.SortKey != "" && f.FieldPath == qa.key.SortKey && f.isKeyCondition():
			keyFilters = append(keyFilters, f)
			haveSK = true
		default:
			rest = append(rest, f)
		}
	}

	b := newExprBuilder()
	keyCond, err := b.conjunction(keyFilters)
	if err != nil {
		return nil, &Error{Kind: InvalidArgument, Op: "plan", Err: err}
	}
	filter, err := b.conjunction(rest)
	if err != nil {
		return nil, &Error{Kind: InvalidArgument, Op: "plan", Err: err}
	}

	keyNames := s.desc.Key.names()
	if qa.index != nil {
		for _, n := range qa.key.names() {
			if !contains(keyNames, n) {
				keyNames = append(keyNames, n)
			}
		}
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.desc.Name),
		KeyConditionExpression: aws.String(keyCond),
		FilterExpression:       optionalString(filter),
	}
	label := "Table"
	if qa.index != nil {
		in.IndexName = aws.String(qa.index.Name)
		label = "Index " + qa.index.Name
	}
	if len(q.FieldPaths) > 0 {
		in.ProjectionExpression = aws.String(b.projection(withKeyFields(q.FieldPaths, keyNames)))
	}
	if q.OrderByField != "" {
		in.ScanIndexForward = aws.Bool(q.OrderAscending)
	}
	if s.config.ConsistentRead && (qa.index == nil || qa.index.Local) {
		in.ConsistentRead = aws.Bool(true)
	}
	if limit := nativeLimit(q, filter); limit > 0 {
		in.Limit = aws.Int32(limit)
	}
	in.ExpressionAttributeNames = b.attrNames()
	in.ExpressionAttributeValues = b.attrValues()

	p := &queryPlan{
		query:       in,
		queryable:   qa,
		keyNames:    keyNames,
		fingerprint: cursor.Fingerprint(s.desc.Name, qa.indexName(), false),
		label:       label,
	}
	s.notePlan(q, p)
	return p, nil
}

func (s *Store) notePlan(q *Query, p *queryPlan) {
	s.metrics.plans.WithLabelValues(p.label).Inc()
	s.logger.Debug("query planned",
		zap.String("plan", p.label),
		zap.Int("filters", len(q.Filters)),
		zap.String("orderBy", q.OrderByField),
	)
}

// nativeLimit returns a per-page item limit, or 0. It is only safe without a
// filter expression, where every evaluated item is returned.
func nativeLimit(q *Query, filter string) int32 {
	if q.Limit <= 0 || filter != "" {
		return 0
	}
	n := q.Offset + q.Limit
	if n > math.MaxInt32 || n < 0 {
		return 0
	}
	return int32(n)
}

// withKeyFields appends key attributes missing from fieldPaths, so every
// returned item can produce a pagination token.
func withKeyFields(fieldPaths, keyNames []string) []string {
	out := append([]string(nil), fieldPaths...)
	for _, k := range keyNames {
		if !contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
