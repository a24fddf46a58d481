package store

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jacentio/docstore/internal/cursor"
)

// errIteratorStopped is returned by a DocumentIterator used after Stop.
var errIteratorStopped = errors.New("iterator is stopped")

// RunGetQuery plans q and returns an iterator over its results. Planning
// errors, including a pagination token from a different plan, are returned
// before any I/O.
//
// A pagination token resumes immediately after the last document the
// earlier iterator consumed. Offset and Limit apply afresh to the resumed
// iteration.
func (s *Store) RunGetQuery(ctx context.Context, q *Query, beforeDo BeforeDo) (*DocumentIterator, error) {
	if err := s.checkOpen("query"); err != nil {
		return nil, err
	}
	p, err := s.planQuery(q)
	if err != nil {
		return nil, err
	}
	it := &DocumentIterator{
		store:    s,
		plan:     p,
		beforeDo: beforeDo,
		offset:   q.Offset,
		limit:    q.Limit,
		token:    q.PaginationToken,
	}
	if q.PaginationToken != "" {
		start, err := cursor.Decode(p.fingerprint, q.PaginationToken)
		if err != nil {
			return nil, &Error{Kind: InvalidArgument, Op: "query", Err: err}
		}
		it.startKey = start
	}
	s.logger.Debug("query started", zap.String("plan", p.label), zap.Bool("resumed", it.startKey != nil))
	return it, nil
}

// DocumentIterator iterates over the results of a query, one page at a
// time. It is single-pass and not safe for concurrent use.
type DocumentIterator struct {
	store    *Store
	plan     *queryPlan
	beforeDo BeforeDo

	items    []map[string]types.AttributeValue
	pos      int
	startKey map[string]types.AttributeValue
	fetched  bool

	offset, limit, count int

	// last is the most recently consumed item, skipped or returned.
	last  map[string]types.AttributeValue
	token string

	stopped bool
	drained bool
	err     error
}

// HasNext reports whether Next will return a document, fetching pages as
// needed. Documents within the query's offset are skipped.
func (it *DocumentIterator) HasNext(ctx context.Context) (bool, error) {
	if it.stopped {
		return false, &Error{Kind: InvalidArgument, Op: "iterate", Err: errIteratorStopped}
	}
	if it.err != nil {
		return false, it.err
	}
	if it.limit > 0 && it.count >= it.offset+it.limit {
		return false, nil
	}
	for it.count < it.offset {
		ok, err := it.buffer(ctx)
		if err != nil || !ok {
			return false, err
		}
		it.last = it.items[it.pos]
		it.pos++
		it.count++
	}
	return it.buffer(ctx)
}

// Next decodes the next document into doc. It returns io.EOF when there
// are no more documents.
func (it *DocumentIterator) Next(ctx context.Context, doc *Document) error {
	ok, err := it.HasNext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}
	item := it.items[it.pos]
	if err := DecodeItem(item, doc); err != nil {
		return &Error{Kind: Unknown, Op: "iterate", Err: err}
	}
	it.last = item
	it.pos++
	it.count++
	return nil
}

// Stop releases the iterator's buffered state. Later calls to HasNext and
// Next fail; PaginationToken keeps working. Stop is idempotent.
func (it *DocumentIterator) Stop() {
	if it.stopped {
		return
	}
	it.drained = it.exhausted()
	it.stopped = true
	it.items = nil
	it.startKey = nil
}

func (it *DocumentIterator) exhausted() bool {
	if it.stopped {
		return it.drained
	}
	return it.fetched && it.pos >= len(it.items) && it.startKey == nil
}

// Plan returns the label of the plan serving the iteration.
func (it *DocumentIterator) Plan() string { return it.plan.label }

// PaginationToken returns a token that resumes the query right after the
// last consumed document, or "" when the results are exhausted.
func (it *DocumentIterator) PaginationToken() (string, error) {
	if it.exhausted() {
		return "", nil
	}
	if it.last == nil {
		return it.token, nil
	}
	key := make(map[string]types.AttributeValue, len(it.plan.keyNames))
	for _, n := range it.plan.keyNames {
		if av, ok := it.last[n]; ok {
			key[n] = av
		}
	}
	tok, err := cursor.Encode(it.plan.fingerprint, key)
	if err != nil {
		return "", &Error{Kind: Unknown, Op: "iterate", Err: err}
	}
	return tok, nil
}

// buffer ensures an unread item is buffered, fetching pages until one
// arrives or the results are exhausted.
func (it *DocumentIterator) buffer(ctx context.Context) (bool, error) {
	for it.pos >= len(it.items) {
		if it.fetched && it.startKey == nil {
			return false, nil
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false, err
		}
	}
	return true, nil
}

// fetch reads the page starting at startKey.
func (it *DocumentIterator) fetch(ctx context.Context) error {
	s := it.store
	ctx, span := s.tracer.Start(ctx, "docstore.fetchPage",
		trace.WithAttributes(attribute.String("docstore.plan", it.plan.label)))
	defer span.End()

	var (
		items   []map[string]types.AttributeValue
		lastKey map[string]types.AttributeValue
		err     error
	)
	if it.plan.scan != nil {
		in := *it.plan.scan
		in.ExclusiveStartKey = it.startKey
		if err = callBeforeDo(it.beforeDo, &in); err == nil {
			err = s.call(ctx, "Scan", func(ctx context.Context) error {
				out, err := s.client.Scan(ctx, &in)
				if err == nil {
					items, lastKey = out.Items, out.LastEvaluatedKey
				}
				return err
			})
		}
	} else {
		in := *it.plan.query
		in.ExclusiveStartKey = it.startKey
		if err = callBeforeDo(it.beforeDo, &in); err == nil {
			err = s.call(ctx, "Query", func(ctx context.Context) error {
				out, err := s.client.Query(ctx, &in)
				if err == nil {
					items, lastKey = out.Items, out.LastEvaluatedKey
				}
				return err
			})
		}
	}
	if err != nil {
		span.RecordError(err)
		return classifyError("query", err)
	}

	s.logger.Debug("page fetched",
		zap.String("plan", it.plan.label),
		zap.Int("items", len(items)),
		zap.Bool("more", len(lastKey) > 0),
	)
	it.items, it.pos = items, 0
	it.startKey = nil
	if len(lastKey) > 0 {
		it.startKey = lastKey
	}
	it.fetched = true
	return nil
}
