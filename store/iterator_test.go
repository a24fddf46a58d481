package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/docstore/internal/dynamotest"
)

// seedOrders stores orders 1..n for customer c1. Dates run backwards so
// date order is the reverse of orderID order. Even orders are open.
func seedOrders(t *testing.T, tbl *dynamotest.Table, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		status := "closed"
		if i%2 == 0 {
			status = "open"
		}
		doc := NewDocument().
			Set("customer", String("c1")).
			Set("orderID", Int(int64(i))).
			Set("date", String(fmt.Sprintf("2024-01-%02d", 30-i))).
			Set("total", Int(int64(i*10))).
			Set("status", String(status)).
			Set("notes", String("n"))
		item, err := EncodeItem(doc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := tbl.Seed(item); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	other, _ := EncodeItem(NewDocument().
		Set("customer", String("c2")).
		Set("orderID", Int(1)).
		Set("status", String("open")).
		Set("date", String("2024-02-01")))
	if err := tbl.Seed(other); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// collect drains it and returns the orderID of each document.
func collect(t *testing.T, it *DocumentIterator) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	for {
		doc := NewDocument()
		err := it.Next(ctx, doc)
		if errors.Is(err, io.EOF) {
			return ids
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _ := doc.Get("orderID")
		id, _ := v.AsInt()
		ids = append(ids, id)
	}
}

func span(from, to int64) []int64 {
	var out []int64
	if from <= to {
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	}
	for i := from; i >= to; i-- {
		out = append(out, i)
	}
	return out
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func customerQuery() *Query {
	return &Query{Filters: []Filter{eq("customer", String("c1"))}}
}

// --- Iteration ---

func TestRunGetQuery_AllPages(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 10)
	tbl.PageSize = 3

	it, err := s.RunGetQuery(context.Background(), customerQuery(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Plan() != "Table" {
		t.Errorf("expected plan 'Table', got %q", it.Plan())
	}
	if got := collect(t, it); !sameIDs(got, span(1, 10)) {
		t.Errorf("expected orders 1..10, got %v", got)
	}
	if n := tbl.Calls("Query"); n != 4 {
		t.Errorf("expected 4 pages, got %d", n)
	}

	tok, err := it.PaginationToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "" {
		t.Errorf("expected empty token after exhaustion, got %q", tok)
	}
}

func TestRunGetQuery_Descending(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 5)

	q := customerQuery()
	q.OrderByField = "orderID"
	it, err := s.RunGetQuery(context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collect(t, it); !sameIDs(got, span(5, 1)) {
		t.Errorf("expected orders 5..1, got %v", got)
	}
}

func TestRunGetQuery_LocalIndexOrdering(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 5)

	q := customerQuery()
	q.OrderByField = "date"
	q.OrderAscending = true
	it, err := s.RunGetQuery(context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Plan() != "Index by-date" {
		t.Errorf("expected plan 'Index by-date', got %q", it.Plan())
	}
	if got := collect(t, it); !sameIDs(got, span(5, 1)) {
		t.Errorf("expected date order 5..1, got %v", got)
	}
}

func TestRunGetQuery_ScanWithFilter(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable(), allowScans)
	seedOrders(t, tbl, 10)
	tbl.PageSize = 2

	q := &Query{Filters: []Filter{eq("notes", String("n")), filter("total", OpGreater, Int(40))}}
	it, err := s.RunGetQuery(context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Plan() != "Scan" {
		t.Errorf("expected plan 'Scan', got %q", it.Plan())
	}
	if got := collect(t, it); !sameIDs(got, span(5, 10)) {
		t.Errorf("expected orders 5..10, got %v", got)
	}
	if tbl.Calls("Scan") < 5 {
		t.Errorf("expected the scan to be paged, got %d calls", tbl.Calls("Scan"))
	}
}

func TestRunGetQuery_GlobalIndex(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 6)

	var indexes []string
	beforeDo := func(req any) error {
		if in, ok := req.(*dynamodb.QueryInput); ok {
			indexes = append(indexes, aws.ToString(in.IndexName))
		}
		return nil
	}
	q := &Query{Filters: []Filter{eq("status", String("open"))}}
	it, err := s.RunGetQuery(context.Background(), q, beforeDo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Plan() != "Index by-status-2" {
		t.Errorf("expected plan 'Index by-status-2', got %q", it.Plan())
	}
	// Ordered by date: c1's open orders run backwards, c2's order is last.
	got := collect(t, it)
	if !sameIDs(got, []int64{6, 4, 2, 1}) {
		t.Errorf("expected [6 4 2 1], got %v", got)
	}
	if len(indexes) != 1 || indexes[0] != "by-status-2" {
		t.Errorf("expected one query on by-status-2, got %v", indexes)
	}
}

func TestRunGetQuery_Projection(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 2)

	q := customerQuery()
	q.FieldPaths = []string{"total"}
	it, err := s.RunGetQuery(context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := NewDocument()
	if err := it.Next(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range []string{"customer", "orderID", "total"} {
		if !doc.Has(f) {
			t.Errorf("expected field %q, got %v", f, doc.Fields())
		}
	}
	if doc.Has("status") || doc.Has("notes") {
		t.Errorf("expected unrequested fields to be absent, got %v", doc.Fields())
	}
}

func TestRunGetQuery_LimitAndOffset(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 10)

	q := customerQuery()
	q.Offset = 2
	q.Limit = 3
	it, err := s.RunGetQuery(context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collect(t, it); !sameIDs(got, span(3, 5)) {
		t.Errorf("expected orders 3..5, got %v", got)
	}
	if n := tbl.Calls("Query"); n != 1 {
		t.Errorf("expected a single page for a limited query, got %d", n)
	}
}

// --- Pagination ---

func TestRunGetQuery_PaginationResumes(t *testing.T) {
	tests := []struct {
		offset, limit int
		pageSize      int
	}{
		{0, 1, 0},
		{0, 3, 3},
		{2, 3, 3},
		{1, 4, 2},
		{3, 2, 4},
		{0, 9, 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("offset=%d limit=%d page=%d", tt.offset, tt.limit, tt.pageSize), func(t *testing.T) {
			s, tbl := newTestStore(t, ordersTable())
			seedOrders(t, tbl, 10)
			tbl.PageSize = tt.pageSize
			ctx := context.Background()

			q := customerQuery()
			q.Offset, q.Limit = tt.offset, tt.limit
			it, err := s.RunGetQuery(ctx, q, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			first := collect(t, it)
			tok, err := it.PaginationToken()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tok == "" {
				t.Fatal("expected a pagination token")
			}

			resumed := customerQuery()
			resumed.PaginationToken = tok
			it, err = s.RunGetQuery(ctx, resumed, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			rest := collect(t, it)

			got := append(first, rest...)
			if expected := span(int64(tt.offset+1), 10); !sameIDs(got, expected) {
				t.Errorf("expected %v, got %v", expected, got)
			}
		})
	}
}

func TestRunGetQuery_TokenBeforeConsuming(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 3)

	it, err := s.RunGetQuery(context.Background(), customerQuery(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok, err := it.PaginationToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "" {
		t.Errorf("expected an empty token, got %q", tok)
	}
	if tbl.Calls("Query") != 0 {
		t.Error("expected no I/O before iteration")
	}
}

func TestRunGetQuery_ExhaustedByLimit(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 10)

	q := customerQuery()
	q.Offset, q.Limit = 8, 5
	it, err := s.RunGetQuery(context.Background(), q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collect(t, it); !sameIDs(got, span(9, 10)) {
		t.Errorf("expected orders 9..10, got %v", got)
	}
	tok, _ := it.PaginationToken()
	if tok != "" {
		t.Errorf("expected empty token, got %q", tok)
	}
}

func TestRunGetQuery_TokenMismatch(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 4)
	ctx := context.Background()

	q := customerQuery()
	q.Limit = 1
	it, err := s.RunGetQuery(ctx, q, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collect(t, it)
	tok, err := it.PaginationToken()
	if err != nil || tok == "" {
		t.Fatalf("expected a token, got %q (%v)", tok, err)
	}
	calls := tbl.Calls("Query")

	other := customerQuery()
	other.OrderByField = "date"
	other.PaginationToken = tok
	if _, err := s.RunGetQuery(ctx, other, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a token from another plan, got %v", err)
	}

	malformed := customerQuery()
	malformed.PaginationToken = "!!not-a-token"
	if _, err := s.RunGetQuery(ctx, malformed, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a malformed token, got %v", err)
	}
	if tbl.Calls("Query") != calls {
		t.Error("expected token errors before any I/O")
	}
}

// --- Stop / errors ---

func TestDocumentIterator_Stop(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 4)
	ctx := context.Background()

	it, err := s.RunGetQuery(ctx, customerQuery(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := it.Next(ctx, NewDocument()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	it.Stop()
	it.Stop()

	if _, err := it.HasNext(ctx); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument after Stop, got %v", err)
	}
	if err := it.Next(ctx, NewDocument()); err == nil {
		t.Error("expected Next to fail after Stop")
	}

	tok, err := it.PaginationToken()
	if err != nil || tok == "" {
		t.Fatalf("expected a token after Stop, got %q (%v)", tok, err)
	}
	resumed := customerQuery()
	resumed.PaginationToken = tok
	it, err = s.RunGetQuery(ctx, resumed, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collect(t, it); !sameIDs(got, span(2, 4)) {
		t.Errorf("expected orders 2..4, got %v", got)
	}
}

func TestDocumentIterator_EOFRepeats(t *testing.T) {
	s, _ := newTestStore(t, ordersTable())
	ctx := context.Background()

	it, err := s.RunGetQuery(ctx, customerQuery(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := it.Next(ctx, NewDocument()); !errors.Is(err, io.EOF) {
			t.Errorf("attempt %d: expected io.EOF, got %v", i+1, err)
		}
	}
}

func TestDocumentIterator_ErrorIsSticky(t *testing.T) {
	s, tbl := newTestStore(t, ordersTable())
	seedOrders(t, tbl, 4)
	tbl.PageSize = 2
	ctx := context.Background()

	boom := errors.New("boom")
	pages := 0
	beforeDo := func(any) error {
		pages++
		if pages > 1 {
			return boom
		}
		return nil
	}
	it, err := s.RunGetQuery(ctx, customerQuery(), beforeDo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := it.Next(ctx, NewDocument()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := it.Next(ctx, NewDocument()); !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if _, err := it.HasNext(ctx); !errors.Is(err, boom) {
		t.Errorf("expected the error to repeat, got %v", err)
	}
	if pages != 2 {
		t.Errorf("expected no retry after failure, got %d attempts", pages)
	}
}
