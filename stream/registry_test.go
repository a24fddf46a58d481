package stream

import (
	"context"
	"testing"
)

func noop(context.Context, Change) error { return nil }

func TestRegistry_Empty(t *testing.T) {
	r := NewRegistry()

	if r.HasConsumers("orders") {
		t.Error("expected no consumers")
	}
	if got := r.ConsumersOf("orders"); len(got) != 0 {
		t.Errorf("expected 0 consumers, got %d", len(got))
	}
	if got := r.Tables(); len(got) != 0 {
		t.Errorf("expected no tables, got %v", got)
	}
}

func TestRegistry_RegisterOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Register("orders", func(context.Context, Change) error { calls = append(calls, "first"); return nil })
	r.Register("orders", func(context.Context, Change) error { calls = append(calls, "second"); return nil })
	r.Register("customers", noop)

	for _, c := range r.ConsumersOf("orders") {
		_ = c(context.Background(), Change{})
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("expected [first second], got %v", calls)
	}
	if !r.HasConsumers("customers") {
		t.Error("expected customers to have consumers")
	}
	if got := r.Tables(); len(got) != 2 || got[0] != "customers" || got[1] != "orders" {
		t.Errorf("expected [customers orders], got %v", got)
	}
}

func TestRegistry_ConsumersOfIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register("orders", noop)

	got := r.ConsumersOf("orders")
	got[0] = nil
	if r.ConsumersOf("orders")[0] == nil {
		t.Error("expected registry state to be unaffected by the returned slice")
	}
}
