package stream

import (
	"context"
	"sort"
	"sync"
)

// Consumer receives the changes of one table.
type Consumer func(ctx context.Context, c Change) error

// Registry holds the consumers subscribed to each table's change feed.
type Registry struct {
	mu      sync.RWMutex
	byTable map[string][]Consumer
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{byTable: make(map[string][]Consumer)}
}

// Register subscribes c to the changes of table. Consumers of a table run
// in registration order.
func (r *Registry) Register(table string, c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTable[table] = append(r.byTable[table], c)
}

// ConsumersOf returns the consumers subscribed to table.
func (r *Registry) ConsumersOf(table string) []Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Consumer(nil), r.byTable[table]...)
}

// HasConsumers reports whether any consumer is subscribed to table.
func (r *Registry) HasConsumers(table string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTable[table]) > 0
}

// Tables returns the subscribed table names, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTable))
	for t := range r.byTable {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
