package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultRevisionField is the document field holding the revision token
// unless Config.RevisionField says otherwise.
const DefaultRevisionField = "DocstoreRevision"

// maxBatchGetSize is the most keys DynamoDB accepts in one BatchGetItem.
const maxBatchGetSize = 100

// maxTransactionSize is the most items DynamoDB accepts in one
// TransactWriteItems.
const maxTransactionSize = 100

// Config holds configuration for the Store.
type Config struct {
	// RevisionField is the document field used for optimistic concurrency.
	// Default: "DocstoreRevision"
	RevisionField string

	// AllowScans permits queries that no table or index can serve to fall
	// back to a full table scan.
	// Default: false
	AllowScans bool

	// MaxConcurrency bounds the number of native requests in flight across
	// the whole Store.
	// Default: 16
	MaxConcurrency int

	// BatchGetSize is the number of keys per BatchGetItem round-trip.
	// Default: 100 (also the maximum)
	BatchGetSize int

	// RequestsPerSecond rate-limits native requests. Zero disables limiting.
	RequestsPerSecond float64

	// OperationTimeout bounds each native request when the caller's context
	// has no deadline. Zero disables it.
	OperationTimeout time.Duration

	// ConsistentRead makes gets and queries strongly consistent. Ignored for
	// global secondary indexes, which don't support it.
	ConsistentRead bool

	// Logger receives store diagnostics. Default: no-op.
	Logger *zap.Logger

	// MetricsRegisterer, when set, receives the store's Prometheus collectors.
	MetricsRegisterer prometheus.Registerer

	// TracerProvider supplies the tracer for store spans. Default: the
	// global provider.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RevisionField:  DefaultRevisionField,
		MaxConcurrency: 16,
		BatchGetSize:   maxBatchGetSize,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RevisionField == "" {
		c.RevisionField = DefaultRevisionField
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 16
	}
	if c.BatchGetSize < 1 || c.BatchGetSize > maxBatchGetSize {
		c.BatchGetSize = maxBatchGetSize
	}
	if c.RequestsPerSecond < 0 {
		c.RequestsPerSecond = 0
	}
	if c.OperationTimeout < 0 {
		c.OperationTimeout = 0
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
