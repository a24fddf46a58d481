package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/jacentio/docstore/store"

// Client is the subset of *dynamodb.Client used by the Store.
type Client interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// BeforeDo is called with each native request (for example
// *dynamodb.PutItemInput or *dynamodb.QueryInput) just before it is sent.
// Returning an error aborts that request.
type BeforeDo func(request any) error

// Store provides document operations over one DynamoDB table.
type Store struct {
	client  Client
	config  Config
	desc    *tableDescription
	logger  *zap.Logger
	metrics *storeMetrics
	tracer  trace.Tracer
	pool    *semaphore.Weighted
	limiter *rate.Limiter

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open describes table and returns a Store for it. The table description is
// fetched once and cached for the lifetime of the Store.
func Open(ctx context.Context, client Client, table string, config Config) (*Store, error) {
	if client == nil {
		return nil, newError(InvalidArgument, "open", "client is required")
	}
	if table == "" {
		return nil, newError(InvalidArgument, "open", "table name is required")
	}
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return nil, classifyError("open", fmt.Errorf("describe table %s: %w", table, err))
	}
	if out.Table == nil {
		return nil, newError(NotFound, "open", "table %s has no description", table)
	}
	return NewWithDescription(client, out.Table, config)
}

// NewWithDescription creates a Store from an already fetched table
// description, without any I/O.
func NewWithDescription(client Client, td *types.TableDescription, config Config) (*Store, error) {
	if client == nil {
		return nil, newError(InvalidArgument, "open", "client is required")
	}
	if td == nil {
		return nil, newError(InvalidArgument, "open", "table description is required")
	}
	config.validate()
	desc := describeTable(td)
	if desc.Name == "" || desc.Key.PartitionKey == "" {
		return nil, newError(InvalidArgument, "open", "table description lacks a name or partition key")
	}

	metrics, err := newStoreMetrics(desc.Name, config.MetricsRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s := &Store{
		client:  client,
		config:  config,
		desc:    desc,
		logger:  config.Logger.With(zap.String("table", desc.Name)),
		metrics: metrics,
		tracer:  tp.Tracer(tracerName),
		pool:    semaphore.NewWeighted(int64(config.MaxConcurrency)),
	}
	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	s.logger.Info("docstore opened",
		zap.String("partitionKey", desc.Key.PartitionKey),
		zap.String("sortKey", desc.Key.SortKey),
		zap.Int("localIndexes", len(desc.Local)),
		zap.Int("globalIndexes", len(desc.Global)),
		zap.Bool("allowScans", config.AllowScans),
	)
	return s, nil
}

// TableName returns the name of the underlying table.
func (s *Store) TableName() string { return s.desc.Name }

// Key returns the table's key schema.
func (s *Store) Key() Key { return s.desc.Key }

// Indexes returns the table's local then global secondary indexes, in the
// order the table description lists them.
func (s *Store) Indexes() []Index {
	out := make([]Index, 0, len(s.desc.Local)+len(s.desc.Global))
	for i := range s.desc.Local {
		out = append(out, s.desc.Local[i].public())
	}
	for i := range s.desc.Global {
		out = append(out, s.desc.Global[i].public())
	}
	return out
}

// RevisionField returns the field used for revision tokens.
func (s *Store) RevisionField() string { return s.config.RevisionField }

// GetKey returns the key schema identifying doc, after checking doc carries
// the key fields.
func (s *Store) GetKey(doc *Document) (Key, error) {
	if doc == nil {
		return Key{}, newError(InvalidArgument, "get key", "nil document")
	}
	key, err := EncodeKeyFields(doc, s.desc.Key.PartitionKey, s.desc.Key.SortKey)
	if err != nil {
		return Key{}, &Error{Kind: InvalidArgument, Op: "get key", Err: err}
	}
	if key == nil {
		return Key{}, newError(InvalidArgument, "get key", "document is missing key field(s) %v", s.desc.Key.names())
	}
	return s.desc.Key, nil
}

// Close waits for in-flight native requests and releases the worker pool.
// Later operations fail with ErrClosed. Close is idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		n := int64(s.config.MaxConcurrency)
		if err := s.pool.Acquire(context.Background(), n); err == nil {
			s.pool.Release(n)
		}
		s.logger.Info("docstore closed")
	})
	return nil
}

func (s *Store) checkOpen(op string) error {
	if s.closed.Load() {
		return &Error{Kind: Closed, Op: op, Err: ErrClosed}
	}
	return nil
}

// call runs one native request on a worker slot, honoring the rate limit,
// the operation timeout and tracing. Errors are returned unclassified.
func (s *Store) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.pool.Release(1)
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	opCtx, span := s.tracer.Start(opCtx, "dynamodb."+op)
	defer span.End()

	start := time.Now()
	err := fn(opCtx)
	s.metrics.requests.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

// Create creates doc, failing with ErrAlreadyExists if it exists.
func (s *Store) Create(ctx context.Context, doc *Document) error {
	return s.runOne(ctx, &Action{Kind: Create, Doc: doc})
}

// Replace replaces an existing doc, failing with ErrNotFound if it doesn't
// exist or its revision is stale.
func (s *Store) Replace(ctx context.Context, doc *Document) error {
	return s.runOne(ctx, &Action{Kind: Replace, Doc: doc})
}

// Put writes doc whether or not it exists.
func (s *Store) Put(ctx context.Context, doc *Document) error {
	return s.runOne(ctx, &Action{Kind: Put, Doc: doc})
}

// Get reads the document identified by doc's key into doc.
func (s *Store) Get(ctx context.Context, doc *Document, fieldPaths ...string) error {
	return s.runOne(ctx, &Action{Kind: Get, Doc: doc, FieldPaths: fieldPaths})
}

// Delete deletes the document identified by doc's key. Deleting a missing
// document without a revision succeeds.
func (s *Store) Delete(ctx context.Context, doc *Document) error {
	return s.runOne(ctx, &Action{Kind: Delete, Doc: doc})
}

// Update applies mods to an existing document.
func (s *Store) Update(ctx context.Context, doc *Document, mods ...Mod) error {
	return s.runOne(ctx, &Action{Kind: Update, Doc: doc, Mods: mods})
}

func (s *Store) runOne(ctx context.Context, a *Action) error {
	err := s.RunActions(ctx, []*Action{a}, nil)
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Err
	}
	return err
}
