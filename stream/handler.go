// Package stream turns DynamoDB Streams records into document changes and
// delivers them to the consumers subscribed to each table.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jacentio/docstore/store"
)

// ChangeKind is the kind of change a record describes.
type ChangeKind int

const (
	Inserted ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "Inserted"
	case Modified:
		return "Modified"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// ttlPrincipal is the principal DynamoDB reports for deletions made by
// time-to-live expiry.
const ttlPrincipal = "dynamodb.amazonaws.com"

// Change is one document change read from a stream.
type Change struct {
	Kind  ChangeKind
	Table string

	// Key holds the key fields of the changed document.
	Key *store.Document

	// Old and New are the document images, when the stream view type
	// includes them.
	Old, New *store.Document

	// Expired is set on removals made by time-to-live expiry.
	Expired bool

	EventID        string
	SequenceNumber string
}

// Revision returns the revision recorded in d, or "".
func Revision(d *store.Document, field string) string {
	if d == nil {
		return ""
	}
	v, ok := d.Get(field)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// Handler processes DynamoDB stream events.
type Handler struct {
	registry      *Registry
	logger        *zap.Logger
	revisionField string
	records       *prometheus.CounterVec
}

// Option configures a Handler.
type Option func(*Handler)

// WithRevisionField sets the document field holding revisions.
// Default: store.DefaultRevisionField
func WithRevisionField(field string) Option {
	return func(h *Handler) { h.revisionField = field }
}

// WithRegisterer registers the handler's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Handler) {
		if err := reg.Register(h.records); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					h.records = existing
				}
			}
		}
	}
}

// NewHandler creates a stream handler delivering changes to the consumers
// in registry.
func NewHandler(registry *Registry, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		registry:      registry,
		logger:        logger,
		revisionField: store.DefaultRevisionField,
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstore",
			Subsystem: "stream",
			Name:      "records_total",
			Help:      "Stream records processed, by table and outcome.",
		}, []string{"table", "outcome"}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle processes a batch of stream records in order. It is designed to
// be used as an AWS Lambda handler with partial batch responses enabled:
// processing stops at the first failing record, which is reported together
// with every record after it so the batch is retried from there.
func (h *Handler) Handle(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for i, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("eventID", record.EventID),
				zap.String("sequenceNumber", record.Change.SequenceNumber),
				zap.Error(err),
			)
			for _, r := range event.Records[i:] {
				resp.BatchItemFailures = append(resp.BatchItemFailures,
					events.DynamoDBBatchItemFailure{ItemIdentifier: r.Change.SequenceNumber})
			}
			return resp, nil
		}
	}
	return resp, nil
}

// processRecord delivers a single stream record to its table's consumers.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	table := TableName(record.EventSourceArn)
	consumers := h.registry.ConsumersOf(table)
	if len(consumers) == 0 {
		h.records.WithLabelValues(table, "unsubscribed").Inc()
		return nil
	}

	change, err := h.convert(table, record)
	if err != nil {
		h.records.WithLabelValues(table, "invalid").Inc()
		return fmt.Errorf("convert record %s: %w", record.EventID, err)
	}

	// A modification that kept the revision was not made through a store.
	if change.Kind == Modified {
		oldRev := Revision(change.Old, h.revisionField)
		if oldRev != "" && oldRev == Revision(change.New, h.revisionField) {
			h.logger.Debug("skipping unchanged revision",
				zap.String("table", table),
				zap.String("eventID", record.EventID),
			)
			h.records.WithLabelValues(table, "skipped").Inc()
			return nil
		}
	}

	for _, c := range consumers {
		if err := c(ctx, change); err != nil {
			h.records.WithLabelValues(table, "failed").Inc()
			return fmt.Errorf("consume %s change %s: %w", change.Kind, record.EventID, err)
		}
	}
	h.records.WithLabelValues(table, "ok").Inc()
	return nil
}

func (h *Handler) convert(table string, record events.DynamoDBEventRecord) (Change, error) {
	change := Change{
		Table:          table,
		EventID:        record.EventID,
		SequenceNumber: record.Change.SequenceNumber,
	}
	switch record.EventName {
	case "INSERT":
		change.Kind = Inserted
	case "MODIFY":
		change.Kind = Modified
	case "REMOVE":
		change.Kind = Removed
		change.Expired = record.UserIdentity != nil &&
			record.UserIdentity.Type == "Service" &&
			record.UserIdentity.PrincipalID == ttlPrincipal
	default:
		return Change{}, fmt.Errorf("unknown event name %q", record.EventName)
	}

	var err error
	if change.Key, err = ConvertDocument(record.Change.Keys); err != nil {
		return Change{}, fmt.Errorf("keys: %w", err)
	}
	if change.Old, err = ConvertDocument(record.Change.OldImage); err != nil {
		return Change{}, fmt.Errorf("old image: %w", err)
	}
	if change.New, err = ConvertDocument(record.Change.NewImage); err != nil {
		return Change{}, fmt.Errorf("new image: %w", err)
	}
	return change, nil
}

// TableName extracts the table name from a stream ARN such as
// arn:aws:dynamodb:eu-west-1:123456789012:table/orders/stream/2024-01-01T00:00:00.000.
func TableName(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}
