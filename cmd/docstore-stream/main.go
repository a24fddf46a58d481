// Command docstore-stream is a Lambda function that consumes the DynamoDB
// stream of a docstore table and logs each document change.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/jacentio/docstore/internal/config"
	"github.com/jacentio/docstore/stream"
)

func main() {
	h, logger, err := newHandler(config.NewLoader(os.Getenv("DOCSTORE_CONFIG_FILE"), config.DefaultEnvPrefix))
	if err != nil {
		fmt.Fprintf(os.Stderr, "docstore-stream: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	lambda.Start(h.Handle)
}

func newHandler(loader *config.Loader) (*stream.Handler, *zap.Logger, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	registry := stream.NewRegistry()
	registry.Register(cfg.Table, logChange(logger))

	h := stream.NewHandler(registry, logger, stream.WithRevisionField(cfg.Store.RevisionField))
	return h, logger, nil
}

// logChange returns a consumer that writes one log entry per change.
func logChange(logger *zap.Logger) stream.Consumer {
	return func(_ context.Context, c stream.Change) error {
		fields := []zap.Field{
			zap.String("table", c.Table),
			zap.String("kind", c.Kind.String()),
			zap.String("event_id", c.EventID),
			zap.String("sequence", c.SequenceNumber),
		}
		if c.Key != nil {
			fields = append(fields, zap.Any("key", c.Key.Map()))
		}
		if c.Expired {
			fields = append(fields, zap.Bool("expired", true))
		}
		logger.Info("document changed", fields...)
		return nil
	}
}
