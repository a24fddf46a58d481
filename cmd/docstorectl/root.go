package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jacentio/docstore/internal/config"
	"github.com/jacentio/docstore/store"
)

// options carries the dependencies of the command tree.
type options struct {
	envPrefix string

	// newClient builds the DynamoDB client from the loaded settings.
	newClient func(ctx context.Context, cfg config.AWSConfig) (store.Client, error)
}

func defaultOptions() options {
	return options{
		envPrefix: config.DefaultEnvPrefix,
		newClient: func(ctx context.Context, cfg config.AWSConfig) (store.Client, error) {
			return config.NewClient(ctx, cfg)
		},
	}
}

// session is an open store plus the logger it reports to.
type session struct {
	store  *store.Store
	logger *zap.Logger
}

func (s *session) close() {
	_ = s.store.Close()
	_ = s.logger.Sync()
}

func newRootCommand(opts options) *cobra.Command {
	root := &cobra.Command{
		Use:           "docstorectl",
		Short:         "Inspect and edit a docstore table",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var cfgPath string
	pf := root.PersistentFlags()
	pf.StringVarP(&cfgPath, "config-file", "c", "", "config file path")
	pf.String("table", "", "table name (DOCSTORE_TABLE)")
	pf.String("region", "", "AWS region (DOCSTORE_AWS_REGION)")
	pf.String("endpoint", "", "DynamoDB endpoint override (DOCSTORE_AWS_ENDPOINT)")
	pf.Bool("allow-scans", false, "allow queries to fall back to a table scan")
	pf.String("log-level", "", "log level: debug, info, warn or error")

	open := func(cmd *cobra.Command) (*session, error) {
		cfg, err := config.NewLoader(cfgPath, opts.envPrefix).
			BindFlag("table", pf.Lookup("table")).
			BindFlag("aws.region", pf.Lookup("region")).
			BindFlag("aws.endpoint", pf.Lookup("endpoint")).
			BindFlag("store.allow_scans", pf.Lookup("allow-scans")).
			BindFlag("log.level", pf.Lookup("log-level")).
			Load()
		if err != nil {
			return nil, err
		}
		logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		client, err := opts.newClient(cmd.Context(), cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("create client: %w", err)
		}
		s, err := store.Open(cmd.Context(), client, cfg.Table, cfg.StoreConfig(logger))
		if err != nil {
			return nil, err
		}
		return &session{store: s, logger: logger}, nil
	}

	root.AddCommand(
		newDescribeCommand(open),
		newPlanCommand(open),
		newQueryCommand(open),
		newGetCommand(open),
		newPutCommand(open),
		newDeleteCommand(open),
	)
	return root
}
