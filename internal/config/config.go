// Package config loads the settings shared by the docstore command-line
// tools: where the table lives, how to reach it and how the store behaves.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jacentio/docstore/store"
)

// Log formats.
const (
	JSONFormat    = "json"
	ConsoleFormat = "console"
)

// Config is the full tool configuration.
type Config struct {
	// Table is the DynamoDB table the store operates on.
	Table string `mapstructure:"table"`

	AWS   AWSConfig   `mapstructure:"aws"`
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
}

// AWSConfig says how to reach DynamoDB.
type AWSConfig struct {
	Region string `mapstructure:"region"`

	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string `mapstructure:"endpoint"`

	// Profile selects a shared config profile.
	Profile string `mapstructure:"profile"`

	// Static credentials; when empty the default credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// StoreConfig mirrors the file-configurable part of store.Config.
type StoreConfig struct {
	RevisionField     string        `mapstructure:"revision_field"`
	AllowScans        bool          `mapstructure:"allow_scans"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	BatchGetSize      int           `mapstructure:"batch_get_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConsistentRead    bool          `mapstructure:"consistent_read"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	sc := store.DefaultConfig()
	return &Config{
		AWS: AWSConfig{Region: "us-east-1"},
		Store: StoreConfig{
			RevisionField:    sc.RevisionField,
			MaxConcurrency:   sc.MaxConcurrency,
			BatchGetSize:     sc.BatchGetSize,
			OperationTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: ConsoleFormat},
	}
}

// Validate reports every invalid setting in cfg.
func Validate(cfg *Config) error {
	var errs []error
	if strings.TrimSpace(cfg.Table) == "" {
		errs = append(errs, errors.New("table is required"))
	}
	if strings.TrimSpace(cfg.AWS.Region) == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}
	if (cfg.AWS.AccessKeyID == "") != (cfg.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	}
	if cfg.Store.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("store.max_concurrency must not be negative, got %d", cfg.Store.MaxConcurrency))
	}
	if cfg.Store.BatchGetSize < 0 || cfg.Store.BatchGetSize > 100 {
		errs = append(errs, fmt.Errorf("store.batch_get_size must be between 0 and 100, got %d", cfg.Store.BatchGetSize))
	}
	if cfg.Store.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("store.requests_per_second must not be negative, got %v", cfg.Store.RequestsPerSecond))
	}
	if cfg.Store.OperationTimeout < 0 {
		errs = append(errs, fmt.Errorf("store.operation_timeout must not be negative, got %v", cfg.Store.OperationTimeout))
	}
	switch cfg.Log.Format {
	case JSONFormat, ConsoleFormat:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", JSONFormat, ConsoleFormat, cfg.Log.Format))
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StoreConfig builds the store configuration, logging to logger.
func (c *Config) StoreConfig(logger *zap.Logger) store.Config {
	sc := store.DefaultConfig()
	if c.Store.RevisionField != "" {
		sc.RevisionField = c.Store.RevisionField
	}
	sc.AllowScans = c.Store.AllowScans
	if c.Store.MaxConcurrency > 0 {
		sc.MaxConcurrency = c.Store.MaxConcurrency
	}
	if c.Store.BatchGetSize > 0 {
		sc.BatchGetSize = c.Store.BatchGetSize
	}
	sc.RequestsPerSecond = c.Store.RequestsPerSecond
	sc.OperationTimeout = c.Store.OperationTimeout
	sc.ConsistentRead = c.Store.ConsistentRead
	sc.Logger = logger
	return sc
}
