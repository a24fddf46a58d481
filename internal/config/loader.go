package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes the environment variables read by Loader.
const DefaultEnvPrefix = "DOCSTORE"

// Loader reads configuration with precedence: flags > env > file > defaults.
type Loader struct {
	configFile string
	envPrefix  string
	flags      map[string]*pflag.Flag
}

// NewLoader creates a Loader. configFile may be empty.
func NewLoader(configFile, envPrefix string) *Loader {
	if strings.TrimSpace(envPrefix) == "" {
		envPrefix = DefaultEnvPrefix
	}
	return &Loader{
		configFile: configFile,
		envPrefix:  envPrefix,
		flags:      map[string]*pflag.Flag{},
	}
}

// BindFlag makes flag override key when the flag was set explicitly.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) *Loader {
	if flag != nil {
		l.flags[key] = flag
	}
	return l
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	l.bindEnvVars(v)
	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars binds every key to its prefixed environment variable. AWS
// settings also fall back to the standard AWS variables.
func (l *Loader) bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("table", l.prefixedEnv("TABLE"))

	_ = v.BindEnv("aws.region", l.prefixedEnv("AWS_REGION"), "AWS_REGION", "AWS_DEFAULT_REGION")
	_ = v.BindEnv("aws.endpoint", l.prefixedEnv("AWS_ENDPOINT"), "AWS_ENDPOINT_URL_DYNAMODB")
	_ = v.BindEnv("aws.profile", l.prefixedEnv("AWS_PROFILE"), "AWS_PROFILE")
	_ = v.BindEnv("aws.access_key_id", l.prefixedEnv("AWS_ACCESS_KEY_ID"))
	_ = v.BindEnv("aws.secret_access_key", l.prefixedEnv("AWS_SECRET_ACCESS_KEY"))
	_ = v.BindEnv("aws.session_token", l.prefixedEnv("AWS_SESSION_TOKEN"))

	_ = v.BindEnv("store.revision_field", l.prefixedEnv("STORE_REVISION_FIELD"))
	_ = v.BindEnv("store.allow_scans", l.prefixedEnv("STORE_ALLOW_SCANS"))
	_ = v.BindEnv("store.max_concurrency", l.prefixedEnv("STORE_MAX_CONCURRENCY"))
	_ = v.BindEnv("store.batch_get_size", l.prefixedEnv("STORE_BATCH_GET_SIZE"))
	_ = v.BindEnv("store.requests_per_second", l.prefixedEnv("STORE_REQUESTS_PER_SECOND"))
	_ = v.BindEnv("store.operation_timeout", l.prefixedEnv("STORE_OPERATION_TIMEOUT"))
	_ = v.BindEnv("store.consistent_read", l.prefixedEnv("STORE_CONSISTENT_READ"))

	_ = v.BindEnv("log.level", l.prefixedEnv("LOG_LEVEL"))
	_ = v.BindEnv("log.format", l.prefixedEnv("LOG_FORMAT"))
}

func (l *Loader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(l.envPrefix), suffix)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("table", cfg.Table)

	v.SetDefault("aws.region", cfg.AWS.Region)
	v.SetDefault("aws.endpoint", cfg.AWS.Endpoint)
	v.SetDefault("aws.profile", cfg.AWS.Profile)
	v.SetDefault("aws.access_key_id", cfg.AWS.AccessKeyID)
	v.SetDefault("aws.secret_access_key", cfg.AWS.SecretAccessKey)
	v.SetDefault("aws.session_token", cfg.AWS.SessionToken)

	v.SetDefault("store.revision_field", cfg.Store.RevisionField)
	v.SetDefault("store.allow_scans", cfg.Store.AllowScans)
	v.SetDefault("store.max_concurrency", cfg.Store.MaxConcurrency)
	v.SetDefault("store.batch_get_size", cfg.Store.BatchGetSize)
	v.SetDefault("store.requests_per_second", cfg.Store.RequestsPerSecond)
	v.SetDefault("store.operation_timeout", cfg.Store.OperationTimeout)
	v.SetDefault("store.consistent_read", cfg.Store.ConsistentRead)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
