package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Ledger      LedgerConfig      `yaml:"ledger" mapstructure:"ledger"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" mapstructure:"diagnostics"`
	Explain     ExplainConfig     `yaml:"explain" mapstructure:"explain"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the audit history database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite", "postgres" or "none"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LedgerConfig configures the append-only audit ledger.
type LedgerConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	VerifySchedule string `yaml:"verify_schedule" mapstructure:"verify_schedule"`
}

// DiagnosticsConfig configures the risk detectors.
type DiagnosticsConfig struct {
	Parallel      bool `yaml:"parallel" mapstructure:"parallel"`
	ReportSkipped bool `yaml:"report_skipped" mapstructure:"report_skipped"`
}

// ExplainConfig configures the non-authoritative explanation layer.
type ExplainConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	Model             string `yaml:"model" mapstructure:"model"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Audience          string `yaml:"audience" mapstructure:"audience"`
	MaxAttempts       int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailureThreshold  int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// Timeout returns the per-explanation time budget.
func (c ExplainConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// BatchConfig configures multi-dataset runs.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	MaxUploadMB int64    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures scheduled ledger verification and alerting.
type MonitoringConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	AbortRateThreshold float64 `yaml:"abort_rate_threshold" mapstructure:"abort_rate_threshold"`
	SampleSize         int     `yaml:"sample_size" mapstructure:"sample_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ledger.path", "audit_history.jsonl")
	v.SetDefault("ledger.verify_schedule", "@every 1h")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "audit.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 256)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("diagnostics.parallel", true)
	v.SetDefault("diagnostics.report_skipped", false)
	v.SetDefault("explain.enabled", false)
	v.SetDefault("explain.model", "claude-haiku-4-5-20251001")
	v.SetDefault("explain.timeout_secs", 60)
	v.SetDefault("explain.max_tokens", 400)
	v.SetDefault("explain.requests_per_minute", 30)
	v.SetDefault("explain.audience", "engineer")
	v.SetDefault("explain.max_attempts", 3)
	v.SetDefault("explain.failure_threshold", 5)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.abort_rate_threshold", 0.5)
	v.SetDefault("monitoring.sample_size", 200)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later in a confusing way.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Ledger.Path == "" {
		return eris.New("config: ledger.path is required")
	}
	if c.Batch.Concurrency <= 0 {
		return eris.Errorf("config: batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
