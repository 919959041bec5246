// Package config provides configuration types, defaults and validation for optimeist.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/optimeist/optimeist/internal/log"
)

// Config holds all configuration options for optimeist.
type Config struct {
	Region    string          `mapstructure:"region" yaml:"region,omitempty"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Install   InstallConfig   `mapstructure:"install" yaml:"install"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
	UI        UIConfig        `mapstructure:"ui" yaml:"ui"`
	Extension ExtensionConfig `mapstructure:"extension" yaml:"extension"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
}

// LoggingConfig controls the installer's log file.
type LoggingConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
}

// InstallConfig controls how the extension is installed on functions.
type InstallConfig struct {
	SecretName   string `mapstructure:"secret_name" yaml:"secret_name"`
	APIKeyEnv    string `mapstructure:"api_key_env" yaml:"api_key_env"`
	PolicyPrefix string `mapstructure:"policy_prefix" yaml:"policy_prefix"`
}

// CacheConfig controls the function description cache.
type CacheConfig struct {
	DescribeTTL time.Duration `mapstructure:"describe_ttl" yaml:"describe_ttl"`
}

// JournalConfig controls the local install history database.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// UIConfig holds user interface options.
type UIConfig struct {
	TickRate time.Duration `mapstructure:"tick_rate" yaml:"tick_rate"`
}

// ExtensionConfig holds settings for the Lambda extension process.
type ExtensionConfig struct {
	APIURL         string        `mapstructure:"api_url" yaml:"api_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	TelemetryPort  int           `mapstructure:"telemetry_port" yaml:"telemetry_port"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter"` // none, file, stdout, otlp
	FilePath     string  `mapstructure:"file_path" yaml:"file_path,omitempty"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// DefaultLogPath returns ~/.local/share/optimeist/optimeist.log, or a
// relative file name if the home directory is unavailable.
func DefaultLogPath() string {
	return dataPath("optimeist.log")
}

// DefaultJournalPath returns ~/.local/share/optimeist/history.db.
func DefaultJournalPath() string {
	return dataPath("history.db")
}

// DefaultTracesFilePath returns ~/.local/share/optimeist/traces.jsonl.
func DefaultTracesFilePath() string {
	return dataPath("traces.jsonl")
}

func dataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".local", "share", "optimeist", name)
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			File:  DefaultLogPath(),
			Level: "info",
		},
		Install: InstallConfig{
			SecretName:   "optimeist-api-key",
			APIKeyEnv:    "OPTIMEIST_API_KEY",
			PolicyPrefix: "OptimeistPolicy-",
		},
		Cache: CacheConfig{
			DescribeTTL: 10 * time.Minute,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    DefaultJournalPath(),
		},
		UI: UIConfig{
			TickRate: 250 * time.Millisecond,
		},
		Extension: ExtensionConfig{
			APIURL:         "https://api.optimeist.dev",
			PollInterval:   5 * time.Minute,
			RequestTimeout: 10 * time.Second,
			TelemetryPort:  4243,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // derived at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the whole configuration.
func Validate(c Config) error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Install.SecretName == "" {
		return fmt.Errorf("install.secret_name is required")
	}
	if c.Install.APIKeyEnv == "" {
		return fmt.Errorf("install.api_key_env is required")
	}
	if c.Cache.DescribeTTL < 0 {
		return fmt.Errorf("cache.describe_ttl must not be negative, got %s", c.Cache.DescribeTTL)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if c.UI.TickRate <= 0 {
		return fmt.Errorf("ui.tick_rate must be positive, got %s", c.UI.TickRate)
	}
	if err := ValidateExtension(c.Extension); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateExtension checks the extension settings.
func ValidateExtension(e ExtensionConfig) error {
	if e.APIURL == "" {
		return fmt.Errorf("extension.api_url is required")
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("extension.poll_interval must be positive, got %s", e.PollInterval)
	}
	if e.RequestTimeout <= 0 {
		return fmt.Errorf("extension.request_timeout must be positive, got %s", e.RequestTimeout)
	}
	if e.TelemetryPort <= 0 || e.TelemetryPort > 65535 {
		return fmt.Errorf("extension.telemetry_port must be between 1 and 65535, got %d", e.TelemetryPort)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled && tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}
	return nil
}

const configHeader = `# optimeist configuration
#
# Every key can be overridden by an environment variable with the OPTIMEIST_
# prefix, e.g. OPTIMEIST_REGION=eu-west-1 or OPTIMEIST_LOGGING_LEVEL=debug.
# Changes to logging.level are applied while the installer is running.

`

// WriteDefaultConfig creates a config file at configPath holding Defaults().
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	body, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(configPath, append([]byte(configHeader), body...), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}
