// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Search provider names.
const (
	ProviderDuckDuckGo = "duckduckgo"
	ProviderStatic     = "static"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Search  SearchConfig  `mapstructure:"search"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Capture CaptureConfig `mapstructure:"capture"`
	State   StateConfig   `mapstructure:"state"`
	Output  OutputConfig  `mapstructure:"output"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Report  ReportConfig  `mapstructure:"report"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// SearchConfig selects and tunes the search provider.
type SearchConfig struct {
	Provider       string `mapstructure:"provider"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	MaxResults     int    `mapstructure:"max_results"`
	StaticFile     string `mapstructure:"static_file"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// FetchConfig governs the metadata fetch pool.
type FetchConfig struct {
	Concurrency    int     `mapstructure:"concurrency"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	// PerHostRatePerSecond throttles repeated hits on one host; 0 disables it.
	PerHostRatePerSecond float64 `mapstructure:"per_host_rate_per_second"`
	MaxBodyBytes         int     `mapstructure:"max_body_bytes"`
}

// CaptureConfig governs screenshot capture.
type CaptureConfig struct {
	// Concurrency 0 sizes the pool from the CPU count; 1 captures sequentially.
	Concurrency            int    `mapstructure:"concurrency"`
	Retries                int    `mapstructure:"retries"`
	RetryDelaySeconds      int    `mapstructure:"retry_delay_seconds"`
	PageLoadTimeoutSeconds int    `mapstructure:"page_load_timeout_seconds"`
	SettleSeconds          int    `mapstructure:"settle_seconds"`
	ExecPath               string `mapstructure:"exec_path"`
	UserAgent              string `mapstructure:"user_agent"`
	WindowWidth            int    `mapstructure:"window_width"`
	WindowHeight           int    `mapstructure:"window_height"`
}

// StateConfig locates the persisted counter and ledger.
type StateConfig struct {
	LastIDFile  string `mapstructure:"last_id_file"`
	DomainsFile string `mapstructure:"domains_file"`
	DomainDedup bool   `mapstructure:"domain_dedup"`
}

// OutputConfig locates reports and screenshots.
type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	ImageDir string `mapstructure:"image_dir"`
}

// FilterConfig lists URL substrings that are never archived.
type FilterConfig struct {
	BlockedSubstrings []string `mapstructure:"blocked_substrings"`
}

// ReportConfig sets report header values.
type ReportConfig struct {
	Version string `mapstructure:"version"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the default level (debug in development, info otherwise).
	Level string `mapstructure:"level"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig configures the optional GCS mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run index database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Default state file names, kept next to the reports they number.
const (
	DefaultLastIDFile  = "last_id.txt"
	DefaultDomainsFile = "all_domains.txt"
)

// defaultUnder fills unset state paths with the default names inside dir.
func (s *StateConfig) defaultUnder(dir string) {
	if strings.TrimSpace(s.LastIDFile) == "" {
		s.LastIDFile = filepath.Join(dir, DefaultLastIDFile)
	}
	if strings.TrimSpace(s.DomainsFile) == "" {
		s.DomainsFile = filepath.Join(dir, DefaultDomainsFile)
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.State.defaultUnder(cfg.Output.Dir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.provider", ProviderDuckDuckGo)
	v.SetDefault("search.endpoint", "https://html.duckduckgo.com/html/")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.user_agent", browserUserAgent)
	v.SetDefault("fetch.rate_per_second", 0)
	v.SetDefault("fetch.per_host_rate_per_second", 0)
	v.SetDefault("capture.concurrency", 0)
	v.SetDefault("capture.retries", 2)
	v.SetDefault("capture.retry_delay_seconds", 2)
	v.SetDefault("capture.page_load_timeout_seconds", 30)
	v.SetDefault("capture.settle_seconds", 5)
	v.SetDefault("capture.user_agent", browserUserAgent)
	v.SetDefault("capture.window_width", 1920)
	v.SetDefault("capture.window_height", 1080)
	// Empty means "inside output.dir"; see StateConfig.defaultUnder.
	v.SetDefault("state.last_id_file", "")
	v.SetDefault("state.domains_file", "")
	v.SetDefault("state.domain_dedup", true)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.image_dir", "img")
	v.SetDefault("filter.blocked_substrings", []string{"wikipedia.org"})
	v.SetDefault("report.version", "1.3")
	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.table", "archiver_runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Search.Provider {
	case ProviderDuckDuckGo:
	case ProviderStatic:
		if c.Search.StaticFile == "" {
			return fmt.Errorf("search.static_file is required for the static provider")
		}
	default:
		return fmt.Errorf("search.provider %q is not supported", c.Search.Provider)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be >= 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RatePerSecond < 0 {
		return fmt.Errorf("fetch.rate_per_second must be >= 0")
	}
	if c.Fetch.PerHostRatePerSecond < 0 {
		return fmt.Errorf("fetch.per_host_rate_per_second must be >= 0")
	}
	if c.Capture.Concurrency < 0 {
		return fmt.Errorf("capture.concurrency must be >= 0")
	}
	if c.Capture.Retries < 0 {
		return fmt.Errorf("capture.retries must be >= 0")
	}
	if c.Capture.RetryDelaySeconds < 0 || c.Capture.SettleSeconds < 0 {
		return fmt.Errorf("capture delays must be >= 0")
	}
	if c.Capture.PageLoadTimeoutSeconds <= 0 {
		return fmt.Errorf("capture.page_load_timeout_seconds must be > 0")
	}
	if strings.TrimSpace(c.State.LastIDFile) == "" {
		return fmt.Errorf("state.last_id_file is required")
	}
	if strings.TrimSpace(c.State.DomainsFile) == "" {
		return fmt.Errorf("state.domains_file is required")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	if filepath.IsAbs(c.Output.ImageDir) || strings.Contains(c.Output.ImageDir, "..") {
		return fmt.Errorf("output.image_dir must be relative to output.dir")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout returns the per-request metadata fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between capture attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Capture.RetryDelaySeconds) * time.Second
}

// PageLoadTimeout bounds browser navigation.
func (c Config) PageLoadTimeout() time.Duration {
	return time.Duration(c.Capture.PageLoadTimeoutSeconds) * time.Second
}

// SettleDelay is the pause between page load and screenshot.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Capture.SettleSeconds) * time.Second
}
