// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides (CONSENTSCOPE_CRAWL_GRACE_PERIOD, ...).
const EnvPrefix = "CONSENTSCOPE"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Crawl() CrawlConfig
	Consent() ConsentConfig
	Analysis() AnalysisConfig
	Database() DatabaseConfig
	Summary() SummaryConfig
	Server() ServerConfig

	SetBrowserHeadless(bool)
	SetDatabaseDriver(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	CrawlCfg    CrawlConfig    `mapstructure:"crawl" yaml:"crawl"`
	ConsentCfg  ConsentConfig  `mapstructure:"consent" yaml:"consent"`
	AnalysisCfg AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	SummaryCfg  SummaryConfig  `mapstructure:"summary" yaml:"summary"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Crawl() CrawlConfig       { return c.CrawlCfg }
func (c *Config) Consent() ConsentConfig   { return c.ConsentCfg }
func (c *Config) Analysis() AnalysisConfig { return c.AnalysisCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Summary() SummaryConfig   { return c.SummaryCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetDatabaseDriver(d string) { c.DatabaseCfg.Driver = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Locale          string   `mapstructure:"locale" yaml:"locale"`
	// MaxSessions bounds concurrently open isolated sessions.
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// CrawlConfig tunes the page observer.
type CrawlConfig struct {
	NavigationTimeout    time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NetworkIdleQuiet     time.Duration `mapstructure:"network_idle_quiet" yaml:"network_idle_quiet"`
	GracePeriod          time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	TrackingPollTimeout  time.Duration `mapstructure:"tracking_poll_timeout" yaml:"tracking_poll_timeout"`
	TrackingPollInterval time.Duration `mapstructure:"tracking_poll_interval" yaml:"tracking_poll_interval"`
	CaptureDocumentBody  bool          `mapstructure:"capture_document_body" yaml:"capture_document_body"`
}

// ConsentConfig tunes the consent experiment.
type ConsentConfig struct {
	MaxPasses            int           `mapstructure:"max_passes" yaml:"max_passes"`
	PassBackoff          time.Duration `mapstructure:"pass_backoff" yaml:"pass_backoff"`
	SettleDelay          time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	DrawerDelay          time.Duration `mapstructure:"drawer_delay" yaml:"drawer_delay"`
	DOMDepth             int           `mapstructure:"dom_depth" yaml:"dom_depth"`
	RetryOnSessionClosed bool          `mapstructure:"retry_on_session_closed" yaml:"retry_on_session_closed"`
}

// AnalysisConfig controls which optional pipeline stages run.
type AnalysisConfig struct {
	ParallelExtractors   bool `mapstructure:"parallel_extractors" yaml:"parallel_extractors"`
	ThirdPartyEnrichment bool `mapstructure:"third_party_enrichment" yaml:"third_party_enrichment"`
	Technologies         bool `mapstructure:"technologies" yaml:"technologies"`
}

// DatabaseConfig holds the persistence settings.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres" or "none".
	Driver     string `mapstructure:"driver" yaml:"driver"`
	URL        string `mapstructure:"url" yaml:"url"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// SummaryConfig configures the AI summary client.
type SummaryConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	Model           string        `mapstructure:"model" yaml:"model"`
	RatePerMinute   int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxPayloadBytes int           `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
	Temperature     float32       `mapstructure:"temperature" yaml:"temperature"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshal from a viper instance with only defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "consentscope")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.locale", "de-DE")
	v.SetDefault("browser.max_sessions", 4)

	// -- Crawl --
	v.SetDefault("crawl.navigation_timeout", "25s")
	v.SetDefault("crawl.network_idle_quiet", "500ms")
	v.SetDefault("crawl.grace_period", "3s")
	v.SetDefault("crawl.tracking_poll_timeout", "8s")
	v.SetDefault("crawl.tracking_poll_interval", "250ms")
	v.SetDefault("crawl.capture_document_body", true)

	// -- Consent --
	v.SetDefault("consent.max_passes", 3)
	v.SetDefault("consent.pass_backoff", "400ms")
	v.SetDefault("consent.settle_delay", "2s")
	v.SetDefault("consent.idle_timeout", "5s")
	v.SetDefault("consent.drawer_delay", "800ms")
	v.SetDefault("consent.dom_depth", 5)
	v.SetDefault("consent.retry_on_session_closed", true)

	// -- Analysis --
	v.SetDefault("analysis.parallel_extractors", true)
	v.SetDefault("analysis.third_party_enrichment", true)
	v.SetDefault("analysis.technologies", true)

	// -- Database --
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", filepath.Join(xdg.DataHome, "consentscope", "analyses.db"))

	// -- Summary --
	v.SetDefault("summary.model", "gemini-2.5-flash")
	v.SetDefault("summary.rate_per_minute", 10)
	v.SetDefault("summary.timeout", "90s")
	v.SetDefault("summary.max_retries", 3)
	v.SetDefault("summary.max_payload_bytes", 48*1024)
	v.SetDefault("summary.temperature", 0.2)

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8420")
	v.SetDefault("server.cache_ttl", "10m")
	v.SetDefault("server.request_timeout", "3m")
}

// NewConfigFromViper unmarshals, normalizes and validates the configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("summary.api_key", EnvPrefix+"_SUMMARY_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.SummaryCfg.APIKey == "" {
		cfg.SummaryCfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// normalize expands user-relative paths.
func (c *Config) normalize() error {
	if c.DatabaseCfg.SQLitePath != "" {
		p, err := homedir.Expand(c.DatabaseCfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("database.sqlite_path: %w", err)
		}
		c.DatabaseCfg.SQLitePath = p
	}
	if c.LoggerCfg.LogFile != "" {
		p, err := homedir.Expand(c.LoggerCfg.LogFile)
		if err != nil {
			return fmt.Errorf("logger.log_file: %w", err)
		}
		c.LoggerCfg.LogFile = p
	}
	c.DatabaseCfg.Driver = strings.ToLower(strings.TrimSpace(c.DatabaseCfg.Driver))
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be a positive integer")
	}
	if err := c.CrawlCfg.Validate(); err != nil {
		return fmt.Errorf("crawl configuration invalid: %w", err)
	}
	if err := c.ConsentCfg.Validate(); err != nil {
		return fmt.Errorf("consent configuration invalid: %w", err)
	}
	if err := c.DatabaseCfg.Validate(); err != nil {
		return fmt.Errorf("database configuration invalid: %w", err)
	}
	if c.SummaryCfg.RatePerMinute <= 0 {
		return fmt.Errorf("summary.rate_per_minute must be a positive integer")
	}
	if c.SummaryCfg.MaxPayloadBytes < 1024 {
		return fmt.Errorf("summary.max_payload_bytes must be at least 1024")
	}
	return nil
}

// Validate checks the crawl timings.
func (c *CrawlConfig) Validate() error {
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if c.NetworkIdleQuiet <= 0 {
		return fmt.Errorf("network_idle_quiet must be a positive duration")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}
	if c.TrackingPollInterval <= 0 || c.TrackingPollTimeout < 0 {
		return fmt.Errorf("tracking_poll_interval must be positive and tracking_poll_timeout non-negative")
	}
	return nil
}

// Validate checks the consent experiment settings.
func (c *ConsentConfig) Validate() error {
	if c.MaxPasses <= 0 {
		return fmt.Errorf("max_passes must be greater than 0")
	}
	if c.DOMDepth <= 0 {
		return fmt.Errorf("dom_depth must be greater than 0")
	}
	if c.SettleDelay < 0 || c.PassBackoff < 0 || c.DrawerDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "none", "":
		return nil
	case "sqlite":
		if d.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if d.URL == "" {
			return fmt.Errorf("url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown driver %q (expected sqlite, postgres or none)", d.Driver)
	}
	return nil
}
