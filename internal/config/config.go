package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Source    Source    `yaml:"source"`
	Target    Target    `yaml:"target"`
	Migration Migration `yaml:"migration"`
	LogLevel  string    `yaml:"log_level"`
	LogFormat string    `yaml:"log_format"`
}

// Source represents the object store the migration reads from
type Source struct {
	Kind        string `yaml:"kind"`
	URL         string `yaml:"url"`
	Auth        string `yaml:"auth"`
	AccountName string `yaml:"account_name"`
	AccountKey  string `yaml:"account_key"`
	Bucket      string `yaml:"bucket"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Secure      bool   `yaml:"secure"`
}

// Target represents the DICOMweb server objects are ingested into
type Target struct {
	URL            string `yaml:"url"`
	Path           string `yaml:"path"`
	BearerToken    string `yaml:"bearer_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ConflictStatus int    `yaml:"conflict_status"`
	FatalStatuses  []int  `yaml:"fatal_statuses"`
}

// Migration represents migration-specific configuration
type Migration struct {
	Prefix          string `yaml:"prefix"`
	Object          string `yaml:"object"`
	Concurrency     int    `yaml:"concurrency"`
	ReportInterval  int    `yaml:"report_interval"`
	PageSize        int    `yaml:"page_size"`
	RetryDelaysMs   []int  `yaml:"retry_delays_ms"`
	RetryJitterMs   int    `yaml:"retry_jitter_ms"`
	RetryLogAfter   int    `yaml:"retry_log_after"`
	StartupJitterMs int    `yaml:"startup_jitter_ms"`
	FailFast        bool   `yaml:"fail_fast"`
	DryRun          bool   `yaml:"dry_run"`
	Checkpoint      string `yaml:"checkpoint"`
	Resume          bool   `yaml:"resume"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// MaxPageSize is the largest listing page Azure Blob Storage returns.
const MaxPageSize = 5000

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Source: Source{
			Kind:   "azure",
			Auth:   "cli",
			Secure: true,
		},
		Target: Target{
			Path:           "/studies",
			TimeoutSeconds: 300,
			ConflictStatus: 409,
		},
		Migration: Migration{
			Concurrency:     8,
			ReportInterval:  5,
			PageSize:        5000,
			RetryDelaysMs:   []int{2000, 3000, 5000, 8000, 12000, 16000},
			RetryJitterMs:   50,
			RetryLogAfter:   3,
			StartupJitterMs: 50,
			FailFast:        true,
		},
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// RegisterFlags defines every command line flag Load understands.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()

	// Source flags
	flags.String("src-kind", d.Source.Kind, "Source kind (azure/minio)")
	flags.String("src-url", "", "Azure container URL or S3 endpoint")
	flags.String("src-auth", d.Source.Auth, "Azure auth mode (cli/default/shared_key/anonymous)")
	flags.String("src-account-name", "", "Azure storage account name")
	flags.String("src-account-key", "", "Azure storage account key")
	flags.String("src-bucket", "", "S3 bucket name")
	flags.String("src-access-key", "", "S3 access key")
	flags.String("src-secret-key", "", "S3 secret key")
	flags.Bool("src-secure", d.Source.Secure, "Use HTTPS for an S3 endpoint given without scheme")

	// Destination flags
	flags.String("dst-url", "", "DICOMweb server URL")
	flags.String("dst-path", d.Target.Path, "STOW-RS path on the server")
	flags.String("dst-bearer-token", "", "Bearer token for the DICOMweb server")
	flags.Int("dst-timeout", d.Target.TimeoutSeconds, "Upload request timeout in seconds")
	flags.Int("conflict-status", d.Target.ConflictStatus, "Status code meaning the object already exists")
	flags.IntSlice("fatal-statuses", nil, "Failure status codes that are never retried")

	// Migration flags
	flags.String("prefix", "", "Object name prefix filter")
	flags.String("object", "", "Single object key")
	flags.Int("concurrency", d.Migration.Concurrency, "Maximum number of concurrent uploads")
	flags.Int("report-interval", d.Migration.ReportInterval, "Throughput report interval in seconds")
	flags.Int("page-size", d.Migration.PageSize, "Listing page size")
	flags.IntSlice("retry-delays-ms", d.Migration.RetryDelaysMs, "Upload retry backoff steps in milliseconds")
	flags.Int("retry-jitter-ms", d.Migration.RetryJitterMs, "Random jitter added to each backoff step in milliseconds")
	flags.Int("retry-log-after", d.Migration.RetryLogAfter, "Log each retry after this many")
	flags.Int("startup-jitter-ms", d.Migration.StartupJitterMs, "Random delay before each object in milliseconds")
	flags.Bool("fail-fast", d.Migration.FailFast, "Abort the whole run on the first failed object")
	flags.Bool("dry-run", false, "List objects without migrating")
	flags.String("checkpoint", "", "Checkpoint database file (disabled when empty)")
	flags.Bool("resume", false, "Skip objects the checkpoint records as completed")
	flags.String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (disabled when empty)")
	flags.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
	flags.String("log-format", d.LogFormat, "Log format (json/console)")
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if flags.Changed(name) {
			v, err := flags.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("src-kind", &cfg.Source.Kind)
	str("src-url", &cfg.Source.URL)
	str("src-auth", &cfg.Source.Auth)
	str("src-account-name", &cfg.Source.AccountName)
	str("src-account-key", &cfg.Source.AccountKey)
	str("src-bucket", &cfg.Source.Bucket)
	str("src-access-key", &cfg.Source.AccessKey)
	str("src-secret-key", &cfg.Source.SecretKey)
	boolean("src-secure", &cfg.Source.Secure)

	str("dst-url", &cfg.Target.URL)
	str("dst-path", &cfg.Target.Path)
	str("dst-bearer-token", &cfg.Target.BearerToken)
	integer("dst-timeout", &cfg.Target.TimeoutSeconds)
	integer("conflict-status", &cfg.Target.ConflictStatus)
	if flags.Changed("fatal-statuses") {
		v, err := flags.GetIntSlice("fatal-statuses")
		errs = append(errs, err)
		cfg.Target.FatalStatuses = v
	}

	str("prefix", &cfg.Migration.Prefix)
	str("object", &cfg.Migration.Object)
	integer("concurrency", &cfg.Migration.Concurrency)
	integer("report-interval", &cfg.Migration.ReportInterval)
	integer("page-size", &cfg.Migration.PageSize)
	if flags.Changed("retry-delays-ms") {
		v, err := flags.GetIntSlice("retry-delays-ms")
		errs = append(errs, err)
		cfg.Migration.RetryDelaysMs = v
	}
	integer("retry-jitter-ms", &cfg.Migration.RetryJitterMs)
	integer("retry-log-after", &cfg.Migration.RetryLogAfter)
	integer("startup-jitter-ms", &cfg.Migration.StartupJitterMs)
	boolean("fail-fast", &cfg.Migration.FailFast)
	boolean("dry-run", &cfg.Migration.DryRun)
	str("checkpoint", &cfg.Migration.Checkpoint)
	boolean("resume", &cfg.Migration.Resume)
	str("metrics-addr", &cfg.Migration.MetricsAddr)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Source.Kind {
	case "azure":
		if c.Source.URL == "" {
			return fmt.Errorf("source container URL is required")
		}
		if c.Source.Auth == "shared_key" && c.Source.AccountKey == "" {
			return fmt.Errorf("source account key is required for shared_key auth")
		}
	case "minio":
		if c.Source.URL == "" {
			return fmt.Errorf("source endpoint is required")
		}
		if c.Source.Bucket == "" {
			return fmt.Errorf("source bucket is required")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}

	if !c.Migration.DryRun {
		if c.Target.URL == "" {
			return fmt.Errorf("target URL is required")
		}
		u, err := url.Parse(c.Target.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("target URL must be an absolute http(s) URL")
		}
	}

	if c.Target.ConflictStatus < 100 || c.Target.ConflictStatus > 599 {
		return fmt.Errorf("conflict status must be a valid HTTP status code")
	}
	if c.Target.ConflictStatus >= 200 && c.Target.ConflictStatus <= 299 {
		return fmt.Errorf("conflict status cannot be a success status")
	}
	for _, status := range c.Target.FatalStatuses {
		if status < 300 || status > 599 {
			return fmt.Errorf("fatal status %d must be a 3xx, 4xx or 5xx status code", status)
		}
		if status == c.Target.ConflictStatus {
			return fmt.Errorf("fatal status %d is also the conflict status", status)
		}
	}
	if c.Target.TimeoutSeconds < 0 {
		return fmt.Errorf("target timeout cannot be negative")
	}

	if c.Migration.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Migration.ReportInterval <= 0 {
		return fmt.Errorf("report interval must be positive")
	}
	if c.Migration.PageSize <= 0 || c.Migration.PageSize > MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d", MaxPageSize)
	}
	for _, d := range c.Migration.RetryDelaysMs {
		if d < 0 {
			return fmt.Errorf("retry delays cannot be negative")
		}
	}
	if c.Migration.RetryJitterMs < 0 || c.Migration.StartupJitterMs < 0 {
		return fmt.Errorf("jitter cannot be negative")
	}
	if c.Migration.Resume && c.Migration.Checkpoint == "" {
		return fmt.Errorf("resume requires a checkpoint file")
	}

	return nil
}

// RetryDelays returns the base backoff schedule.
func (m Migration) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(m.RetryDelaysMs))
	for i, ms := range m.RetryDelaysMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// RetryJitter returns the maximum jitter per backoff step.
func (m Migration) RetryJitter() time.Duration {
	return time.Duration(m.RetryJitterMs) * time.Millisecond
}

// StartupJitter returns the maximum delay before each object.
func (m Migration) StartupJitter() time.Duration {
	return time.Duration(m.StartupJitterMs) * time.Millisecond
}

// ReportEvery returns the throughput report interval.
func (m Migration) ReportEvery() time.Duration {
	return time.Duration(m.ReportInterval) * time.Second
}

// Timeout returns the per-request upload timeout; zero means none.
func (t Target) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}
