package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const envPrefix = "KAPTN_INSIGHT_"

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Logging    LoggingConfig    `yaml:"logging"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	Retention  RetentionConfig  `yaml:"retention"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// ServerConfig represents the server configuration
type ServerConfig struct {
	Addr           string     `yaml:"addr"`
	RequestTimeout string     `yaml:"request_timeout"`
	// ViewCacheTTL caches computed metric views; "0s" disables the cache
	ViewCacheTTL   string     `yaml:"view_cache_ttl"`
	CORS           CORSConfig `yaml:"cors"`
}

// CORSConfig represents the CORS configuration
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
}

// KubernetesConfig represents the Kubernetes configuration
type KubernetesConfig struct {
	Mode           string  `yaml:"mode"`
	KubeconfigPath string  `yaml:"kubeconfig_path"`
	QPS            float32 `yaml:"qps"`
	Burst          int     `yaml:"burst"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RuntimeConfig controls the topology cache and its resync loop.
type RuntimeConfig struct {
	Staleness      string `yaml:"staleness"`
	ProbeTimeout   string `yaml:"probe_timeout"`
	FetchTimeout   string `yaml:"fetch_timeout"`
	ResyncInterval string `yaml:"resync_interval"`
	// ResyncCooldown holds the in-flight flag after a run completes.
	ResyncCooldown string `yaml:"resync_cooldown"`
}

// SourceConfig selects where raw samples are read from.
type SourceConfig struct {
	Kind              string  `yaml:"kind"`
	PrometheusURL     string  `yaml:"prometheus_url"`
	PrometheusQPS     float64 `yaml:"prometheus_qps"`
	PrometheusTimeout string  `yaml:"prometheus_timeout"`
	FetchConcurrency  int     `yaml:"fetch_concurrency"`

	// Kubelet summary settings, used when kind is 'kubelet'
	KubeletInsecureTLS bool   `yaml:"kubelet_insecure_tls"`
	KubeletCacheTTL    string `yaml:"kubelet_cache_ttl"`
}

// StorageConfig represents the sample store configuration
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// RetentionConfig holds the retention horizons seeded into the settings store.
type RetentionConfig struct {
	MinuteRetentionDays int `yaml:"minute_retention_days"`
	HourRetentionMonths int `yaml:"hour_retention_months"`
	DayRetentionYears   int `yaml:"day_retention_years"`
}

// PricingConfig holds unit prices seeded when the pricing store is empty.
type PricingConfig struct {
	Seed            bool    `yaml:"seed"`
	CPUCoreHour     float64 `yaml:"cpu_core_hour"`
	MemoryGBHour    float64 `yaml:"memory_gb_hour"`
	StorageGBHour   float64 `yaml:"storage_gb_hour"`
	NetworkEgressGB float64 `yaml:"network_egress_gb"`
}

// SchedulerConfig represents the rollup/retention job configuration
type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HourlySpec string `yaml:"hourly_spec"`
	DailySpec  string `yaml:"daily_spec"`
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

// Default returns the built-in configuration without consulting the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "0.0.0.0:8080",
			RequestTimeout: "60s",
			ViewCacheTTL:   "15s",
			CORS: CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			},
		},
		Kubernetes: KubernetesConfig{
			Mode:  "kubeconfig",
			QPS:   20,
			Burst: 40,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Runtime: RuntimeConfig{
			Staleness:      "3h",
			ProbeTimeout:   "5s",
			FetchTimeout:   "60s",
			ResyncInterval: "30m",
			ResyncCooldown: "0s",
		},
		Source: SourceConfig{
			Kind:              SourceStore,
			PrometheusURL:     "http://prometheus.monitoring.svc:9090",
			PrometheusQPS:     10,
			PrometheusTimeout: "30s",
			FetchConcurrency:  8,
			KubeletCacheTTL:   "15s",
		},
		Storage: StorageConfig{
			SQLitePath: "./data/insight.db",
		},
		Retention: RetentionConfig{
			MinuteRetentionDays: 7,
			HourRetentionMonths: 3,
			DayRetentionYears:   2,
		},
		Pricing: PricingConfig{
			Seed:            true,
			CPUCoreHour:     0.031611,
			MemoryGBHour:    0.004237,
			StorageGBHour:   0.00005479,
			NetworkEgressGB: 0.09,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			HourlySpec: "1 * * * *",
			DailySpec:  "5 0 * * *",
		},
	}
}

// Metric source kinds
const (
	SourceStore      = "store"
	SourcePrometheus = "prometheus"
	SourceMetricsAPI = "metrics-api"
	SourceKubelet    = "kubelet"
)

// loadWithDefaults loads configuration with defaults, optionally from a file
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := Default()

	// File values land on top of the defaults; unset keys keep their default
	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// loadFromYAMLFile decodes a YAML file into cfg
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return nil
}

// applyEnvOverrides lets environment variables take precedence over file values
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = getEnv(envPrefix+"SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.RequestTimeout = getEnv(envPrefix+"REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	cfg.Server.ViewCacheTTL = getEnv(envPrefix+"VIEW_CACHE_TTL", cfg.Server.ViewCacheTTL)
	cfg.Server.CORS.AllowOrigins = getEnvStringSlice(envPrefix+"CORS_ALLOW_ORIGINS", cfg.Server.CORS.AllowOrigins)

	cfg.Kubernetes.Mode = getEnv(envPrefix+"KUBE_MODE", cfg.Kubernetes.Mode)
	cfg.Kubernetes.KubeconfigPath = getEnv("KUBECONFIG", cfg.Kubernetes.KubeconfigPath)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv(envPrefix+"LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv(envPrefix+"LOG_FILE", cfg.Logging.File)

	cfg.Runtime.Staleness = getEnv(envPrefix+"STALENESS", cfg.Runtime.Staleness)
	cfg.Runtime.ProbeTimeout = getEnv(envPrefix+"PROBE_TIMEOUT", cfg.Runtime.ProbeTimeout)
	cfg.Runtime.FetchTimeout = getEnv(envPrefix+"FETCH_TIMEOUT", cfg.Runtime.FetchTimeout)
	cfg.Runtime.ResyncInterval = getEnv(envPrefix+"RESYNC_INTERVAL", cfg.Runtime.ResyncInterval)
	cfg.Runtime.ResyncCooldown = getEnv(envPrefix+"RESYNC_COOLDOWN", cfg.Runtime.ResyncCooldown)

	cfg.Source.Kind = getEnv(envPrefix+"SOURCE", cfg.Source.Kind)
	cfg.Source.PrometheusURL = getEnv(envPrefix+"PROMETHEUS_URL", cfg.Source.PrometheusURL)
	cfg.Source.PrometheusQPS = getEnvFloat(envPrefix+"PROMETHEUS_QPS", cfg.Source.PrometheusQPS)
	cfg.Source.PrometheusTimeout = getEnv(envPrefix+"PROMETHEUS_TIMEOUT", cfg.Source.PrometheusTimeout)
	cfg.Source.FetchConcurrency = getEnvInt(envPrefix+"FETCH_CONCURRENCY", cfg.Source.FetchConcurrency)
	cfg.Source.KubeletInsecureTLS = getEnvBool(envPrefix+"KUBELET_INSECURE_TLS", cfg.Source.KubeletInsecureTLS)
	cfg.Source.KubeletCacheTTL = getEnv(envPrefix+"KUBELET_CACHE_TTL", cfg.Source.KubeletCacheTTL)

	cfg.Storage.SQLitePath = getEnv(envPrefix+"SQLITE_PATH", cfg.Storage.SQLitePath)

	cfg.Retention.MinuteRetentionDays = getEnvInt(envPrefix+"MINUTE_RETENTION_DAYS", cfg.Retention.MinuteRetentionDays)
	cfg.Retention.HourRetentionMonths = getEnvInt(envPrefix+"HOUR_RETENTION_MONTHS", cfg.Retention.HourRetentionMonths)
	cfg.Retention.DayRetentionYears = getEnvInt(envPrefix+"DAY_RETENTION_YEARS", cfg.Retention.DayRetentionYears)

	cfg.Pricing.Seed = getEnvBool(envPrefix+"PRICING_SEED", cfg.Pricing.Seed)

	cfg.Scheduler.Enabled = getEnvBool(envPrefix+"SCHEDULER_ENABLED", cfg.Scheduler.Enabled)

	// Override port if PORT env var is set
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Kubernetes.Mode != "incluster" && c.Kubernetes.Mode != "kubeconfig" {
		return fmt.Errorf("kubernetes mode must be 'incluster' or 'kubeconfig'")
	}

	switch c.Source.Kind {
	case SourceStore, SourceMetricsAPI, SourceKubelet:
	case SourcePrometheus:
		if c.Source.PrometheusURL == "" {
			return fmt.Errorf("prometheus url is required when source is 'prometheus'")
		}
	default:
		return fmt.Errorf("source kind must be one of '%s', '%s', '%s', '%s'", SourceStore, SourcePrometheus, SourceMetricsAPI, SourceKubelet)
	}
	if c.Source.FetchConcurrency < 1 {
		return fmt.Errorf("fetch concurrency must be at least 1")
	}

	durations := map[string]string{
		"server.request_timeout":    c.Server.RequestTimeout,
		"server.view_cache_ttl":     c.Server.ViewCacheTTL,
		"source.kubelet_cache_ttl":  c.Source.KubeletCacheTTL,
		"runtime.staleness":         c.Runtime.Staleness,
		"runtime.probe_timeout":     c.Runtime.ProbeTimeout,
		"runtime.fetch_timeout":     c.Runtime.FetchTimeout,
		"runtime.resync_interval":   c.Runtime.ResyncInterval,
		"runtime.resync_cooldown":   c.Runtime.ResyncCooldown,
		"source.prometheus_timeout": c.Source.PrometheusTimeout,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if d, _ := time.ParseDuration(c.Runtime.Staleness); d == 0 {
		return fmt.Errorf("runtime.staleness must be greater than zero")
	}
	if d, _ := time.ParseDuration(c.Runtime.ProbeTimeout); d == 0 {
		return fmt.Errorf("runtime.probe_timeout must be greater than zero")
	}

	if c.Retention.MinuteRetentionDays < 1 || c.Retention.HourRetentionMonths < 1 || c.Retention.DayRetentionYears < 1 {
		return fmt.Errorf("retention horizons must be positive")
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.HourlySpec); err != nil {
			return fmt.Errorf("invalid scheduler.hourly_spec: %w", err)
		}
		if _, err := cron.ParseStandard(c.Scheduler.DailySpec); err != nil {
			return fmt.Errorf("invalid scheduler.daily_spec: %w", err)
		}
	}

	if c.Pricing.CPUCoreHour < 0 || c.Pricing.MemoryGBHour < 0 || c.Pricing.StorageGBHour < 0 || c.Pricing.NetworkEgressGB < 0 {
		return fmt.Errorf("unit prices cannot be negative")
	}

	return nil
}

// Duration parses a validated duration string, falling back to def on error.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
