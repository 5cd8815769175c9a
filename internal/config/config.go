package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the healer.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Clients   ClientsConfig   `yaml:"clients"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Rules     RulesConfig     `yaml:"rules"`
	Policies  []PolicyConfig  `yaml:"policies"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SchedulerConfig tunes the policy executor.
type SchedulerConfig struct {
	FallbackInterval time.Duration `yaml:"fallbackInterval"`
	FailureMode      string        `yaml:"failureMode"`
}

// ClientsConfig groups integrations with external backends.
type ClientsConfig struct {
	Core CoreClientConfig `yaml:"core"`
}

// CoreClientConfig configures access to mirador-core data aggregation APIs.
type CoreClientConfig struct {
	BaseURL          string        `yaml:"baseURL"`
	MetricsPath      string        `yaml:"metricsPath"`
	LogsPath         string        `yaml:"logsPath"`
	TracesPath       string        `yaml:"tracesPath"`
	ServiceGraphPath string        `yaml:"serviceGraphPath"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CacheConfig controls in-process caching of expensive lookups.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxEntries      int           `yaml:"maxEntries"`
	ServiceGraphTTL time.Duration `yaml:"serviceGraphTTL"`
}

// StoreConfig controls the action history database. An empty path disables recording.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RulesConfig controls rule-pack loading for the rule diagnoser.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// PolicyConfig declares one health policy.
type PolicyConfig struct {
	Name             string           `yaml:"name"`
	Service          string           `yaml:"service"`
	Tenant           string           `yaml:"tenant"`
	Interval         time.Duration    `yaml:"interval"`
	Lookback         time.Duration    `yaml:"lookback"`
	Sensors          []string         `yaml:"sensors"`
	Metric           string           `yaml:"metric"`
	AnomalyThreshold float64          `yaml:"anomalyThreshold"`
	Causality        bool             `yaml:"causality"`
	Resolvers        []ResolverConfig `yaml:"resolvers"`
}

// ResolverConfig selects a resolver. Type is "log" or "webhook".
type ResolverConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// Load initialises Config from a .env file, a YAML file and environment overrides, in
// that order of increasing precedence.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("MIRADOR_HEALER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyPolicyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration errors that would prevent wiring policies.
func (c *Config) Validate() error {
	var errs []error
	switch c.Scheduler.FailureMode {
	case "", "halt", "isolate":
	default:
		errs = append(errs, fmt.Errorf("scheduler.failureMode: unknown mode %q", c.Scheduler.FailureMode))
	}

	seen := make(map[string]bool, len(c.Policies))
	for i, p := range c.Policies {
		prefix := fmt.Sprintf("policies[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate policy name %q", prefix, p.Name))
		}
		seen[p.Name] = true
		if p.Service == "" {
			errs = append(errs, fmt.Errorf("%s: service is required", prefix))
		}
		if p.Interval <= 0 {
			errs = append(errs, fmt.Errorf("%s: interval must be positive", prefix))
		}
		for _, kind := range p.Sensors {
			switch kind {
			case "metrics", "logs", "traces":
			default:
				errs = append(errs, fmt.Errorf("%s: unknown sensor kind %q", prefix, kind))
			}
		}
		for j, r := range p.Resolvers {
			switch r.Type {
			case "log":
			case "webhook":
				if r.URL == "" {
					errs = append(errs, fmt.Errorf("%s.resolvers[%d]: webhook url is required", prefix, j))
				}
			default:
				errs = append(errs, fmt.Errorf("%s.resolvers[%d]: unknown resolver type %q", prefix, j, r.Type))
			}
		}
	}
	return errors.Join(errs...)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50052",
			HTTPAddress:     ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Scheduler: SchedulerConfig{
			FallbackInterval: 10 * time.Second,
			FailureMode:      "halt",
		},
		Clients: ClientsConfig{
			Core: CoreClientConfig{
				MetricsPath:      "/api/v1/rca/metrics",
				LogsPath:         "/api/v1/rca/logs",
				TracesPath:       "/api/v1/rca/traces",
				ServiceGraphPath: "/api/v1/rca/service-graph",
				Timeout:          5 * time.Second,
			},
		},
		Cache: CacheConfig{
			Enabled:         true,
			MaxEntries:      1024,
			ServiceGraphTTL: 5 * time.Minute,
		},
		Store: StoreConfig{Path: "healer.db"},
		Rules: RulesConfig{Path: "configs/rules/default.yaml"},
	}
}

func applyPolicyDefaults(cfg *Config) {
	for i := range cfg.Policies {
		p := &cfg.Policies[i]
		if p.Tenant == "" {
			p.Tenant = "default"
		}
		if p.Lookback <= 0 {
			p.Lookback = 15 * time.Minute
		}
		if len(p.Sensors) == 0 {
			p.Sensors = []string{"metrics"}
		}
		if len(p.Resolvers) == 0 {
			p.Resolvers = []ResolverConfig{{Type: "log"}}
		}
	}
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_HEALER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_HEALER_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_HEALER_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_HEALER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_HEALER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_HEALER_FALLBACK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.FallbackInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_HEALER_FAILURE_MODE"); v != "" {
		cfg.Scheduler.FailureMode = v
	}
	if v := os.Getenv("MIRADOR_CORE_BASE_URL"); v != "" {
		cfg.Clients.Core.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_CORE_METRICS_PATH"); v != "" {
		cfg.Clients.Core.MetricsPath = v
	}
	if v := os.Getenv("MIRADOR_CORE_LOGS_PATH"); v != "" {
		cfg.Clients.Core.LogsPath = v
	}
	if v := os.Getenv("MIRADOR_CORE_TRACES_PATH"); v != "" {
		cfg.Clients.Core.TracesPath = v
	}
	if v := os.Getenv("MIRADOR_CORE_SERVICE_GRAPH_PATH"); v != "" {
		cfg.Clients.Core.ServiceGraphPath = v
	}
	if v := os.Getenv("MIRADOR_CORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.Core.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_HEALER_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = enabled
		}
	}
	if v := os.Getenv("MIRADOR_HEALER_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("MIRADOR_HEALER_CACHE_SERVICE_GRAPH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ServiceGraphTTL = d
		}
	}
	if v, ok := os.LookupEnv("MIRADOR_HEALER_STORE_PATH"); ok {
		cfg.Store.Path = strings.TrimSpace(v)
	}
	if v := os.Getenv("MIRADOR_HEALER_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
}
