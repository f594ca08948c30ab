// Package config loads callguard runtime configuration from a YAML file
// overlaid with CALLGUARD_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/callguard/internal/model"
)

// Audit sinks.
const (
	SinkNone   = "none"
	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
	SinkRedis  = "redis"
)

// Catalog sources.
const (
	CatalogStub   = "stub"
	CatalogSQLite = "sqlite"
)

const (
	defaultHTTPAddr = "127.0.0.1:8087"
	defaultGRPCAddr = "127.0.0.1:9087"
	defaultTimeout  = 2 * time.Second
)

// Config is the full runtime configuration.
type Config struct {
	Mode       model.Mode `yaml:"mode"`
	LogLevel   string     `yaml:"log_level"`
	PolicyPath string     `yaml:"policy_path"`
	Audit      Audit      `yaml:"audit"`
	Catalog    Catalog    `yaml:"catalog"`
	Schemas    Schemas    `yaml:"schemas"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Listen     Listen     `yaml:"listen"`
}

// Audit selects the violation sink.
type Audit struct {
	Sink     string `yaml:"sink"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// Catalog selects the catalog adapter.
type Catalog struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
}

// Schemas selects the schema store. "policy" serves the schemas embedded
// in the policy file; "sqlite" reads the tool_schema table at Path.
type Schemas struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
}

// Timeouts bound every I/O the guard performs.
type Timeouts struct {
	Catalog  time.Duration `yaml:"catalog"`
	Schema   time.Duration `yaml:"schema"`
	Recorder time.Duration `yaml:"recorder"`
}

// Listen holds server addresses.
type Listen struct {
	HTTP string `yaml:"http"`
	GRPC string `yaml:"grpc"`
}

// Default returns the hermetic configuration: stub catalog, no audit sink.
func Default() Config {
	return Config{
		Mode:     model.Hermetic,
		LogLevel: "info",
		Audit:    Audit{Sink: SinkNone},
		Catalog:  Catalog{Source: CatalogStub},
		Schemas:  Schemas{Source: "policy"},
		Timeouts: Timeouts{Catalog: defaultTimeout, Schema: defaultTimeout, Recorder: defaultTimeout},
		Listen:   Listen{HTTP: defaultHTTPAddr, GRPC: defaultGRPCAddr},
	}
}

// DefaultPath returns ~/.callguard/config.yaml, or "" if home is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".callguard", "config.yaml")
}

// Load reads path (missing file means defaults), applies environment
// overrides and validates the result. Empty path uses DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Mode = model.Mode(envOrDefault("CALLGUARD_MODE", string(cfg.Mode)))
	cfg.LogLevel = envOrDefault("CALLGUARD_LOG_LEVEL", cfg.LogLevel)
	cfg.PolicyPath = envOrDefault("CALLGUARD_POLICY", cfg.PolicyPath)
	cfg.Audit.Sink = envOrDefault("CALLGUARD_AUDIT_SINK", cfg.Audit.Sink)
	cfg.Audit.Path = envOrDefault("CALLGUARD_AUDIT_PATH", cfg.Audit.Path)
	cfg.Audit.RedisURL = envOrDefault("CALLGUARD_REDIS_URL", cfg.Audit.RedisURL)
	cfg.Catalog.Source = envOrDefault("CALLGUARD_CATALOG", cfg.Catalog.Source)
	cfg.Catalog.Path = envOrDefault("CALLGUARD_CATALOG_PATH", cfg.Catalog.Path)
	cfg.Schemas.Source = envOrDefault("CALLGUARD_SCHEMAS", cfg.Schemas.Source)
	cfg.Schemas.Path = envOrDefault("CALLGUARD_SCHEMAS_PATH", cfg.Schemas.Path)
	cfg.Listen.HTTP = envOrDefault("CALLGUARD_HTTP_ADDR", cfg.Listen.HTTP)
	cfg.Listen.GRPC = envOrDefault("CALLGUARD_GRPC_ADDR", cfg.Listen.GRPC)
}

func (c *Config) normalize() error {
	mode, err := model.ParseMode(string(c.Mode))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Mode = mode
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.Audit.Sink = strings.ToLower(strings.TrimSpace(c.Audit.Sink))
	switch c.Audit.Sink {
	case "":
		c.Audit.Sink = SinkNone
	case SinkNone:
	case SinkJSONL, SinkSQLite:
		if c.Audit.Path == "" {
			return fmt.Errorf("config: audit sink %s requires audit.path", c.Audit.Sink)
		}
	case SinkRedis:
		if c.Audit.RedisURL == "" {
			return fmt.Errorf("config: audit sink redis requires audit.redis_url")
		}
	default:
		return fmt.Errorf("config: invalid audit sink %q (allowed: %s|%s|%s|%s)",
			c.Audit.Sink, SinkNone, SinkJSONL, SinkSQLite, SinkRedis)
	}

	c.Catalog.Source = strings.ToLower(strings.TrimSpace(c.Catalog.Source))
	switch c.Catalog.Source {
	case "":
		c.Catalog.Source = CatalogStub
	case CatalogStub:
	case CatalogSQLite:
		if c.Catalog.Path == "" {
			return fmt.Errorf("config: catalog source sqlite requires catalog.path")
		}
	default:
		return fmt.Errorf("config: invalid catalog source %q (allowed: %s|%s)", c.Catalog.Source, CatalogStub, CatalogSQLite)
	}

	c.Schemas.Source = strings.ToLower(strings.TrimSpace(c.Schemas.Source))
	switch c.Schemas.Source {
	case "", "policy":
		c.Schemas.Source = "policy"
	case "sqlite":
		if c.Schemas.Path == "" {
			c.Schemas.Path = c.Catalog.Path
		}
		if c.Schemas.Path == "" {
			return fmt.Errorf("config: schema source sqlite requires schemas.path")
		}
	default:
		return fmt.Errorf("config: invalid schema source %q (allowed: policy|sqlite)", c.Schemas.Source)
	}

	for _, d := range []*time.Duration{&c.Timeouts.Catalog, &c.Timeouts.Schema, &c.Timeouts.Recorder} {
		if *d < 0 {
			return fmt.Errorf("config: timeouts must be >= 0")
		}
		if *d == 0 {
			*d = defaultTimeout
		}
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}
