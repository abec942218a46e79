package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	TranslatorRule   = "rule"
	TranslatorOpenAI = "openai"

	AuditSinkNone     = "none"
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Warehouse     WarehouseConfig
	Schema        SchemaConfig
	Translator    TranslatorConfig
	Policy        PolicyConfig
	Grants        GrantsConfig
	Audit         AuditConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type WarehouseConfig struct {
	Driver          string
	DSN             string
	ReadOnly        bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	// LoadViews exposes catalog parquet sources from the object store as
	// DuckDB views at startup.
	LoadViews       bool
	ViewsDir        string
	LoadConcurrency int
}

type SchemaConfig struct {
	// Path to a catalog YAML file. Empty uses the embedded catalog.
	Path string
}

type TranslatorConfig struct {
	Backend     string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type PolicyConfig struct {
	MaxRows         int
	DeniedFunctions []string
}

type GrantsConfig struct {
	// Static is a comma separated list of fingerprint:table|table entries.
	Static string
	// RequireKnown denies every table to credentials missing from Static.
	RequireKnown bool
}

type AuditConfig struct {
	Sink         string
	DSN          string
	MaxOpenConns int
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("WMS_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid WMS_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "WMS_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "WMS_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "WMS_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "WMS_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "WMS_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "WMS_WAREHOUSE_DRIVER", &cfg.Warehouse.Driver) },
		func() error { return applyString(lookup, "WMS_WAREHOUSE_DSN", &cfg.Warehouse.DSN) },
		func() error { return applyBool(lookup, "WMS_WAREHOUSE_READ_ONLY", &cfg.Warehouse.ReadOnly) },
		func() error { return applyInt(lookup, "WMS_WAREHOUSE_MAX_OPEN_CONNS", &cfg.Warehouse.MaxOpenConns) },
		func() error { return applyInt(lookup, "WMS_WAREHOUSE_MAX_IDLE_CONNS", &cfg.Warehouse.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "WMS_WAREHOUSE_CONN_MAX_IDLE_TIME", &cfg.Warehouse.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "WMS_WAREHOUSE_CONN_MAX_LIFETIME", &cfg.Warehouse.ConnMaxLifetime)
		},
		func() error { return applyDuration(lookup, "WMS_QUERY_TIMEOUT", &cfg.Warehouse.QueryTimeout) },
		func() error { return applyBool(lookup, "WMS_WAREHOUSE_LOAD_VIEWS", &cfg.Warehouse.LoadViews) },
		func() error { return applyString(lookup, "WMS_WAREHOUSE_VIEWS_DIR", &cfg.Warehouse.ViewsDir) },
		func() error { return applyInt(lookup, "WMS_WAREHOUSE_LOAD_CONCURRENCY", &cfg.Warehouse.LoadConcurrency) },

		func() error { return applyString(lookup, "WMS_SCHEMA_PATH", &cfg.Schema.Path) },

		func() error { return applyString(lookup, "WMS_TRANSLATOR_BACKEND", &cfg.Translator.Backend) },
		func() error { return applyString(lookup, "WMS_TRANSLATOR_BASE_URL", &cfg.Translator.BaseURL) },
		func() error { return applyString(lookup, "WMS_TRANSLATOR_MODEL", &cfg.Translator.Model) },
		func() error { return applyString(lookup, "WMS_TRANSLATOR_API_KEY", &cfg.Translator.APIKey) },
		func() error { return applyFloat(lookup, "WMS_TRANSLATOR_TEMPERATURE", &cfg.Translator.Temperature) },
		func() error { return applyInt(lookup, "WMS_TRANSLATOR_MAX_TOKENS", &cfg.Translator.MaxTokens) },
		func() error { return applyDuration(lookup, "WMS_TRANSLATOR_TIMEOUT", &cfg.Translator.Timeout) },

		func() error { return applyInt(lookup, "WMS_POLICY_MAX_ROWS", &cfg.Policy.MaxRows) },
		func() error { return applyList(lookup, "WMS_POLICY_DENIED_FUNCTIONS", &cfg.Policy.DeniedFunctions) },

		func() error { return applyString(lookup, "WMS_GRANTS_STATIC", &cfg.Grants.Static) },
		func() error { return applyBool(lookup, "WMS_GRANTS_REQUIRE_KNOWN", &cfg.Grants.RequireKnown) },

		func() error { return applyString(lookup, "WMS_AUDIT_SINK", &cfg.Audit.Sink) },
		func() error { return applyString(lookup, "WMS_AUDIT_DSN", &cfg.Audit.DSN) },
		func() error { return applyInt(lookup, "WMS_AUDIT_MAX_OPEN_CONNS", &cfg.Audit.MaxOpenConns) },

		func() error { return applyString(lookup, "WMS_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "WMS_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "WMS_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "WMS_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "WMS_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "WMS_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "WMS_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "WMS_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "WMS_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "WMS_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	// OPENAI_API_KEY is the conventional variable for the server fallback key.
	if cfg.Translator.APIKey == "" {
		if raw, ok := lookup("OPENAI_API_KEY"); ok {
			cfg.Translator.APIKey = strings.TrimSpace(raw)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Warehouse.Driver {
	case "duckdb", "postgres":
	default:
		return fmt.Errorf("invalid WMS_WAREHOUSE_DRIVER: %q", c.Warehouse.Driver)
	}
	if c.Warehouse.Driver == "duckdb" && c.Warehouse.ReadOnly && c.Warehouse.LoadViews {
		return fmt.Errorf("WMS_WAREHOUSE_LOAD_VIEWS cannot create views in a read-only duckdb warehouse")
	}
	if c.Warehouse.QueryTimeout <= 0 {
		return fmt.Errorf("WMS_QUERY_TIMEOUT must be positive")
	}
	switch c.Translator.Backend {
	case TranslatorRule, TranslatorOpenAI:
	default:
		return fmt.Errorf("invalid WMS_TRANSLATOR_BACKEND: %q", c.Translator.Backend)
	}
	if c.Translator.Timeout <= 0 {
		return fmt.Errorf("WMS_TRANSLATOR_TIMEOUT must be positive")
	}
	if c.Policy.MaxRows <= 0 {
		return fmt.Errorf("WMS_POLICY_MAX_ROWS must be positive")
	}
	switch c.Audit.Sink {
	case AuditSinkNone, AuditSinkLog:
	case AuditSinkPostgres:
		if c.Audit.DSN == "" {
			return fmt.Errorf("WMS_AUDIT_DSN is required for the postgres audit sink")
		}
	default:
		return fmt.Errorf("invalid WMS_AUDIT_SINK: %q", c.Audit.Sink)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "wmsinsight-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Warehouse: WarehouseConfig{
			Driver:          "duckdb",
			DSN:             "",
			MaxOpenConns:    8,
			MaxIdleConns:    8,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    10 * time.Second,
			LoadViews:       true,
			LoadConcurrency: 4,
		},
		Translator: TranslatorConfig{
			Backend:     TranslatorRule,
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			MaxTokens:   512,
			Timeout:     30 * time.Second,
		},
		Policy: PolicyConfig{
			MaxRows: 1000,
		},
		Audit: AuditConfig{
			Sink:         AuditSinkLog,
			MaxOpenConns: 4,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "wmsinsight",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Warehouse.LoadViews = false
		cfg.Audit.Sink = AuditSinkNone
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Grants.RequireKnown = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
