package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("wmsinsight-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Warehouse.Driver != "duckdb" || !cfg.Warehouse.LoadViews {
		t.Fatalf("Warehouse = %+v", cfg.Warehouse)
	}
	if cfg.Warehouse.QueryTimeout != 10*time.Second {
		t.Fatalf("Warehouse.QueryTimeout = %s", cfg.Warehouse.QueryTimeout)
	}
	if cfg.Translator.Backend != TranslatorRule {
		t.Fatalf("Translator.Backend = %q", cfg.Translator.Backend)
	}
	if cfg.Translator.Timeout != 30*time.Second {
		t.Fatalf("Translator.Timeout = %s", cfg.Translator.Timeout)
	}
	if cfg.Policy.MaxRows != 1000 {
		t.Fatalf("Policy.MaxRows = %d", cfg.Policy.MaxRows)
	}
	if cfg.Grants.RequireKnown {
		t.Fatal("Grants.RequireKnown should default to false in dev")
	}
	if cfg.Audit.Sink != AuditSinkLog {
		t.Fatalf("Audit.Sink = %q", cfg.Audit.Sink)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" || cfg.ObjectStore.Bucket != "wmsinsight" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("wmsinsight-api", mapLookup(map[string]string{"WMS_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Grants.RequireKnown {
		t.Fatal("Grants.RequireKnown should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadTestProfileDisablesSideEffects(t *testing.T) {
	cfg, err := Load("wmsinsight-api", mapLookup(map[string]string{"WMS_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Warehouse.LoadViews {
		t.Fatal("Warehouse.LoadViews should be off in test")
	}
	if cfg.Audit.Sink != AuditSinkNone {
		t.Fatalf("Audit.Sink = %q", cfg.Audit.Sink)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"WMS_PROFILE":                        "test",
		"WMS_SERVICE_NAME":                   "wmsinsight-custom",
		"WMS_HTTP_ADDR":                      ":9999",
		"WMS_HTTP_READ_TIMEOUT":              "2s",
		"WMS_HTTP_WRITE_TIMEOUT":             "3s",
		"WMS_LOG_LEVEL":                      "error",
		"WMS_WAREHOUSE_DRIVER":               "postgres",
		"WMS_WAREHOUSE_DSN":                  "postgres://reader@db/wms",
		"WMS_WAREHOUSE_READ_ONLY":            "true",
		"WMS_WAREHOUSE_MAX_OPEN_CONNS":       "42",
		"WMS_WAREHOUSE_MAX_IDLE_CONNS":       "17",
		"WMS_WAREHOUSE_LOAD_CONCURRENCY":     "2",
		"WMS_QUERY_TIMEOUT":                  "3s",
		"WMS_SCHEMA_PATH":                    "/etc/wms/catalog.yaml",
		"WMS_TRANSLATOR_BACKEND":             "openai",
		"WMS_TRANSLATOR_BASE_URL":            "https://llm.example.com",
		"WMS_TRANSLATOR_MODEL":               "gpt-x",
		"WMS_TRANSLATOR_TEMPERATURE":         "0.2",
		"WMS_TRANSLATOR_MAX_TOKENS":          "256",
		"WMS_TRANSLATOR_TIMEOUT":             "21s",
		"OPENAI_API_KEY":                     "sk-server",
		"WMS_POLICY_MAX_ROWS":                "250",
		"WMS_POLICY_DENIED_FUNCTIONS":        "random, version ,",
		"WMS_GRANTS_STATIC":                  "0123456789abcdef:orders",
		"WMS_GRANTS_REQUIRE_KNOWN":           "true",
		"WMS_AUDIT_SINK":                     "postgres",
		"WMS_AUDIT_DSN":                      "postgres://audit",
		"WMS_OBJECTSTORE_ENDPOINT":           "s3.example.com",
		"WMS_OBJECTSTORE_BUCKET":             "wms-prod",
		"WMS_OBJECTSTORE_USE_SSL":            "true",
		"WMS_OBJECTSTORE_PREFIX":             "tenant-root",
		"WMS_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
	})
	cfg, err := Load("wmsinsight-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "wmsinsight-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Warehouse.Driver != "postgres" || cfg.Warehouse.DSN != "postgres://reader@db/wms" || !cfg.Warehouse.ReadOnly {
		t.Fatalf("Warehouse = %+v", cfg.Warehouse)
	}
	if cfg.Warehouse.MaxOpenConns != 42 || cfg.Warehouse.MaxIdleConns != 17 || cfg.Warehouse.LoadConcurrency != 2 {
		t.Fatalf("Warehouse pool = %+v", cfg.Warehouse)
	}
	if cfg.Warehouse.QueryTimeout != 3*time.Second {
		t.Fatalf("Warehouse.QueryTimeout = %s", cfg.Warehouse.QueryTimeout)
	}
	if cfg.Schema.Path != "/etc/wms/catalog.yaml" {
		t.Fatalf("Schema.Path = %q", cfg.Schema.Path)
	}
	if cfg.Translator.Backend != TranslatorOpenAI || cfg.Translator.BaseURL != "https://llm.example.com" || cfg.Translator.Model != "gpt-x" {
		t.Fatalf("Translator = %+v", cfg.Translator)
	}
	if cfg.Translator.Temperature != 0.2 || cfg.Translator.MaxTokens != 256 || cfg.Translator.Timeout != 21*time.Second {
		t.Fatalf("Translator tuning = %+v", cfg.Translator)
	}
	if cfg.Translator.APIKey != "sk-server" {
		t.Fatalf("Translator.APIKey = %q", cfg.Translator.APIKey)
	}
	if cfg.Policy.MaxRows != 250 {
		t.Fatalf("Policy.MaxRows = %d", cfg.Policy.MaxRows)
	}
	if !reflect.DeepEqual(cfg.Policy.DeniedFunctions, []string{"random", "version"}) {
		t.Fatalf("Policy.DeniedFunctions = %#v", cfg.Policy.DeniedFunctions)
	}
	if cfg.Grants.Static != "0123456789abcdef:orders" || !cfg.Grants.RequireKnown {
		t.Fatalf("Grants = %+v", cfg.Grants)
	}
	if cfg.Audit.Sink != AuditSinkPostgres || cfg.Audit.DSN != "postgres://audit" {
		t.Fatalf("Audit = %+v", cfg.Audit)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "wms-prod" || cfg.ObjectStore.Prefix != "tenant-root" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.ObjectStore.UseSSL || cfg.ObjectStore.AutoCreateBucket {
		t.Fatalf("ObjectStore flags = %+v", cfg.ObjectStore)
	}
}

func TestLoadPrefersExplicitTranslatorKey(t *testing.T) {
	cfg, err := Load("wmsinsight-api", mapLookup(map[string]string{
		"WMS_TRANSLATOR_API_KEY": "sk-explicit",
		"OPENAI_API_KEY":         "sk-env",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Translator.APIKey != "sk-explicit" {
		t.Fatalf("Translator.APIKey = %q", cfg.Translator.APIKey)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"WMS_PROFILE": "oops"},
		{"WMS_HTTP_READ_TIMEOUT": "NaN"},
		{"WMS_WAREHOUSE_MAX_OPEN_CONNS": "oops"},
		{"WMS_WAREHOUSE_DRIVER": "sqlite"},
		{"WMS_WAREHOUSE_READ_ONLY": "true"},
		{"WMS_QUERY_TIMEOUT": "0s"},
		{"WMS_TRANSLATOR_BACKEND": "magic"},
		{"WMS_TRANSLATOR_TEMPERATURE": "bad"},
		{"WMS_TRANSLATOR_TIMEOUT": "-1s"},
		{"WMS_POLICY_MAX_ROWS": "0"},
		{"WMS_AUDIT_SINK": "kafka"},
		{"WMS_AUDIT_SINK": "postgres"},
		{"WMS_GRANTS_REQUIRE_KNOWN": "not-bool"},
		{"WMS_LOG_LEVEL": "verbose"},
		{"WMS_HTTP_ADDR": " "},
	}
	for _, env := range tests {
		_, err := Load("wmsinsight-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load("wmsinsight-api", nil); err == nil {
		t.Fatal("expected error for nil lookup")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
