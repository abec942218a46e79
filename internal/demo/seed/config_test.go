package seed

import (
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(nil))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Products != 40 || cfg.Orders != 500 || cfg.DaysBack != 365 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.SkipExisting || cfg.Snapshot {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"WMS_SEED_PRODUCTS":      "5",
		"WMS_SEED_ORDERS":        " 12 ",
		"WMS_SEED_DAYS_BACK":     "30",
		"WMS_SEED_SEED":          "99",
		"WMS_SEED_SKIP_EXISTING": "false",
		"WMS_SEED_SNAPSHOT":      "true",
		"WMS_SEED_TIMEOUT":       "10s",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Products != 5 || cfg.Orders != 12 || cfg.DaysBack != 30 || cfg.Seed != 99 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SkipExisting || !cfg.Snapshot || cfg.Timeout != 10*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigFromEnvRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"WMS_SEED_PRODUCTS":            "0",
		"WMS_SEED_ORDERS":              "many",
		"WMS_SEED_MAX_LINES_PER_ORDER": "-1",
		"WMS_SEED_DAYS_BACK":           "0",
		"WMS_SEED_SEED":                "x",
		"WMS_SEED_SNAPSHOT":            "maybe",
		"WMS_SEED_TIMEOUT":             "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			if _, err := LoadConfigFromEnv(mapLookup(map[string]string{key: value})); err == nil {
				t.Fatalf("LoadConfigFromEnv(%s=%q) error = nil", key, value)
			}
		})
	}
}

func TestLoadConfigFromEnvRequiresLookup(t *testing.T) {
	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected error")
	}
}
