package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Products int
	Orders   int
	// MaxLinesPerOrder bounds the sales lines generated for one order.
	MaxLinesPerOrder int
	DaysBack         int
	Seed             int64
	SkipExisting     bool
	// Snapshot also writes a dated copy of every uploaded table.
	Snapshot bool
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Products:         40,
		Orders:           500,
		MaxLinesPerOrder: 4,
		DaysBack:         365,
		Seed:             time.Now().UTC().UnixNano(),
		SkipExisting:     true,
		Snapshot:         false,
		Timeout:          2 * time.Minute,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyInt(lookup, "WMS_SEED_PRODUCTS", &cfg.Products); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "WMS_SEED_ORDERS", &cfg.Orders); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "WMS_SEED_MAX_LINES_PER_ORDER", &cfg.MaxLinesPerOrder); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "WMS_SEED_DAYS_BACK", &cfg.DaysBack); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "WMS_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "WMS_SEED_SKIP_EXISTING", &cfg.SkipExisting); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "WMS_SEED_SNAPSHOT", &cfg.Snapshot); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "WMS_SEED_TIMEOUT", &cfg.Timeout); err != nil {
		return Config{}, err
	}

	if cfg.Products <= 0 {
		return Config{}, fmt.Errorf("WMS_SEED_PRODUCTS must be > 0")
	}
	if cfg.Orders <= 0 {
		return Config{}, fmt.Errorf("WMS_SEED_ORDERS must be > 0")
	}
	if cfg.MaxLinesPerOrder <= 0 {
		return Config{}, fmt.Errorf("WMS_SEED_MAX_LINES_PER_ORDER must be > 0")
	}
	if cfg.DaysBack <= 0 {
		return Config{}, fmt.Errorf("WMS_SEED_DAYS_BACK must be > 0")
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("WMS_SEED_TIMEOUT must be > 0")
	}
	return cfg, nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
