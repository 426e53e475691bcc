package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Validate checks a defaulted config for:
//   - Known storage driver, and a MongoDB URL when that driver is selected
//   - Positive timeouts and pool sizes
//   - A parseable log level
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverMongoDB:
		if cfg.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required for the mongodb driver")
		}
		if cfg.Storage.Database == "" {
			errs = append(errs, "storage.database is required for the mongodb driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q: must be %s or %s", cfg.Storage.Driver, DriverMemory, DriverMongoDB))
	}

	for name, v := range map[string]int{
		"server.read_timeout_ms":  cfg.Server.ReadTimeoutMs,
		"server.write_timeout_ms": cfg.Server.WriteTimeoutMs,
		"triggers.timeout_ms":     cfg.Triggers.TimeoutMs,
		"triggers.workers":        cfg.Triggers.Workers,
		"triggers.queue_depth":    cfg.Triggers.QueueDepth,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative, got %d", name, v))
		}
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return lvl, nil
}
