package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, `storage.driver "sqlite"`},
		{"mongo without url", func(c *Config) { c.Storage.Driver = DriverMongoDB }, "mongodb_url is required"},
		{"negative workers", func(c *Config) { c.Triggers.Workers = -1 }, "triggers.workers must not be negative"},
		{"negative timeout", func(c *Config) { c.Triggers.TimeoutMs = -5 }, "triggers.timeout_ms"},
		{"bad level", func(c *Config) { c.Log.Level = "chatty" }, `log.level "chatty"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			ApplyDefaults(&cfg)
			tt.mutate(&cfg)
			err := Validate(&cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
