package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ordersd.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoad(t *testing.T) {
	type sample struct {
		Name  string `mapstructure:"name"`
		Count int    `mapstructure:"count"`
	}
	dir := writeConfig(t, "name: orders\ncount: 3\n")

	cfg, err := Load[sample](dir, "ordersd")
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, 3, cfg.Count)

	_, err = Load[sample](t.TempDir(), "ordersd")
	assert.Error(t, err)
}

func TestLoadService(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "defaults without file",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DriverMemory, cfg.Driver)
				assert.Equal(t, ":8080", cfg.HTTP.Addr)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, "info", cfg.Log.Level)
			},
		},
		{
			name: "file values",
			yaml: "driver: sqlite\ndsn: /tmp/orders.db\nredis:\n  cache_ttl: 30s\nhttp:\n  addr: \":9000\"\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DriverSQLite, cfg.Driver)
				assert.Equal(t, "/tmp/orders.db", cfg.DSN)
				assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
				assert.Equal(t, ":9000", cfg.HTTP.Addr)
			},
		},
		{
			name: "environment overrides file",
			yaml: "driver: memory\nlog:\n  level: info\n",
			env: map[string]string{
				"STILLSUIT_LOG_LEVEL": "debug",
				"STILLSUIT_NATS_URL":  "nats://localhost:4222",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Log.Level)
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
			},
		},
		{
			name:    "sql driver without dsn",
			yaml:    "driver: postgres\n",
			wantErr: true,
		},
		{
			name:    "unknown driver",
			yaml:    "driver: mongo\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			if tt.yaml != "" {
				dir = writeConfig(t, tt.yaml)
			}

			cfg, err := LoadService(dir, "ordersd")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
