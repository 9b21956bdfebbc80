package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Ledger.Difficulty)
	assert.Equal(t, 3, cfg.Ledger.ConflictRetries)
	assert.Equal(t, 30*time.Second, cfg.Ledger.AppendTimeout)
	assert.Equal(t, "mongodb", cfg.Storage.Backend)
	assert.Equal(t, "/api/petshop/blockchain", cfg.HTTP.BasePath)
	assert.Equal(t, "LEDGER_EVENTS", cfg.NATS.StreamName)
	assert.Equal(t, "petshop.ledger.events", cfg.NATS.Subject())
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_DIFFICULTY", "3")
	t.Setenv("STORAGE_BACKEND", "leveldb")
	t.Setenv("NATS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Ledger.Difficulty)
	assert.Equal(t, "leveldb", cfg.Storage.Backend)
	assert.True(t, cfg.NATS.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }, true},
		{"difficulty above max", func(c *Config) { c.Ledger.Difficulty = 9 }, true},
		{"negative difficulty", func(c *Config) { c.Ledger.Difficulty = -1 }, true},
		{"zero difficulty", func(c *Config) { c.Ledger.Difficulty = 0 }, true},
		{"zero queue", func(c *Config) { c.Ledger.QueueSize = 0 }, true},
		{"negative retries", func(c *Config) { c.Ledger.ConflictRetries = -1 }, true},
		{"negative sealed from", func(c *Config) { c.Ledger.SealedFromIndex = -1 }, true},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }, true},
		{"negative read timeout", func(c *Config) { c.WebSocket.ReadTimeout = -time.Second }, true},
		{"zero write timeout", func(c *Config) { c.WebSocket.WriteTimeout = 0 }, true},
		{"zero metrics interval", func(c *Config) { c.Monitoring.MetricsInterval = 0 }, true},
		{"zero health interval", func(c *Config) { c.Monitoring.HealthCheckInterval = 0 }, true},
		{"intervals ignored when monitoring is off", func(c *Config) {
			c.Monitoring = MonitoringConfig{MetricsEnabled: false}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Storage: StorageConfig{Backend: "leveldb"},
				Ledger:  LedgerConfig{Difficulty: 2, MaxDifficulty: 6, QueueSize: 8},
				WebSocket: WebSocketConfig{
					PingInterval: 30 * time.Second,
					ReadTimeout:  time.Minute,
					WriteTimeout: 10 * time.Second,
				},
				Monitoring: MonitoringConfig{
					MetricsEnabled:      true,
					MetricsInterval:     30 * time.Second,
					HealthCheckInterval: 30 * time.Second,
				},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
