package config

import "time"

// WebSocketConfig represents the live record feed configuration
type WebSocketConfig struct {
	// Connection settings
	PingInterval time.Duration `mapstructure:"ping_interval"` // Ping interval for connection health
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // Read deadline extended on every pong
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // Write timeout

	// Fan-out settings
	BufferSize int `mapstructure:"buffer_size"` // Per-client send buffer; slow clients are dropped
	MaxClients int `mapstructure:"max_clients"` // Upgrade requests beyond this are refused
}
