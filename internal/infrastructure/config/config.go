package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Storage    StorageConfig    `mapstructure:"storage"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	NATS       NATSConfig       `mapstructure:"nats"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	Instance string `mapstructure:"instance"`
}

// HTTPConfig represents HTTP API configuration
type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	BasePath       string        `mapstructure:"base_path"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// AuthConfig represents bearer token verification configuration
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig selects the ledger storage backend
type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // mongodb | leveldb
	LevelDBPath string `mapstructure:"leveldb_path"`
}

// MongoDBConfig represents MongoDB configuration
type MongoDBConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
}

// LedgerConfig represents ledger writer configuration
type LedgerConfig struct {
	Difficulty      int           `mapstructure:"difficulty"`
	MaxDifficulty   int           `mapstructure:"max_difficulty"`
	QueueSize       int           `mapstructure:"queue_size"`
	AppendTimeout   time.Duration `mapstructure:"append_timeout"`
	ConflictRetries int           `mapstructure:"conflict_retries"`
	SealingKey      string        `mapstructure:"sealing_key"`
	// SealedFromIndex is the first record index that must carry a seal when
	// sealing is enabled. Set it to the chain height when enabling sealing on
	// an existing chain.
	SealedFromIndex int64 `mapstructure:"sealed_from_index"`
}

// NATSConfig represents NATS JetStream configuration
type NATSConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	StreamName        string        `mapstructure:"stream_name"`
	SubjectPrefix     string        `mapstructure:"subject_prefix"`
	ConsumerName      string        `mapstructure:"consumer_name"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxDeliver        int           `mapstructure:"max_deliver"`
	AckWait           time.Duration `mapstructure:"ack_wait"`
	FetchBatch        int           `mapstructure:"fetch_batch"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	MetricsInterval     time.Duration `mapstructure:"metrics_interval"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// Subject returns the JetStream subject ledger events are published on
func (c NATSConfig) Subject() string {
	return fmt.Sprintf("%s.events", c.SubjectPrefix)
}

// Validate checks settings that would otherwise fail at first use
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "mongodb", "leveldb":
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Ledger.Difficulty < 1 || c.Ledger.Difficulty > c.Ledger.MaxDifficulty {
		return fmt.Errorf("ledger difficulty %d outside [1, %d]", c.Ledger.Difficulty, c.Ledger.MaxDifficulty)
	}
	if c.Ledger.QueueSize <= 0 {
		return fmt.Errorf("ledger queue size must be positive")
	}
	if c.Ledger.ConflictRetries < 0 {
		return fmt.Errorf("ledger conflict retries must not be negative")
	}
	if c.Ledger.SealedFromIndex < 0 {
		return fmt.Errorf("ledger sealed_from_index must not be negative")
	}

	durations := map[string]time.Duration{
		"websocket.ping_interval": c.WebSocket.PingInterval,
		"websocket.read_timeout":  c.WebSocket.ReadTimeout,
		"websocket.write_timeout": c.WebSocket.WriteTimeout,
	}
	if c.Monitoring.MetricsEnabled {
		durations["monitoring.metrics_interval"] = c.Monitoring.MetricsInterval
		durations["monitoring.health_check_interval"] = c.Monitoring.HealthCheckInterval
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// loadEnvFile manually loads environment variables from .env file
func loadEnvFile() error {
	file, err := os.Open(".env")
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.Trim(strings.TrimSpace(parts[1]), `"`)
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() (*Config, error) {
	// Load .env file manually first
	if _, err := os.Stat(".env"); err == nil {
		if err := loadEnvFile(); err != nil {
			return nil, err
		}
	}

	// Set default values first
	setDefaults()

	// Bind environment variables
	bindEnvVars()

	// Read environment variables automatically
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "petshop-provenance-ledger")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.instance", "ledger-1")

	// HTTP defaults
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.base_path", "/api/petshop/blockchain")
	viper.SetDefault("http.read_timeout", "15s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("http.allowed_origins", []string{"*"})

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "")

	// Storage defaults
	viper.SetDefault("storage.backend", "mongodb")
	viper.SetDefault("storage.leveldb_path", "./data/ledger")

	// MongoDB defaults
	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "petshop_ledger")
	viper.SetDefault("mongodb.connect_timeout", "10s")
	viper.SetDefault("mongodb.max_pool_size", 100)

	// Ledger defaults
	viper.SetDefault("ledger.difficulty", 2)
	viper.SetDefault("ledger.max_difficulty", 6)
	viper.SetDefault("ledger.queue_size", 1024)
	viper.SetDefault("ledger.append_timeout", "30s")
	viper.SetDefault("ledger.conflict_retries", 3)
	viper.SetDefault("ledger.sealing_key", "")
	viper.SetDefault("ledger.sealed_from_index", 0)

	// NATS defaults
	viper.SetDefault("nats.enabled", false)
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	viper.SetDefault("nats.subject_prefix", "petshop.ledger")
	viper.SetDefault("nats.consumer_name", "ledger-writer")
	viper.SetDefault("nats.connect_timeout", "10s")
	viper.SetDefault("nats.reconnect_attempts", 5)
	viper.SetDefault("nats.reconnect_delay", "2s")
	viper.SetDefault("nats.max_deliver", 5)
	viper.SetDefault("nats.ack_wait", "60s")
	viper.SetDefault("nats.fetch_batch", 16)

	// WebSocket defaults
	viper.SetDefault("websocket.buffer_size", 64)
	viper.SetDefault("websocket.ping_interval", "30s")
	viper.SetDefault("websocket.write_timeout", "10s")
	viper.SetDefault("websocket.read_timeout", "60s")
	viper.SetDefault("websocket.max_clients", 256)

	// Monitoring defaults
	viper.SetDefault("monitoring.metrics_enabled", true)
	viper.SetDefault("monitoring.metrics_interval", "30s")
	viper.SetDefault("monitoring.health_check_interval", "30s")
}

func bindEnvVars() {
	// App
	viper.BindEnv("app.env", "APP_ENV")
	viper.BindEnv("app.log_level", "LOG_LEVEL")
	viper.BindEnv("app.instance", "APP_INSTANCE")

	// HTTP
	viper.BindEnv("http.port", "HTTP_PORT")
	viper.BindEnv("http.base_path", "HTTP_BASE_PATH")
	viper.BindEnv("http.read_timeout", "HTTP_READ_TIMEOUT")
	viper.BindEnv("http.write_timeout", "HTTP_WRITE_TIMEOUT")
	viper.BindEnv("http.allowed_origins", "HTTP_ALLOWED_ORIGINS")

	// Auth
	viper.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Storage
	viper.BindEnv("storage.backend", "STORAGE_BACKEND")
	viper.BindEnv("storage.leveldb_path", "LEVELDB_PATH")

	// MongoDB
	viper.BindEnv("mongodb.uri", "MONGO_URI")
	viper.BindEnv("mongodb.database", "MONGO_DATABASE")
	viper.BindEnv("mongodb.connect_timeout", "MONGO_CONNECT_TIMEOUT")
	viper.BindEnv("mongodb.max_pool_size", "MONGO_MAX_POOL_SIZE")

	// Ledger
	viper.BindEnv("ledger.difficulty", "LEDGER_DIFFICULTY")
	viper.BindEnv("ledger.max_difficulty", "LEDGER_MAX_DIFFICULTY")
	viper.BindEnv("ledger.queue_size", "LEDGER_QUEUE_SIZE")
	viper.BindEnv("ledger.append_timeout", "LEDGER_APPEND_TIMEOUT")
	viper.BindEnv("ledger.conflict_retries", "LEDGER_CONFLICT_RETRIES")
	viper.BindEnv("ledger.sealing_key", "LEDGER_SEALING_KEY")
	viper.BindEnv("ledger.sealed_from_index", "LEDGER_SEALED_FROM_INDEX")

	// NATS
	viper.BindEnv("nats.enabled", "NATS_ENABLED")
	viper.BindEnv("nats.url", "NATS_URL")
	viper.BindEnv("nats.stream_name", "NATS_STREAM_NAME")
	viper.BindEnv("nats.subject_prefix", "NATS_SUBJECT_PREFIX")
	viper.BindEnv("nats.consumer_name", "NATS_CONSUMER_NAME")
	viper.BindEnv("nats.connect_timeout", "NATS_CONNECT_TIMEOUT")
	viper.BindEnv("nats.reconnect_attempts", "NATS_RECONNECT_ATTEMPTS")
	viper.BindEnv("nats.reconnect_delay", "NATS_RECONNECT_DELAY")
	viper.BindEnv("nats.max_deliver", "NATS_MAX_DELIVER")
	viper.BindEnv("nats.ack_wait", "NATS_ACK_WAIT")

	// WebSocket
	viper.BindEnv("websocket.buffer_size", "WS_BUFFER_SIZE")
	viper.BindEnv("websocket.ping_interval", "WS_PING_INTERVAL")
	viper.BindEnv("websocket.max_clients", "WS_MAX_CLIENTS")

	// Monitoring
	viper.BindEnv("monitoring.metrics_enabled", "METRICS_ENABLED")
	viper.BindEnv("monitoring.metrics_interval", "METRICS_INTERVAL")
	viper.BindEnv("monitoring.health_check_interval", "HEALTH_CHECK_INTERVAL")
}
