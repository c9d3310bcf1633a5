package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"keepalive-service/internal/util"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Store         StoreConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Heartbeat     HeartbeatConfig
	KeepAlive     KeepAliveConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	RequireHTTPS bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the heartbeat repository backend.
type StoreConfig struct {
	Driver     string // memory, sqlite or scylla
	SQLitePath string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	UseTLS   bool
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	HeartbeatTopic string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

// HeartbeatConfig drives the recorder's retention sweep and the health predicates.
type HeartbeatConfig struct {
	RetentionCap  int
	Timezone      string
	DailyHour     int
	Cadence       time.Duration
	RiskThreshold time.Duration
}

// KeepAliveConfig configures the client-side throttle.
type KeepAliveConfig struct {
	FunctionURL    string
	Source         string
	Interval       time.Duration
	RequestTimeout time.Duration
	StateDriver    string // sqlite, redis or memory
	StatePath      string
	APIKey         string
	OnLoad         bool // server: treat admin API requests as application loads
}

var (
	loaded *Config
	mu     sync.Mutex
)

// LoadConfig reads an optional .env file and builds the configuration from the environment.
func LoadConfig() *Config {
	mu.Lock()
	defer mu.Unlock()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			RequireHTTPS: util.GetEnvBool("SERVER_REQUIRE_HTTPS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:       util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  util.GetEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:        util.GetEnv("SERVER_CERT_EMAIL", ""),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "console"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(util.GetEnv("STORE_DRIVER", "sqlite")),
			SQLitePath: util.GetEnv("SQLITE_PATH", "keepalive.db"),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"127.0.0.1"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "keepalive"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
			UseTLS:   util.GetEnvBool("SCYLLA_TLS", false),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", ""),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 10),
		},
		Kafka: KafkaConfig{
			Enabled:        util.GetEnvBool("KAFKA_ENABLED", false),
			Brokers:        util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			HeartbeatTopic: util.GetEnv("KAFKA_HEARTBEAT_TOPIC", "heartbeat.recorded"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  util.GetEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "keepalive"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  util.GetEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_INDEX", "keepalive-heartbeats"),
		},
		Heartbeat: HeartbeatConfig{
			RetentionCap:  util.GetEnvInt("HEARTBEAT_RETENTION_CAP", 30),
			Timezone:      util.GetEnv("HEARTBEAT_TIMEZONE", "Local"),
			DailyHour:     util.GetEnvInt("HEARTBEAT_DAILY_HOUR", 8),
			Cadence:       util.GetEnvDuration("HEARTBEAT_CADENCE", 72*time.Hour),
			RiskThreshold: util.GetEnvDuration("HEARTBEAT_RISK_THRESHOLD", 120*time.Hour),
		},
		KeepAlive: KeepAliveConfig{
			FunctionURL:    util.GetEnv("KEEPALIVE_FUNCTION_URL", "http://localhost:8080/functions/v1/keep-alive"),
			Source:         util.GetEnv("KEEPALIVE_SOURCE", "web"),
			Interval:       util.GetEnvDuration("KEEPALIVE_INTERVAL", 24*time.Hour),
			RequestTimeout: util.GetEnvDuration("KEEPALIVE_REQUEST_TIMEOUT", 10*time.Second),
			StateDriver:    strings.ToLower(util.GetEnv("KEEPALIVE_STATE_DRIVER", "sqlite")),
			StatePath:      util.GetEnv("KEEPALIVE_STATE_PATH", "keepalive-client.db"),
			APIKey:         util.GetEnv("KEEPALIVE_API_KEY", ""),
			OnLoad:         util.GetEnvBool("KEEPALIVE_ON_LOAD", false),
		},
	}

	loaded = cfg
	return cfg
}

// Get returns the most recently loaded configuration, loading it on first use.
func Get() *Config {
	mu.Lock()
	cfg := loaded
	mu.Unlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

// Validate reports configuration that cannot work at all.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory", "sqlite", "scylla":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	switch c.KeepAlive.StateDriver {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown KEEPALIVE_STATE_DRIVER %q", c.KeepAlive.StateDriver))
	}
	if c.KeepAlive.StateDriver == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("KEEPALIVE_STATE_DRIVER=redis requires REDIS_URL"))
	}
	if c.Heartbeat.RetentionCap < 1 {
		errs = append(errs, errors.New("HEARTBEAT_RETENTION_CAP must be at least 1"))
	}
	if c.Heartbeat.DailyHour < 0 || c.Heartbeat.DailyHour > 23 {
		errs = append(errs, errors.New("HEARTBEAT_DAILY_HOUR must be between 0 and 23"))
	}
	if _, err := time.LoadLocation(c.Heartbeat.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid HEARTBEAT_TIMEZONE: %w", err))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_ENABLED requires KAFKA_BROKERS"))
	}

	return errors.Join(errs...)
}

// Location resolves the heartbeat timezone, falling back to the process local zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Heartbeat.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
