package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName     string
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Broker      BrokerConfig
	Pools       PoolsConfig
	DeadLetter  DeadLetterConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
}

type HTTPConfig struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxConn       int
	EnableMetrics bool
	CORSOrigins   string
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// JWTConfig keeps the refresh-token lifetime and the refresh acceptance window
// as two separate settings. The window governs Refresh; the TTL only stamps
// the exp of issued refresh tokens.
type JWTConfig struct {
	Secret        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RefreshWindow time.Duration
}

type BrokerConfig struct {
	Kind             string
	NATSURL          string
	MaxRetry         int
	PublishTimeout   time.Duration
	BreakerFailures  int
	BreakerOpenDelay time.Duration
}

// PoolConfig sizes one per-domain worker pool.
type PoolConfig struct {
	Core          int
	Max           int
	QueueCapacity int
	KeepAlive     time.Duration
}

type PoolsConfig struct {
	Article          PoolConfig
	Comment          PoolConfig
	Stats            PoolConfig
	Notification     PoolConfig
	AwaitTermination time.Duration
}

type DeadLetterConfig struct {
	Path          string
	Retention     time.Duration
	SweepInterval time.Duration
	ReplayBatch   int
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "knowledge"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:          getString("SERVER_HOST", "0.0.0.0"),
			Port:          getString("SERVER_PORT", "8080"),
			ReadTimeout:   getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getDuration("SERVER_WRITE_TIMEOUT", 35*time.Second),
			IdleTimeout:   getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:       getInt("SERVER_MAX_CONN", 0),
			EnableMetrics: getBool("SERVER_ENABLE_METRICS", true),
			CORSOrigins:   getString("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "knowledge"),
			User:            getString("DB_USER", "knowledge"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			AccessTTL:     getDuration("JWT_ACCESS_TTL", 86400*time.Second),
			RefreshTTL:    getDuration("JWT_REFRESH_TTL", 604800*time.Second),
			RefreshWindow: getDuration("JWT_REFRESH_WINDOW", 604800*time.Second),
		},
		Broker: BrokerConfig{
			Kind:             getString("BROKER_KIND", "nats"),
			NATSURL:          getString("NATS_URL", "nats://localhost:4222"),
			MaxRetry:         getInt("EVENT_MAX_RETRY", 3),
			PublishTimeout:   getDuration("EVENT_PUBLISH_TIMEOUT", 5*time.Second),
			BreakerFailures:  getInt("EVENT_BREAKER_FAILURES", 5),
			BreakerOpenDelay: getDuration("EVENT_BREAKER_OPEN_DELAY", 30*time.Second),
		},
		Pools: PoolsConfig{
			Article:          loadPool("ARTICLE", PoolConfig{Core: 10, Max: 20, QueueCapacity: 200, KeepAlive: 60 * time.Second}),
			Comment:          loadPool("COMMENT", PoolConfig{Core: 8, Max: 15, QueueCapacity: 150, KeepAlive: 60 * time.Second}),
			Stats:            loadPool("STATS", PoolConfig{Core: 5, Max: 10, QueueCapacity: 100, KeepAlive: 60 * time.Second}),
			Notification:     loadPool("NOTIFICATION", PoolConfig{Core: 3, Max: 8, QueueCapacity: 50, KeepAlive: 60 * time.Second}),
			AwaitTermination: getDuration("POOL_AWAIT_TERMINATION", 60*time.Second),
		},
		DeadLetter: DeadLetterConfig{
			Path:          getString("DEADLETTER_PATH", "./data/deadletter.db"),
			Retention:     getDuration("DEADLETTER_RETENTION", 7*24*time.Hour),
			SweepInterval: getDuration("DEADLETTER_SWEEP_INTERVAL", time.Hour),
			ReplayBatch:   getInt("DEADLETTER_REPLAY_BATCH", 50),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 30*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 75*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", false),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.RefreshWindow <= 0 {
		return fmt.Errorf("jwt lifetimes must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return fmt.Errorf("JWT_REFRESH_TTL (%s) must exceed JWT_ACCESS_TTL (%s)", c.JWT.RefreshTTL, c.JWT.AccessTTL)
	}
	if c.Broker.MaxRetry <= 0 {
		return fmt.Errorf("EVENT_MAX_RETRY must be positive")
	}
	switch c.Broker.Kind {
	case "nats", "memory":
	default:
		return fmt.Errorf("unsupported BROKER_KIND %q", c.Broker.Kind)
	}
	return nil
}

func loadPool(domain string, fallback PoolConfig) PoolConfig {
	prefix := "POOL_" + domain + "_"
	return PoolConfig{
		Core:          getInt(prefix+"CORE", fallback.Core),
		Max:           getInt(prefix+"MAX", fallback.Max),
		QueueCapacity: getInt(prefix+"QUEUE", fallback.QueueCapacity),
		KeepAlive:     getDuration(prefix+"KEEP_ALIVE", fallback.KeepAlive),
	}
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDuration accepts Go duration strings ("90s") or plain integer seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
