package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"networth-api/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Ledger      LedgerConfig      `json:"ledger"`
	Cache       CacheConfig       `json:"cache"`
	RabbitMQ    RabbitMQConfig    `json:"rabbitmq"`
	Rates       RatesConfig       `json:"rates"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Performance PerformanceConfig `json:"performance"`
	Logger      LoggerConfig      `json:"logger"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	Environment    string   `json:"environment"`
	ReadTimeout    int      `json:"read_timeout"`
	WriteTimeout   int      `json:"write_timeout"`
	MaxHeaderBytes int      `json:"max_header_bytes"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// DatabaseConfig represents the MongoDB snapshot store configuration.
// Backend "memory" keeps snapshots in process.
type DatabaseConfig struct {
	Backend            string `json:"backend"`
	URI                string `json:"uri"`
	Database           string `json:"database"`
	SnapshotCollection string `json:"snapshot_collection"`
	MaxPoolSize        int    `json:"max_pool_size"`
	MinPoolSize        int    `json:"min_pool_size"`
	MaxIdleTime        int    `json:"max_idle_time"`
	ConnectTimeout     int    `json:"connect_timeout"`
	SocketTimeout      int    `json:"socket_timeout"`
}

// LedgerConfig represents the read-only account ledger database
type LedgerConfig struct {
	Driver          string        `json:"driver"` // mysql, sqlite
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	LogLevel        string        `json:"log_level"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

// CacheConfig represents the rate cache configuration
type CacheConfig struct {
	Backend            string        `json:"backend"` // redis, memory
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	MaxRetries         int           `json:"max_retries"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`

	RateTTL       time.Duration `json:"rate_ttl"`
	MemoryMaxSize int64         `json:"memory_max_size"`
	PopularLimit  int           `json:"popular_limit"`
}

// RabbitMQConfig represents the ledger event consumer configuration
type RabbitMQConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	VHost    string `json:"vhost"`

	LedgerExchange   string `json:"ledger_exchange"`
	LedgerQueue      string `json:"ledger_queue"`
	LedgerRoutingKey string `json:"ledger_routing_key"`

	ConsumerTag          string        `json:"consumer_tag"`
	PrefetchCount        int           `json:"prefetch_count"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `json:"reconnect_delay"`
}

// RatesConfig represents the exchange rate providers and aggregation policy
type RatesConfig struct {
	Providers       []string      `json:"providers"` // frankfurter, static, json sources by name
	ProviderTimeout time.Duration `json:"provider_timeout"`
	MaxQuoteAge     time.Duration `json:"max_quote_age"`
	MaxConcurrency  int           `json:"max_concurrency"`

	OutlierThresholdPct  float64            `json:"outlier_threshold_pct"`
	MinQuotesForOutliers int                `json:"min_quotes_for_outliers"`
	Weights              map[string]float64 `json:"weights"`
	Precision            int32              `json:"precision"`

	FrankfurterURL       string `json:"frankfurter_url"`
	FrankfurterRateLimit int    `json:"frankfurter_rate_limit"`
	StaticRates          string `json:"static_rates"`

	JSONSources []JSONSourceConfig `json:"json_sources"`
}

// JSONSourceConfig describes a generic JSON rate endpoint
type JSONSourceConfig struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	HistoricalURL string            `json:"historical_url"`
	RatePath      string            `json:"rate_path"`
	TimePath      string            `json:"time_path"`
	TimeLayout    string            `json:"time_layout"`
	Headers       map[string]string `json:"headers"`
	RateLimit     int               `json:"rate_limit"`
}

// SchedulerConfig represents background job scheduling configuration
type SchedulerConfig struct {
	Enabled      bool          `json:"enabled"`
	SnapshotSpec string        `json:"snapshot_spec"` // Cron expression
	TimeZone     string        `json:"timezone"`
	Workers      int           `json:"workers"`
	JobTimeout   time.Duration `json:"job_timeout"`
}

// PerformanceConfig represents snapshot computation settings
type PerformanceConfig struct {
	DefaultBaseCurrency string `json:"default_base_currency"`
	TimeZone            string `json:"timezone"`
	Scale               int32  `json:"scale"`
	MaxBackfillDays     int    `json:"max_backfill_days"`
}

// LoggerConfig represents logging configuration
type LoggerConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	Filename   string `json:"filename"`
	MaxSize    int    `json:"max_size"`
	MaxAge     int    `json:"max_age"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

// Load loads configuration from environment variables
func Load() *Config {
	// Load .env file if exists
	godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8085),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			MaxHeaderBytes: getEnvInt("SERVER_MAX_HEADER_BYTES", 1048576),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},

		Database: DatabaseConfig{
			Backend:            getEnv("SNAPSHOT_STORE", "mongo"),
			URI:                getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:           getEnv("MONGODB_DATABASE", "networth"),
			SnapshotCollection: getEnv("MONGODB_SNAPSHOT_COLLECTION", "performance_snapshots"),
			MaxPoolSize:        getEnvInt("MONGODB_MAX_POOL_SIZE", 100),
			MinPoolSize:        getEnvInt("MONGODB_MIN_POOL_SIZE", 5),
			MaxIdleTime:        getEnvInt("MONGODB_MAX_IDLE_TIME", 300),
			ConnectTimeout:     getEnvInt("MONGODB_CONNECT_TIMEOUT", 10),
			SocketTimeout:      getEnvInt("MONGODB_SOCKET_TIMEOUT", 30),
		},

		Ledger: LedgerConfig{
			Driver:          getEnv("LEDGER_DRIVER", "mysql"),
			DSN:             getEnv("LEDGER_DSN", ""),
			MaxOpenConns:    getEnvInt("LEDGER_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("LEDGER_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("LEDGER_CONN_MAX_LIFETIME", time.Hour),
			LogLevel:        getEnv("LEDGER_LOG_LEVEL", "warn"),
			AutoMigrate:     getEnvBool("LEDGER_AUTO_MIGRATE", false),
		},

		Cache: CacheConfig{
			Backend:            getEnv("RATE_CACHE_BACKEND", "redis"),
			Host:               getEnv("REDIS_HOST", "localhost"),
			Port:               getEnvInt("REDIS_PORT", 6379),
			Password:           getEnv("REDIS_PASSWORD", ""),
			DB:                 getEnvInt("REDIS_DB", 0),
			MaxRetries:         getEnvInt("REDIS_MAX_RETRIES", 3),
			PoolSize:           getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConnections: getEnvInt("REDIS_MIN_IDLE_CONNECTIONS", 5),
			DialTimeout:        getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:        getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:       getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			RateTTL:            getEnvDuration("RATE_CACHE_TTL", time.Hour),
			MemoryMaxSize:      int64(getEnvInt("RATE_CACHE_MEMORY_MAX_SIZE", 10000)),
			PopularLimit:       getEnvInt("RATE_CACHE_POPULAR_LIMIT", 20),
		},

		RabbitMQ: RabbitMQConfig{
			Enabled:              getEnvBool("RABBITMQ_ENABLED", true),
			URL:                  getEnv("RABBITMQ_URL", ""),
			Host:                 getEnv("RABBITMQ_HOST", "localhost"),
			Port:                 getEnvInt("RABBITMQ_PORT", 5672),
			Username:             getEnv("RABBITMQ_USERNAME", "guest"),
			Password:             getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:                getEnv("RABBITMQ_VHOST", "/"),
			LedgerExchange:       getEnv("RABBITMQ_LEDGER_EXCHANGE", "ledger"),
			LedgerQueue:          getEnv("LEDGER_EVENTS_QUEUE", "networth.ledger_events"),
			LedgerRoutingKey:     getEnv("RABBITMQ_LEDGER_ROUTING_KEY", "#"),
			ConsumerTag:          getEnv("RABBITMQ_CONSUMER_TAG", "networth-service"),
			PrefetchCount:        getEnvInt("RABBITMQ_PREFETCH_COUNT", 10),
			MaxReconnectAttempts: getEnvInt("RABBITMQ_MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectDelay:       getEnvDuration("RABBITMQ_RECONNECT_DELAY", 5*time.Second),
		},

		Rates: RatesConfig{
			Providers:            getEnvList("RATES_PROVIDERS", []string{"frankfurter"}),
			ProviderTimeout:      getEnvDuration("RATES_PROVIDER_TIMEOUT", 5*time.Second),
			MaxQuoteAge:          getEnvDuration("RATES_MAX_QUOTE_AGE", 120*time.Hour),
			MaxConcurrency:       getEnvInt("RATES_MAX_CONCURRENCY", 8),
			OutlierThresholdPct:  getEnvFloat("RATES_OUTLIER_THRESHOLD_PCT", 5.0),
			MinQuotesForOutliers: getEnvInt("RATES_MIN_QUOTES_FOR_OUTLIERS", 3),
			Weights:              getEnvWeights("RATES_WEIGHTS"),
			Precision:            int32(getEnvInt("RATES_PRECISION", 10)),
			FrankfurterURL:       getEnv("RATES_FRANKFURTER_URL", "https://api.frankfurter.app"),
			FrankfurterRateLimit: getEnvInt("RATES_FRANKFURTER_RATE_LIMIT", 60),
			StaticRates:          getEnv("RATES_STATIC", ""),
		},

		Scheduler: SchedulerConfig{
			Enabled:      getEnvBool("SCHEDULER_ENABLED", true),
			SnapshotSpec: getEnv("SCHEDULER_SNAPSHOT_SPEC", "0 1 * * *"), // Daily at 1 AM
			TimeZone:     getEnv("SCHEDULER_TIMEZONE", "UTC"),
			Workers:      getEnvInt("SCHEDULER_WORKERS", 4),
			JobTimeout:   getEnvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Minute),
		},

		Performance: PerformanceConfig{
			DefaultBaseCurrency: strings.ToUpper(getEnv("PERFORMANCE_DEFAULT_BASE_CURRENCY", "USD")),
			TimeZone:            getEnv("PERFORMANCE_TIMEZONE", "UTC"),
			Scale:               int32(getEnvInt("PERFORMANCE_SCALE", 8)),
			MaxBackfillDays:     getEnvInt("PERFORMANCE_MAX_BACKFILL_DAYS", 366),
		},

		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			Filename:   getEnv("LOG_FILENAME", ""),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 28),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
	}

	config.Rates.JSONSources = loadJSONSources(config.Rates.Providers)

	return config
}

// loadJSONSources reads RATES_JSON_<NAME>_* for every provider name that
// has a URL configured.
func loadJSONSources(names []string) []JSONSourceConfig {
	var sources []JSONSourceConfig
	for _, name := range names {
		prefix := "RATES_JSON_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		url := getEnv(prefix+"URL", "")
		if url == "" {
			continue
		}
		sources = append(sources, JSONSourceConfig{
			Name:          name,
			URL:           url,
			HistoricalURL: getEnv(prefix+"HISTORICAL_URL", ""),
			RatePath:      getEnv(prefix+"RATE_PATH", ""),
			TimePath:      getEnv(prefix+"TIME_PATH", ""),
			TimeLayout:    getEnv(prefix+"TIME_LAYOUT", time.RFC3339),
			Headers:       getEnvHeaders(prefix + "HEADERS"),
			RateLimit:     getEnvInt(prefix+"RATE_LIMIT", 60),
		})
	}
	return sources
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvWeights parses "source=weight,source=weight"
func getEnvWeights(key string) map[string]float64 {
	weights := make(map[string]float64)
	for _, item := range getEnvList(key, nil) {
		name, raw, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		if w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			weights[strings.TrimSpace(name)] = w
		}
	}
	return weights
}

// getEnvHeaders parses "Header:value;Header:value"
func getEnvHeaders(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, item := range strings.Split(value, ";") {
		name, v, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(v)
	}
	return headers
}

// Location returns the time zone "today" is computed in.
func (p PerformanceConfig) Location() (*time.Location, error) {
	return time.LoadLocation(p.TimeZone)
}

func (s SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.TimeZone)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Backend == "mongo" && c.Database.URI == "" {
		return fmt.Errorf("database URI is required")
	}

	switch c.Ledger.Driver {
	case "mysql", "sqlite":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger DSN is required")
		}
	default:
		return fmt.Errorf("unsupported ledger driver: %s", c.Ledger.Driver)
	}

	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported rate cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.RateTTL <= 0 {
		return fmt.Errorf("rate cache TTL must be positive")
	}

	if len(c.Rates.Providers) == 0 {
		return fmt.Errorf("at least one rate provider is required")
	}
	if c.Rates.OutlierThresholdPct <= 0 {
		return fmt.Errorf("outlier threshold must be positive")
	}

	if err := models.ValidateCurrency(c.Performance.DefaultBaseCurrency); err != nil {
		return fmt.Errorf("invalid default base currency: %w", err)
	}
	if c.Performance.MaxBackfillDays <= 0 {
		return fmt.Errorf("max backfill days must be positive")
	}
	if _, err := c.Performance.Location(); err != nil {
		return fmt.Errorf("invalid performance timezone: %w", err)
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.SnapshotSpec); err != nil {
			return fmt.Errorf("invalid snapshot schedule: %w", err)
		}
		if _, err := c.Scheduler.Location(); err != nil {
			return fmt.Errorf("invalid scheduler timezone: %w", err)
		}
	}

	if c.RabbitMQ.Enabled && c.RabbitMQ.LedgerQueue == "" {
		return fmt.Errorf("ledger events queue is required")
	}

	if c.Server.Environment == "production" && c.Ledger.Driver == "sqlite" {
		logrus.Warn("Using SQLite ledger in production, this is not recommended")
	}

	return nil
}
