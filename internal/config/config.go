package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Port        string

	OTLPEndpoint   string
	MetricsEnabled bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// GatewayConfigSecret is the key material used to seal provider credentials at rest.
	GatewayConfigSecret string
	// PublicBaseURL is the externally reachable base used to build notification callback URLs.
	PublicBaseURL   string
	ProviderTimeout time.Duration
	PolicyFile      string

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Sweep     SweepConfig
}

// SweepConfig drives the background refresh of pending charges whose
// notification never arrived.
type SweepConfig struct {
	Enabled    bool
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
	MaxAge     time.Duration
}

// RateLimitConfig throttles inbound notifications per provider and source
// address. It reuses the Redis connection settings.
type RateLimitConfig struct {
	Enabled      bool
	WebhookRate  float64
	WebhookBurst int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:             getenv("APP_SERVICE", "paygate"),
		AppVersion:          getenv("APP_VERSION", "0.1.0"),
		Environment:         getenv("ENVIRONMENT", "development"),
		Port:                getenv("PORT", "8080"),
		OTLPEndpoint:        getenv("OTLP_ENDPOINT", "localhost:4317"),
		MetricsEnabled:      getenvBool("METRICS_ENABLED", true),
		DBType:              getenv("DB_TYPE", "postgres"),
		DBHost:              getenv("DB_HOST", "localhost"),
		DBPort:              getenv("DB_PORT", "5432"),
		DBName:              getenv("DB_NAME", "paygate"),
		DBUser:              getenv("DB_USER", "postgres"),
		DBPassword:          getenv("DB_PASSWORD", ""),
		DBSSLMode:           getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:       getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:       getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:   getenvInt("DB_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:   getenvInt("DB_CONN_MAX_IDLE_TIME", 60),
		GatewayConfigSecret: strings.TrimSpace(getenv("GATEWAY_CONFIG_SECRET", "")),
		PublicBaseURL:       strings.TrimRight(strings.TrimSpace(getenv("PUBLIC_BASE_URL", "")), "/"),
		ProviderTimeout:     getenvDuration("PROVIDER_TIMEOUT", 12*time.Second),
		PolicyFile:          strings.TrimSpace(getenv("GATEWAY_POLICY_FILE", "")),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getenvBool("RATE_LIMIT_ENABLED", false),
			WebhookRate:  getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst: getenvInt("RATE_LIMIT_WEBHOOK_BURST", 60),
		},
		Sweep: SweepConfig{
			Enabled:    getenvBool("SWEEP_ENABLED", true),
			Interval:   getenvDuration("SWEEP_INTERVAL", time.Minute),
			BatchSize:  getenvInt("SWEEP_BATCH_SIZE", 50),
			StaleAfter: getenvDuration("SWEEP_STALE_AFTER", 15*time.Minute),
			MaxAge:     getenvDuration("SWEEP_MAX_AGE", 72*time.Hour),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
