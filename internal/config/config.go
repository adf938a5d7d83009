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

	OTLPEndpoint string

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

	Redis RedisConfig

	Negotiation NegotiationConfig
	Resolver    ResolverConfig
	Capsule     CapsuleConfig
	Audit       AuditConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NegotiationConfig carries the pricing policy for bargaining sessions.
type NegotiationConfig struct {
	// MarginRate is the required margin over true cost; the session floor is
	// trueCost * (1 + MarginRate) and is fixed at session creation.
	MarginRate float64
	// MinAbsoluteProfit is the flat currency amount a buyer offer must clear
	// above true cost to be auto-accepted.
	MinAbsoluteProfit float64
	// SessionTTL bounds the fast-cache lifetime of a session.
	SessionTTL time.Duration
	// HoldTTL is how long an accepted price remains payable.
	HoldTTL time.Duration
	// CandidateCount is the size of the sampled counter-offer ladder.
	CandidateCount int
	// PromoBandShrink narrows the top of the counter band when a promo code
	// is attached, expressed as a fraction of the band.
	PromoBandShrink float64
	Currency        string
	// WriteQueueSize bounds the async durable-write queue for sessions.
	WriteQueueSize int
	// SweepInterval is how often the expiry sweeper scans for lapsed
	// sessions; SweepBatchSize bounds one scan.
	SweepInterval  time.Duration
	SweepBatchSize int
}

type ResolverConfig struct {
	// QuoteURL is the supplier rate endpoint. Empty means the built-in
	// static source, which is only suitable for development.
	QuoteURL     string
	QuoteAPIKey  string
	QuoteTimeout time.Duration
	CacheTTL     time.Duration
}

type CapsuleConfig struct {
	// SigningSeed is a hex-encoded 32-byte ed25519 seed. Empty means an
	// ephemeral key is generated at startup.
	SigningSeed string
}

type AuditConfig struct {
	QueueSize    int
	BatchSize    int
	FlushTimeout time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "bargain"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "bargain"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},

		Negotiation: NegotiationConfig{
			MarginRate:        getenvFloat("NEGOTIATION_MARGIN_RATE", 0.10),
			MinAbsoluteProfit: getenvFloat("NEGOTIATION_MIN_ABSOLUTE_PROFIT", 5.0),
			SessionTTL:        getenvDuration("NEGOTIATION_SESSION_TTL", 30*time.Minute),
			HoldTTL:           getenvDuration("NEGOTIATION_HOLD_TTL", 15*time.Minute),
			CandidateCount:    int(getenvInt64("NEGOTIATION_CANDIDATE_COUNT", 8)),
			PromoBandShrink:   getenvFloat("NEGOTIATION_PROMO_BAND_SHRINK", 0.25),
			Currency:          getenv("NEGOTIATION_CURRENCY", "USD"),
			WriteQueueSize:    int(getenvInt64("NEGOTIATION_WRITE_QUEUE_SIZE", 256)),
			SweepInterval:     getenvDuration("NEGOTIATION_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:    int(getenvInt64("NEGOTIATION_SWEEP_BATCH_SIZE", 50)),
		},

		Resolver: ResolverConfig{
			QuoteURL:     strings.TrimSpace(getenv("RESOLVER_QUOTE_URL", "")),
			QuoteAPIKey:  strings.TrimSpace(getenv("RESOLVER_QUOTE_API_KEY", "")),
			QuoteTimeout: getenvDuration("RESOLVER_QUOTE_TIMEOUT", 3*time.Second),
			CacheTTL:     getenvDuration("RESOLVER_CACHE_TTL", 5*time.Minute),
		},

		Capsule: CapsuleConfig{
			SigningSeed: strings.TrimSpace(getenv("CAPSULE_SIGNING_SEED", "")),
		},

		Audit: AuditConfig{
			QueueSize:    int(getenvInt64("AUDIT_QUEUE_SIZE", 1024)),
			BatchSize:    int(getenvInt64("AUDIT_BATCH_SIZE", 64)),
			FlushTimeout: getenvDuration("AUDIT_FLUSH_TIMEOUT", 5*time.Second),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
	if err != nil {
		return def
	}
	return parsed
}
