package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	MaxConns int32
}

// DSN is the pgx connection string
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type Config struct {
	ServiceName   string
	Port          string
	LogLevel      string
	StorageDriver string
	Database      Database
	SeedOnStart   bool

	RedisURL       string
	CartSessionTTL time.Duration

	RabbitMQURL    string
	EventsExchange string

	TelemetryEnabled bool
	OTLPEndpoint     string

	GateAcquireTimeout time.Duration
	PricingFile        string
}

// Load reads the configuration from the environment, after loading .env
// when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	maxConns, err := strconv.Atoi(getEnv("DATABASE_MAX_CONNS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_MAX_CONNS: %w", err)
	}
	seed, err := strconv.ParseBool(getEnv("SEED_ON_START", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEED_ON_START: %w", err)
	}
	telemetryEnabled, err := strconv.ParseBool(getEnv("TELEMETRY_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEMETRY_ENABLED: %w", err)
	}
	sessionTTL, err := time.ParseDuration(getEnv("CART_SESSION_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CART_SESSION_TTL: %w", err)
	}
	gateTimeout, err := time.ParseDuration(getEnv("GATE_ACQUIRE_TIMEOUT", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATE_ACQUIRE_TIMEOUT: %w", err)
	}

	cfg := &Config{
		ServiceName:   getEnv("SERVICE_NAME", "bookstore-service"),
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StorageDriver: getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		Database: Database{
			User:     getEnv("DATABASE_USER", "root"),
			Password: getEnv("DATABASE_PASSWORD", "bookstore_pass"),
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			Name:     getEnv("DATABASE_NAME", "bookstore_db"),
			MaxConns: int32(maxConns),
		},
		SeedOnStart:        seed,
		RedisURL:           getEnv("REDIS_URL", ""),
		CartSessionTTL:     sessionTTL,
		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		EventsExchange:     getEnv("EVENTS_EXCHANGE", "bookstore.events"),
		TelemetryEnabled:   telemetryEnabled,
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		GateAcquireTimeout: gateTimeout,
		PricingFile:        getEnv("PRICING_FILE", ""),
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	return cfg, nil
}

// LoadDiscountTable reads the pricing file. No file means no discounts.
func (c *Config) LoadDiscountTable() (catalog.DiscountTable, error) {
	if c.PricingFile == "" {
		return catalog.DiscountTable{}, nil
	}
	f, err := os.Open(c.PricingFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open pricing file: %w", err)
	}
	defer f.Close()

	table, err := catalog.LoadDiscountTable(f)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", c.PricingFile).Int("groups", len(table)).Msg("discount table loaded")
	return table, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
