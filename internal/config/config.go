package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
)

// StoreConfig selects and configures the persistence gateway.
type StoreConfig struct {
	Backend        string
	PGDSN          string
	RunMigrations  bool
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
}

func (s StoreConfig) Options() storage.Options {
	return storage.Options{
		Backend:        s.Backend,
		PGDSN:          s.PGDSN,
		RunMigrations:  s.RunMigrations,
		RedisAddr:      s.RedisAddr,
		RedisPassword:  s.RedisPassword,
		RedisKeyPrefix: s.RedisKeyPrefix,
	}
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Store   StoreConfig
	Pricing pricing.Model

	KafkaBrokers         []string
	KafkaMatchTopic      string
	KafkaCompletionTopic string
	KafkaGroup           string

	NotifyWebhookURL string

	LogLevel string
}

// SimulatorConfig drives the standalone simulation binary.
type SimulatorConfig struct {
	Store              StoreConfig
	Pricing            pricing.Model
	Interval           time.Duration
	ReleaseProbability float64
	Seed               int64
	LogLevel           string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		Store:                StoreConfig{RedisKeyPrefix: "ride:"},
		Pricing:              pricing.Default(),
		KafkaMatchTopic:      "ride-events",
		KafkaCompletionTopic: "ride-completions",
		KafkaGroup:           "ride-dispatch",
		LogLevel:             "info",
	}
}

func defaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Store:              StoreConfig{RedisKeyPrefix: "ride:"},
		Pricing:            pricing.Default(),
		Interval:           2 * time.Second,
		ReleaseProbability: 0.3,
		Seed:               time.Now().UnixNano(),
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	loadStore(&cfg.Store, &errs)
	loadPricing(&cfg.Pricing, &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaMatchTopic, "KAFKA_MATCH_TOPIC")
	setStringFromEnv(&cfg.KafkaCompletionTopic, "KAFKA_COMPLETION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.NotifyWebhookURL = strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"HTTP_READ_TIMEOUT", cfg.ReadTimeout},
		{"HTTP_WRITE_TIMEOUT", cfg.WriteTimeout},
		{"HTTP_IDLE_TIMEOUT", cfg.IdleTimeout},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", d.name))
		}
	}

	return cfg, errors.Join(errs...)
}

func LoadSimulatorConfig() (SimulatorConfig, error) {
	cfg := defaultSimulatorConfig()
	var errs []error

	loadStore(&cfg.Store, &errs)
	loadPricing(&cfg.Pricing, &errs)

	setDurationFromEnv(&cfg.Interval, "SIM_INTERVAL", &errs)
	setFloatFromEnv(&cfg.ReleaseProbability, "SIM_RELEASE_PROBABILITY", &errs)
	setInt64FromEnv(&cfg.Seed, "SIM_SEED", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.Interval <= 0 {
		errs = append(errs, fmt.Errorf("SIM_INTERVAL must be > 0"))
	}
	if cfg.ReleaseProbability < 0 || cfg.ReleaseProbability > 1 {
		errs = append(errs, fmt.Errorf("SIM_RELEASE_PROBABILITY must be within [0,1]"))
	}

	return cfg, errors.Join(errs...)
}

// loadStore reads the store settings. Without STORE_BACKEND the backend is
// postgres when PG_DSN is set, then redis when REDIS_ADDR is set, else memory.
func loadStore(s *StoreConfig, errs *[]error) {
	s.PGDSN = os.Getenv("PG_DSN")
	s.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	s.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	s.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&s.RedisKeyPrefix, "REDIS_KEY_PREFIX")

	s.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if s.Backend == "" {
		switch {
		case s.PGDSN != "":
			s.Backend = storage.BackendPostgres
		case s.RedisAddr != "":
			s.Backend = storage.BackendRedis
		default:
			s.Backend = storage.BackendMemory
		}
	}

	switch s.Backend {
	case storage.BackendMemory:
	case storage.BackendPostgres:
		if s.PGDSN == "" {
			*errs = append(*errs, fmt.Errorf("PG_DSN is required for STORE_BACKEND=postgres"))
		}
	case storage.BackendRedis:
		if s.RedisAddr == "" {
			*errs = append(*errs, fmt.Errorf("REDIS_ADDR is required for STORE_BACKEND=redis"))
		}
	default:
		*errs = append(*errs, fmt.Errorf("invalid STORE_BACKEND %q", s.Backend))
	}
}

func loadPricing(m *pricing.Model, errs *[]error) {
	setFloatFromEnv(&m.BaseFare, "PRICING_BASE_FARE", errs)
	setFloatFromEnv(&m.FarePerKm, "PRICING_FARE_PER_KM", errs)
	setFloatFromEnv(&m.AverageSpeedKmph, "PRICING_AVERAGE_SPEED_KMPH", errs)
	if err := m.Validate(); err != nil {
		*errs = append(*errs, fmt.Errorf("pricing: %w", err))
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
