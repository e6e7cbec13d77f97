package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Env  string
	Port string

	// Origin is the only cross-origin caller allowed by CORS.
	Origin   string
	GameSlug string

	OpenDuration    time.Duration
	ClosedDuration  time.Duration
	ResolveDuration time.Duration
	TickInterval    time.Duration
	StoreTimeout    time.Duration

	// ClockEnabled is false on replicas that only relay snapshots from Redis.
	ClockEnabled bool

	DatabaseURL    string
	MigrationsPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers     string
	KafkaTopicPrefix string
}

// Load reads the configuration and validates it. A returned error is fatal for the caller.
func Load() (Config, error) {
	tick := time.Duration(getEnvAsInt("RULETA_TICK_MS", 1000)) * time.Millisecond

	cfg := Config{
		Env:      getEnv("APP_ENV", "production"),
		Port:     getEnv("RULETA_PORT", getEnv("ROULETA_PORT", "8000")),
		Origin:   getEnv("RULETA_ORIGIN", getEnv("ROULETA_ORIGIN", "http://localhost:3000")),
		GameSlug: getEnv("RULETA_GAME_SLUG", getEnv("ROULETA_GAME_SLUG", "ruleta")),

		OpenDuration:    seconds("RULETA_OPEN_SECONDS", "ROULETA_OPEN_SECONDS", 25),
		ClosedDuration:  seconds("RULETA_CLOSED_SECONDS", "ROULETA_CLOSED_SECONDS", 8),
		ResolveDuration: seconds("RULETA_RESOLVE_SECONDS", "ROULETA_RESOLVE_SECONDS", 6),
		TickInterval:    tick,
		StoreTimeout:    time.Duration(getEnvAsInt("RULETA_STORE_TIMEOUT_MS", int(tick/time.Millisecond))) * time.Millisecond,
		ClockEnabled:    getEnvAsBool("RULETA_CLOCK_ENABLED", true),

		DatabaseURL:    databaseURL(),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),

		RedisAddr:     getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		KafkaBrokers:     getEnv("KAFKA_BROKERS", ""),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "ruleta."),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: database is not configured (set DATABASE_URL or BLUEPRINT_DB_HOST)")
	}
	if c.OpenDuration <= 0 || c.ClosedDuration <= 0 || c.ResolveDuration <= 0 {
		return fmt.Errorf("config: round durations must be positive (open=%s closed=%s resolve=%s)",
			c.OpenDuration, c.ClosedDuration, c.ResolveDuration)
	}
	if c.TickInterval <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("config: tick interval and store timeout must be positive (tick=%s timeout=%s)",
			c.TickInterval, c.StoreTimeout)
	}
	if c.GameSlug == "" {
		return errors.New("config: game slug is empty")
	}
	return nil
}

func databaseURL() string {
	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		return dsn
	}
	host := getEnv("BLUEPRINT_DB_HOST", "")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
		getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
		host,
		getEnv("BLUEPRINT_DB_PORT", "5432"),
		getEnv("BLUEPRINT_DB_DATABASE", "ruleta"),
		getEnv("BLUEPRINT_DB_SCHEMA", "public"),
	)
}

func seconds(key, legacyKey string, defaultVal int) time.Duration {
	n := getEnvAsInt(key, getEnvAsInt(legacyKey, defaultVal))
	return time.Duration(n) * time.Second
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
