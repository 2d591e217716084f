package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	MetricsPort     string
	MySQLConfig     MySQLConfig
	RedisConfig     RedisConfig
	KafkaConfig     KafkaConfig
	TracingConfig   TracingConfig
	JWTSecret       string
	JWTTTL          time.Duration
	CacheTTL        time.Duration
	PageSize        int
	ThrottlePerHour int
	LogLevel        zerolog.Level
}

// MySQLConfig holds the DSN of the ledger database. An empty DSN selects the
// in-memory store.
type MySQLConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type TracingConfig struct {
	CollectorHost string
}

func CreateNewConfig() *Config {
	godotenv.Load(".env")

	conf := Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		MySQLConfig: MySQLConfig{
			DSN: os.Getenv("MYSQL_DSN"),
		},
		RedisConfig: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		KafkaConfig: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "vending.transactions"),
		},
		TracingConfig: TracingConfig{
			CollectorHost: os.Getenv("COLLECTOR_HOST"),
		},
		JWTSecret:       getEnv("JWT_SECRET", "change-me"),
		JWTTTL:          getDuration("JWT_TTL", 24*time.Hour),
		CacheTTL:        getDuration("CACHE_TTL", 300*time.Second),
		PageSize:        getInt("PAGE_SIZE", 6),
		ThrottlePerHour: getInt("THROTTLE_PER_HOUR", 100),
		LogLevel:        getLevel("LOG_LEVEL", zerolog.InfoLevel),
	}

	return &conf
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// getDuration accepts Go durations ("5m") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func getLevel(key string, fallback zerolog.Level) zerolog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return fallback
	}
	return level
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
