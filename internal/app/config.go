package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	StorageBackend string // mongo, postgres or memory
	MongoURI       string
	MongoDatabase  string
	PostgresDSN    string

	RedisURL        string // empty disables the shared query cache
	CacheTTL        time.Duration
	CacheMaxEntries int

	DedupPolicy    string // merge or strict
	FuzzyThreshold float64
	MaxCandidates  int

	SearchRPS   float64
	SearchBurst int

	BroadcastRPS       float64
	BroadcastBurst     int
	BroadcastChunkSize int
	BroadcastRetries   int

	RetentionTTL  time.Duration // 0 disables the janitor
	SweepInterval time.Duration

	DeliveryURL     string // empty means deliveries are logged, not sent
	DeliveryTimeout time.Duration

	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "mongo")),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  getEnv("MONGO_DB", "mediaindex"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),

		RedisURL:        getEnv("REDIS_URL", ""),
		CacheTTL:        getEnvDuration("CACHE_TTL", 10*time.Minute),
		CacheMaxEntries: int(getEnvInt64("CACHE_MAX_ENTRIES", 1024)),

		DedupPolicy:    strings.ToLower(getEnv("DEDUP_POLICY", "merge")),
		FuzzyThreshold: getEnvFloat("FUZZY_THRESHOLD", 0.5),
		MaxCandidates:  int(getEnvInt64("SEARCH_MAX_CANDIDATES", 500)),

		SearchRPS:   getEnvFloat("SEARCH_RPS", 5),
		SearchBurst: int(getEnvInt64("SEARCH_BURST", 10)),

		BroadcastRPS:       getEnvFloat("BROADCAST_RPS", 25),
		BroadcastBurst:     int(getEnvInt64("BROADCAST_BURST", 25)),
		BroadcastChunkSize: int(getEnvInt64("BROADCAST_CHUNK_SIZE", 200)),
		BroadcastRetries:   int(getEnvInt64("BROADCAST_RETRIES", 3)),

		RetentionTTL:  getEnvDuration("RETENTION_TTL", 0),
		SweepInterval: getEnvDuration("RETENTION_SWEEP_INTERVAL", time.Hour),

		DeliveryURL:     getEnv("DELIVERY_URL", ""),
		DeliveryTimeout: getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
