// Package config loads VeilChain's runtime settings from the environment,
// following the teacher's os.Getenv/LookupEnv-with-fallback convention
// (cmd/messaging-service/internal/config, cmd/room-service/internal/config).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable setting named across
// SPEC_FULL.md's component table.
type Config struct {
	Port string

	StorageBackend string // "memory" | "postgres"
	DatabaseURL    string

	IdempotencyBackend string // "memory" | "redis"
	RedisURL           string
	IdempotencyTTL     time.Duration

	TieredStorageEnabled        bool
	TieredStorageThresholdBytes int64
	MultipartThresholdBytes     int64
	S3Endpoint                  string
	S3AccessKey                 string
	S3SecretKey                 string
	S3Bucket                    string
	S3Region                    string
	S3UseSSL                    bool

	DefaultHashAlgorithm string

	SigningKeyPath string

	PublisherMinEntries   uint64
	PublisherMaxTimeSince time.Duration
	PublisherPollInterval time.Duration
}

// Load reads Config from the environment, applying the same defaults the
// teacher's service configs apply for an unset PORT.
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8090"),

		StorageBackend: getEnv("VEILCHAIN_STORAGE_BACKEND", "memory"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		IdempotencyBackend: getEnv("VEILCHAIN_IDEMPOTENCY_BACKEND", "memory"),
		RedisURL:           getEnv("REDIS_URL", "localhost:6379"),
		IdempotencyTTL:     getDurationEnv("VEILCHAIN_IDEMPOTENCY_TTL", 24*time.Hour),

		TieredStorageEnabled:        getBoolEnv("VEILCHAIN_TIERED_STORAGE_ENABLED", false),
		TieredStorageThresholdBytes: getInt64Env("VEILCHAIN_TIERED_STORAGE_THRESHOLD_BYTES", 1<<20),
		MultipartThresholdBytes:     getInt64Env("VEILCHAIN_MULTIPART_THRESHOLD_BYTES", 5<<20),
		S3Endpoint:                  getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:                 getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:                 getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:                    getEnv("S3_BUCKET", "veilchain-blobs"),
		S3Region:                    getEnv("S3_REGION", "us-east-1"),
		S3UseSSL:                    getBoolEnv("S3_USE_SSL", false),

		DefaultHashAlgorithm: getEnv("VEILCHAIN_DEFAULT_HASH_ALGORITHM", "sha256"),

		SigningKeyPath: getEnv("VEILCHAIN_SIGNING_KEY", ""),

		PublisherMinEntries:   uint64(getInt64Env("VEILCHAIN_PUBLISHER_MIN_ENTRIES", 100)),
		PublisherMaxTimeSince: getDurationEnv("VEILCHAIN_PUBLISHER_MAX_TIME_SINCE", time.Hour),
		PublisherPollInterval: getDurationEnv("VEILCHAIN_PUBLISHER_POLL_INTERVAL", time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt64Env(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
