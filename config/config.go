package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	StoreDriver   string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	JWTSecret     string
	JWTAccessTTL  time.Duration
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Endpoint   string
	S3PublicBase string
	S3PresignTTL time.Duration

	// Messaging core
	AllowMultiSession  bool
	PresenceGrace      time.Duration
	WorkerCount        int
	WorkerQueue        int
	DefaultPageSize    int
	MaxPageSize        int
	StoreReadRetries   int
	MaxMalformedFrames int
	MessageRateLimit   int
	ProfileCacheTTL    time.Duration
	PushChannel        string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		StoreDriver:   getEnv("STORE_DRIVER", "postgres"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "dealroom_chat"),
		DBPort:        getEnv("DB_PORT", "5432"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		JWTAccessTTL:  getEnvAsDuration("JWT_ACCESS_TTL", 24*time.Hour),
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		S3Region:     getEnv("S3_REGION", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3PublicBase: getEnv("S3_PUBLIC_BASE", ""),
		S3PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),

		AllowMultiSession:  getEnvAsBool("ALLOW_MULTI_SESSION", true),
		PresenceGrace:      getEnvAsDuration("PRESENCE_GRACE", 5*time.Second),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 16),
		WorkerQueue:        getEnvAsInt("WORKER_QUEUE", 1024),
		DefaultPageSize:    getEnvAsInt("DEFAULT_PAGE_SIZE", 50),
		MaxPageSize:        getEnvAsInt("MAX_PAGE_SIZE", 200),
		StoreReadRetries:   getEnvAsInt("STORE_READ_RETRIES", 3),
		MaxMalformedFrames: getEnvAsInt("MAX_MALFORMED_FRAMES", 5),
		MessageRateLimit:   getEnvAsInt("MESSAGE_RATE_LIMIT", 60),
		ProfileCacheTTL:    getEnvAsDuration("PROFILE_CACHE_TTL", 5*time.Minute),
		PushChannel:        getEnv("PUSH_CHANNEL", "channel:push"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("5s", "2m").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
