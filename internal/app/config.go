package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	LogLevel      string
	SentryDSN     string

	// TTS providers
	ElevenLabsAPIKey  string
	ElevenLabsModelID string
	TTSStability      float64
	TTSSimilarity     float64
	KokoroBaseURL     string

	// Audio blob storage
	AudioDir     string
	AudioBaseURL string

	// Cache bounds
	CacheMaxEntries   int
	CacheMaxSizeBytes int64
	CacheMaxAge       time.Duration
	CleanupInterval   time.Duration

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	MigrateOnStart bool
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}
	cleanupInterval, err := time.ParseDuration(getenv("CLEANUP_INTERVAL", "6h"))
	if err != nil {
		cleanupInterval = 6 * time.Hour
	}

	publicBaseURL := getenv("PUBLIC_BASE_URL", "http://localhost:8080")

	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: publicBaseURL,
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		SentryDSN:     getenv("SENTRY_DSN", ""),

		// TTS providers
		ElevenLabsAPIKey:  getenv("ELEVENLABS_API_KEY", ""),
		ElevenLabsModelID: getenv("ELEVENLABS_MODEL_ID", ""),
		TTSStability:      getenvFloatClamped("TTS_STABILITY", 0.5, 0.0, 1.0),
		TTSSimilarity:     getenvFloatClamped("TTS_SIMILARITY", 0.75, 0.0, 1.0),
		KokoroBaseURL:     getenv("KOKORO_BASE_URL", ""),

		// Audio blob storage
		AudioDir:     getenv("AUDIO_DIR", "./data/audio"),
		AudioBaseURL: getenv("AUDIO_BASE_URL", publicBaseURL+"/audio"),

		// Cache bounds
		CacheMaxEntries:   getenvIntClamped("CACHE_MAX_ENTRIES", 10_000, 1, 1_000_000),
		CacheMaxSizeBytes: int64(getenvIntClamped("CACHE_MAX_SIZE_MB", 10_240, 1, 1_048_576)) << 20,
		CacheMaxAge:       time.Duration(getenvIntClamped("CACHE_MAX_AGE_HOURS", 720, 1, 87_600)) * time.Hour,
		CleanupInterval:   cleanupInterval,

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		MigrateOnStart: getenvBool("MIGRATE_ON_START", false),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getenvIntClamped reads an integer env var, falling back to def on missing
// or unparseable values and clamping the result into [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
