package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process configuration read from the environment.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string

	// RoutingConfigPath points at the YAML tuning file; empty uses built-in defaults.
	RoutingConfigPath string

	AWSRegion   string
	SQSQueueURL string

	LLMProvider     string
	LLMAPIKey       string
	LLMScoreModel   string
	LLMSummaryModel string

	AnalysisTriggersPerDay int

	WorkerConcurrency       int
	WorkerVisibilitySeconds int
	WorkerShutdownTimeout   time.Duration
	WorkerReapInterval      time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	provider := strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "anthropic")))
	return Config{
		Port:                    getEnv("PORT", "8080"),
		CORSAllowOrigin:         splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:                     env,
		DatabaseURL:             dbURL,
		RoutingConfigPath:       strings.TrimSpace(os.Getenv("ROUTING_CONFIG_PATH")),
		AWSRegion:               getEnv("AWS_REGION", ""),
		SQSQueueURL:             strings.TrimSpace(os.Getenv("ANALYSIS_SQS_QUEUE_URL")),
		LLMProvider:             provider,
		LLMAPIKey:               providerKey(provider),
		LLMScoreModel:           getEnv("LLM_SCORE_MODEL", ""),
		LLMSummaryModel:         getEnv("LLM_SUMMARY_MODEL", ""),
		AnalysisTriggersPerDay:  getInt("ANALYSIS_TRIGGERS_PER_DAY", 0),
		WorkerConcurrency:       getInt("WORKER_CONCURRENCY", 2),
		WorkerVisibilitySeconds: getInt("SQS_VISIBILITY_TIMEOUT_SECONDS", 300),
		WorkerShutdownTimeout:   time.Duration(getInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		WorkerReapInterval:      time.Duration(getInt("WORKER_REAP_INTERVAL_SECONDS", 60)) * time.Second,
	}
}

// IsDevLike reports whether the environment allows in-memory fallbacks and
// header-based identity.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

// providerKey returns LLM_API_KEY, falling back to the provider's conventional variable.
func providerKey(provider string) string {
	if key := strings.TrimSpace(os.Getenv("LLM_API_KEY")); key != "" {
		return key
	}
	switch provider {
	case "anthropic":
		return strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	case "openai":
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case "google", "gemini":
		if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
			return key
		}
		return strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	return ""
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: invalid %s=%q; using %d", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}
