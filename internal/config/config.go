package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port         string
	DatabasePath string // SQLite file for the conversation archive
	RedisURL     string // optional shared cache tier; empty = in-process only
	SearXNGURL   string
	LLMBaseURL   string // OpenAI-compatible endpoint (Ollama, llama.cpp, vLLM...)
	LLMAPIKey    string
	LLMModel     string
	EmbedModel   string
	AgentsFile   string // agents.yaml with agent/intent definitions

	// Session memory
	SessionTTL    time.Duration // idle time before a session is swept
	SweepInterval time.Duration

	// Retrieval
	RAGTopK          int
	RAGMinSimilarity float64
	RAGCacheTTL      time.Duration

	// Intent reconciliation. When true the LLM classifier outranks keyword
	// matches above its confidence threshold; when false keywords win ties.
	ClassifierFirst     bool
	ClassifierThreshold float64

	// Per-dispatch deadline for agent calls
	AgentTimeout time.Duration

	// How long archived transcripts are kept before the daily prune
	ArchiveRetention time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "3001"),
		DatabasePath: getEnv("DATABASE_PATH", "data/souschef.db"),
		RedisURL:     getEnv("REDIS_URL", ""),
		SearXNGURL:   getEnv("SEARXNG_URL", "http://localhost:8080"),
		LLMBaseURL:   getEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "llama3.1:8b"),
		EmbedModel:   getEnv("EMBED_MODEL", "nomic-embed-text"),
		AgentsFile:   getEnv("AGENTS_FILE", "agents.yaml"),

		SessionTTL:    getDurationEnv("SESSION_TTL", 2*time.Hour),
		SweepInterval: getDurationEnv("SESSION_SWEEP_INTERVAL", 5*time.Minute),

		RAGTopK:          getIntEnv("RAG_TOP_K", 5),
		RAGMinSimilarity: getFloatEnv("RAG_MIN_SIMILARITY", 0.65),
		RAGCacheTTL:      getDurationEnv("RAG_CACHE_TTL", 5*time.Minute),

		ClassifierFirst:     getBoolEnv("INTENT_CLASSIFIER_FIRST", true),
		ClassifierThreshold: getFloatEnv("INTENT_CLASSIFIER_THRESHOLD", 0.5),

		AgentTimeout: getDurationEnv("AGENT_TIMEOUT", 60*time.Second),

		ArchiveRetention: getDurationEnv("ARCHIVE_RETENTION", 30*24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
