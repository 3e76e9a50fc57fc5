// Package config loads the process-level configuration from the
// environment. It is read once at wiring time (cmd/ragdebate); the
// engine and agent packages never call os.Getenv themselves, and
// instead receive configuration as plain Go values.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the recognized environment configuration.
type Config struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	CerebrasAPIKey  string

	VectorStoreURL string
	VectorStoreKey string

	ConvergenceThreshold   float64
	CriticalSeverityThresh int
	DefaultMaxRounds       int
	DebugLogging           bool
	RetrievalQualityThresh float64
}

const (
	defaultConvergenceThreshold   = 0.3
	defaultCriticalSeverityThresh = 2
	defaultMaxRounds              = 3
	defaultRetrievalQualityThresh = 0.7
)

// Load reads Config from the process environment, applying the documented
// defaults for unset numeric fields. It returns an error if no LLM API key
// is set, or if VECTOR_STORE_URL is unset; everything else is optional.
func Load() (Config, error) {
	cfg := Config{
		GeminiAPIKey:           os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		CerebrasAPIKey:         os.Getenv("CEREBRAS_API_KEY"),
		VectorStoreURL:         os.Getenv("VECTOR_STORE_URL"),
		VectorStoreKey:         os.Getenv("VECTOR_STORE_KEY"),
		ConvergenceThreshold:   floatEnv("CONVERGENCE_THRESHOLD", defaultConvergenceThreshold),
		CriticalSeverityThresh: intEnv("CRITICAL_SEVERITY_THRESHOLD", defaultCriticalSeverityThresh),
		DefaultMaxRounds:       intEnv("DEFAULT_MAX_ROUNDS", defaultMaxRounds),
		DebugLogging:           os.Getenv("DEBUG_LOGGING") == "1" || os.Getenv("DEBUG_LOGGING") == "true",
		RetrievalQualityThresh: floatEnv("RETRIEVAL_QUALITY_THRESHOLD", defaultRetrievalQualityThresh),
	}

	if cfg.GeminiAPIKey == "" && cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" && cfg.CerebrasAPIKey == "" {
		return Config{}, fmt.Errorf("config: at least one LLM API key is required (GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY, or CEREBRAS_API_KEY)")
	}
	if cfg.VectorStoreURL == "" {
		return Config{}, fmt.Errorf("config: VECTOR_STORE_URL is required")
	}

	return cfg, nil
}

func floatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
