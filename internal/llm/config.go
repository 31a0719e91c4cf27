// File path: internal/llm/config.go
package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls pacing and retry behavior for the task client.
type Config struct {
	// QPS bounds how many calls are issued per one-second window. Calls
	// inside a window run concurrently; burstiness within the window is
	// accepted.
	QPS int

	MaxRetries   int
	RetryBackoff time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig returns the baseline pacing configuration.
func DefaultConfig() Config {
	return Config{
		QPS:          5,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
		CallTimeout:  60 * time.Second,
	}
}

// LoadConfig builds a Config from defaults and environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if value := strings.TrimSpace(os.Getenv("LLM_QPS")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse LLM_QPS: %w", err)
		}
		if parsed > 0 {
			cfg.QPS = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("LLM_MAX_RETRIES")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse LLM_MAX_RETRIES: %w", err)
		}
		if parsed > 0 {
			cfg.MaxRetries = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("LLM_RETRY_BACKOFF")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse LLM_RETRY_BACKOFF: %w", err)
		}
		cfg.RetryBackoff = dur
	}
	if value := strings.TrimSpace(os.Getenv("LLM_CALL_TIMEOUT")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse LLM_CALL_TIMEOUT: %w", err)
		}
		cfg.CallTimeout = dur
	}
	return cfg, nil
}
