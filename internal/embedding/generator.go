// File path: internal/embedding/generator.go
package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/llm"
)

// Config bounds the embedding generator.
type Config struct {
	MaxConcurrent int
	QPS           int
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns the baseline embedding limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		QPS:           10,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
}

// LoadConfig builds a Config from defaults and environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if value := strings.TrimSpace(os.Getenv("EMBED_MAX_CONCURRENT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBED_MAX_CONCURRENT: %w", err)
		}
		if parsed > 0 {
			cfg.MaxConcurrent = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("EMBED_QPS")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBED_QPS: %w", err)
		}
		if parsed > 0 {
			cfg.QPS = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("EMBED_MAX_RETRIES")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBED_MAX_RETRIES: %w", err)
		}
		if parsed > 0 {
			cfg.MaxRetries = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("EMBED_RETRY_INTERVAL")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBED_RETRY_INTERVAL: %w", err)
		}
		cfg.RetryInterval = dur
	}
	return cfg, nil
}

// Generator produces vectors through the provider under a concurrency bound
// and a request-rate limit. A text that still fails after retries yields a
// nil vector, never an error, so one bad input cannot abort a batch.
type Generator struct {
	provider llm.Provider
	limiter  *rate.Limiter
	sem      chan struct{}
	cfg      Config
	calls    atomic.Int64
}

func NewGenerator(provider llm.Provider, cfg Config) *Generator {
	defaults := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.QPS <= 0 {
		cfg.QPS = defaults.QPS
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	return &Generator{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(cfg.QPS), cfg.QPS),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		cfg:      cfg,
	}
}

// Calls reports how many provider embedding requests have been issued.
func (g *Generator) Calls() int64 {
	return g.calls.Load()
}

// Embed generates one vector per input text. Failed texts come back nil.
func (g *Generator) Embed(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	var wg sync.WaitGroup
	for idx, text := range texts {
		wg.Add(1)
		go func(i int, t string) {
			defer wg.Done()
			vec, err := g.embedWithRetry(ctx, t)
			if err != nil {
				common.Logger().Warn("embedding: giving up on text", "index", i, "error", err)
				return
			}
			out[i] = vec
		}(idx, text)
	}
	wg.Wait()
	return out
}

// EmbedOne generates the vector for a single text and surfaces the failure.
// Used for query embedding, where a failure is fatal for that request.
func (g *Generator) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return g.embedWithRetry(ctx, text)
}

func (g *Generator) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-g.sem }()

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.cfg.RetryInterval):
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		g.calls.Add(1)
		vectors, err := g.provider.Embed(ctx, []string{text})
		if err == nil {
			if len(vectors) == 0 || len(vectors[0]) == 0 {
				lastErr = errors.New("provider returned no vector")
				continue
			}
			return vectors[0], nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", g.cfg.MaxRetries, lastErr)
}
