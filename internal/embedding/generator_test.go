// File path: internal/embedding/generator_test.go
package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skyreach/opinioncore/internal/llm"
)

type countingProvider struct {
	mu        sync.Mutex
	calls     int
	failTexts map[string]int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (p *countingProvider) Chat(ctx context.Context, _ []llm.Message) (string, error) {
	return "", errors.New("not used")
}

func (p *countingProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	current := p.inFlight.Add(1)
	for {
		max := p.maxInFlight.Load()
		if current <= max || p.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	defer p.inFlight.Add(-1)
	time.Sleep(5 * time.Millisecond)

	p.mu.Lock()
	p.calls++
	if remaining, ok := p.failTexts[input[0]]; ok && remaining > 0 {
		p.failTexts[input[0]] = remaining - 1
		p.mu.Unlock()
		return nil, errors.New("simulated failure")
	}
	p.mu.Unlock()
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func (p *countingProvider) Name() string { return "counting" }

func testGenerator(p *countingProvider, maxConcurrent int) *Generator {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = maxConcurrent
	cfg.QPS = 1000
	cfg.RetryInterval = time.Millisecond
	return NewGenerator(p, cfg)
}

func TestEmbedReturnsVectorPerText(t *testing.T) {
	provider := &countingProvider{}
	gen := testGenerator(provider, 4)
	vectors := gen.Embed(context.Background(), []string{"a", "b", "c"})
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != 3 {
			t.Fatalf("vector %d missing: %v", i, vec)
		}
	}
}

func TestEmbedFailedTextYieldsNilNotError(t *testing.T) {
	provider := &countingProvider{failTexts: map[string]int{"bad": 100}}
	gen := testGenerator(provider, 2)
	vectors := gen.Embed(context.Background(), []string{"good", "bad", "also good"})
	if vectors[0] == nil || vectors[2] == nil {
		t.Fatal("healthy texts must still embed")
	}
	if vectors[1] != nil {
		t.Fatal("failed text must degrade to nil")
	}
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	provider := &countingProvider{failTexts: map[string]int{"flaky": 2}}
	gen := testGenerator(provider, 1)
	vectors := gen.Embed(context.Background(), []string{"flaky"})
	if vectors[0] == nil {
		t.Fatal("expected success after retries")
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", provider.calls)
	}
}

func TestEmbedHonorsConcurrencyBound(t *testing.T) {
	provider := &countingProvider{}
	gen := testGenerator(provider, 2)
	texts := make([]string, 16)
	for i := range texts {
		texts[i] = "text"
	}
	gen.Embed(context.Background(), texts)
	if max := provider.maxInFlight.Load(); max > 2 {
		t.Fatalf("concurrency bound violated: %d in flight", max)
	}
}

func TestEmbedOneSurfacesFailure(t *testing.T) {
	provider := &countingProvider{failTexts: map[string]int{"query": 100}}
	gen := testGenerator(provider, 1)
	if _, err := gen.EmbedOne(context.Background(), "query"); err == nil {
		t.Fatal("query embedding failure must surface as an error")
	}
}

func TestVectorCacheReuse(t *testing.T) {
	cache := NewVectorCache()
	cache.Put("k", []float32{1, 2})
	if vec, ok := cache.Get("k"); !ok || len(vec) != 2 {
		t.Fatal("expected cached vector back")
	}
	if _, ok := cache.Get("missing"); ok {
		t.Fatal("unexpected hit")
	}
	if cache.Hits() != 1 {
		t.Fatalf("expected 1 hit, got %d", cache.Hits())
	}
}
