// File path: internal/llm/client.go
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/kb"
	"github.com/skyreach/opinioncore/internal/prompt"
)

// SummaryMode selects how the synthesis prompt treats outside knowledge.
type SummaryMode string

const (
	SummaryStrict     SummaryMode = "strict"
	SummarySupplement SummaryMode = "supplement"
)

// Client is the paced, retried task layer over a chat provider. Every
// operation renders a per-topic prompt template, retries with increasing
// backoff on failure, and degrades to an explicit zero value once retries are
// exhausted; it never panics upward.
type Client struct {
	provider Provider
	prompts  *prompt.Registry
	cfg      Config
}

func NewClient(provider Provider, registry *prompt.Registry, cfg Config) *Client {
	if cfg.QPS <= 0 {
		cfg.QPS = DefaultConfig().QPS
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Client{provider: provider, prompts: registry, cfg: cfg}
}

// Provider exposes the underlying provider, mainly for embedding reuse.
func (c *Client) Provider() Provider {
	return c.provider
}

// RunWindowed processes n items with at most qps calls in flight per
// one-second window. All calls inside a window start together; the window
// then sleeps out its remainder before the next batch. This is deliberately
// windowed pacing rather than a token bucket.
func (c *Client) RunWindowed(ctx context.Context, n int, fn func(ctx context.Context, idx int)) error {
	qps := c.cfg.QPS
	for start := 0; start < n; start += qps {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + qps
		if end > n {
			end = n
		}
		began := time.Now()
		var wg sync.WaitGroup
		for idx := start; idx < end; idx++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				fn(ctx, i)
			}(idx)
		}
		wg.Wait()
		if end < n {
			if remain := time.Second - time.Since(began); remain > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(remain):
				}
			}
		}
	}
	return nil
}

// ExtractEntities runs phase-one extraction over a single text block.
func (c *Client) ExtractEntities(ctx context.Context, topic, text string) ([]kb.RawEntity, error) {
	resp, err := c.chat(ctx, topic, prompt.TaskEntityExtract, map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	var raw []kb.RawEntity
	if err := decodeArray(resp, &raw); err != nil {
		common.Logger().Warn("llm: entity payload unparseable", "topic", topic, "error", err)
		return nil, nil
	}
	out := raw[:0]
	for _, ent := range raw {
		if ent.Valid() {
			out = append(out, ent)
		}
	}
	return out, nil
}

// ExtractRelationships runs phase-two extraction constrained to the entity
// vocabulary discovered in phase one. Relations naming an unknown endpoint
// are discarded here, before they ever reach the graph.
func (c *Client) ExtractRelationships(ctx context.Context, topic, text string, knownNames []string) ([]kb.RawRelation, error) {
	if len(knownNames) == 0 {
		return nil, nil
	}
	resp, err := c.chat(ctx, topic, prompt.TaskRelationExtract, map[string]any{
		"text":     text,
		"entities": strings.Join(knownNames, ", "),
	})
	if err != nil {
		return nil, err
	}
	var raw []kb.RawRelation
	if err := decodeArray(resp, &raw); err != nil {
		common.Logger().Warn("llm: relation payload unparseable", "topic", topic, "error", err)
		return nil, nil
	}
	known := make(map[string]struct{}, len(knownNames))
	for _, name := range knownNames {
		known[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	var out []kb.RawRelation
	for _, rel := range raw {
		if !rel.Valid() {
			continue
		}
		_, srcOK := known[strings.ToLower(strings.TrimSpace(rel.Source))]
		_, dstOK := known[strings.ToLower(strings.TrimSpace(rel.Target))]
		if !srcOK || !dstOK {
			common.Logger().Debug("llm: dropping relation with unknown endpoint", "source", rel.Source, "target", rel.Target)
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

// GenerateTag produces the short gist tag for a text block.
func (c *Client) GenerateTag(ctx context.Context, topic, text string) (string, error) {
	resp, err := c.chat(ctx, topic, prompt.TaskTag, map[string]any{"text": text})
	if err != nil {
		return "", err
	}
	tag := strings.TrimSpace(resp)
	if idx := strings.IndexByte(tag, '\n'); idx >= 0 {
		tag = strings.TrimSpace(tag[:idx])
	}
	return strings.Trim(tag, `"'`), nil
}

// InferTimeLabel asks for a document's free-text time range once at ingest.
func (c *Client) InferTimeLabel(ctx context.Context, topic, docName, sample string) (string, error) {
	resp, err := c.chat(ctx, topic, prompt.TaskTimeLabel, map[string]any{"doc": docName, "sample": sample})
	if err != nil {
		return "", err
	}
	label := strings.TrimSpace(resp)
	if strings.EqualFold(label, "unknown") {
		return "", nil
	}
	return label, nil
}

// ExtractTimeRange reports whether the query restricts itself to a time
// period and, if so, the time expression.
func (c *Client) ExtractTimeRange(ctx context.Context, topic, query string) (bool, string, error) {
	resp, err := c.chat(ctx, topic, prompt.TaskTimeRange, map[string]any{"query": query})
	if err != nil {
		return false, "", err
	}
	var parsed struct {
		HasTime bool   `json:"has_time"`
		Time    string `json:"time"`
	}
	if err := decodeObject(resp, &parsed); err != nil {
		common.Logger().Warn("llm: time-range payload unparseable", "topic", topic, "error", err)
		return false, "", nil
	}
	return parsed.HasTime, strings.TrimSpace(parsed.Time), nil
}

// MatchTimeToDocuments returns the IDs of the documents whose time label
// overlaps the requested period.
func (c *Client) MatchTimeToDocuments(ctx context.Context, topic, queryTime string, labels map[string]string) ([]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(labels))
	for id := range labels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var lines []string
	for _, id := range ids {
		label := strings.TrimSpace(labels[id])
		if label == "" {
			label = "unknown"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", id, label))
	}
	resp, err := c.chat(ctx, topic, prompt.TaskTimeMatch, map[string]any{
		"time":   queryTime,
		"labels": strings.Join(lines, "\n"),
	})
	if err != nil {
		return nil, err
	}
	var rawIDs []json.Number
	if err := decodeArray(resp, &rawIDs); err != nil {
		var strIDs []string
		if err := decodeArray(resp, &strIDs); err != nil {
			common.Logger().Warn("llm: time-match payload unparseable", "topic", topic, "error", err)
			return nil, nil
		}
		return filterKnownIDs(strIDs, labels), nil
	}
	out := make([]string, 0, len(rawIDs))
	for _, id := range rawIDs {
		out = append(out, id.String())
	}
	return filterKnownIDs(out, labels), nil
}

// ExpandQuery rewrites a query to be more explicit while keeping its intent.
func (c *Client) ExpandQuery(ctx context.Context, topic, query string) (string, error) {
	resp, err := c.chat(ctx, topic, prompt.TaskQueryExpand, map[string]any{"query": query})
	if err != nil {
		return "", err
	}
	expanded := strings.TrimSpace(resp)
	if expanded == "" {
		return query, nil
	}
	return expanded, nil
}

// Summarize synthesizes a final answer from the fused retrieval context.
func (c *Client) Summarize(ctx context.Context, topic, query, contextText string, mode SummaryMode) (string, error) {
	task := prompt.TaskSummaryStrict
	if mode == SummarySupplement {
		task = prompt.TaskSummarySupplement
	}
	resp, err := c.chat(ctx, topic, task, map[string]any{"query": query, "context": contextText})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func (c *Client) chat(ctx context.Context, topic string, task prompt.Task, vars map[string]any) (string, error) {
	rendered, err := c.prompts.Render(topic, task, vars)
	if err != nil {
		return "", err
	}
	messages := []Message{{Role: "user", Content: rendered}}
	logger := common.Logger()
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.cfg.RetryBackoff
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		resp, err := c.provider.Chat(callCtx, messages)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Warn("llm: task call failed", "task", task, "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("%s failed after %d attempts: %w", task, c.cfg.MaxRetries, lastErr)
}

func filterKnownIDs(ids []string, labels map[string]string) []string {
	var out []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if _, ok := labels[trimmed]; !ok {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// decodeArray parses a JSON array out of a model response, tolerating code
// fences and surrounding prose.
func decodeArray(resp string, out interface{}) error {
	cleaned := stripFences(resp)
	start := strings.IndexByte(cleaned, '[')
	end := strings.LastIndexByte(cleaned, ']')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON array in response")
	}
	return json.Unmarshal([]byte(cleaned[start:end+1]), out)
}

func decodeObject(resp string, out interface{}) error {
	cleaned := stripFences(resp)
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(cleaned[start:end+1]), out)
}

func stripFences(resp string) string {
	cleaned := strings.TrimSpace(resp)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}
