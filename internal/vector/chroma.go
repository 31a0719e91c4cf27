// File path: internal/vector/chroma.go
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skyreach/opinioncore/internal/common"
)

const fetchPageSize = 500

var (
	errNotFound = errors.New("resource not found")
	errConflict = errors.New("resource conflict")
)

// Client is a ChromaDB-backed Store. Collections are named
// <prefix>_<topic>_<table> and resolved to collection IDs lazily.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	prefix     string

	mu          sync.RWMutex
	available   bool
	collections map[string]string
}

// NewFromEnv constructs a client from LoadConfig.
func NewFromEnv(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New constructs a client using the provided configuration. An unreachable
// backend is not fatal: the client is returned unavailable and probes again
// on use.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	logger := common.Logger()
	logger.Info("vector: initializing chroma client", "host", cfg.Host, "port", cfg.Port, "prefix", cfg.Prefix, "timeout", cfg.Timeout)
	client := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(fmt.Sprintf("%s://%s:%s/api/v1", cfg.Scheme, cfg.Host, cfg.Port), "/"),
		apiKey:      cfg.APIKey,
		prefix:      cfg.Prefix,
		collections: make(map[string]string),
	}
	if err := client.ensureReady(ctx); err != nil {
		logger.Warn("vector: chroma initialization failed", "error", err)
		return client, nil
	}
	logger.Info("vector: chroma connection established")
	return client, nil
}

func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Client) ensureReady(ctx context.Context) error {
	if c == nil {
		return errors.New("chroma client not configured")
	}
	if c.Available() {
		return nil
	}
	const maxAttempts = 3
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = c.doRequest(ctx, http.MethodGet, c.baseURL+"/heartbeat", nil, nil)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.available = true
	c.mu.Unlock()
	return nil
}

func (c *Client) collectionName(topic string, table Table) string {
	return fmt.Sprintf("%s_%s_%s", c.prefix, strings.TrimSpace(topic), table)
}

// Append upserts the records into the table, creating the collection on
// first use.
func (c *Client) Append(ctx context.Context, topic string, table Table, records []Record) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	id, err := c.collectionID(ctx, c.collectionName(topic, table))
	if err != nil {
		return err
	}
	payload := recordsPayload(records)
	endpoint := fmt.Sprintf("%s/collections/%s/upsert", c.baseURL, url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		if errors.Is(err, errNotFound) {
			fallback := fmt.Sprintf("%s/collections/%s/add", c.baseURL, url.PathEscape(id))
			return c.doRequest(ctx, http.MethodPost, fallback, payload, nil)
		}
		return err
	}
	return nil
}

// Replace rebuilds the table wholesale: the old collection is dropped and a
// fresh one is populated with exactly the provided records.
func (c *Client) Replace(ctx context.Context, topic string, table Table, records []Record) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	name := c.collectionName(topic, table)
	endpoint := fmt.Sprintf("%s/collections/%s", c.baseURL, url.PathEscape(name))
	if err := c.doRequest(ctx, http.MethodDelete, endpoint, nil, nil); err != nil && !errors.Is(err, errNotFound) {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	c.mu.Lock()
	delete(c.collections, name)
	c.mu.Unlock()
	if len(records) == 0 {
		return nil
	}
	id, err := c.collectionID(ctx, name)
	if err != nil {
		return err
	}
	add := fmt.Sprintf("%s/collections/%s/add", c.baseURL, url.PathEscape(id))
	return c.doRequest(ctx, http.MethodPost, add, recordsPayload(records), nil)
}

// Search runs a nearest-neighbor query and returns matches in ascending
// distance order.
func (c *Client) Search(ctx context.Context, topic string, table Table, vector []float32, limit int) ([]SearchResult, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	id, err := c.collectionID(ctx, c.collectionName(topic, table))
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	body := map[string]interface{}{
		"query_embeddings": [][]float32{vector},
		"n_results":        limit,
		"include":          []string{"metadatas", "documents", "distances"},
	}
	endpoint := fmt.Sprintf("%s/collections/%s/query", c.baseURL, url.PathEscape(id))
	var resp struct {
		IDs       [][]string                 `json:"ids"`
		Distances [][]float64                `json:"distances"`
		Metadatas [][]map[string]interface{} `json:"metadatas"`
		Documents [][]string                 `json:"documents"`
	}
	if err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	results := make([]SearchResult, 0, len(resp.IDs[0]))
	for idx, rid := range resp.IDs[0] {
		result := SearchResult{ID: rid, Payload: map[string]interface{}{}}
		if len(resp.Distances) > 0 && idx < len(resp.Distances[0]) {
			result.Distance = resp.Distances[0][idx]
		}
		if len(resp.Metadatas) > 0 && idx < len(resp.Metadatas[0]) {
			for k, v := range resp.Metadatas[0][idx] {
				result.Payload[k] = v
			}
		}
		if len(resp.Documents) > 0 && idx < len(resp.Documents[0]) {
			result.Text = resp.Documents[0][idx]
		}
		results = append(results, result)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	return results, nil
}

// Fetch scans the whole table, vectors included. Used to seed the vector
// reuse cache and the graph expansion index.
func (c *Client) Fetch(ctx context.Context, topic string, table Table) ([]Record, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	id, err := c.collectionID(ctx, c.collectionName(topic, table))
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out []Record
	offset := 0
	for {
		body := map[string]interface{}{
			"include": []string{"metadatas", "documents", "embeddings"},
			"limit":   fetchPageSize,
			"offset":  offset,
		}
		endpoint := fmt.Sprintf("%s/collections/%s/get", c.baseURL, url.PathEscape(id))
		var resp struct {
			IDs        []string                 `json:"ids"`
			Embeddings [][]float32              `json:"embeddings"`
			Metadatas  []map[string]interface{} `json:"metadatas"`
			Documents  []string                 `json:"documents"`
		}
		if err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
			return nil, err
		}
		if len(resp.IDs) == 0 {
			break
		}
		for idx, rid := range resp.IDs {
			rec := Record{ID: rid, Payload: map[string]interface{}{}}
			if idx < len(resp.Embeddings) {
				rec.Vector = resp.Embeddings[idx]
			}
			if idx < len(resp.Metadatas) {
				for k, v := range resp.Metadatas[idx] {
					rec.Payload[k] = v
				}
			}
			if idx < len(resp.Documents) {
				rec.Text = resp.Documents[idx]
			}
			out = append(out, rec)
		}
		if len(resp.IDs) < fetchPageSize {
			break
		}
		offset += len(resp.IDs)
	}
	return out, nil
}

var _ Store = (*Client)(nil)

func (c *Client) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	if id, ok := c.collections[name]; ok {
		c.mu.RUnlock()
		return id, nil
	}
	c.mu.RUnlock()
	id, err := c.findCollection(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		id, err = c.createCollection(ctx, name)
		if err != nil {
			return "", err
		}
	}
	c.mu.Lock()
	c.collections[name] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) findCollection(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/collections?name=%s", c.baseURL, url.QueryEscape(name))
	var resp struct {
		Collections []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return "", nil
		}
		// Some deployments do not support the name filter; enumerate instead.
		endpoint = fmt.Sprintf("%s/collections", c.baseURL)
		if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return "", err
		}
	}
	for _, col := range resp.Collections {
		if strings.EqualFold(col.Name, name) {
			return col.ID, nil
		}
	}
	return "", nil
}

func (c *Client) createCollection(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/collections", c.baseURL)
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, endpoint, map[string]interface{}{"name": name}, &resp); err != nil {
		if errors.Is(err, errConflict) {
			return c.findCollection(ctx, name)
		}
		return "", err
	}
	return resp.ID, nil
}

func recordsPayload(records []Record) map[string]interface{} {
	ids := make([]string, 0, len(records))
	embeddings := make([][]float32, 0, len(records))
	documents := make([]string, 0, len(records))
	metadatas := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		embeddings = append(embeddings, rec.Vector)
		documents = append(documents, rec.Text)
		metadatas = append(metadatas, rec.Payload)
	}
	return map[string]interface{}{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	if c == nil {
		return errors.New("chroma client not configured")
	}
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusConflict:
		return errConflict
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chroma %s %s failed: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close releases pooled connections.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
