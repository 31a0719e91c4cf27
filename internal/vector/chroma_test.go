// File path: internal/vector/chroma_test.go
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeCollection struct {
	id      string
	name    string
	records map[string]Record
	order   []string
}

type fakeChroma struct {
	t *testing.T

	mu                sync.Mutex
	nextID            int
	collections       map[string]*fakeCollection
	heartbeatFailures int
	heartbeatCalls    int
	addCalls          int
	upsertCalls       int
	deleteCalls       int
	queryCalls        int
	queryDistances    []float64
}

func newFakeChroma(t *testing.T) *fakeChroma {
	t.Helper()
	return &fakeChroma{t: t, collections: make(map[string]*fakeCollection)}
}

func (f *fakeChroma) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/heartbeat":
		f.handleHeartbeat(w)
	case path == "/api/v1/collections":
		f.handleCollections(w, r)
	case strings.HasPrefix(path, "/api/v1/collections/") && strings.HasSuffix(path, "/upsert"):
		f.handleRecords(w, r, true)
	case strings.HasPrefix(path, "/api/v1/collections/") && strings.HasSuffix(path, "/add"):
		f.handleRecords(w, r, false)
	case strings.HasPrefix(path, "/api/v1/collections/") && strings.HasSuffix(path, "/query"):
		f.handleQuery(w, r)
	case strings.HasPrefix(path, "/api/v1/collections/") && strings.HasSuffix(path, "/get"):
		f.handleGet(w, r)
	case strings.HasPrefix(path, "/api/v1/collections/") && r.Method == http.MethodDelete:
		f.handleDelete(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeChroma) handleHeartbeat(w http.ResponseWriter) {
	f.mu.Lock()
	f.heartbeatCalls++
	fail := f.heartbeatFailures > 0
	if fail {
		f.heartbeatFailures--
	}
	f.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (f *fakeChroma) handleCollections(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method == http.MethodGet {
		name := r.URL.Query().Get("name")
		cols := []map[string]string{}
		for _, col := range f.collections {
			if name == "" || strings.EqualFold(name, col.name) {
				cols = append(cols, map[string]string{"id": col.id, "name": col.name})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"collections": cols})
		return
	}
	if r.Method == http.MethodPost {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, exists := f.collections[body.Name]; exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.nextID++
		col := &fakeCollection{
			id:      fmt.Sprintf("col-%d", f.nextID),
			name:    body.Name,
			records: make(map[string]Record),
		}
		f.collections[body.Name] = col
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": col.id})
		return
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func (f *fakeChroma) collectionByID(id string) *fakeCollection {
	for _, col := range f.collections {
		if col.id == id {
			return col
		}
	}
	return nil
}

func (f *fakeChroma) handleRecords(w http.ResponseWriter, r *http.Request, upsert bool) {
	defer r.Body.Close()
	var payload struct {
		IDs        []string                 `json:"ids"`
		Embeddings [][]float32              `json:"embeddings"`
		Documents  []string                 `json:"documents"`
		Metadatas  []map[string]interface{} `json:"metadatas"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	parts := strings.Split(r.URL.Path, "/")
	id := parts[len(parts)-2]
	f.mu.Lock()
	defer f.mu.Unlock()
	col := f.collectionByID(id)
	if col == nil {
		http.NotFound(w, r)
		return
	}
	if upsert {
		f.upsertCalls++
	} else {
		f.addCalls++
	}
	for idx, rid := range payload.IDs {
		rec := Record{ID: rid}
		if idx < len(payload.Embeddings) {
			rec.Vector = payload.Embeddings[idx]
		}
		if idx < len(payload.Documents) {
			rec.Text = payload.Documents[idx]
		}
		if idx < len(payload.Metadatas) {
			rec.Payload = payload.Metadatas[idx]
		}
		if _, seen := col.records[rid]; !seen {
			col.order = append(col.order, rid)
		}
		col.records[rid] = rec
	}
	_, _ = w.Write([]byte("ok"))
}

func (f *fakeChroma) handleDelete(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	name := parts[len(parts)-1]
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[name]; !ok {
		http.NotFound(w, r)
		return
	}
	f.deleteCalls++
	delete(f.collections, name)
	_, _ = w.Write([]byte("ok"))
}

func (f *fakeChroma) handleQuery(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	id := parts[len(parts)-2]
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	col := f.collectionByID(id)
	if col == nil {
		http.NotFound(w, r)
		return
	}
	ids := make([]string, 0, len(col.order))
	distances := make([]float64, 0, len(col.order))
	documents := make([]string, 0, len(col.order))
	metadatas := make([]map[string]interface{}, 0, len(col.order))
	for idx, rid := range col.order {
		rec := col.records[rid]
		ids = append(ids, rid)
		dist := float64(idx)
		if idx < len(f.queryDistances) {
			dist = f.queryDistances[idx]
		}
		distances = append(distances, dist)
		documents = append(documents, rec.Text)
		metadatas = append(metadatas, rec.Payload)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ids":       [][]string{ids},
		"distances": [][]float64{distances},
		"documents": [][]string{documents},
		"metadatas": [][]map[string]interface{}{metadatas},
	})
}

func (f *fakeChroma) handleGet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var body struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	parts := strings.Split(r.URL.Path, "/")
	id := parts[len(parts)-2]
	f.mu.Lock()
	defer f.mu.Unlock()
	col := f.collectionByID(id)
	if col == nil {
		http.NotFound(w, r)
		return
	}
	ids := []string{}
	embeddings := [][]float32{}
	documents := []string{}
	metadatas := []map[string]interface{}{}
	for idx := body.Offset; idx < len(col.order); idx++ {
		if body.Limit > 0 && len(ids) >= body.Limit {
			break
		}
		rec := col.records[col.order[idx]]
		ids = append(ids, rec.ID)
		embeddings = append(embeddings, rec.Vector)
		documents = append(documents, rec.Text)
		metadatas = append(metadatas, rec.Payload)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	})
}

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient:  server.Client(),
		baseURL:     strings.TrimRight(server.URL, "/") + "/api/v1",
		prefix:      "test",
		collections: make(map[string]string),
	}
}

func TestEnsureReadyRetriesHeartbeat(t *testing.T) {
	fake := newFakeChroma(t)
	fake.heartbeatFailures = 1
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := newTestClient(server)
	if err := client.ensureReady(context.Background()); err != nil {
		t.Fatalf("ensureReady returned error: %v", err)
	}
	if !client.Available() {
		t.Fatal("client should be marked available")
	}
	if fake.heartbeatCalls < 2 {
		t.Fatalf("expected at least two heartbeat attempts, got %d", fake.heartbeatCalls)
	}
}

func TestAppendCreatesCollectionAndUpserts(t *testing.T) {
	fake := newFakeChroma(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := newTestClient(server)
	ctx := context.Background()
	records := []Record{
		{ID: "sent-1", Text: "first", Vector: []float32{0.1, 0.2}, Payload: map[string]interface{}{"doc_id": "1"}},
		{ID: "sent-2", Text: "second", Vector: []float32{0.3, 0.4}, Payload: map[string]interface{}{"doc_id": "1"}},
	}
	if err := client.Append(ctx, "demo", TableSentences, records); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	col := fake.collections["test_demo_sentences"]
	if col == nil {
		t.Fatal("expected collection test_demo_sentences to exist")
	}
	if len(col.records) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(col.records))
	}
	if fake.upsertCalls != 1 {
		t.Fatalf("expected 1 upsert call, got %d", fake.upsertCalls)
	}

	// A second append with an overlapping ID must not duplicate.
	if err := client.Append(ctx, "demo", TableSentences, records[:1]); err != nil {
		t.Fatalf("second Append returned error: %v", err)
	}
	if len(col.records) != 2 {
		t.Fatalf("expected 2 records after overlapping append, got %d", len(col.records))
	}
}

func TestReplaceRebuildsCollection(t *testing.T) {
	fake := newFakeChroma(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := newTestClient(server)
	ctx := context.Background()
	initial := []Record{
		{ID: "1", Text: "old-a", Vector: []float32{0.1}},
		{ID: "2", Text: "old-b", Vector: []float32{0.2}},
		{ID: "3", Text: "old-c", Vector: []float32{0.3}},
	}
	if err := client.Append(ctx, "demo", TableEntityNames, initial); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	replacement := []Record{
		{ID: "1", Text: "new-a", Vector: []float32{0.4}},
		{ID: "2", Text: "new-b", Vector: []float32{0.5}},
	}
	if err := client.Replace(ctx, "demo", TableEntityNames, replacement); err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	col := fake.collections["test_demo_entities_name"]
	if col == nil {
		t.Fatal("expected rebuilt collection to exist")
	}
	if len(col.records) != 2 {
		t.Fatalf("expected 2 records after replace, got %d", len(col.records))
	}
	if col.records["1"].Text != "new-a" {
		t.Fatalf("expected rebuilt record text, got %q", col.records["1"].Text)
	}
	if fake.deleteCalls != 1 {
		t.Fatalf("expected 1 delete call, got %d", fake.deleteCalls)
	}
}

func TestReplaceOnMissingCollection(t *testing.T) {
	fake := newFakeChroma(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := newTestClient(server)
	records := []Record{{ID: "1", Text: "fresh", Vector: []float32{0.1}}}
	if err := client.Replace(context.Background(), "demo", TableRelationships, records); err != nil {
		t.Fatalf("Replace on missing collection returned error: %v", err)
	}
	if fake.collections["test_demo_relationships"] == nil {
		t.Fatal("expected collection to be created")
	}
}

func TestSearchReturnsAscendingDistances(t *testing.T) {
	fake := newFakeChroma(t)
	fake.queryDistances = []float64{0.9, 0.2, 0.5}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := newTestClient(server)
	ctx := context.Background()
	records := []Record{
		{ID: "a", Text: "alpha", Vector: []float32{0.1}},
		{ID: "b", Text: "beta", Vector: []float32{0.2}},
		{ID: "c", Text: "gamma", Vector: []float32{0.3}},
	}
	if err := client.Append(ctx, "demo", TableBlocks, records); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	results, err := client.Search(ctx, "demo", TableBlocks, []float32{0.1}, 3)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Distance > results[i].Distance {
			t.Fatalf("results not sorted ascending: %+v", results)
		}
	}
	if results[0].ID != "b" {
		t.Fatalf("expected closest match b, got %s", results[0].ID)
	}
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	fake := newFakeChroma(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := newTestClient(server)
	client.mu.Lock()
	client.available = true
	client.mu.Unlock()

	// The lookup creates the collection lazily, so an empty result set comes
	// back rather than an error.
	results, err := client.Search(context.Background(), "demo", TableSentences, []float32{0.1}, 5)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestFetchPagesThroughCollection(t *testing.T) {
	fake := newFakeChroma(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := newTestClient(server)
	ctx := context.Background()
	records := make([]Record, 0, 7)
	for i := 0; i < 7; i++ {
		records = append(records, Record{
			ID:      fmt.Sprintf("ent-%d", i),
			Text:    fmt.Sprintf("entity %d", i),
			Vector:  []float32{float32(i)},
			Payload: map[string]interface{}{"doc_name": "doc-a"},
		})
	}
	if err := client.Append(ctx, "demo", TableEntityDescriptions, records); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	fetched, err := client.Fetch(ctx, "demo", TableEntityDescriptions)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(fetched) != 7 {
		t.Fatalf("expected 7 fetched records, got %d", len(fetched))
	}
	if len(fetched[3].Vector) != 1 {
		t.Fatalf("expected embedding to round trip, got %v", fetched[3].Vector)
	}
	if fetched[3].Payload["doc_name"] != "doc-a" {
		t.Fatalf("expected payload to round trip, got %v", fetched[3].Payload)
	}
}
