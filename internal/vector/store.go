// File path: internal/vector/store.go
package vector

import "context"

// Table names one logical vector table within a topic namespace. Entities
// carry two vector signals (name and description) and therefore occupy two
// physical collections sharing the same IDs and payloads.
type Table string

const (
	TableSentences          Table = "sentences"
	TableEntityNames        Table = "entities_name"
	TableEntityDescriptions Table = "entities_desc"
	TableRelationships      Table = "relationships"
	TableBlocks             Table = "blocks"
)

// Tables lists every physical table, in persistence order.
func Tables() []Table {
	return []Table{TableSentences, TableEntityNames, TableEntityDescriptions, TableRelationships, TableBlocks}
}

// Record is one row to persist: an ID within its table, the raw text stored
// alongside, the vector, and flat metadata.
type Record struct {
	ID      string
	Text    string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchResult is one vector match. Distance is the backend's raw distance:
// lower means more similar.
type SearchResult struct {
	ID       string
	Distance float64
	Text     string
	Payload  map[string]interface{}
}

// Store is the persistence contract for the four logical tables. Sentences
// and blocks are append-only per incremental run; entities and relationships
// are rebuilt wholesale via Replace on every run. Search results come back in
// ascending distance order. Time filtering happens above this interface as a
// post-filter, so a backend with native pre-filtering can be swapped in
// behind the same contract.
type Store interface {
	Available() bool
	Append(ctx context.Context, topic string, table Table, records []Record) error
	Replace(ctx context.Context, topic string, table Table, records []Record) error
	Search(ctx context.Context, topic string, table Table, vector []float32, limit int) ([]SearchResult, error)
	Fetch(ctx context.Context, topic string, table Table) ([]Record, error)
}
