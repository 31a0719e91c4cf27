// File path: internal/catalog/types.go
package catalog

import "time"

// DocumentRow records a processed knowledge document.
type DocumentRow struct {
	ID        int64     `db:"id"`
	Topic     string    `db:"topic"`
	DocID     int       `db:"doc_id"`
	Name      string    `db:"name"`
	TimeLabel string    `db:"time_label"`
	CreatedAt time.Time `db:"created_at"`
}

// RunRow represents one ingestion run over a topic.
type RunRow struct {
	ID            string     `db:"id"`
	Topic         string     `db:"topic"`
	Status        string     `db:"status"`
	DocsProcessed int        `db:"docs_processed"`
	BlocksSkipped int        `db:"blocks_skipped"`
	Entities      int        `db:"entities"`
	Relationships int        `db:"relationships"`
	EmbedCalls    int        `db:"embed_calls"`
	CacheHits     int        `db:"cache_hits"`
	Error         string     `db:"error"`
	StartedAt     time.Time  `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
}

// RunSummary carries the counters recorded when a run completes.
type RunSummary struct {
	DocsProcessed int
	BlocksSkipped int
	Entities      int
	Relationships int
	EmbedCalls    int
	CacheHits     int
}

// RejectedEdgeRow records a relationship dropped during graph merge because
// one of its endpoints could not be resolved.
type RejectedEdgeRow struct {
	ID        int64     `db:"id"`
	RunID     string    `db:"run_id"`
	Topic     string    `db:"topic"`
	DocName   string    `db:"doc_name"`
	Source    string    `db:"source"`
	Target    string    `db:"target"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
