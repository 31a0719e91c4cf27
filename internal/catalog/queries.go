// File path: internal/catalog/queries.go
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordDocument upserts a processed document row for a topic.
func (s *Store) RecordDocument(ctx context.Context, topic string, docID int, name, timeLabel string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog store not initialised")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents(topic, doc_id, name, time_label)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(topic, name) DO UPDATE SET doc_id = excluded.doc_id, time_label = excluded.time_label`,
		topic, docID, name, timeLabel)
	if err != nil {
		return fmt.Errorf("record document: %w", err)
	}
	return nil
}

// Documents lists processed documents for a topic ordered by internal ID.
func (s *Store) Documents(ctx context.Context, topic string) ([]DocumentRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialised")
	}
	rows := []DocumentRow{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM documents WHERE topic = ? ORDER BY doc_id`, topic); err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	return rows, nil
}

// Topics returns the distinct topics known to the catalog.
func (s *Store) Topics(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialised")
	}
	topics := []string{}
	if err := s.db.SelectContext(ctx, &topics, `SELECT DISTINCT topic FROM documents ORDER BY topic`); err != nil {
		return nil, fmt.Errorf("select topics: %w", err)
	}
	return topics, nil
}

// StartRun opens a new ingestion run record and returns its identifier.
func (s *Store) StartRun(ctx context.Context, topic string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("catalog store not initialised")
	}
	runID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO ingest_runs(id, topic, status) VALUES (?, ?, ?)`,
		runID, topic, RunStatusRunning)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return runID, nil
}

// FinishRun marks a run completed and stores its counters.
func (s *Store) FinishRun(ctx context.Context, runID string, summary RunSummary) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog store not initialised")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE ingest_runs SET
                status = ?, docs_processed = ?, blocks_skipped = ?, entities = ?,
                relationships = ?, embed_calls = ?, cache_hits = ?, finished_at = ?
                WHERE id = ?`,
		RunStatusCompleted, summary.DocsProcessed, summary.BlocksSkipped, summary.Entities,
		summary.Relationships, summary.EmbedCalls, summary.CacheHits, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// FailRun marks a run failed with the given reason.
func (s *Store) FailRun(ctx context.Context, runID string, cause error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog store not initialised")
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE ingest_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		RunStatusFailed, reason, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, optionally filtered by topic.
func (s *Store) Runs(ctx context.Context, topic string, limit int) ([]RunRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialised")
	}
	if limit <= 0 {
		limit = 20
	}
	rows := []RunRow{}
	if strings.TrimSpace(topic) == "" {
		if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
			return nil, fmt.Errorf("select runs: %w", err)
		}
		return rows, nil
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM ingest_runs WHERE topic = ? ORDER BY started_at DESC LIMIT ?`, topic, limit); err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return rows, nil
}

// RecordRejectedEdges stores relationships dropped during graph merge.
func (s *Store) RecordRejectedEdges(ctx context.Context, runID, topic string, edges []RejectedEdgeRow) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog store not initialised")
	}
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rejected edges: %w", err)
	}
	for _, edge := range edges {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rejected_edges(run_id, topic, doc_name, source, target, reason)
                        VALUES (?, ?, ?, ?, ?, ?)`,
			runID, topic, edge.DocName, edge.Source, edge.Target, edge.Reason); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert rejected edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rejected edges: %w", err)
	}
	return nil
}

// RejectedEdges lists recently rejected relationships for a topic.
func (s *Store) RejectedEdges(ctx context.Context, topic string, limit int) ([]RejectedEdgeRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialised")
	}
	if limit <= 0 {
		limit = 50
	}
	rows := []RejectedEdgeRow{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM rejected_edges WHERE topic = ? ORDER BY created_at DESC, id DESC LIMIT ?`, topic, limit); err != nil {
		return nil, fmt.Errorf("select rejected edges: %w", err)
	}
	return rows, nil
}
