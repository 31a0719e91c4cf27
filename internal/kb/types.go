// File path: internal/kb/types.go
package kb

import "strings"

// Document is a single corpus document. Documents are immutable once created
// and are never renumbered; the time label is inferred once at ingest.
type Document struct {
	DocID     string `json:"doc_id"`
	Name      string `json:"name"`
	TimeLabel string `json:"time_label,omitempty"`
}

// TextBlock is one ingested chunk of a document together with its generated
// tag and back-references to the entities and relationships mentioned in it.
type TextBlock struct {
	TextID          int    `json:"text_id"`
	DocID           string `json:"doc_id"`
	Content         string `json:"content"`
	Tag             string `json:"tag,omitempty"`
	EntityIDs       []int  `json:"entity_ids,omitempty"`
	RelationshipIDs []int  `json:"relationship_ids,omitempty"`
}

// Sentence is derived deterministically from a text block and is append-only.
type Sentence struct {
	SentenceID int    `json:"sentence_id"`
	DocID      string `json:"doc_id"`
	Text       string `json:"text"`
}

// Entity is a deduplicated knowledge-graph node. Within one document the
// (name, type) pair is unique; entity IDs form a dense 1..N sequence that is
// re-derived on every indexing run.
type Entity struct {
	EntityID    int      `json:"entity_id"`
	DocID       string   `json:"doc_id"`
	DocName     string   `json:"doc_name"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	TextIDs     []int    `json:"text_ids,omitempty"`
	DocIDs      []string `json:"doc_ids,omitempty"`
}

// Relationship is a deduplicated knowledge-graph edge. Within one document the
// (source, target) pair is unique; both endpoints must survive entity dedup.
type Relationship struct {
	RelationshipID int      `json:"relationship_id"`
	DocID          string   `json:"doc_id"`
	DocName        string   `json:"doc_name"`
	SourceID       int      `json:"source_entity_id"`
	TargetID       int      `json:"target_entity_id"`
	Source         string   `json:"source"`
	Target         string   `json:"target"`
	Description    string   `json:"description"`
	TextIDs        []int    `json:"text_ids,omitempty"`
	DocIDs         []string `json:"doc_ids,omitempty"`
}

// RawEntity is a single record parsed out of an extraction response. The
// model returns free-form JSON; records missing a name or type are rejected
// before they enter the pipeline.
type RawEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Valid reports whether the record carries the required fields.
func (e RawEntity) Valid() bool {
	return strings.TrimSpace(e.Name) != "" && strings.TrimSpace(e.Type) != ""
}

// RawRelation is a single relationship record parsed out of an extraction
// response, still expressed in entity names.
type RawRelation struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Description string `json:"description"`
}

// Valid reports whether both endpoints are present.
func (r RawRelation) Valid() bool {
	return strings.TrimSpace(r.Source) != "" && strings.TrimSpace(r.Target) != ""
}

// EntityKey builds the stable cache key used for vector reuse across runs.
// Entity IDs are renumbered on every run but (doc_name, name, type) is not.
func EntityKey(docName, name, entityType string) string {
	return strings.TrimSpace(docName) + "\x00" + strings.TrimSpace(name) + "\x00" + strings.TrimSpace(entityType)
}

// RelationKey builds the stable cache key for relationship vector reuse.
func RelationKey(docName, source, target string) string {
	return strings.TrimSpace(docName) + "\x00" + strings.TrimSpace(source) + "\x00" + strings.TrimSpace(target)
}
