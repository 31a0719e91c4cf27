// File path: internal/retrieval/types.go
package retrieval

import (
	"github.com/skyreach/opinioncore/internal/kb"
	"github.com/skyreach/opinioncore/internal/llm"
)

// Mode selects which sub-searches run.
type Mode string

const (
	ModeMixed     Mode = "mixed"
	ModeGraphRAG  Mode = "graphrag"
	ModeNormalRAG Mode = "normalrag"
	ModeTagRAG    Mode = "tagrag"
)

// ReturnFormat controls which halves of the response are produced. index_only
// skips synthesis entirely; llm_only computes the structures but omits them
// from the response.
type ReturnFormat string

const (
	ReturnBoth      ReturnFormat = "both"
	ReturnIndexOnly ReturnFormat = "index_only"
	ReturnLLMOnly   ReturnFormat = "llm_only"
)

// Request is one retrieval call.
type Request struct {
	Topic        string          `json:"topic"`
	Query        string          `json:"query"`
	Mode         Mode            `json:"mode,omitempty"`
	TopKGraph    int             `json:"top_k_graph,omitempty"`
	TopKSentence int             `json:"top_k_sentence,omitempty"`
	TopKTag      int             `json:"top_k_tag,omitempty"`
	ExpandQuery  bool            `json:"expand_query,omitempty"`
	Summary      bool            `json:"summary,omitempty"`
	SummaryMode  llm.SummaryMode `json:"summary_mode,omitempty"`
	ReturnFormat ReturnFormat    `json:"return_format,omitempty"`
}

// EntityHit is a scored entity. Score is the fused distance: the mean of the
// name and description distances when the entity surfaced in both searches,
// else whichever is present. Lower is closer. Extended entities reached by
// graph expansion carry no score.
type EntityHit struct {
	kb.Entity
	Score float64 `json:"score"`
}

// RelationshipHit is a scored edge with its endpoint descriptions resolved.
type RelationshipHit struct {
	kb.Relationship
	Score             float64 `json:"score"`
	SourceDescription string  `json:"source_description,omitempty"`
	TargetDescription string  `json:"target_description,omitempty"`
}

// SentenceHit is one sentence-level match.
type SentenceHit struct {
	SentenceID int     `json:"sentence_id"`
	DocID      string  `json:"doc_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// BlockHit is one tag-level match carrying the full block content.
type BlockHit struct {
	TextID  int     `json:"text_id"`
	DocID   string  `json:"doc_id"`
	Tag     string  `json:"tag"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// GraphResult is the GraphRAG half of a response. Expanded holds every edge
// incident to a core entity found during one-hop expansion; Relationships
// holds the independent relationship search hits. Expanded edges come from a
// table walk, not a vector search, so they carry no score.
type GraphResult struct {
	Core          []EntityHit       `json:"core_entities,omitempty"`
	Extended      []EntityHit       `json:"extended_entities,omitempty"`
	Expanded      []RelationshipHit `json:"expanded_relationships,omitempty"`
	Relationships []RelationshipHit `json:"relationships,omitempty"`
}

// Response is the retrieval result. Structure fields are omitted under
// llm_only; Summary is empty under index_only.
type Response struct {
	Topic         string        `json:"topic"`
	Query         string        `json:"query"`
	ExpandedQuery string        `json:"expanded_query,omitempty"`
	HasTime       bool          `json:"has_time"`
	TimeText      string        `json:"time_text,omitempty"`
	MatchedDocIDs []string      `json:"matched_doc_ids,omitempty"`
	Graph         *GraphResult  `json:"graph,omitempty"`
	Sentences     []SentenceHit `json:"sentences,omitempty"`
	Blocks        []BlockHit    `json:"blocks,omitempty"`
	Summary       string        `json:"summary,omitempty"`
}
