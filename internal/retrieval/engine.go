// File path: internal/retrieval/engine.go
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/embedding"
	"github.com/skyreach/opinioncore/internal/llm"
	"github.com/skyreach/opinioncore/internal/mapping"
	"github.com/skyreach/opinioncore/internal/vector"
)

const (
	defaultTopK    = 5
	relSearchLimit = 10
	relKeepLimit   = 3
)

// Engine runs the hybrid retrieval flow: optional query expansion, optional
// time windowing, the selected sub-searches in parallel, fusion, and optional
// synthesis.
type Engine struct {
	vectors  vector.Store
	mapping  *mapping.Store
	client   *llm.Client
	embedder *embedding.Generator
}

func NewEngine(vectors vector.Store, store *mapping.Store, client *llm.Client, embedder *embedding.Generator) *Engine {
	return &Engine{vectors: vectors, mapping: store, client: client, embedder: embedder}
}

// Retrieve answers one query. Sub-search failures degrade to empty sections;
// only a failed query embedding is a retrieval error, because without the
// vector nothing downstream can run.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Response, error) {
	topic := strings.TrimSpace(req.Topic)
	query := strings.TrimSpace(req.Query)
	if topic == "" || query == "" {
		return nil, fmt.Errorf("retrieval: topic and query required")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeMixed
	}
	format := req.ReturnFormat
	if format == "" {
		format = ReturnBoth
	}
	summaryMode := req.SummaryMode
	if summaryMode == "" {
		summaryMode = llm.SummaryStrict
	}
	logger := common.Logger()
	resp := &Response{Topic: topic, Query: query}

	// Expansion feeds only the embedding; every LLM stage downstream still
	// sees the user's original words.
	embedText := query
	if req.ExpandQuery {
		expanded, err := e.client.ExpandQuery(ctx, topic, query)
		if err != nil {
			logger.Warn("retrieval: query expansion failed", "topic", topic, "error", err)
		} else if expanded != "" && expanded != query {
			embedText = expanded
			resp.ExpandedQuery = expanded
		}
	}

	allowed := e.timeFilter(ctx, topic, query, resp)

	queryVec, err := e.embedder.EmbedOne(ctx, embedText)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	topKGraph := orDefault(req.TopKGraph)
	topKSentence := orDefault(req.TopKSentence)
	topKTag := orDefault(req.TopKTag)

	var (
		wg        sync.WaitGroup
		graph     *GraphResult
		sentences []SentenceHit
		blocks    []BlockHit
	)
	if mode == ModeMixed || mode == ModeGraphRAG {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.graphSearch(ctx, topic, queryVec, topKGraph, allowed)
			if err != nil {
				logger.Warn("retrieval: graph search failed", "topic", topic, "error", err)
				return
			}
			graph = result
		}()
	}
	if mode == ModeMixed || mode == ModeNormalRAG {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.sentenceSearch(ctx, topic, queryVec, topKSentence, allowed)
			if err != nil {
				logger.Warn("retrieval: sentence search failed", "topic", topic, "error", err)
				return
			}
			sentences = result
		}()
	}
	if mode == ModeMixed || mode == ModeTagRAG {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.blockSearch(ctx, topic, queryVec, topKTag, allowed)
			if err != nil {
				logger.Warn("retrieval: block search failed", "topic", topic, "error", err)
				return
			}
			blocks = result
		}()
	}
	wg.Wait()

	if req.Summary && format != ReturnIndexOnly {
		contextText := buildContext(graph, sentences, blocks)
		summary, err := e.client.Summarize(ctx, topic, query, contextText, summaryMode)
		if err != nil {
			logger.Warn("retrieval: synthesis failed", "topic", topic, "error", err)
		} else {
			resp.Summary = summary
		}
	}
	if format != ReturnLLMOnly {
		resp.Graph = graph
		resp.Sentences = sentences
		resp.Blocks = blocks
	}
	return resp, nil
}

// timeFilter decides whether the query names a time window and, if so, which
// documents fall inside it. A nil return means no filtering. Matching is
// document-level; labels are free text and the model does the comparison.
func (e *Engine) timeFilter(ctx context.Context, topic, query string, resp *Response) map[string]bool {
	logger := common.Logger()
	hasTime, timeText, err := e.client.ExtractTimeRange(ctx, topic, query)
	if err != nil {
		logger.Warn("retrieval: time range extraction failed", "topic", topic, "error", err)
		return nil
	}
	if !hasTime {
		return nil
	}
	resp.HasTime = true
	resp.TimeText = timeText

	state, err := e.mapping.Load(topic)
	if err != nil {
		logger.Warn("retrieval: mapping load failed", "topic", topic, "error", err)
		return nil
	}
	labels := state.TimeLabels()
	if len(labels) == 0 {
		return nil
	}
	matched, err := e.client.MatchTimeToDocuments(ctx, topic, timeText, labels)
	if err != nil {
		logger.Warn("retrieval: time match failed", "topic", topic, "error", err)
		return nil
	}
	resp.MatchedDocIDs = matched
	allowed := make(map[string]bool, len(matched))
	for _, id := range matched {
		allowed[id] = true
	}
	return allowed
}

func (e *Engine) sentenceSearch(ctx context.Context, topic string, queryVec []float32, topK int, allowed map[string]bool) ([]SentenceHit, error) {
	limit := searchLimit(topK, allowed)
	results, err := e.vectors.Search(ctx, topic, vector.TableSentences, queryVec, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]SentenceHit, 0, topK)
	for _, res := range results {
		docID := payloadField(res.Payload, vector.FieldDocID)
		if allowed != nil && !allowed[docID] {
			continue
		}
		hits = append(hits, SentenceHit{
			SentenceID: atoiSafe(res.ID),
			DocID:      docID,
			Text:       res.Text,
			Score:      res.Distance,
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func (e *Engine) blockSearch(ctx context.Context, topic string, queryVec []float32, topK int, allowed map[string]bool) ([]BlockHit, error) {
	limit := searchLimit(topK, allowed)
	results, err := e.vectors.Search(ctx, topic, vector.TableBlocks, queryVec, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]BlockHit, 0, topK)
	for _, res := range results {
		docID := payloadField(res.Payload, vector.FieldDocID)
		if allowed != nil && !allowed[docID] {
			continue
		}
		hits = append(hits, BlockHit{
			TextID:  atoiSafe(res.ID),
			DocID:   docID,
			Tag:     payloadField(res.Payload, vector.FieldTag),
			Content: res.Text,
			Score:   res.Distance,
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// buildContext assembles the synthesis context in fixed order: core entities,
// extended entities, relationships, sentences, tagged blocks.
func buildContext(graph *GraphResult, sentences []SentenceHit, blocks []BlockHit) string {
	var b strings.Builder
	if graph != nil {
		if len(graph.Core) > 0 {
			b.WriteString("Entities:\n")
			for _, hit := range graph.Core {
				fmt.Fprintf(&b, "- %s (%s): %s\n", hit.Name, hit.Type, hit.Description)
			}
		}
		if len(graph.Extended) > 0 {
			b.WriteString("Related entities:\n")
			for _, hit := range graph.Extended {
				fmt.Fprintf(&b, "- %s (%s): %s\n", hit.Name, hit.Type, hit.Description)
			}
		}
		if len(graph.Relationships) > 0 {
			b.WriteString("Relationships:\n")
			for _, hit := range graph.Relationships {
				fmt.Fprintf(&b, "- %s -> %s: %s", hit.Source, hit.Target, hit.Description)
				if hit.SourceDescription != "" || hit.TargetDescription != "" {
					fmt.Fprintf(&b, " (%s; %s)", hit.SourceDescription, hit.TargetDescription)
				}
				b.WriteString("\n")
			}
		}
	}
	if len(sentences) > 0 {
		b.WriteString("Sentences:\n")
		for _, hit := range sentences {
			fmt.Fprintf(&b, "- %s\n", hit.Text)
		}
	}
	if len(blocks) > 0 {
		b.WriteString("Passages:\n")
		for _, hit := range blocks {
			fmt.Fprintf(&b, "- [%s] %s\n", hit.Tag, hit.Content)
		}
	}
	return b.String()
}

func orDefault(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	return topK
}

// searchLimit widens the fetch when a time post-filter will discard rows.
func searchLimit(topK int, allowed map[string]bool) int {
	if allowed == nil {
		return topK
	}
	return topK * 4
}

func payloadField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}
