// File path: internal/ingest/pipeline.go
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/skyreach/opinioncore/internal/catalog"
	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/embedding"
	"github.com/skyreach/opinioncore/internal/kb"
	"github.com/skyreach/opinioncore/internal/llm"
	"github.com/skyreach/opinioncore/internal/mapping"
	"github.com/skyreach/opinioncore/internal/vector"
)

const timeLabelSampleRunes = 400

// DocumentInput is one corpus document submitted for ingestion, already
// chunked by the caller.
type DocumentInput struct {
	Name   string   `json:"name"`
	Chunks []string `json:"chunks"`
}

// Report carries the per-stage counters of one ingestion run.
type Report struct {
	Topic           string `json:"topic"`
	RunID           string `json:"run_id,omitempty"`
	DocsProcessed   int    `json:"docs_processed"`
	DocsSkipped     int    `json:"docs_skipped"`
	BlocksProcessed int    `json:"blocks_processed"`
	BlocksSkipped   int    `json:"blocks_skipped"`
	Sentences       int    `json:"sentences"`
	Entities        int    `json:"entities"`
	Relationships   int    `json:"relationships"`
	RejectedEdges   int    `json:"rejected_edges"`
	EmbedCalls      int    `json:"embed_calls"`
	CacheHits       int    `json:"cache_hits"`
}

// Pipeline drives the two-phase extraction and indexing flow for a topic.
// Runs over the same topic are serialized in-process; the mapping store is
// the single ID allocator.
type Pipeline struct {
	mapping  *mapping.Store
	vectors  vector.Store
	catalog  *catalog.Store
	client   *llm.Client
	embedder *embedding.Generator

	mu     sync.Mutex
	topics map[string]*sync.Mutex
}

// NewPipeline wires the pipeline. The catalog may be nil; run bookkeeping is
// then skipped.
func NewPipeline(store *mapping.Store, vectors vector.Store, cat *catalog.Store, client *llm.Client, embedder *embedding.Generator) *Pipeline {
	return &Pipeline{
		mapping:  store,
		vectors:  vectors,
		catalog:  cat,
		client:   client,
		embedder: embedder,
		topics:   make(map[string]*sync.Mutex),
	}
}

func (p *Pipeline) topicLock(topic string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.topics[topic]
	if !ok {
		lock = &sync.Mutex{}
		p.topics[topic] = lock
	}
	return lock
}

type blockWork struct {
	textID  int
	docID   string
	docName string
	content string

	tag      string
	entities []kb.RawEntity
}

// Run ingests the corpus into the topic namespace. Documents whose exact name
// has been processed before are skipped wholesale; within new documents,
// blocks whose content fingerprint is already recorded are skipped. A block
// whose extraction fails degrades to empty results; a persistence failure
// aborts the run before mapping state is saved, so a rerun reprocesses it.
func (p *Pipeline) Run(ctx context.Context, topic string, corpus []DocumentInput) (*Report, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("ingest: topic required")
	}
	lock := p.topicLock(topic)
	lock.Lock()
	defer lock.Unlock()

	logger := common.Logger()
	report := &Report{Topic: topic}
	callsBefore := p.embedder.Calls()

	state, err := p.mapping.Load(topic)
	if err != nil {
		return nil, fmt.Errorf("ingest: load mapping state: %w", err)
	}
	existingEntities, existingRels, err := p.mapping.LoadSnapshots(topic)
	if err != nil {
		return nil, fmt.Errorf("ingest: load snapshots: %w", err)
	}

	runID := p.startRun(ctx, topic)
	report.RunID = runID

	// Allocate document and block IDs up front; everything downstream only
	// sees new work.
	var blocks []*blockWork
	newDocs := make([]mapping.DocRecord, 0, len(corpus))
	for _, doc := range corpus {
		name := strings.TrimSpace(doc.Name)
		if name == "" {
			continue
		}
		if state.IsDocumentProcessed(name) {
			report.DocsSkipped++
			continue
		}
		label := p.inferTimeLabel(ctx, topic, name, doc.Chunks)
		rec := state.AllocateDoc(name, label)
		newDocs = append(newDocs, rec)
		report.DocsProcessed++
		for _, chunk := range doc.Chunks {
			content := strings.TrimSpace(chunk)
			if content == "" {
				continue
			}
			fingerprint := kb.BlockFingerprint(name, content)
			if _, seen := state.BlockSeen(fingerprint); seen {
				report.BlocksSkipped++
				continue
			}
			textID := state.AllocateText()
			state.MarkBlock(fingerprint, textID)
			blocks = append(blocks, &blockWork{
				textID:  textID,
				docID:   rec.DocID,
				docName: name,
				content: content,
			})
		}
	}
	report.BlocksProcessed = len(blocks)
	logger.Info("ingest: run started", "topic", topic, "run_id", runID,
		"new_docs", report.DocsProcessed, "skipped_docs", report.DocsSkipped,
		"new_blocks", report.BlocksProcessed, "skipped_blocks", report.BlocksSkipped)

	// Phase 1: tag and entity extraction per block, paced in qps windows. The
	// two calls for one block run together; a failure leaves that block with
	// an empty tag or no entities.
	err = p.client.RunWindowed(ctx, len(blocks), func(ctx context.Context, idx int) {
		block := blocks[idx]
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			tag, err := p.client.GenerateTag(ctx, topic, block.content)
			if err != nil {
				logger.Warn("ingest: tag generation failed", "topic", topic, "text_id", block.textID, "error", err)
				return
			}
			block.tag = tag
		}()
		go func() {
			defer wg.Done()
			ents, err := p.client.ExtractEntities(ctx, topic, block.content)
			if err != nil {
				logger.Warn("ingest: entity extraction failed", "topic", topic, "text_id", block.textID, "error", err)
				return
			}
			block.entities = ents
		}()
		wg.Wait()
	})
	if err != nil {
		p.failRun(topic, runID, err)
		return nil, fmt.Errorf("ingest: entity phase: %w", err)
	}

	fresh := make([]kb.Entity, 0)
	for _, block := range blocks {
		for _, raw := range block.entities {
			fresh = append(fresh, kb.Entity{
				DocID:       block.docID,
				DocName:     block.docName,
				Name:        strings.TrimSpace(raw.Name),
				Type:        strings.TrimSpace(raw.Type),
				Description: strings.TrimSpace(raw.Description),
				TextIDs:     []int{block.textID},
				DocIDs:      []string{block.docID},
			})
		}
	}
	entities, idMap := kb.MergeEntities(existingEntities, fresh)
	report.Entities = len(entities)

	// Phase 2: relationships only for blocks that produced entities, with the
	// candidate names constrained to that block's extraction vocabulary.
	relBlocks := make([]*blockWork, 0, len(blocks))
	for _, block := range blocks {
		if len(block.entities) > 0 {
			relBlocks = append(relBlocks, block)
		}
	}
	rawRels := make([][]kb.RawRelation, len(relBlocks))
	err = p.client.RunWindowed(ctx, len(relBlocks), func(ctx context.Context, idx int) {
		block := relBlocks[idx]
		names := make([]string, 0, len(block.entities))
		for _, ent := range block.entities {
			names = append(names, ent.Name)
		}
		rels, err := p.client.ExtractRelationships(ctx, topic, block.content, names)
		if err != nil {
			logger.Warn("ingest: relationship extraction failed", "topic", topic, "text_id", block.textID, "error", err)
			return
		}
		rawRels[idx] = rels
	})
	if err != nil {
		p.failRun(topic, runID, err)
		return nil, fmt.Errorf("ingest: relationship phase: %w", err)
	}

	freshRels := make([]kb.Relationship, 0)
	var rejectedRows []catalog.RejectedEdgeRow
	for idx, block := range relBlocks {
		for _, raw := range rawRels[idx] {
			srcID, dstID, ok := kb.ResolveEndpoints(entities, block.docID, raw.Source, raw.Target)
			if !ok {
				rejectedRows = append(rejectedRows, catalog.RejectedEdgeRow{
					DocName: block.docName,
					Source:  raw.Source,
					Target:  raw.Target,
					Reason:  "unresolved endpoint",
				})
				continue
			}
			freshRels = append(freshRels, kb.Relationship{
				DocID:       block.docID,
				DocName:     block.docName,
				SourceID:    srcID,
				TargetID:    dstID,
				Source:      strings.TrimSpace(raw.Source),
				Target:      strings.TrimSpace(raw.Target),
				Description: strings.TrimSpace(raw.Description),
				TextIDs:     []int{block.textID},
				DocIDs:      []string{block.docID},
			})
		}
	}
	relationships, dangling := kb.MergeRelationships(existingRels, freshRels, idMap, entities)
	for _, rel := range dangling {
		rejectedRows = append(rejectedRows, catalog.RejectedEdgeRow{
			DocName: rel.DocName,
			Source:  rel.Source,
			Target:  rel.Target,
			Reason:  "endpoint lost in merge",
		})
	}
	report.Relationships = len(relationships)
	report.RejectedEdges = len(rejectedRows)
	if len(rejectedRows) > 0 {
		logger.Warn("ingest: relationships rejected", "topic", topic, "count", len(rejectedRows))
	}

	// Sentences are derived, not extracted; their IDs extend the existing
	// sequence.
	sentences := make([]kb.Sentence, 0)
	for _, block := range blocks {
		for _, text := range kb.SplitSentences(block.content) {
			sentences = append(sentences, kb.Sentence{
				SentenceID: state.AllocateSentence(),
				DocID:      block.docID,
				Text:       text,
			})
		}
	}
	report.Sentences = len(sentences)

	textBlocks := assembleBlocks(blocks, entities, relationships)

	// Embedding and persistence. Vectors for unchanged entities and
	// relationships are reused verbatim from the previous index.
	hits, err := p.persist(ctx, topic, sentences, textBlocks, entities, relationships, state.DocNames(), state.TimeLabels())
	if err != nil {
		p.failRun(topic, runID, err)
		return nil, fmt.Errorf("ingest: persist: %w", err)
	}
	report.CacheHits = hits
	report.EmbedCalls = int(p.embedder.Calls() - callsBefore)

	// IDs are dense, so the last allocated entity and relationship IDs are
	// the merged set sizes.
	state.LastEntityID = len(entities)
	state.LastRelationshipID = len(relationships)

	if err := p.mapping.Save(topic, state); err != nil {
		p.failRun(topic, runID, err)
		return nil, fmt.Errorf("ingest: save mapping state: %w", err)
	}
	if err := p.mapping.SaveSnapshots(topic, entities, relationships); err != nil {
		p.failRun(topic, runID, err)
		return nil, fmt.Errorf("ingest: save snapshots: %w", err)
	}

	p.recordRun(ctx, topic, runID, newDocs, rejectedRows, report)
	logger.Info("ingest: run finished", "topic", topic, "run_id", runID,
		"entities", report.Entities, "relationships", report.Relationships,
		"sentences", report.Sentences, "embed_calls", report.EmbedCalls,
		"cache_hits", report.CacheHits)
	return report, nil
}

func (p *Pipeline) inferTimeLabel(ctx context.Context, topic, name string, chunks []string) string {
	sample := ""
	for _, chunk := range chunks {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			sample = trimmed
			break
		}
	}
	if runes := []rune(sample); len(runes) > timeLabelSampleRunes {
		sample = string(runes[:timeLabelSampleRunes])
	}
	label, err := p.client.InferTimeLabel(ctx, topic, name, sample)
	if err != nil {
		common.Logger().Warn("ingest: time label inference failed", "topic", topic, "doc", name, "error", err)
		return ""
	}
	return label
}

// assembleBlocks attaches the back-references from blocks to the renumbered
// entities and relationships that mention them.
func assembleBlocks(blocks []*blockWork, entities []kb.Entity, relationships []kb.Relationship) []kb.TextBlock {
	entsByText := make(map[int][]int)
	for _, ent := range entities {
		for _, textID := range ent.TextIDs {
			entsByText[textID] = append(entsByText[textID], ent.EntityID)
		}
	}
	relsByText := make(map[int][]int)
	for _, rel := range relationships {
		for _, textID := range rel.TextIDs {
			relsByText[textID] = append(relsByText[textID], rel.RelationshipID)
		}
	}
	out := make([]kb.TextBlock, 0, len(blocks))
	for _, block := range blocks {
		out = append(out, kb.TextBlock{
			TextID:          block.textID,
			DocID:           block.docID,
			Content:         block.content,
			Tag:             block.tag,
			EntityIDs:       entsByText[block.textID],
			RelationshipIDs: relsByText[block.textID],
		})
	}
	return out
}

func (p *Pipeline) startRun(ctx context.Context, topic string) string {
	if p.catalog == nil {
		return ""
	}
	runID, err := p.catalog.StartRun(ctx, topic)
	if err != nil {
		common.Logger().Warn("ingest: catalog start run failed", "topic", topic, "error", err)
		return ""
	}
	return runID
}

func (p *Pipeline) failRun(topic, runID string, cause error) {
	if p.catalog == nil || runID == "" {
		return
	}
	if err := p.catalog.FailRun(context.Background(), runID, cause); err != nil {
		common.Logger().Warn("ingest: catalog fail run failed", "topic", topic, "error", err)
	}
}

func (p *Pipeline) recordRun(ctx context.Context, topic, runID string, docs []mapping.DocRecord, rejected []catalog.RejectedEdgeRow, report *Report) {
	if p.catalog == nil || runID == "" {
		return
	}
	logger := common.Logger()
	for _, doc := range docs {
		docID, _ := strconv.Atoi(doc.DocID)
		if err := p.catalog.RecordDocument(ctx, topic, docID, doc.Name, doc.TimeLabel); err != nil {
			logger.Warn("ingest: catalog record document failed", "topic", topic, "doc", doc.Name, "error", err)
		}
	}
	if err := p.catalog.RecordRejectedEdges(ctx, runID, topic, rejected); err != nil {
		logger.Warn("ingest: catalog record rejected edges failed", "topic", topic, "error", err)
	}
	summary := catalog.RunSummary{
		DocsProcessed: report.DocsProcessed,
		BlocksSkipped: report.BlocksSkipped,
		Entities:      report.Entities,
		Relationships: report.Relationships,
		EmbedCalls:    report.EmbedCalls,
		CacheHits:     report.CacheHits,
	}
	if err := p.catalog.FinishRun(ctx, runID, summary); err != nil {
		logger.Warn("ingest: catalog finish run failed", "topic", topic, "error", err)
	}
}
