// File path: internal/ingest/persist.go
package ingest

import (
	"context"
	"fmt"

	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/embedding"
	"github.com/skyreach/opinioncore/internal/kb"
	"github.com/skyreach/opinioncore/internal/vector"
)

// persist embeds everything that still needs a vector and writes the four
// logical tables. Sentence and block rows are appended; entity and
// relationship rows are rebuilt wholesale because their IDs change on every
// run. Every row carries the document name and time label so readers can
// filter without consulting the mapping store. Returns the number of vectors
// reused from the previous index.
func (p *Pipeline) persist(ctx context.Context, topic string, sentences []kb.Sentence, blocks []kb.TextBlock, entities []kb.Entity, relationships []kb.Relationship, docNames, timeLabels map[string]string) (int, error) {
	logger := common.Logger()
	nameCache, descCache, relCache := p.seedCaches(ctx, topic)

	// One embedding batch covers every missing text; assignments are wired
	// through closures so reused and fresh vectors land in the same maps.
	var texts []string
	var assign []func([]float32)

	queue := func(text string, fn func([]float32)) {
		texts = append(texts, text)
		assign = append(assign, fn)
	}

	nameVecs := make(map[int][]float32, len(entities))
	descVecs := make(map[int][]float32, len(entities))
	for _, ent := range entities {
		ent := ent
		key := kb.EntityKey(ent.DocName, ent.Name, ent.Type)
		if vec, ok := nameCache.Get(key); ok {
			nameVecs[ent.EntityID] = vec
		} else {
			queue(ent.Name, func(vec []float32) { nameVecs[ent.EntityID] = vec })
		}
		desc := ent.Description
		if desc == "" {
			desc = ent.Name
		}
		if vec, ok := descCache.Get(key); ok {
			descVecs[ent.EntityID] = vec
		} else {
			desc := desc
			queue(desc, func(vec []float32) { descVecs[ent.EntityID] = vec })
		}
	}

	relVecs := make(map[int][]float32, len(relationships))
	for _, rel := range relationships {
		rel := rel
		key := kb.RelationKey(rel.DocName, rel.Source, rel.Target)
		if vec, ok := relCache.Get(key); ok {
			relVecs[rel.RelationshipID] = vec
			continue
		}
		text := rel.Description
		if text == "" {
			text = rel.Source + " " + rel.Target
		}
		queue(text, func(vec []float32) { relVecs[rel.RelationshipID] = vec })
	}

	sentVecs := make(map[int][]float32, len(sentences))
	for _, sent := range sentences {
		sent := sent
		queue(sent.Text, func(vec []float32) { sentVecs[sent.SentenceID] = vec })
	}

	blockVecs := make(map[int][]float32, len(blocks))
	for _, block := range blocks {
		block := block
		text := block.Tag
		if text == "" {
			text = block.Content
		}
		queue(text, func(vec []float32) { blockVecs[block.TextID] = vec })
	}

	vectors := p.embedder.Embed(ctx, texts)
	for idx, vec := range vectors {
		if vec == nil {
			continue
		}
		assign[idx](vec)
	}

	dropped := 0
	nameRecords := make([]vector.Record, 0, len(entities))
	descRecords := make([]vector.Record, 0, len(entities))
	for _, ent := range entities {
		nameVec := nameVecs[ent.EntityID]
		descVec := descVecs[ent.EntityID]
		if nameVec == nil || descVec == nil {
			dropped++
			continue
		}
		desc := ent.Description
		if desc == "" {
			desc = ent.Name
		}
		nameRecords = append(nameRecords, vector.EntityRecord(ent, ent.Name, timeLabels[ent.DocID], nameVec))
		descRecords = append(descRecords, vector.EntityRecord(ent, desc, timeLabels[ent.DocID], descVec))
	}
	relRecords := make([]vector.Record, 0, len(relationships))
	for _, rel := range relationships {
		vec := relVecs[rel.RelationshipID]
		if vec == nil {
			dropped++
			continue
		}
		relRecords = append(relRecords, vector.RelationshipRecord(rel, timeLabels[rel.DocID], vec))
	}
	sentRecords := make([]vector.Record, 0, len(sentences))
	for _, sent := range sentences {
		vec := sentVecs[sent.SentenceID]
		if vec == nil {
			dropped++
			continue
		}
		sentRecords = append(sentRecords, vector.SentenceRecord(sent, docNames[sent.DocID], timeLabels[sent.DocID], vec))
	}
	blockRecords := make([]vector.Record, 0, len(blocks))
	for _, block := range blocks {
		vec := blockVecs[block.TextID]
		if vec == nil {
			dropped++
			continue
		}
		blockRecords = append(blockRecords, vector.BlockRecord(block, docNames[block.DocID], timeLabels[block.DocID], vec))
	}
	if dropped > 0 {
		common.Logger().Warn("ingest: rows dropped for missing vectors", "topic", topic, "count", dropped)
	}

	if err := p.vectors.Append(ctx, topic, vector.TableSentences, sentRecords); err != nil {
		return 0, fmt.Errorf("append sentences: %w", err)
	}
	if err := p.vectors.Append(ctx, topic, vector.TableBlocks, blockRecords); err != nil {
		return 0, fmt.Errorf("append blocks: %w", err)
	}
	if err := p.vectors.Replace(ctx, topic, vector.TableEntityNames, nameRecords); err != nil {
		return 0, fmt.Errorf("replace entity names: %w", err)
	}
	if err := p.vectors.Replace(ctx, topic, vector.TableEntityDescriptions, descRecords); err != nil {
		return 0, fmt.Errorf("replace entity descriptions: %w", err)
	}
	if err := p.vectors.Replace(ctx, topic, vector.TableRelationships, relRecords); err != nil {
		return 0, fmt.Errorf("replace relationships: %w", err)
	}

	hits := nameCache.Hits() + descCache.Hits() + relCache.Hits()
	logger.Debug("ingest: persisted index", "topic", topic,
		"sentences", len(sentRecords), "blocks", len(blockRecords),
		"entities", len(nameRecords), "relationships", len(relRecords),
		"reused_vectors", hits)
	return hits, nil
}

// seedCaches loads the previous index so unchanged rows keep their vectors
// bit for bit. A fetch failure leaves the cache empty and everything is
// re-embedded.
func (p *Pipeline) seedCaches(ctx context.Context, topic string) (*embedding.VectorCache, *embedding.VectorCache, *embedding.VectorCache) {
	logger := common.Logger()
	nameCache := embedding.NewVectorCache()
	descCache := embedding.NewVectorCache()
	relCache := embedding.NewVectorCache()

	if records, err := p.vectors.Fetch(ctx, topic, vector.TableEntityNames); err != nil {
		logger.Warn("ingest: entity name fetch failed", "topic", topic, "error", err)
	} else {
		for _, rec := range records {
			ent := vector.DecodeEntity(rec)
			nameCache.Put(kb.EntityKey(ent.DocName, ent.Name, ent.Type), rec.Vector)
		}
	}
	if records, err := p.vectors.Fetch(ctx, topic, vector.TableEntityDescriptions); err != nil {
		logger.Warn("ingest: entity description fetch failed", "topic", topic, "error", err)
	} else {
		for _, rec := range records {
			ent := vector.DecodeEntity(rec)
			descCache.Put(kb.EntityKey(ent.DocName, ent.Name, ent.Type), rec.Vector)
		}
	}
	if records, err := p.vectors.Fetch(ctx, topic, vector.TableRelationships); err != nil {
		logger.Warn("ingest: relationship fetch failed", "topic", topic, "error", err)
	} else {
		for _, rec := range records {
			rel := vector.DecodeRelationship(rec)
			relCache.Put(kb.RelationKey(rel.DocName, rel.Source, rel.Target), rec.Vector)
		}
	}
	return nameCache, descCache, relCache
}
