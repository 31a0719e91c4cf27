// File path: internal/retrieval/graph.go
package retrieval

import (
	"context"
	"sort"
	"strconv"

	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/kb"
	"github.com/skyreach/opinioncore/internal/vector"
)

type fusedEntity struct {
	entity   kb.Entity
	nameDist *float64
	descDist *float64
}

// score fuses the two distance signals: the mean when both searches surfaced
// the entity, else whichever one did. Lower is closer.
func (f *fusedEntity) score() float64 {
	switch {
	case f.nameDist != nil && f.descDist != nil:
		return (*f.nameDist + *f.descDist) / 2
	case f.nameDist != nil:
		return *f.nameDist
	default:
		return *f.descDist
	}
}

// graphSearch is the GraphRAG sub-search: fused name+description entity
// retrieval, single-hop expansion over the relationship table, and an
// independent relationship vector search.
func (e *Engine) graphSearch(ctx context.Context, topic string, queryVec []float32, topK int, allowed map[string]bool) (*GraphResult, error) {
	fetchLimit := searchLimit(2*topK, allowed)
	nameRes, err := e.vectors.Search(ctx, topic, vector.TableEntityNames, queryVec, fetchLimit)
	if err != nil {
		return nil, err
	}
	descRes, err := e.vectors.Search(ctx, topic, vector.TableEntityDescriptions, queryVec, fetchLimit)
	if err != nil {
		return nil, err
	}

	fused := make(map[string]*fusedEntity)
	order := make([]string, 0, len(nameRes)+len(descRes))
	absorb := func(res vector.SearchResult, name bool) {
		entry, ok := fused[res.ID]
		if !ok {
			entry = &fusedEntity{entity: vector.DecodeEntity(vector.Record{ID: res.ID, Text: res.Text, Payload: res.Payload})}
			fused[res.ID] = entry
			order = append(order, res.ID)
		}
		dist := res.Distance
		if name {
			entry.nameDist = &dist
		} else {
			entry.descDist = &dist
		}
	}
	for _, res := range nameRes {
		absorb(res, true)
	}
	for _, res := range descRes {
		absorb(res, false)
	}

	candidates := make([]*fusedEntity, 0, len(order))
	for _, id := range order {
		entry := fused[id]
		if allowed != nil && !allowed[entry.entity.DocID] {
			continue
		}
		candidates = append(candidates, entry)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score() < candidates[j].score() })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	result := &GraphResult{}
	coreIDs := make(map[int]bool, len(candidates))
	for _, entry := range candidates {
		result.Core = append(result.Core, EntityHit{Entity: entry.entity, Score: entry.score()})
		coreIDs[entry.entity.EntityID] = true
	}
	if len(result.Core) == 0 {
		return result, nil
	}

	// The full entity and relationship tables back both the one-hop expansion
	// and endpoint resolution for the relationship search.
	entityIndex, err := e.entityIndex(ctx, topic)
	if err != nil {
		common.Logger().Warn("retrieval: entity index fetch failed", "topic", topic, "error", err)
		entityIndex = map[int]kb.Entity{}
	}
	relRecords, err := e.vectors.Fetch(ctx, topic, vector.TableRelationships)
	if err != nil {
		common.Logger().Warn("retrieval: relationship fetch failed", "topic", topic, "error", err)
	}

	// Every edge touching a core entity is kept; the endpoint that is not
	// core becomes an extended entity.
	seen := make(map[int]bool)
	for _, rec := range relRecords {
		rel := vector.DecodeRelationship(rec)
		srcCore, dstCore := coreIDs[rel.SourceID], coreIDs[rel.TargetID]
		if !srcCore && !dstCore {
			continue
		}
		if allowed != nil && !allowed[rel.DocID] {
			continue
		}
		source, srcOK := entityIndex[rel.SourceID]
		target, dstOK := entityIndex[rel.TargetID]
		if !srcOK || !dstOK {
			continue
		}
		result.Expanded = append(result.Expanded, RelationshipHit{
			Relationship:      rel,
			SourceDescription: source.Description,
			TargetDescription: target.Description,
		})
		var other kb.Entity
		switch {
		case srcCore && !dstCore:
			other = target
		case dstCore && !srcCore:
			other = source
		default:
			continue
		}
		if seen[other.EntityID] {
			continue
		}
		if allowed != nil && !allowed[other.DocID] {
			continue
		}
		seen[other.EntityID] = true
		result.Extended = append(result.Extended, EntityHit{Entity: other})
	}

	relHits, err := e.relationshipSearch(ctx, topic, queryVec, allowed, entityIndex)
	if err != nil {
		common.Logger().Warn("retrieval: relationship search failed", "topic", topic, "error", err)
	} else {
		result.Relationships = relHits
	}
	return result, nil
}

// relationshipSearch queries the edge vectors independently of the entity
// searches; of up to relSearchLimit matches the closest relKeepLimit with
// both endpoints resolvable are kept. The fetch widens when a time filter
// will discard rows.
func (e *Engine) relationshipSearch(ctx context.Context, topic string, queryVec []float32, allowed map[string]bool, entityIndex map[int]kb.Entity) ([]RelationshipHit, error) {
	results, err := e.vectors.Search(ctx, topic, vector.TableRelationships, queryVec, searchLimit(relSearchLimit, allowed))
	if err != nil {
		return nil, err
	}
	hits := make([]RelationshipHit, 0, relKeepLimit)
	for _, res := range results {
		rel := vector.DecodeRelationship(vector.Record{ID: res.ID, Text: res.Text, Payload: res.Payload})
		if allowed != nil && !allowed[rel.DocID] {
			continue
		}
		source, srcOK := entityIndex[rel.SourceID]
		target, dstOK := entityIndex[rel.TargetID]
		if !srcOK || !dstOK {
			continue
		}
		hits = append(hits, RelationshipHit{
			Relationship:      rel,
			Score:             res.Distance,
			SourceDescription: source.Description,
			TargetDescription: target.Description,
		})
		if len(hits) == relKeepLimit {
			break
		}
	}
	return hits, nil
}

func (e *Engine) entityIndex(ctx context.Context, topic string) (map[int]kb.Entity, error) {
	records, err := e.vectors.Fetch(ctx, topic, vector.TableEntityNames)
	if err != nil {
		return nil, err
	}
	index := make(map[int]kb.Entity, len(records))
	for _, rec := range records {
		ent := vector.DecodeEntity(rec)
		index[ent.EntityID] = ent
	}
	return index, nil
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
