// File path: internal/kb/merge.go
package kb

import (
	"sort"
	"strconv"
	"strings"
)

// MergeEntities collapses the union of previously persisted entities (loaded
// without vectors) and freshly extracted entities into one deduplicated set
// and renumbers it into a dense 1..N sequence. Within a document the
// (name, type) pair is unique; duplicates collapse to a single record keeping
// the longest description and the union of the provenance references.
//
// The returned map translates the IDs carried by the existing entities to
// their new IDs so that persisted relationships can be rewritten. IDs are not
// stable across runs; only (doc_name, name, type) is.
func MergeEntities(existing, fresh []Entity) ([]Entity, map[int]int) {
	ordered := make([]*Entity, 0, len(existing)+len(fresh))
	index := make(map[string]*Entity, len(existing)+len(fresh))
	idMap := make(map[int]int, len(existing))
	oldIDs := make(map[*Entity][]int)

	absorb := func(src Entity, trackID bool) {
		key := entityDedupKey(src.DocID, src.Name, src.Type)
		merged, ok := index[key]
		if !ok {
			clone := src
			clone.Name = strings.TrimSpace(src.Name)
			clone.Type = strings.TrimSpace(src.Type)
			clone.TextIDs = append([]int(nil), src.TextIDs...)
			clone.DocIDs = append([]string(nil), src.DocIDs...)
			merged = &clone
			index[key] = merged
			ordered = append(ordered, merged)
		} else {
			if len(src.Description) > len(merged.Description) {
				merged.Description = src.Description
			}
			merged.TextIDs = unionInts(merged.TextIDs, src.TextIDs)
			merged.DocIDs = unionStrings(merged.DocIDs, src.DocIDs)
		}
		if trackID && src.EntityID > 0 {
			oldIDs[merged] = append(oldIDs[merged], src.EntityID)
		}
	}

	for _, ent := range sortedByID(existing) {
		absorb(ent, true)
	}
	for _, ent := range fresh {
		absorb(ent, false)
	}

	out := make([]Entity, len(ordered))
	for idx, merged := range ordered {
		merged.EntityID = idx + 1
		out[idx] = *merged
		for _, old := range oldIDs[merged] {
			idMap[old] = merged.EntityID
		}
	}
	return out, idMap
}

// MergeRelationships deduplicates the union of persisted and fresh
// relationships, remaps persisted endpoint IDs through the entity renumbering
// map, drops edges whose endpoints did not survive entity dedup, and assigns
// dense IDs. Dropped edges are returned separately so the caller can log and
// record them; a dangling edge is never a fatal error.
//
// Fresh relationships must arrive with endpoint IDs already resolved against
// the renumbered entity set (see ResolveEndpoints).
func MergeRelationships(existing, fresh []Relationship, idMap map[int]int, entities []Entity) ([]Relationship, []Relationship) {
	known := make(map[int]struct{}, len(entities))
	for _, ent := range entities {
		known[ent.EntityID] = struct{}{}
	}

	ordered := make([]*Relationship, 0, len(existing)+len(fresh))
	index := make(map[string]*Relationship, len(existing)+len(fresh))
	var rejected []Relationship

	absorb := func(rel Relationship, remap bool) {
		if remap {
			src, okSrc := idMap[rel.SourceID]
			dst, okDst := idMap[rel.TargetID]
			if !okSrc || !okDst {
				rejected = append(rejected, rel)
				return
			}
			rel.SourceID = src
			rel.TargetID = dst
		}
		if _, ok := known[rel.SourceID]; !ok {
			rejected = append(rejected, rel)
			return
		}
		if _, ok := known[rel.TargetID]; !ok {
			rejected = append(rejected, rel)
			return
		}
		key := relationDedupKey(rel.DocID, rel.SourceID, rel.TargetID)
		merged, ok := index[key]
		if !ok {
			clone := rel
			clone.TextIDs = append([]int(nil), rel.TextIDs...)
			clone.DocIDs = append([]string(nil), rel.DocIDs...)
			merged = &clone
			index[key] = merged
			ordered = append(ordered, merged)
			return
		}
		if len(rel.Description) > len(merged.Description) {
			merged.Description = rel.Description
		}
		merged.TextIDs = unionInts(merged.TextIDs, rel.TextIDs)
		merged.DocIDs = unionStrings(merged.DocIDs, rel.DocIDs)
	}

	for _, rel := range sortedRelsByID(existing) {
		absorb(rel, true)
	}
	for _, rel := range fresh {
		absorb(rel, false)
	}

	out := make([]Relationship, len(ordered))
	for idx, merged := range ordered {
		merged.RelationshipID = idx + 1
		out[idx] = *merged
	}
	return out, rejected
}

// ResolveEndpoints translates a raw name-based relation into endpoint IDs
// against the renumbered entity set. The boolean result is false when either
// endpoint name is unknown for the document.
func ResolveEndpoints(entities []Entity, docID, source, target string) (int, int, bool) {
	srcID := findEntityID(entities, docID, source)
	dstID := findEntityID(entities, docID, target)
	if srcID == 0 || dstID == 0 {
		return 0, 0, false
	}
	return srcID, dstID, true
}

func findEntityID(entities []Entity, docID, name string) int {
	needle := strings.TrimSpace(name)
	for _, ent := range entities {
		if ent.DocID == docID && strings.EqualFold(ent.Name, needle) {
			return ent.EntityID
		}
	}
	return 0
}

func entityDedupKey(docID, name, entityType string) string {
	return docID + "\x00" + strings.ToLower(strings.TrimSpace(name)) + "\x00" + strings.ToLower(strings.TrimSpace(entityType))
}

func relationDedupKey(docID string, sourceID, targetID int) string {
	return docID + "\x00" + strconv.Itoa(sourceID) + "\x00" + strconv.Itoa(targetID)
}

func sortedByID(entities []Entity) []Entity {
	out := make([]Entity, len(entities))
	copy(out, entities)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func sortedRelsByID(rels []Relationship) []Relationship {
	out := make([]Relationship, len(rels))
	copy(out, rels)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelationshipID < out[j].RelationshipID })
	return out
}

func unionInts(base, extra []int) []int {
	seen := make(map[int]struct{}, len(base)+len(extra))
	out := make([]int, 0, len(base)+len(extra))
	for _, v := range base {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, v := range base {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
