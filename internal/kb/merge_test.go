// File path: internal/kb/merge_test.go
package kb

import "testing"

func TestMergeEntitiesCollapsesPerDocumentDuplicates(t *testing.T) {
	fresh := []Entity{
		{DocID: "1", DocName: "D1", Name: "A", Type: "Person", Description: "short", TextIDs: []int{1}},
		{DocID: "1", DocName: "D1", Name: "B", Type: "Org", Description: "org B", TextIDs: []int{1}},
		{DocID: "1", DocName: "D1", Name: "A", Type: "Person", Description: "a much longer description", TextIDs: []int{2}},
		{DocID: "1", DocName: "D1", Name: "B", Type: "Org", Description: "org", TextIDs: []int{2}},
	}
	merged, _ := MergeEntities(nil, fresh)
	if len(merged) != 2 {
		t.Fatalf("expected 2 entities after dedup, got %d", len(merged))
	}
	for idx, ent := range merged {
		if ent.EntityID != idx+1 {
			t.Fatalf("expected dense IDs, got %d at index %d", ent.EntityID, idx)
		}
	}
	if merged[0].Description != "a much longer description" {
		t.Fatalf("expected longest description kept, got %q", merged[0].Description)
	}
	if len(merged[0].TextIDs) != 2 {
		t.Fatalf("expected provenance union, got %v", merged[0].TextIDs)
	}
}

func TestMergeEntitiesKeepsDistinctTypesApart(t *testing.T) {
	fresh := []Entity{
		{DocID: "1", DocName: "D1", Name: "Mercury", Type: "Planet"},
		{DocID: "1", DocName: "D1", Name: "Mercury", Type: "Element"},
	}
	merged, _ := MergeEntities(nil, fresh)
	if len(merged) != 2 {
		t.Fatalf("same name with different types must stay separate, got %d", len(merged))
	}
}

func TestMergeEntitiesRenumbersExisting(t *testing.T) {
	existing := []Entity{
		{EntityID: 7, DocID: "1", DocName: "D1", Name: "A", Type: "Person"},
		{EntityID: 9, DocID: "2", DocName: "D2", Name: "C", Type: "Place"},
	}
	fresh := []Entity{
		{DocID: "1", DocName: "D1", Name: "A", Type: "Person", Description: "seen again"},
		{DocID: "2", DocName: "D2", Name: "E", Type: "Org"},
	}
	merged, idMap := MergeEntities(existing, fresh)
	if len(merged) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(merged))
	}
	if idMap[7] != 1 || idMap[9] != 2 {
		t.Fatalf("unexpected id map: %v", idMap)
	}
	max := 0
	for _, ent := range merged {
		if ent.EntityID > max {
			max = ent.EntityID
		}
	}
	if max != len(merged) {
		t.Fatalf("dense ID invariant violated: max=%d count=%d", max, len(merged))
	}
}

func TestMergeRelationshipsDropsDanglingEdges(t *testing.T) {
	entities := []Entity{
		{EntityID: 1, DocID: "1", Name: "A", Type: "Person"},
		{EntityID: 2, DocID: "1", Name: "B", Type: "Org"},
	}
	fresh := []Relationship{
		{DocID: "1", DocName: "D1", SourceID: 1, TargetID: 2, Source: "A", Target: "B", Description: "works for"},
		{DocID: "1", DocName: "D1", SourceID: 1, TargetID: 5, Source: "A", Target: "Ghost"},
	}
	kept, rejected := MergeRelationships(nil, fresh, nil, entities)
	if len(kept) != 1 {
		t.Fatalf("expected 1 surviving relationship, got %d", len(kept))
	}
	if len(rejected) != 1 || rejected[0].Target != "Ghost" {
		t.Fatalf("expected the dangling edge rejected, got %+v", rejected)
	}
	if kept[0].RelationshipID != 1 {
		t.Fatalf("expected dense renumbering, got %d", kept[0].RelationshipID)
	}
}

func TestMergeRelationshipsDeduplicatesPerDocumentPair(t *testing.T) {
	entities := []Entity{
		{EntityID: 1, DocID: "1", Name: "A", Type: "Person"},
		{EntityID: 2, DocID: "1", Name: "B", Type: "Org"},
	}
	fresh := []Relationship{
		{DocID: "1", DocName: "D1", SourceID: 1, TargetID: 2, Source: "A", Target: "B", Description: "works for", TextIDs: []int{1}},
		{DocID: "1", DocName: "D1", SourceID: 1, TargetID: 2, Source: "A", Target: "B", Description: "works for B full time", TextIDs: []int{2}},
	}
	kept, _ := MergeRelationships(nil, fresh, nil, entities)
	if len(kept) != 1 {
		t.Fatalf("expected duplicate pair collapsed, got %d rows", len(kept))
	}
	if kept[0].Description != "works for B full time" {
		t.Fatalf("expected longest description kept, got %q", kept[0].Description)
	}
	if len(kept[0].TextIDs) != 2 {
		t.Fatalf("expected provenance union, got %v", kept[0].TextIDs)
	}
}

func TestMergeRelationshipsRemapsExistingEndpoints(t *testing.T) {
	entities := []Entity{
		{EntityID: 1, DocID: "1", Name: "A", Type: "Person"},
		{EntityID: 2, DocID: "1", Name: "B", Type: "Org"},
	}
	existing := []Relationship{
		{RelationshipID: 4, DocID: "1", DocName: "D1", SourceID: 11, TargetID: 12, Source: "A", Target: "B"},
		{RelationshipID: 5, DocID: "1", DocName: "D1", SourceID: 11, TargetID: 99, Source: "A", Target: "Gone"},
	}
	idMap := map[int]int{11: 1, 12: 2}
	kept, rejected := MergeRelationships(existing, nil, idMap, entities)
	if len(kept) != 1 {
		t.Fatalf("expected 1 remapped relationship, got %d", len(kept))
	}
	if kept[0].SourceID != 1 || kept[0].TargetID != 2 {
		t.Fatalf("endpoints not remapped: %+v", kept[0])
	}
	if len(rejected) != 1 {
		t.Fatalf("expected the unmappable edge rejected, got %d", len(rejected))
	}
}

func TestResolveEndpoints(t *testing.T) {
	entities := []Entity{
		{EntityID: 1, DocID: "1", Name: "Alpha", Type: "Person"},
		{EntityID: 2, DocID: "1", Name: "Beta", Type: "Org"},
		{EntityID: 3, DocID: "2", Name: "Alpha", Type: "Person"},
	}
	src, dst, ok := ResolveEndpoints(entities, "1", "alpha", "Beta")
	if !ok || src != 1 || dst != 2 {
		t.Fatalf("expected case-insensitive resolution within doc, got %d %d %v", src, dst, ok)
	}
	if _, _, ok := ResolveEndpoints(entities, "1", "Alpha", "Missing"); ok {
		t.Fatal("expected unknown endpoint to fail resolution")
	}
}
