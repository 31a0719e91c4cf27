// File path: internal/mapping/store_test.go
package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skyreach/opinioncore/internal/kb"
)

func TestLoadMissingStateStartsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	state, err := store.Load("economy")
	if err != nil {
		t.Fatalf("missing state must not error: %v", err)
	}
	if state.LastEntityID != 0 || len(state.Docs) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestLoadCorruptStateStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "economy"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "economy", "mapping.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	state, err := store.Load("economy")
	if err != nil {
		t.Fatalf("corrupt state must not error: %v", err)
	}
	if state.LastTextID != 0 {
		t.Fatalf("expected empty state from corrupt file, got %+v", state)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	state := NewState()
	doc := state.AllocateDoc("Weekly briefing", "2024-03-01 to 2024-03-07")
	if doc.DocID != "1" {
		t.Fatalf("expected dense doc id 1, got %s", doc.DocID)
	}
	textID := state.AllocateText()
	state.MarkBlock(kb.BlockFingerprint(doc.Name, "block content"), textID)
	state.LastEntityID = 5
	state.LastRelationshipID = 2

	if err := store.Save("economy", state); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Load("economy")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.IsDocumentProcessed("Weekly briefing") {
		t.Fatal("document should be recorded as processed by exact name")
	}
	if loaded.IsDocumentProcessed("weekly briefing") {
		t.Fatal("processed-doc check must be an exact match")
	}
	if loaded.EntityCount != 5 || loaded.RelationshipCount != 2 {
		t.Fatalf("counts must equal last IDs, got %+v", loaded)
	}
	if _, ok := loaded.BlockSeen(kb.BlockFingerprint(doc.Name, "block content")); !ok {
		t.Fatal("processed block fingerprint lost on round trip")
	}
	if next := loaded.AllocateText(); next != textID+1 {
		t.Fatalf("text ID allocation must resume, got %d", next)
	}
}

func TestSnapshotsRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	entities := []kb.Entity{{EntityID: 1, DocID: "1", DocName: "D1", Name: "A", Type: "Person"}}
	relationships := []kb.Relationship{{RelationshipID: 1, DocID: "1", DocName: "D1", SourceID: 1, TargetID: 1, Source: "A", Target: "A"}}
	if err := store.SaveSnapshots("economy", entities, relationships); err != nil {
		t.Fatal(err)
	}
	gotEnts, gotRels, err := store.LoadSnapshots("economy")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotEnts) != 1 || gotEnts[0].Name != "A" {
		t.Fatalf("unexpected entities snapshot: %+v", gotEnts)
	}
	if len(gotRels) != 1 {
		t.Fatalf("unexpected relationships snapshot: %+v", gotRels)
	}
}

func TestLoadSnapshotsMissingIsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ents, rels, err := store.LoadSnapshots("fresh-topic")
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 0 || len(rels) != 0 {
		t.Fatal("expected empty snapshots for a new topic")
	}
}
