// File path: internal/mapping/store.go
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/kb"
)

// DocRecord is one document known to the mapping store.
type DocRecord struct {
	DocID     string `json:"doc_id"`
	Name      string `json:"name"`
	TimeLabel string `json:"time_label,omitempty"`
}

// State is the durable bookkeeping record for one topic namespace. It owns ID
// allocation for documents, text blocks, sentences, entities and
// relationships; nothing else in the system allocates IDs. Counts always
// equal the corresponding last ID because numbering is dense.
type State struct {
	LastDocID          int `json:"docs_last_id"`
	LastTextID         int `json:"texts_last_id"`
	LastSentenceID     int `json:"sentences_last_id"`
	LastEntityID       int `json:"entities_last_id"`
	EntityCount        int `json:"entities_count"`
	LastRelationshipID int `json:"relationships_last_id"`
	RelationshipCount  int `json:"relationships_count"`

	Docs          []DocRecord `json:"docs"`
	ProcessedDocs []string    `json:"processed_docs"`

	// ProcessedBlocks maps a block content fingerprint to the text ID it was
	// assigned, so re-ingesting the same corpus is a no-op.
	ProcessedBlocks map[string]int `json:"processed_blocks"`
}

// NewState returns an empty state ready for a first ingestion run.
func NewState() *State {
	return &State{ProcessedBlocks: make(map[string]int)}
}

// IsDocumentProcessed reports whether a document of this exact name has been
// recorded by a previous run. Detection is by name, not content hash.
func (s *State) IsDocumentProcessed(name string) bool {
	needle := strings.TrimSpace(name)
	for _, doc := range s.Docs {
		if doc.Name == needle {
			return true
		}
	}
	return false
}

// AllocateDoc assigns the next dense document ID and records the document.
func (s *State) AllocateDoc(name, timeLabel string) DocRecord {
	s.LastDocID++
	rec := DocRecord{
		DocID:     strconv.Itoa(s.LastDocID),
		Name:      strings.TrimSpace(name),
		TimeLabel: timeLabel,
	}
	s.Docs = append(s.Docs, rec)
	return rec
}

// AllocateText returns the next global text-block ID.
func (s *State) AllocateText() int {
	s.LastTextID++
	return s.LastTextID
}

// AllocateSentence returns the next global sentence ID.
func (s *State) AllocateSentence() int {
	s.LastSentenceID++
	return s.LastSentenceID
}

// BlockSeen reports whether a block with this fingerprint was already
// ingested and, if so, the text ID it holds.
func (s *State) BlockSeen(fingerprint string) (int, bool) {
	id, ok := s.ProcessedBlocks[fingerprint]
	return id, ok
}

// MarkBlock records a processed block fingerprint.
func (s *State) MarkBlock(fingerprint string, textID int) {
	if s.ProcessedBlocks == nil {
		s.ProcessedBlocks = make(map[string]int)
	}
	s.ProcessedBlocks[fingerprint] = textID
}

// TimeLabels returns the document time labels keyed by document ID.
func (s *State) TimeLabels() map[string]string {
	out := make(map[string]string, len(s.Docs))
	for _, doc := range s.Docs {
		out[doc.DocID] = doc.TimeLabel
	}
	return out
}

// DocNames returns the document names keyed by document ID.
func (s *State) DocNames() map[string]string {
	out := make(map[string]string, len(s.Docs))
	for _, doc := range s.Docs {
		out[doc.DocID] = doc.Name
	}
	return out
}

// Store persists per-topic mapping state plus the vector-free entity and
// relationship snapshots kept for inspection and for seeding the next run's
// merge. Saves are atomic: write to a temp file, then rename.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore creates the store root if necessary.
func NewStore(root string) (*Store, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("mapping store root required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create mapping root: %w", err)
	}
	return &Store{root: trimmed}, nil
}

// Load reads the state for a topic. A missing or corrupt state file is
// treated as an empty store so the caller performs a full ingest; it is never
// a fatal error.
func (s *Store) Load(topic string) (*State, error) {
	path, err := s.topicFile(topic, "mapping.json")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			common.Logger().Warn("mapping: state unreadable, starting empty", "topic", topic, "error", err)
		}
		return NewState(), nil
	}
	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		common.Logger().Warn("mapping: state corrupt, starting empty", "topic", topic, "error", err)
		return NewState(), nil
	}
	if state.ProcessedBlocks == nil {
		state.ProcessedBlocks = make(map[string]int)
	}
	return state, nil
}

// Save persists the state atomically, refreshing the derived count and
// processed-doc fields first.
func (s *Store) Save(topic string, state *State) error {
	if state == nil {
		return errors.New("nil state")
	}
	state.EntityCount = state.LastEntityID
	state.RelationshipCount = state.LastRelationshipID
	names := make([]string, 0, len(state.Docs))
	for _, doc := range state.Docs {
		names = append(names, doc.Name)
	}
	state.ProcessedDocs = names
	path, err := s.topicFile(topic, "mapping.json")
	if err != nil {
		return err
	}
	return s.writeAtomic(path, state)
}

// SaveSnapshots writes the deduplicated, vector-free entity and relationship
// records for the topic.
func (s *Store) SaveSnapshots(topic string, entities []kb.Entity, relationships []kb.Relationship) error {
	entPath, err := s.topicFile(topic, "entities.json")
	if err != nil {
		return err
	}
	if err := s.writeAtomic(entPath, entities); err != nil {
		return err
	}
	relPath, err := s.topicFile(topic, "relationships.json")
	if err != nil {
		return err
	}
	return s.writeAtomic(relPath, relationships)
}

// LoadSnapshots reads back the previous run's vector-free records. Missing
// snapshots yield empty slices.
func (s *Store) LoadSnapshots(topic string) ([]kb.Entity, []kb.Relationship, error) {
	var entities []kb.Entity
	var relationships []kb.Relationship
	entPath, err := s.topicFile(topic, "entities.json")
	if err != nil {
		return nil, nil, err
	}
	if err := s.readJSON(entPath, &entities); err != nil {
		return nil, nil, err
	}
	relPath, err := s.topicFile(topic, "relationships.json")
	if err != nil {
		return nil, nil, err
	}
	if err := s.readJSON(relPath, &relationships); err != nil {
		return nil, nil, err
	}
	return entities, relationships, nil
}

// Topics lists the topic namespaces that have a state file on disk.
func (s *Store) Topics() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read mapping root: %w", err)
	}
	topics := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), "mapping.json")); err != nil {
			continue
		}
		topics = append(topics, entry.Name())
	}
	sort.Strings(topics)
	return topics, nil
}

func (s *Store) readJSON(path string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		common.Logger().Warn("mapping: snapshot corrupt, ignoring", "path", path, "error", err)
	}
	return nil
}

func (s *Store) writeAtomic(path string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mapping-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func (s *Store) topicFile(topic, name string) (string, error) {
	trimmed := strings.TrimSpace(topic)
	if trimmed == "" {
		return "", errors.New("topic required")
	}
	dir := filepath.Join(s.root, trimmed)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create topic dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}
