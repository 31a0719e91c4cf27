// File path: internal/vector/records.go
package vector

import (
	"strconv"
	"strings"

	"github.com/skyreach/opinioncore/internal/kb"
)

// Payload keys shared by the writers in ingest and the readers in retrieval.
// Chroma metadata values are kept scalar, so ID lists are comma-joined.
const (
	FieldDocID       = "doc_id"
	FieldDocName     = "doc_name"
	FieldTimeLabel   = "time_label"
	FieldName        = "name"
	FieldType        = "type"
	FieldDescription = "description"
	FieldSource      = "source"
	FieldTarget      = "target"
	FieldSourceID    = "source_id"
	FieldTargetID    = "target_id"
	FieldTag         = "tag"
	FieldTextIDs     = "text_ids"
	FieldDocIDs      = "doc_ids"
	FieldEntityIDs   = "entity_ids"
	FieldRelIDs      = "relationship_ids"
)

// EntityRecord encodes an entity row for one of the two entity collections.
// The name and description collections share IDs and payloads; only the Text
// and the vector differ.
func EntityRecord(ent kb.Entity, text, timeLabel string, vec []float32) Record {
	return Record{
		ID:     strconv.Itoa(ent.EntityID),
		Text:   text,
		Vector: vec,
		Payload: map[string]interface{}{
			FieldDocID:       ent.DocID,
			FieldDocName:     ent.DocName,
			FieldTimeLabel:   timeLabel,
			FieldName:        ent.Name,
			FieldType:        ent.Type,
			FieldDescription: ent.Description,
			FieldTextIDs:     joinInts(ent.TextIDs),
			FieldDocIDs:      strings.Join(ent.DocIDs, ","),
		},
	}
}

// DecodeEntity rebuilds an entity row from a stored record.
func DecodeEntity(rec Record) kb.Entity {
	id, _ := strconv.Atoi(rec.ID)
	return kb.Entity{
		EntityID:    id,
		DocID:       payloadString(rec.Payload, FieldDocID),
		DocName:     payloadString(rec.Payload, FieldDocName),
		Name:        payloadString(rec.Payload, FieldName),
		Type:        payloadString(rec.Payload, FieldType),
		Description: payloadString(rec.Payload, FieldDescription),
		TextIDs:     splitInts(payloadString(rec.Payload, FieldTextIDs)),
		DocIDs:      splitStrings(payloadString(rec.Payload, FieldDocIDs)),
	}
}

// RelationshipRecord encodes a relationship row; the vector is over the edge
// description.
func RelationshipRecord(rel kb.Relationship, timeLabel string, vec []float32) Record {
	return Record{
		ID:     strconv.Itoa(rel.RelationshipID),
		Text:   rel.Description,
		Vector: vec,
		Payload: map[string]interface{}{
			FieldDocID:       rel.DocID,
			FieldDocName:     rel.DocName,
			FieldTimeLabel:   timeLabel,
			FieldSource:      rel.Source,
			FieldTarget:      rel.Target,
			FieldSourceID:    strconv.Itoa(rel.SourceID),
			FieldTargetID:    strconv.Itoa(rel.TargetID),
			FieldDescription: rel.Description,
			FieldTextIDs:     joinInts(rel.TextIDs),
			FieldDocIDs:      strings.Join(rel.DocIDs, ","),
		},
	}
}

// DecodeRelationship rebuilds a relationship row from a stored record.
func DecodeRelationship(rec Record) kb.Relationship {
	id, _ := strconv.Atoi(rec.ID)
	srcID, _ := strconv.Atoi(payloadString(rec.Payload, FieldSourceID))
	dstID, _ := strconv.Atoi(payloadString(rec.Payload, FieldTargetID))
	return kb.Relationship{
		RelationshipID: id,
		DocID:          payloadString(rec.Payload, FieldDocID),
		DocName:        payloadString(rec.Payload, FieldDocName),
		SourceID:       srcID,
		TargetID:       dstID,
		Source:         payloadString(rec.Payload, FieldSource),
		Target:         payloadString(rec.Payload, FieldTarget),
		Description:    payloadString(rec.Payload, FieldDescription),
		TextIDs:        splitInts(payloadString(rec.Payload, FieldTextIDs)),
		DocIDs:         splitStrings(payloadString(rec.Payload, FieldDocIDs)),
	}
}

// SentenceRecord encodes a sentence row; the vector is over the sentence
// text. The document name and time label ride along so sentence hits can be
// filtered without a second lookup.
func SentenceRecord(sent kb.Sentence, docName, timeLabel string, vec []float32) Record {
	return Record{
		ID:     strconv.Itoa(sent.SentenceID),
		Text:   sent.Text,
		Vector: vec,
		Payload: map[string]interface{}{
			FieldDocID:     sent.DocID,
			FieldDocName:   docName,
			FieldTimeLabel: timeLabel,
		},
	}
}

// BlockRecord encodes a text block. The vector is over the generated tag so
// that tag search matches themes rather than raw content; Text keeps the full
// block content for the reader.
func BlockRecord(block kb.TextBlock, docName, timeLabel string, vec []float32) Record {
	return Record{
		ID:     strconv.Itoa(block.TextID),
		Text:   block.Content,
		Vector: vec,
		Payload: map[string]interface{}{
			FieldDocID:     block.DocID,
			FieldDocName:   docName,
			FieldTimeLabel: timeLabel,
			FieldTag:       block.Tag,
			FieldEntityIDs: joinInts(block.EntityIDs),
			FieldRelIDs:    joinInts(block.RelationshipIDs),
		},
	}
}

// DecodeBlock rebuilds a text block from a stored record.
func DecodeBlock(rec Record) kb.TextBlock {
	id, _ := strconv.Atoi(rec.ID)
	return kb.TextBlock{
		TextID:          id,
		DocID:           payloadString(rec.Payload, FieldDocID),
		Content:         rec.Text,
		Tag:             payloadString(rec.Payload, FieldTag),
		EntityIDs:       splitInts(payloadString(rec.Payload, FieldEntityIDs)),
		RelationshipIDs: splitInts(payloadString(rec.Payload, FieldRelIDs)),
	}
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func joinInts(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}

func splitInts(joined string) []int {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		if id, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func splitStrings(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
