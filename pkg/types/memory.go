package types

import (
	"fmt"
	"time"
)

// Payload field names written with every record. The owner and session
// fields are the ones that receive payload indexes.
const (
	FieldOwnerID   = "ownerId"
	FieldSessionID = "sessionId"
	FieldCategory  = "category"
	FieldText      = "text"
	FieldCreatedAt = "createdAt"
)

// IndexedFields lists the payload fields every namespace indexes.
var IndexedFields = []string{FieldOwnerID, FieldSessionID}

// MemoryRecord is a single stored fact about a user's session.
// Records are immutable once written.
type MemoryRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	OwnerID   string    `json:"owner_id"`
	SessionID string    `json:"session_id"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredMemory is a record returned by semantic search with its similarity score.
type ScoredMemory struct {
	MemoryRecord
	Score float32 `json:"score"`
}

// NewMemoryRecord creates a memory-category record for the scope.
func NewMemoryRecord(id string, scope MemoryScope, text string, createdAt time.Time) MemoryRecord {
	return MemoryRecord{
		ID:        id,
		Text:      text,
		OwnerID:   scope.OwnerID,
		SessionID: scope.SessionID,
		Category:  CategoryMemory,
		CreatedAt: createdAt.UTC(),
	}
}

// Scope returns the scope the record belongs to.
func (r MemoryRecord) Scope() MemoryScope {
	return MemoryScope{OwnerID: r.OwnerID, SessionID: r.SessionID}
}

// Payload returns the vector store payload for the record.
func (r MemoryRecord) Payload() map[string]any {
	return map[string]any{
		FieldOwnerID:   r.OwnerID,
		FieldSessionID: r.SessionID,
		FieldCategory:  string(r.Category),
		FieldText:      r.Text,
		FieldCreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ScopeFilter returns the keyword filter restricting a query to the scope.
func (s MemoryScope) ScopeFilter() map[string]string {
	return map[string]string{
		FieldOwnerID:   s.OwnerID,
		FieldSessionID: s.SessionID,
	}
}

// RecordFromPayload rebuilds a record from a stored payload.
// Missing optional fields are left zero; a missing text field is an error.
func RecordFromPayload(id string, payload map[string]any) (MemoryRecord, error) {
	text, ok := payload[FieldText].(string)
	if !ok {
		return MemoryRecord{}, fmt.Errorf("record %s: payload has no %q field", id, FieldText)
	}

	rec := MemoryRecord{
		ID:   id,
		Text: text,
	}
	rec.OwnerID, _ = payload[FieldOwnerID].(string)
	rec.SessionID, _ = payload[FieldSessionID].(string)

	if c, ok := payload[FieldCategory].(string); ok && c != "" {
		rec.Category = Category(c)
	} else {
		rec.Category = CategoryMemory
	}

	if ts, ok := payload[FieldCreatedAt].(string); ok && ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return MemoryRecord{}, fmt.Errorf("record %s: invalid %s: %w", id, FieldCreatedAt, err)
		}
		rec.CreatedAt = parsed
	}

	return rec, nil
}
