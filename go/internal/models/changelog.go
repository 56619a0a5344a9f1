package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeAction defines the kind of audited change.
type ChangeAction string

const (
	ChangeActionCreate    ChangeAction = "CREATE"
	ChangeActionUpdate    ChangeAction = "UPDATE"
	ChangeActionDelete    ChangeAction = "DELETE"
	ChangeActionMove      ChangeAction = "MOVE"
	ChangeActionDuplicate ChangeAction = "DUPLICATE"
)

// Valid reports whether a is a known change action.
func (a ChangeAction) Valid() bool {
	switch a {
	case ChangeActionCreate, ChangeActionUpdate, ChangeActionDelete, ChangeActionMove, ChangeActionDuplicate:
		return true
	}
	return false
}

// ChangeLogEntry is an immutable audit record of one committed mutation.
// ID is the entry identity readers use to drop duplicates.
type ChangeLogEntry struct {
	ID           uuid.UUID       `json:"id"`
	EventID      uuid.UUID       `json:"event_id"`
	ActorID      string          `json:"user_id"`
	ActorName    string          `json:"user_name"`
	ActorRole    string          `json:"user_role"`
	Action       ChangeAction    `json:"action"`
	SubjectTable string          `json:"table_name"`
	SubjectID    string          `json:"record_id"`
	FieldName    string          `json:"field_name,omitempty"`
	OldValue     json.RawMessage `json:"old_value,omitempty"`
	NewValue     json.RawMessage `json:"new_value,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	BatchID      *uuid.UUID      `json:"batch_id,omitempty"`
}
