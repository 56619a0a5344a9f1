package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType names a fanout message kind. Surfaces switch on it.
type MessageType string

const (
	MessageTimerUpdated         MessageType = "timerUpdated"
	MessageSubCueTimerUpdated   MessageType = "subCueTimerUpdated"
	MessageCompletedCuesUpdated MessageType = "completedCuesUpdated"
	MessageRunOfShowDataUpdated MessageType = "runOfShowDataUpdated"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTimerUpdated, MessageSubCueTimerUpdated, MessageCompletedCuesUpdated, MessageRunOfShowDataUpdated:
		return true
	}
	return false
}

// Envelope is the wire shape of every message pushed to a surface.
type Envelope struct {
	Type      MessageType     `json:"type"`
	EventID   uuid.UUID       `json:"eventId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}
