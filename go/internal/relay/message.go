// Package relay carries fanout messages between processes: committed timer
// changes go out over JetStream so other instances can rebroadcast them, and
// schedule changes made outside this service arrive by Postgres NOTIFY.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/models"
)

const (
	// HeaderOrigin names the instance that published a message.
	HeaderOrigin = "Showclock-Origin"
	// HeaderType carries the message type so consumers can filter cheaply.
	HeaderType = "Showclock-Type"
)

// Sink receives relayed messages, normally the local fanout.
type Sink interface {
	Publish(eventID uuid.UUID, messageType models.MessageType, payload any)
}

// Message is the relay wire format.
type Message struct {
	ID        uuid.UUID          `json:"id"`
	Origin    string             `json:"origin"`
	Type      models.MessageType `json:"type"`
	EventID   uuid.UUID          `json:"eventId"`
	Data      json.RawMessage    `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

func (m Message) validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.EventID == uuid.Nil {
		return fmt.Errorf("message %s has no event id", m.ID)
	}
	return nil
}

// Subject returns the JetStream subject for one event's message type.
func Subject(prefix string, eventID uuid.UUID, messageType models.MessageType) string {
	return fmt.Sprintf("%s.%s.%s", prefix, eventID, messageType)
}
