package amqp

import (
	"encoding/json"
	"time"

	"piggybank/internal/core"
)

// EventMessage is the wire form of a core.Event.
type EventMessage struct {
	core.Event
	PublishedAt time.Time `json:"publishedAt"`
}

func NewEventMessage(ev core.Event) *EventMessage {
	return &EventMessage{Event: ev, PublishedAt: time.Now().UTC()}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
