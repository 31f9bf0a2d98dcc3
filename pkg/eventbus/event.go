package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subjects published on the bus.
const (
	SubjectSyncCompleted = "konversi.sync.completed"
)

// Event types.
const (
	TypeSyncCompleted = "sync.completed"
)

// Event is the envelope for every message on the bus.
type Event struct {
	ID     uuid.UUID       `json:"id"`
	Type   string          `json:"type"`
	Source string          `json:"source"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewEvent wraps data in an Event from source.
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event data: %w", eventType, err)
	}
	return &Event{
		ID:     uuid.New(),
		Type:   eventType,
		Source: source,
		Time:   time.Now().UTC(),
		Data:   raw,
	}, nil
}

// SyncCompletedData is published after each background sync run.
type SyncCompletedData struct {
	Result      string    `json:"result"`
	Currencies  bool      `json:"currencies"`
	Rates       bool      `json:"rates"`
	CompletedAt time.Time `json:"completed_at"`
}
