package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// Broker publishes JSON messages to named topics and streams raw payloads back
// to subscribers.
type Broker interface {
	Publish(ctx context.Context, topic string, message interface{}) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope every published ledger event travels in. ID is
// stable across redeliveries so consumers can drop duplicates.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unmarshals a payload received from Subscribe.
func Decode(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}
