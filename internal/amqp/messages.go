package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names the ledger change a message announces.
type EventType string

const (
	EventCreated EventType = "transaction.created"
	EventUpdated EventType = "transaction.updated"
	EventDeleted EventType = "transaction.deleted"
)

// TransactionEvent is a lightweight change notification. Consumers re-read
// the user's ledger instead of trusting a payload, so redelivery is harmless.
type TransactionEvent struct {
	MessageID     string    `json:"message_id"`
	Type          EventType `json:"type"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionEvent(t EventType, userID, transactionID string) TransactionEvent {
	return TransactionEvent{
		MessageID:     uuid.NewString(),
		Type:          t,
		UserID:        userID,
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
	}
}

func (e TransactionEvent) Validate() error {
	switch e.Type {
	case EventCreated, EventUpdated, EventDeleted:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.UserID == "" {
		return fmt.Errorf("event %s has no user id", e.MessageID)
	}
	return nil
}

func (e TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes and validates a message body.
func TransactionEventFromJSON(data []byte) (TransactionEvent, error) {
	var ev TransactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return TransactionEvent{}, err
	}
	if err := ev.Validate(); err != nil {
		return TransactionEvent{}, err
	}
	return ev, nil
}
