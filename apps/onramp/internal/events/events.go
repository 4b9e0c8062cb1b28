package events

import (
	"encoding/json"
	"time"
)

// OrderEvent is the Kafka message published for every order lifecycle
// change recorded in the outbox.
type OrderEvent struct {
	EventID       int64           `json:"event_id"`
	EventType     string          `json:"event_type"`
	Reference     string          `json:"reference"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	EventData     json.RawMessage `json:"event_data"`
	CreatedAt     time.Time       `json:"created_at"`
	Timestamp     time.Time       `json:"timestamp"`
}

// OrderEventData is the payload stored in the outbox event blob.
type OrderEventData struct {
	Status         string `json:"status"`
	Token          string `json:"token,omitempty"`
	Amount         string `json:"amount,omitempty"`
	CreditedAmount string `json:"credited_amount,omitempty"`
	TxSignature    string `json:"tx_signature,omitempty"`
	Detail         string `json:"detail,omitempty"`
}
