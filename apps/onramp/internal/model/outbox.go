package model

import (
	"encoding/json"
	"time"
)

const (
	EventOrderSettled  = "order_settled"
	EventOrderFailed   = "order_failed"
	EventOrderExpired  = "order_expired"
	EventOrderCanceled = "order_cancelled"
	// EventSettlementDeferred marks a success callback that left the order
	// pending after a retryable error.
	EventSettlementDeferred = "settlement_deferred"
)

type OutboxEvent struct {
	EventID       int64           `db:"event_id"`
	Reference     string          `db:"reference"`
	EventType     string          `db:"event_type"`
	Status        string          `db:"status"`
	WalletAddress string          `db:"wallet_address"`
	EventBlob     json.RawMessage `db:"event_blob"`
	CreatedAt     time.Time       `db:"created_at"`
}
