package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusSuccess    OrderStatus = "success"
	StatusFailed     OrderStatus = "failed"
	StatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

type Order struct {
	OrderID                 string           `db:"order_id"`
	Reference               string           `db:"reference"`
	Provider                string           `db:"provider"`
	Amount                  decimal.Decimal  `db:"amount"`
	Currency                string           `db:"currency"`
	Token                   string           `db:"token"`
	Status                  OrderStatus      `db:"status"`
	CheckoutURL             string           `db:"checkout_url"`
	WalletAddress           *string          `db:"wallet_address"`  // nullable until resolved
	PasskeyData             json.RawMessage  `db:"passkey_data"`    // opaque client capability blob
	LineItems               json.RawMessage  `db:"line_items"`      // nullable
	TxSignature             *string          `db:"tx_signature"`    // nullable
	CreditedAmount          *decimal.Decimal `db:"credited_amount"` // set iff status = success
	DisbursementSignature   *string          `db:"disbursement_signature"`
	DisbursementAttemptedAt *time.Time       `db:"disbursement_attempted_at"`
	ClaimedAt               *time.Time       `db:"claimed_at"`
	ClaimID                 *string          `db:"claim_id"` // owner of the processing claim
	ExpiresAt               time.Time        `db:"expires_at"`
	CreatedAt               time.Time        `db:"created_at"`
	UpdatedAt               time.Time        `db:"updated_at"`
}

// Wallet returns the resolved wallet address or "".
func (o *Order) Wallet() string {
	if o.WalletAddress == nil {
		return ""
	}
	return *o.WalletAddress
}
