package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderRequest is the body of POST /api/orders
type CreateOrderRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Token       string          `json:"token"`
	LineItems   json.RawMessage `json:"line_items,omitempty"`
	PasskeyData json.RawMessage `json:"passkey_data"`
}

// CreateOrderResponse is returned once the checkout session exists
type CreateOrderResponse struct {
	OrderID     string `json:"order_id"`
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
}

// CallbackRequest is the body of the gateway success and failure callbacks.
// WalletAddress is accepted but never trusted.
type CallbackRequest struct {
	Reference     string `json:"reference"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// SettlementResponse reports the outcome of a success callback
type SettlementResponse struct {
	OK             bool    `json:"ok"`
	Outcome        string  `json:"outcome"`
	Reference      string  `json:"reference"`
	Status         string  `json:"status"`
	WalletAddress  string  `json:"wallet_address,omitempty"`
	TxSignature    string  `json:"tx_signature,omitempty"`
	CreditedAmount *string `json:"credited_amount,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// OKResponse acknowledges callbacks that carry no data
type OKResponse struct {
	OK bool `json:"ok"`
}

// OrderResponse represents the API response for order information
type OrderResponse struct {
	OrderID        string          `json:"order_id"`
	Reference      string          `json:"reference"`
	Provider       string          `json:"provider"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency"`
	Token          string          `json:"token"`
	Status         string          `json:"status"`
	CheckoutURL    string          `json:"checkout_url"`
	WalletAddress  *string         `json:"wallet_address"`
	TxSignature    *string         `json:"tx_signature,omitempty"`
	CreditedAmount *string         `json:"credited_amount,omitempty"`
	LineItems      json.RawMessage `json:"line_items,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// BalanceResponse represents the API response for wallet balance information
type BalanceResponse struct {
	WalletAddress string            `json:"wallet_address"`
	Balances      map[string]string `json:"balances"`
	TotalOrders   int               `json:"total_orders"`
}

// InfoResponse describes the settlement deployment
type InfoResponse struct {
	Network             string   `json:"network"`
	TokenSymbol         string   `json:"token_symbol"`
	TokenMint           string   `json:"token_mint,omitempty"`
	Decimals            *uint8   `json:"decimals,omitempty"`
	AdminAddress        string   `json:"admin_address,omitempty"`
	AdminLamports       *uint64  `json:"admin_lamports,omitempty"`
	DisbursementEnabled bool     `json:"disbursement_enabled"`
	SupportedTokens     []string `json:"supported_tokens"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
