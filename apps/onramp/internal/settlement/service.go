package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/assets"
	"onramp/apps/onramp/internal/balance"
	"onramp/apps/onramp/internal/chain"
	"onramp/apps/onramp/internal/disburse"
	"onramp/apps/onramp/internal/gateway"
	"onramp/apps/onramp/internal/model"
	"onramp/apps/onramp/internal/passkey"
	"onramp/apps/onramp/internal/wallet"
)

// OrderStore is the order ledger. Transition methods report whether the
// conditional update matched. Writes made while an order is processing
// carry the claimID returned with the claim, so an attempt whose claim was
// swept cannot touch the order again.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrderByReference(ctx context.Context, reference string) (*model.Order, error)
	ListOrdersByWallet(ctx context.Context, walletAddress string) ([]model.Order, error)
	ClaimOrder(ctx context.Context, reference, claimID string, now time.Time) (*model.Order, error)
	ReleaseClaim(ctx context.Context, reference, claimID, detail string, deferred bool) (bool, error)
	SetWalletAddress(ctx context.Context, reference, walletAddress string) error
	RecordDisbursementAttempt(ctx context.Context, reference, claimID, signature string, attemptedAt time.Time) error
	ClearDisbursementAttempt(ctx context.Context, reference, claimID string) error
	CompleteOrder(ctx context.Context, reference, claimID string, creditedAmount decimal.Decimal, txSignature string) (bool, error)
	TransitionFromPending(ctx context.Context, reference string, to model.OrderStatus) (bool, error)
}

type WalletProvisioner interface {
	ResolveAddress(c *passkey.Capability) (solana.PublicKey, error)
	EnsureWallet(ctx context.Context, wallet solana.PublicKey, c *passkey.Capability) (*wallet.Result, error)
}

type TokenDisburser interface {
	Transfer(ctx context.Context, wallet solana.PublicKey, amount decimal.Decimal) (*disburse.Result, error)
}

// SignatureStatusReader looks up a previously submitted transaction.
type SignatureStatusReader interface {
	SignatureStatus(ctx context.Context, sig solana.Signature) (chain.SignatureStatus, error)
}

type Recorder interface {
	OrderCreated(token string)
	ObserveSettlement(outcome string, elapsed time.Duration)
	Transition(status string)
}

type Config struct {
	Provider    string
	OrderExpiry time.Duration
	// DisbursementEnabled turns on the token transfer step. Tokens without
	// a disburser are credited without a transfer.
	DisbursementEnabled bool
	// BlockhashValidity bounds how long an unconfirmed transfer can still
	// land on chain.
	BlockhashValidity time.Duration
	// AttemptTimeout bounds the chain work of one settlement attempt. It
	// must be shorter than the claim TTL so an attempt gives up before the
	// sweeper can hand its claim to another one. Zero means no bound.
	AttemptTimeout time.Duration
	// ReleaseTimeout bounds claim releases that run after the request
	// context is gone.
	ReleaseTimeout time.Duration
}

type Dependencies struct {
	Store       OrderStore
	Provisioner WalletProvisioner
	// Disbursers is keyed by upper-case token symbol.
	Disbursers map[string]TokenDisburser
	Signatures SignatureStatusReader
	Gateway    gateway.Client
	Assets     *assets.AssetRegistry
	Metrics    Recorder
}

type Service struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 10 * time.Second
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

type CreateOrderRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Token       string
	LineItems   json.RawMessage
	PasskeyData json.RawMessage
}

// CreateOrder opens a checkout session and records a pending order. Nothing
// is stored when the gateway call fails.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", apperr.ErrValidation)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", apperr.ErrValidation)
	}
	asset, ok := s.deps.Assets.GetBySymbol(req.Token)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported token %q, supported: %s", apperr.ErrValidation, req.Token, strings.Join(s.deps.Assets.GetSupportedSymbols(), ", "))
	}
	if len(req.PasskeyData) == 0 || string(req.PasskeyData) == "null" {
		return nil, fmt.Errorf("%w: passkey_data is required", apperr.ErrValidation)
	}
	if _, err := passkey.ParseCapability(req.PasskeyData); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	reference := uuid.New().String()
	checkout, err := s.deps.Gateway.CreateCheckout(ctx, &gateway.CheckoutRequest{
		Reference: reference,
		Amount:    req.Amount.String(),
		Currency:  currency,
		Token:     asset.Symbol,
		LineItems: req.LineItems,
	})
	if err != nil {
		return nil, err
	}

	provider := checkout.Provider
	if provider == "" {
		provider = s.cfg.Provider
	}

	now := s.now().UTC()
	order := &model.Order{
		OrderID:     uuid.New().String(),
		Reference:   reference,
		Provider:    provider,
		Amount:      req.Amount,
		Currency:    currency,
		Token:       asset.Symbol,
		Status:      model.StatusPending,
		CheckoutURL: checkout.URL,
		PasskeyData: req.PasskeyData,
		LineItems:   req.LineItems,
		ExpiresAt:   now.Add(s.cfg.OrderExpiry),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.deps.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	s.deps.Metrics.OrderCreated(order.Token)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, reference string) (*model.Order, error) {
	order, err := s.deps.Store.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, reference)
	}
	return order, nil
}

// Balance derives a wallet's per-token credit from its successful orders.
func (s *Service) Balance(ctx context.Context, walletAddress string) (*balance.WalletBalance, error) {
	if _, err := solana.PublicKeyFromBase58(walletAddress); err != nil {
		return nil, fmt.Errorf("%w: invalid wallet address %q", apperr.ErrValidation, walletAddress)
	}

	orders, err := s.deps.Store.ListOrdersByWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	return balance.Aggregate(walletAddress, orders), nil
}

// HandleFailure marks a pending order failed. Repeating it is a no-op.
func (s *Service) HandleFailure(ctx context.Context, reference string) error {
	return s.failPending(ctx, reference, model.StatusFailed)
}

// Cancel marks a pending order cancelled. Repeating it is a no-op.
func (s *Service) Cancel(ctx context.Context, reference string) error {
	return s.failPending(ctx, reference, model.StatusCancelled)
}

func (s *Service) failPending(ctx context.Context, reference string, to model.OrderStatus) error {
	order, err := s.GetOrder(ctx, reference)
	if err != nil {
		return err
	}
	if order.Status == to {
		return nil
	}
	if order.Status != model.StatusPending {
		return fmt.Errorf("%w: order %s is %s", apperr.ErrConflict, reference, order.Status)
	}

	moved, err := s.deps.Store.TransitionFromPending(ctx, reference, to)
	if err != nil {
		return err
	}
	if !moved {
		// Lost a race with settlement or the sweep.
		current, err := s.GetOrder(ctx, reference)
		if err != nil {
			return err
		}
		if current.Status == to {
			return nil
		}
		return fmt.Errorf("%w: order %s is %s", apperr.ErrConflict, reference, current.Status)
	}

	s.deps.Metrics.Transition(string(to))
	s.logger.Info("Order closed without settlement",
		zap.String("reference", reference),
		zap.String("status", string(to)))
	return nil
}

type nopRecorder struct{}

func (nopRecorder) OrderCreated(string)                     {}
func (nopRecorder) ObserveSettlement(string, time.Duration) {}
func (nopRecorder) Transition(string)                       {}
