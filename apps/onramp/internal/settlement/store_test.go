package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/model"
)

// memStore mirrors the conditional updates of the Postgres repository.
type memStore struct {
	mu     sync.Mutex
	orders map[string]*model.Order
	events []string

	// loseClaim makes ClaimOrder report a concurrent winner.
	loseClaim bool
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*model.Order)}
}

func (m *memStore) CreateOrder(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.Reference]; exists {
		return fmt.Errorf("%w: duplicate reference", apperr.ErrConflict)
	}
	stored := *order
	m.orders[order.Reference] = &stored
	return nil
}

func (m *memStore) GetOrderByReference(_ context.Context, reference string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[reference]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (m *memStore) ListOrdersByWallet(_ context.Context, walletAddress string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []model.Order
	for _, order := range m.orders {
		if order.Wallet() == walletAddress {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

// holds reports whether claimID owns the processing claim. Callers hold mu.
func (m *memStore) holds(reference, claimID string) (*model.Order, bool) {
	order, ok := m.orders[reference]
	if !ok || order.Status != model.StatusProcessing || order.ClaimID == nil || *order.ClaimID != claimID {
		return nil, false
	}
	return order, true
}

func (m *memStore) ClaimOrder(_ context.Context, reference, claimID string, now time.Time) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[reference]
	if !ok || order.Status != model.StatusPending || m.loseClaim {
		return nil, nil
	}
	order.Status = model.StatusProcessing
	order.ClaimedAt = &now
	order.ClaimID = &claimID
	copied := *order
	return &copied, nil
}

func (m *memStore) ReleaseClaim(_ context.Context, reference, claimID, _ string, deferred bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.holds(reference, claimID)
	if !ok {
		return false, nil
	}
	order.Status = model.StatusPending
	order.ClaimedAt = nil
	order.ClaimID = nil
	if deferred {
		m.events = append(m.events, model.EventSettlementDeferred)
	}
	return true, nil
}

func (m *memStore) SetWalletAddress(_ context.Context, reference, walletAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[reference]; ok {
		order.WalletAddress = &walletAddress
	}
	return nil
}

func (m *memStore) RecordDisbursementAttempt(_ context.Context, reference, claimID, signature string, attemptedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.holds(reference, claimID)
	if !ok {
		return fmt.Errorf("%w: order %s is no longer held by this settlement attempt", apperr.ErrConflict, reference)
	}
	order.DisbursementSignature = &signature
	order.DisbursementAttemptedAt = &attemptedAt
	return nil
}

func (m *memStore) ClearDisbursementAttempt(_ context.Context, reference, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.holds(reference, claimID)
	if !ok {
		return fmt.Errorf("%w: order %s is no longer held by this settlement attempt", apperr.ErrConflict, reference)
	}
	order.DisbursementSignature = nil
	order.DisbursementAttemptedAt = nil
	return nil
}

func (m *memStore) CompleteOrder(_ context.Context, reference, claimID string, creditedAmount decimal.Decimal, txSignature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.holds(reference, claimID)
	if !ok {
		return false, nil
	}
	order.Status = model.StatusSuccess
	order.CreditedAmount = &creditedAmount
	if txSignature != "" {
		order.TxSignature = &txSignature
	}
	order.DisbursementSignature = nil
	order.DisbursementAttemptedAt = nil
	order.ClaimedAt = nil
	order.ClaimID = nil
	m.events = append(m.events, model.EventOrderSettled)
	return true, nil
}

func (m *memStore) TransitionFromPending(_ context.Context, reference string, to model.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[reference]
	if !ok || order.Status != model.StatusPending {
		return false, nil
	}
	order.Status = to
	m.events = append(m.events, "order_"+string(to))
	return true, nil
}

// releaseStale returns a processing order to pending the way the sweeper
// does for an expired claim.
func (m *memStore) releaseStale(reference string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[reference]
	if !ok || order.Status != model.StatusProcessing {
		return false
	}
	order.Status = model.StatusPending
	order.ClaimedAt = nil
	order.ClaimID = nil
	return true
}

func (m *memStore) setStatus(reference string, status model.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[reference].Status = status
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}
