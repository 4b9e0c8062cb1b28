package sweeper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/model"
)

type memStore struct {
	mu     sync.Mutex
	orders map[string]*model.Order
	err    error
	calls  int
}

func (m *memStore) ExpirePendingOrders(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var refs []string
	for ref, order := range m.orders {
		if len(refs) == limit {
			break
		}
		if order.Status == model.StatusPending && order.ExpiresAt.Before(now) {
			order.Status = model.StatusFailed
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (m *memStore) ReleaseStaleClaims(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []string
	for ref, order := range m.orders {
		if order.Status == model.StatusProcessing && order.ClaimedAt != nil && order.ClaimedAt.Before(cutoff) {
			order.Status = model.StatusPending
			order.ClaimedAt = nil
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

type countRecorder map[string]int

func (c countRecorder) Swept(action string, count int) { c[action] += count }

func TestSweepExpiresOnlyPendingPastExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	longAgo := now.Add(-time.Hour)
	recent := now.Add(-time.Second)

	store := &memStore{orders: map[string]*model.Order{
		"expired":      {Status: model.StatusPending, ExpiresAt: past},
		"fresh":        {Status: model.StatusPending, ExpiresAt: future},
		"success":      {Status: model.StatusSuccess, ExpiresAt: past},
		"failed":       {Status: model.StatusFailed, ExpiresAt: past},
		"cancelled":    {Status: model.StatusCancelled, ExpiresAt: past},
		"stale-claim":  {Status: model.StatusProcessing, ExpiresAt: past, ClaimedAt: &longAgo},
		"active-claim": {Status: model.StatusProcessing, ExpiresAt: past, ClaimedAt: &recent},
	}}
	metrics := countRecorder{}

	s := NewSweeper(store, time.Minute, 10*time.Minute, metrics, zap.NewNop())
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"expired"}, report.Expired)
	assert.Equal(t, []string{"stale-claim"}, report.Released)

	assert.Equal(t, model.StatusFailed, store.orders["expired"].Status)
	assert.Equal(t, model.StatusPending, store.orders["fresh"].Status)
	assert.Equal(t, model.StatusSuccess, store.orders["success"].Status)
	assert.Equal(t, model.StatusCancelled, store.orders["cancelled"].Status)
	assert.Equal(t, model.StatusPending, store.orders["stale-claim"].Status)
	assert.Equal(t, model.StatusProcessing, store.orders["active-claim"].Status)
	assert.Equal(t, 1, metrics["expired"])
	assert.Equal(t, 1, metrics["released"])
}

func TestSweepDrainsInBatches(t *testing.T) {
	now := time.Now()
	store := &memStore{orders: map[string]*model.Order{}}
	for _, ref := range []string{"a", "b", "c", "d", "e"} {
		store.orders[ref] = &model.Order{Status: model.StatusPending, ExpiresAt: now.Add(-time.Minute)}
	}

	s := NewSweeper(store, time.Minute, 0, nil, zap.NewNop())
	s.batchSize = 2

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	sort.Strings(report.Expired)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, report.Expired)
	assert.Equal(t, 3, store.calls)
	assert.Empty(t, report.Released)
}

func TestSweepError(t *testing.T) {
	store := &memStore{orders: map[string]*model.Order{}, err: errors.New("db down")}
	s := NewSweeper(store, time.Minute, time.Minute, nil, zap.NewNop())

	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestStartStopsOnCancel(t *testing.T) {
	store := &memStore{orders: map[string]*model.Order{
		"expired": {Status: model.StatusPending, ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	s := NewSweeper(store, 5*time.Millisecond, time.Minute, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.orders["expired"].Status == model.StatusFailed
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
