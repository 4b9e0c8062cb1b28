package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultBatchSize = 100

type Store interface {
	ExpirePendingOrders(ctx context.Context, now time.Time, limit int) ([]string, error)
	ReleaseStaleClaims(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Recorder interface {
	Swept(action string, count int)
}

// Report is the result of one sweep.
type Report struct {
	Expired  []string
	Released []string
}

// Sweeper periodically fails pending orders past their expiry and returns
// abandoned settlement claims to pending.
type Sweeper struct {
	store     Store
	period    time.Duration
	claimTTL  time.Duration
	batchSize int
	metrics   Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(store Store, period, claimTTL time.Duration, metrics Recorder, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		period:    period,
		claimTTL:  claimTTL,
		batchSize: defaultBatchSize,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Start sweeps every period until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.logger.Info("Starting expiry sweeper",
		zap.Duration("period", s.period),
		zap.Duration("claim_ttl", s.claimTTL))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Error sweeping orders", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass. Expiry is drained in batches; claims older than the
// claim TTL are released, never failed, since their outcome is unknown.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	now := s.now().UTC()
	report := &Report{}

	for {
		expired, err := s.store.ExpirePendingOrders(ctx, now, s.batchSize)
		if err != nil {
			return report, err
		}
		report.Expired = append(report.Expired, expired...)
		if len(expired) < s.batchSize {
			break
		}
	}

	if s.claimTTL > 0 {
		released, err := s.store.ReleaseStaleClaims(ctx, now.Add(-s.claimTTL))
		if err != nil {
			return report, err
		}
		report.Released = released
	}

	if s.metrics != nil {
		s.metrics.Swept("expired", len(report.Expired))
		s.metrics.Swept("released", len(report.Released))
	}

	if len(report.Expired) > 0 || len(report.Released) > 0 {
		s.logger.Info("Swept orders",
			zap.Int("expired", len(report.Expired)),
			zap.Int("released", len(report.Released)),
			zap.Strings("released_references", report.Released))
	}

	return report, nil
}
