package repository

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
	"onramp/apps/onramp/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// GetUnsentEventsForProcessing locks up to limit unsent events and marks
// them processing so concurrent publishers skip them.
func (o *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, reference, event_type, status, wallet_address, event_blob, created_at
		FROM order_event_outbox
		WHERE status = 'unsent'
		ORDER BY event_id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var wallet sql.NullString
		if err := rows.Scan(&event.EventID, &event.Reference, &event.EventType, &event.Status,
			&wallet, &event.EventBlob, &event.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		event.WalletAddress = wallet.String
		events = append(events, event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, event := range events {
		_, err = tx.ExecContext(ctx, `
			UPDATE order_event_outbox
			SET status = 'processing'
			WHERE event_id = $1 AND status = 'unsent'
		`, event.EventID)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (o *OutboxRepository) MarkEventAsSent(ctx context.Context, eventID int64) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE order_event_outbox
		SET status = 'sent'
		WHERE event_id = $1
	`, eventID)
	return err
}

// MarkEventAsFailed puts a processing event back in the unsent queue.
func (o *OutboxRepository) MarkEventAsFailed(ctx context.Context, eventID int64) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE order_event_outbox
		SET status = 'unsent'
		WHERE event_id = $1 AND status = 'processing'
	`, eventID)
	return err
}

// ResetStuckEvents returns events left in processing by a crashed
// publisher to unsent.
func (o *OutboxRepository) ResetStuckEvents(ctx context.Context) (int64, error) {
	res, err := o.db.ExecContext(ctx, `
		UPDATE order_event_outbox
		SET status = 'unsent'
		WHERE status = 'processing'
	`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Info("Reset stuck outbox events", zap.Int64("count", n))
	}
	return n, nil
}
