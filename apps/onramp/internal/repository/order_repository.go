package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/events"
	"onramp/apps/onramp/internal/model"
)

const orderColumns = `order_id, reference, provider, amount, currency, token, status, checkout_url,
	wallet_address, passkey_data, line_items, tx_signature, credited_amount,
	disbursement_signature, disbursement_attempted_at, claimed_at, claim_id, expires_at, created_at, updated_at`

const uniqueViolation = "23505"

type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		order                  model.Order
		passkeyData, lineItems []byte
	)
	err := row.Scan(&order.OrderID, &order.Reference, &order.Provider, &order.Amount, &order.Currency, &order.Token,
		&order.Status, &order.CheckoutURL, &order.WalletAddress, &passkeyData, &lineItems, &order.TxSignature,
		&order.CreditedAmount, &order.DisbursementSignature, &order.DisbursementAttemptedAt, &order.ClaimedAt,
		&order.ClaimID, &order.ExpiresAt, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	// JSON columns go through []byte so NULL scans to nil.
	order.PasskeyData = passkeyData
	order.LineItems = lineItems
	return &order, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, reference, provider, amount, currency, token, status, checkout_url, passkey_data, line_items, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, order.OrderID, order.Reference, order.Provider, order.Amount, order.Currency, order.Token, order.Status,
		order.CheckoutURL, []byte(order.PasskeyData), nullableJSON(order.LineItems), order.ExpiresAt, order.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: order reference %s already exists", apperr.ErrConflict, order.Reference)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Info("Created order",
		zap.String("reference", order.Reference),
		zap.String("amount", order.Amount.String()),
		zap.String("currency", order.Currency),
		zap.String("token", order.Token))
	return nil
}

func (r *OrderRepository) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE reference = $1
	`, reference))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

func (r *OrderRepository) ListOrdersByWallet(ctx context.Context, walletAddress string) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE wallet_address = $1
		ORDER BY created_at
	`, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by wallet: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// ClaimOrder moves a pending order to processing under claimID and returns
// the claimed row. It returns nil when another caller already holds the
// claim or the order is not pending. Later writes for the attempt must
// present the same claimID.
func (r *OrderRepository) ClaimOrder(ctx context.Context, reference, claimID string, now time.Time) (*model.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		UPDATE orders SET status = 'processing', claimed_at = $2, claim_id = $3, updated_at = NOW()
		WHERE reference = $1 AND status = 'pending'
		RETURNING `+orderColumns,
		reference, now, claimID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim order: %w", err)
	}

	r.logger.Info("Claimed order", zap.String("reference", reference), zap.String("claim_id", claimID))
	return order, nil
}

// ReleaseClaim returns an order processing under claimID to pending. When
// deferred is set a settlement_deferred event is queued in the same
// transaction.
func (r *OrderRepository) ReleaseClaim(ctx context.Context, reference, claimID, detail string, deferred bool) (bool, error) {
	var released bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var wallet sql.NullString
		err := tx.QueryRowContext(ctx, `
			UPDATE orders SET status = 'pending', claimed_at = NULL, claim_id = NULL, updated_at = NOW()
			WHERE reference = $1 AND status = 'processing' AND claim_id = $2
			RETURNING wallet_address
		`, reference, claimID).Scan(&wallet)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		released = true

		if !deferred {
			return nil
		}
		return insertEvent(ctx, tx, reference, model.EventSettlementDeferred, wallet.String, events.OrderEventData{
			Status: string(model.StatusPending),
			Detail: detail,
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to release order claim: %w", err)
	}

	r.logger.Info("Released order claim",
		zap.String("reference", reference),
		zap.Bool("released", released),
		zap.Bool("deferred", deferred))
	return released, nil
}

func (r *OrderRepository) SetWalletAddress(ctx context.Context, reference, walletAddress string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET wallet_address = $2, updated_at = NOW()
		WHERE reference = $1 AND wallet_address IS DISTINCT FROM $2
	`, reference, walletAddress)
	if err != nil {
		return fmt.Errorf("failed to set wallet address: %w", err)
	}
	return nil
}

// RecordDisbursementAttempt stores the signature of a sent transfer. The
// attempt must still hold claimID; a write after the claim moved on is an
// ErrConflict.
func (r *OrderRepository) RecordDisbursementAttempt(ctx context.Context, reference, claimID, signature string, attemptedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET disbursement_signature = $3, disbursement_attempted_at = $4, updated_at = NOW()
		WHERE reference = $1 AND status = 'processing' AND claim_id = $2
	`, reference, claimID, signature, attemptedAt)
	if err != nil {
		return fmt.Errorf("failed to record disbursement attempt: %w", err)
	}
	if err := requireClaim(res, reference); err != nil {
		return err
	}

	r.logger.Info("Recorded disbursement attempt",
		zap.String("reference", reference),
		zap.String("signature", signature))
	return nil
}

func (r *OrderRepository) ClearDisbursementAttempt(ctx context.Context, reference, claimID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET disbursement_signature = NULL, disbursement_attempted_at = NULL, updated_at = NOW()
		WHERE reference = $1 AND status = 'processing' AND claim_id = $2
	`, reference, claimID)
	if err != nil {
		return fmt.Errorf("failed to clear disbursement attempt: %w", err)
	}
	return requireClaim(res, reference)
}

// CompleteOrder flips an order processing under claimID to success.
// Status, credited amount and signature are written by one statement, and
// the settled event is queued in the same transaction.
func (r *OrderRepository) CompleteOrder(ctx context.Context, reference, claimID string, creditedAmount decimal.Decimal, txSignature string) (bool, error) {
	var completed bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var (
			wallet sql.NullString
			token  string
			amount decimal.Decimal
		)
		err := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = 'success', credited_amount = $2, tx_signature = $3,
				disbursement_signature = NULL, disbursement_attempted_at = NULL, claimed_at = NULL, claim_id = NULL, updated_at = NOW()
			WHERE reference = $1 AND status = 'processing' AND claim_id = $4
			RETURNING wallet_address, token, amount
		`, reference, creditedAmount, nullableString(txSignature), claimID).Scan(&wallet, &token, &amount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		completed = true

		return insertEvent(ctx, tx, reference, model.EventOrderSettled, wallet.String, events.OrderEventData{
			Status:         string(model.StatusSuccess),
			Token:          token,
			Amount:         amount.String(),
			CreditedAmount: creditedAmount.String(),
			TxSignature:    txSignature,
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to complete order: %w", err)
	}

	if completed {
		r.logger.Info("Completed order",
			zap.String("reference", reference),
			zap.String("credited_amount", creditedAmount.String()),
			zap.String("tx_signature", txSignature))
	}
	return completed, nil
}

// TransitionFromPending moves a pending order to a terminal failure state
// (failed or cancelled).
func (r *OrderRepository) TransitionFromPending(ctx context.Context, reference string, to model.OrderStatus) (bool, error) {
	eventType, err := terminalEventType(to)
	if err != nil {
		return false, err
	}

	var moved bool
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var wallet sql.NullString
		err := tx.QueryRowContext(ctx, `
			UPDATE orders SET status = $2, claimed_at = NULL, claim_id = NULL, updated_at = NOW()
			WHERE reference = $1 AND status = 'pending'
			RETURNING wallet_address
		`, reference, string(to)).Scan(&wallet)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		moved = true

		return insertEvent(ctx, tx, reference, eventType, wallet.String, events.OrderEventData{Status: string(to)})
	})
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	if moved {
		r.logger.Info("Updated order status",
			zap.String("reference", reference),
			zap.String("status", string(to)))
	}
	return moved, nil
}

// ExpirePendingOrders fails up to limit pending orders whose expiry is
// before now and returns their references.
func (r *OrderRepository) ExpirePendingOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var references []string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE orders SET status = 'failed', updated_at = NOW()
			WHERE order_id IN (
				SELECT order_id FROM orders
				WHERE status = 'pending' AND expires_at < $1
				ORDER BY expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			) AND status = 'pending'
			RETURNING reference, wallet_address
		`, now, limit)
		if err != nil {
			return err
		}

		type expired struct {
			reference string
			wallet    sql.NullString
		}
		var batch []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.reference, &e.wallet); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range batch {
			if err := insertEvent(ctx, tx, e.reference, model.EventOrderExpired, e.wallet.String, events.OrderEventData{
				Status: string(model.StatusFailed),
				Detail: "order expired before payment completed",
			}); err != nil {
				return err
			}
			references = append(references, e.reference)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire pending orders: %w", err)
	}
	return references, nil
}

// ReleaseStaleClaims returns processing orders claimed before cutoff to
// pending. Their settlement outcome is unknown, so they are never failed.
// Clearing claim_id locks the abandoned attempt out of later writes.
func (r *OrderRepository) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE orders SET status = 'pending', claimed_at = NULL, claim_id = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < $1
		RETURNING reference
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to release stale claims: %w", err)
	}
	defer rows.Close()

	var references []string
	for rows.Next() {
		var reference string
		if err := rows.Scan(&reference); err != nil {
			return nil, fmt.Errorf("failed to scan released claim: %w", err)
		}
		references = append(references, reference)
	}
	return references, rows.Err()
}

func (r *OrderRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, reference, eventType, wallet string, data events.OrderEventData) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_event_outbox (reference, event_type, wallet_address, event_blob)
		VALUES ($1, $2, $3, $4)
	`, reference, eventType, wallet, blob)
	return err
}

func terminalEventType(status model.OrderStatus) (string, error) {
	switch status {
	case model.StatusFailed:
		return model.EventOrderFailed, nil
	case model.StatusCancelled:
		return model.EventOrderCanceled, nil
	default:
		return "", fmt.Errorf("%w: cannot move pending order to %s", apperr.ErrValidation, status)
	}
}

func requireClaim(res sql.Result, reference string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: order %s is no longer held by this settlement attempt", apperr.ErrConflict, reference)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
