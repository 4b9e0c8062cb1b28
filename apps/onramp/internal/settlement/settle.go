package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/chain"
	"onramp/apps/onramp/internal/model"
	"onramp/apps/onramp/internal/passkey"
)

type Outcome string

const (
	// OutcomeSettled means the order is success.
	OutcomeSettled Outcome = "settled"
	// OutcomePending means a retryable step failed and the order is back to
	// pending.
	OutcomePending Outcome = "pending"
	// OutcomeInProgress means another attempt holds the order's claim.
	OutcomeInProgress Outcome = "in_progress"
)

// Result is the outcome of a success callback that did not fail outright.
type Result struct {
	Outcome        Outcome
	Reference      string
	Status         model.OrderStatus
	WalletAddress  string
	TxSignature    string
	CreditedAmount *decimal.Decimal
	Detail         string
}

// HandleSuccess settles a paid order: it provisions the wallet bound to the
// order's stored passkey, disburses the token and only then records
// success. Errors leave the order pending; a pending Result means the
// disbursement should be retried later.
func (s *Service) HandleSuccess(ctx context.Context, reference string) (result *Result, err error) {
	start := s.now()
	defer func() {
		outcome := "error"
		if result != nil {
			outcome = string(result.Outcome)
		}
		s.deps.Metrics.ObserveSettlement(outcome, s.now().Sub(start))
	}()

	order, err := s.GetOrder(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case model.StatusSuccess:
		return settledResult(order), nil
	case model.StatusFailed, model.StatusCancelled:
		return nil, fmt.Errorf("%w: order %s is already %s", apperr.ErrConflict, reference, order.Status)
	case model.StatusProcessing:
		return s.inProgress(order), nil
	}

	// The wallet comes only from the stored passkey blob.
	capability, err := passkey.ParseCapability(order.PasskeyData)
	if err != nil {
		return nil, err
	}
	walletAddress, err := s.deps.Provisioner.ResolveAddress(capability)
	if err != nil {
		return nil, err
	}

	claimID := uuid.NewString()
	claimed, err := s.deps.Store.ClaimOrder(ctx, reference, claimID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return s.inProgress(order), nil
	}
	// The claimed row carries any disbursement recorded since the read above.
	order = claimed

	logger := s.logger.With(
		zap.String("reference", reference),
		zap.String("claim_id", claimID),
		zap.String("wallet", walletAddress.String()))

	ctx, cancel := s.attemptContext(ctx)
	defer cancel()

	provisioned, err := s.deps.Provisioner.EnsureWallet(ctx, walletAddress, capability)
	if err != nil {
		logger.Warn("Wallet provisioning failed", zap.Error(err))
		s.release(ctx, reference, claimID, err.Error(), false)
		return nil, fmt.Errorf("failed to provision wallet: %w", err)
	}

	if err := s.deps.Store.SetWalletAddress(ctx, reference, walletAddress.String()); err != nil {
		s.release(ctx, reference, claimID, err.Error(), false)
		return nil, err
	}

	credited := order.Amount
	var txSignature string
	if provisioned.Created {
		txSignature = provisioned.Signature.String()
	}

	if disburser := s.disburserFor(order.Token); disburser != nil {
		sig, amount, err := s.disburse(ctx, order, claimID, walletAddress, disburser)
		if err != nil {
			logger.Warn("Disbursement deferred", zap.Error(err))
			s.release(ctx, reference, claimID, err.Error(), true)
			return &Result{
				Outcome:       OutcomePending,
				Reference:     reference,
				Status:        model.StatusPending,
				WalletAddress: walletAddress.String(),
				Detail:        err.Error(),
			}, nil
		}
		credited, txSignature = amount, sig
	} else {
		logger.Info("Disbursement skipped", zap.String("token", order.Token))
	}

	// The transfer is done, so completion is not cut short by the attempt
	// deadline.
	completeCtx, cancelComplete := s.detached(ctx)
	defer cancelComplete()
	completed, err := s.deps.Store.CompleteOrder(completeCtx, reference, claimID, credited, txSignature)
	if err != nil {
		s.release(ctx, reference, claimID, err.Error(), true)
		return nil, err
	}
	if !completed {
		// The claim was swept and possibly taken over. A stored disbursement
		// signature lets the next attempt finish without resending.
		logger.Warn("Order claim lost before completion")
		return &Result{
			Outcome:       OutcomePending,
			Reference:     reference,
			Status:        model.StatusPending,
			WalletAddress: walletAddress.String(),
			Detail:        "settlement claim expired before completion",
		}, nil
	}

	s.deps.Metrics.Transition(string(model.StatusSuccess))
	logger.Info("Order settled",
		zap.String("credited_amount", credited.String()),
		zap.String("tx_signature", txSignature))

	return &Result{
		Outcome:        OutcomeSettled,
		Reference:      reference,
		Status:         model.StatusSuccess,
		WalletAddress:  walletAddress.String(),
		TxSignature:    txSignature,
		CreditedAmount: &credited,
	}, nil
}

func (s *Service) disburserFor(token string) TokenDisburser {
	if !s.cfg.DisbursementEnabled {
		return nil
	}
	return s.deps.Disbursers[strings.ToUpper(token)]
}

// disburse transfers the order amount unless an earlier attempt's transfer
// may still land. A transfer that went through is recorded on the order
// before completion so it is never sent twice.
func (s *Service) disburse(ctx context.Context, order *model.Order, claimID string, walletAddress solana.PublicKey, disburser TokenDisburser) (string, decimal.Decimal, error) {
	if order.DisbursementSignature != nil {
		sig, settled, err := s.checkPreviousAttempt(ctx, order, claimID)
		if err != nil {
			return "", decimal.Decimal{}, err
		}
		if settled {
			s.logger.Info("Recovered earlier disbursement",
				zap.String("reference", order.Reference),
				zap.String("signature", sig))
			return sig, order.Amount, nil
		}
	}

	result, err := disburser.Transfer(ctx, walletAddress, order.Amount)
	if err != nil {
		var unconfirmed *chain.UnconfirmedError
		if errors.As(err, &unconfirmed) {
			s.recordAttempt(ctx, order.Reference, claimID, unconfirmed.Signature.String())
		}
		return "", decimal.Decimal{}, err
	}

	sig := result.Signature.String()
	s.recordAttempt(ctx, order.Reference, claimID, sig)
	return sig, result.Credited(), nil
}

// checkPreviousAttempt reports whether the stored transfer confirmed. It
// clears the stored attempt when resending is safe and errors while the
// transfer may still land.
func (s *Service) checkPreviousAttempt(ctx context.Context, order *model.Order, claimID string) (string, bool, error) {
	stored := *order.DisbursementSignature
	sig, err := solana.SignatureFromBase58(stored)
	if err != nil {
		s.logger.Warn("Discarding malformed disbursement signature",
			zap.String("reference", order.Reference),
			zap.String("signature", stored))
		return "", false, s.deps.Store.ClearDisbursementAttempt(ctx, order.Reference, claimID)
	}

	status, err := s.deps.Signatures.SignatureStatus(ctx, sig)
	if err != nil {
		return "", false, err
	}

	switch status.State {
	case chain.StateConfirmed:
		return stored, true, nil
	case chain.StateFailed:
		s.logger.Info("Earlier disbursement failed on chain, resending",
			zap.String("reference", order.Reference),
			zap.String("signature", stored),
			zap.String("chain_error", status.Err))
		return "", false, s.deps.Store.ClearDisbursementAttempt(ctx, order.Reference, claimID)
	case chain.StateProcessed:
		return "", false, fmt.Errorf("%w: disbursement %s is awaiting confirmation", apperr.ErrChain, stored)
	}

	if order.DisbursementAttemptedAt != nil && s.now().Sub(*order.DisbursementAttemptedAt) < s.cfg.BlockhashValidity {
		return "", false, fmt.Errorf("%w: disbursement %s may still land", apperr.ErrChain, stored)
	}
	return "", false, s.deps.Store.ClearDisbursementAttempt(ctx, order.Reference, claimID)
}

func (s *Service) recordAttempt(ctx context.Context, reference, claimID, signature string) {
	recordCtx, cancel := s.detached(ctx)
	defer cancel()

	if err := s.deps.Store.RecordDisbursementAttempt(recordCtx, reference, claimID, signature, s.now().UTC()); err != nil {
		s.logger.Error("Failed to record disbursement attempt",
			zap.String("reference", reference),
			zap.String("signature", signature),
			zap.Error(err))
	}
}

func (s *Service) release(ctx context.Context, reference, claimID, detail string, deferred bool) {
	releaseCtx, cancel := s.detached(ctx)
	defer cancel()

	released, err := s.deps.Store.ReleaseClaim(releaseCtx, reference, claimID, detail, deferred)
	if err != nil {
		s.logger.Error("Failed to release order claim",
			zap.String("reference", reference),
			zap.Error(err))
		return
	}
	if !released {
		s.logger.Warn("Order claim already released",
			zap.String("reference", reference),
			zap.String("claim_id", claimID))
	}
}

func (s *Service) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.AttemptTimeout)
}

// detached outlives a cancelled request so bookkeeping writes still land.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ReleaseTimeout)
}

// inProgress reports the claim held by another attempt. The order read
// before a lost claim is stale, so the status is stated rather than copied.
func (s *Service) inProgress(order *model.Order) *Result {
	return &Result{
		Outcome:       OutcomeInProgress,
		Reference:     order.Reference,
		Status:        model.StatusProcessing,
		WalletAddress: order.Wallet(),
		Detail:        "settlement already in progress",
	}
}

func settledResult(order *model.Order) *Result {
	result := &Result{
		Outcome:        OutcomeSettled,
		Reference:      order.Reference,
		Status:         order.Status,
		WalletAddress:  order.Wallet(),
		CreditedAmount: order.CreditedAmount,
	}
	if order.TxSignature != nil {
		result.TxSignature = *order.TxSignature
	}
	return result
}
