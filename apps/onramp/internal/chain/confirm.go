package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
)

// UnconfirmedError reports a signed transaction whose outcome is unknown:
// the send call failed after the request may have reached the node, or
// confirmation was not observed before the deadline. The transaction may
// still land, so callers should remember Signature before resending.
type UnconfirmedError struct {
	Signature solana.Signature
	Err       error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("transaction %s unconfirmed: %v", e.Signature, e.Err)
}

func (e *UnconfirmedError) Unwrap() error { return e.Err }

// Submitter signs, sends and confirms transactions with a bounded wait.
type Submitter struct {
	client       Client
	timeout      time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewSubmitter(client Client, timeout, pollInterval time.Duration, logger *zap.Logger) *Submitter {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Submitter{
		client:       client,
		timeout:      timeout,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (s *Submitter) Client() Client { return s.client }

// BuildAndSubmit assembles instructions into a transaction paid by the
// first signer, signs it and waits for confirmation.
func (s *Submitter) BuildAndSubmit(ctx context.Context, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error) {
	if len(signers) == 0 {
		return solana.Signature{}, fmt.Errorf("%w: no transaction signer", apperr.ErrConfiguration)
	}

	blockhash, err := s.client.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(signers[0].PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to create transaction: %v", apperr.ErrChain, err)
	}

	if err := Sign(tx, signers...); err != nil {
		return solana.Signature{}, err
	}

	return s.SubmitAndConfirm(ctx, tx)
}

// SubmitAndConfirm sends an already signed transaction and waits for it.
// A failed send of a signed transaction is reported as unconfirmed since a
// timeout or dropped response does not prove the node rejected it.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := s.client.SendTransaction(ctx, tx)
	if err != nil {
		if len(tx.Signatures) == 0 {
			return solana.Signature{}, err
		}
		s.logger.Warn("Send failed for signed transaction",
			zap.String("signature", tx.Signatures[0].String()),
			zap.Error(err))
		return tx.Signatures[0], &UnconfirmedError{Signature: tx.Signatures[0], Err: err}
	}

	s.logger.Info("Submitted transaction", zap.String("signature", sig.String()))

	if err := s.Confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// Confirm polls the signature until it reaches confirmed commitment, fails
// on chain, or the configured timeout elapses.
func (s *Submitter) Confirm(ctx context.Context, sig solana.Signature) error {
	waitCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.client.SignatureStatus(waitCtx, sig)
		if err != nil && !errors.Is(waitCtx.Err(), context.DeadlineExceeded) && !errors.Is(waitCtx.Err(), context.Canceled) {
			s.logger.Warn("Failed to poll signature status", zap.String("signature", sig.String()), zap.Error(err))
		}

		switch status.State {
		case StateConfirmed:
			s.logger.Info("Transaction confirmed",
				zap.String("signature", sig.String()),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		case StateFailed:
			return fmt.Errorf("%w: transaction %s failed: %s", apperr.ErrChain, sig, status.Err)
		}

		select {
		case <-waitCtx.Done():
			return &UnconfirmedError{
				Signature: sig,
				Err:       fmt.Errorf("%w: confirmation wait ended after %s: %v", apperr.ErrChain, time.Since(start).Round(time.Millisecond), waitCtx.Err()),
			}
		case <-ticker.C:
		}
	}
}

// Sign signs tx with whichever of signers the message requires.
func Sign(tx *solana.Transaction, signers ...solana.PrivateKey) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to sign transaction: %v", apperr.ErrConfiguration, err)
	}
	return nil
}
