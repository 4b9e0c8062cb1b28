package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/chain"
	"onramp/apps/onramp/internal/passkey"
)

// Result describes the outcome of EnsureWallet.
type Result struct {
	Wallet      solana.PublicKey
	Created     bool
	Signature   solana.Signature
	KeyStrategy passkey.Strategy
}

// Provisioner creates smart wallets with the custodial admin key.
type Provisioner struct {
	submitter *chain.Submitter
	builder   Builder
	admin     *solana.PrivateKey
	programID solana.PublicKey
	logger    *zap.Logger
}

// NewProvisioner builds a provisioner. admin may be nil; provisioning then
// fails with a configuration error while existing wallets still resolve.
func NewProvisioner(submitter *chain.Submitter, builder Builder, admin *solana.PrivateKey, programID solana.PublicKey, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		submitter: submitter,
		builder:   builder,
		admin:     admin,
		programID: programID,
		logger:    logger,
	}
}

// ResolveAddress returns the wallet bound to a stored capability: the
// explicit smart wallet address if present, otherwise the PDA derived from
// the credential.
func (p *Provisioner) ResolveAddress(c *passkey.Capability) (solana.PublicKey, error) {
	if c.SmartWallet != "" {
		address, err := solana.PublicKeyFromBase58(c.SmartWallet)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("%w: stored smart wallet %q is not a valid address", apperr.ErrValidation, c.SmartWallet)
		}
		return address, nil
	}

	if p.programID.IsZero() || strings.TrimSpace(c.CredentialID) == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: no wallet address can be resolved from passkey data", apperr.ErrValidation)
	}
	return DeriveAddress(p.programID, c.CredentialIDBytes())
}

// EnsureWallet provisions wallet unless it already exists. The existence
// check always runs first, so repeated calls are no-ops once created.
func (p *Provisioner) EnsureWallet(ctx context.Context, wallet solana.PublicKey, c *passkey.Capability) (*Result, error) {
	exists, err := p.submitter.Client().AccountExists(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if exists {
		p.logger.Info("Smart wallet already exists", zap.String("wallet", wallet.String()))
		return &Result{Wallet: wallet}, nil
	}

	if p.admin == nil {
		return nil, fmt.Errorf("%w: admin signer is not configured", apperr.ErrConfiguration)
	}

	key, strategy, err := c.PublicKey()
	if err != nil {
		return nil, err
	}

	p.logger.Info("Provisioning smart wallet",
		zap.String("wallet", wallet.String()),
		zap.String("passkey", key.Fingerprint()),
		zap.String("key_strategy", string(strategy)))

	built, err := p.builder.BuildCreateWallet(ctx, CreateWalletParams{
		Payer:        p.admin.PublicKey(),
		Wallet:       wallet,
		PublicKey:    key,
		CredentialID: c.CredentialIDBytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build wallet transaction: %w", err)
	}

	var sig solana.Signature
	switch {
	case built != nil && built.Transaction != nil:
		if err := chain.Sign(built.Transaction, *p.admin); err != nil {
			return nil, err
		}
		sig, err = p.submitter.SubmitAndConfirm(ctx, built.Transaction)
	case built != nil && !built.Signature.IsZero():
		sig = built.Signature
		err = p.submitter.Confirm(ctx, sig)
	default:
		return nil, fmt.Errorf("%w: wallet builder returned neither a signature nor a transaction", apperr.ErrConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision wallet %s: %w", wallet, err)
	}

	p.logger.Info("Provisioned smart wallet",
		zap.String("wallet", wallet.String()),
		zap.String("signature", sig.String()))

	return &Result{Wallet: wallet, Created: true, Signature: sig, KeyStrategy: strategy}, nil
}
