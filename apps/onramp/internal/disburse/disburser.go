package disburse

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/chain"
)

// Config selects the token paid out on settlement.
type Config struct {
	Mint solana.PublicKey
	// Decimals overrides the mint's on-chain decimals when set.
	Decimals *uint8
	// SourceTokenAccount defaults to the admin's associated token account.
	SourceTokenAccount solana.PublicKey
	// MinFeeReserveLamports is the native balance the admin must keep.
	MinFeeReserveLamports uint64
}

// Result is the outcome of a confirmed transfer.
type Result struct {
	Signature           solana.Signature
	Amount              decimal.Decimal
	Decimals            uint8
	RawAmount           uint64
	CreatedTokenAccount bool
}

// Credited is the amount that actually moved, after rounding down to the
// mint's precision.
func (r *Result) Credited() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(r.RawAmount), -int32(r.Decimals))
}

type Disburser struct {
	submitter *chain.Submitter
	admin     *solana.PrivateKey
	cfg       Config
	logger    *zap.Logger
}

func NewDisburser(submitter *chain.Submitter, admin *solana.PrivateKey, cfg Config, logger *zap.Logger) *Disburser {
	return &Disburser{
		submitter: submitter,
		admin:     admin,
		cfg:       cfg,
		logger:    logger,
	}
}

// Mint returns the configured token mint.
func (d *Disburser) Mint() solana.PublicKey { return d.cfg.Mint }

// Transfer sends amount (in whole token units) from the admin source
// account to wallet's associated token account, creating it when missing.
// Balance preconditions are checked before any instruction is built.
func (d *Disburser) Transfer(ctx context.Context, wallet solana.PublicKey, amount decimal.Decimal) (*Result, error) {
	if d.admin == nil {
		return nil, fmt.Errorf("%w: admin signer is not configured", apperr.ErrConfiguration)
	}
	if d.cfg.Mint.IsZero() {
		return nil, fmt.Errorf("%w: token mint is not configured", apperr.ErrConfiguration)
	}

	client := d.submitter.Client()
	adminKey := d.admin.PublicKey()

	decimals, err := d.resolveDecimals(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := RawAmount(amount, decimals)
	if err != nil {
		return nil, err
	}

	source := d.cfg.SourceTokenAccount
	if source.IsZero() {
		source, err = AssociatedTokenAddress(adminKey, d.cfg.Mint, false)
		if err != nil {
			return nil, err
		}
	}

	sourceBalance, err := client.TokenBalance(ctx, source)
	if err != nil {
		return nil, err
	}
	if sourceBalance < raw {
		return nil, fmt.Errorf("%w: source token account %s holds %d, need %d", apperr.ErrInsufficientBalance, source, sourceBalance, raw)
	}

	lamports, err := client.NativeBalance(ctx, adminKey)
	if err != nil {
		return nil, err
	}
	if lamports < d.cfg.MinFeeReserveLamports {
		return nil, fmt.Errorf("%w: admin %s holds %d lamports, fee reserve is %d", apperr.ErrInsufficientBalance, adminKey, lamports, d.cfg.MinFeeReserveLamports)
	}

	// Smart wallets are PDAs, so the owner is usually off curve.
	destination, err := AssociatedTokenAddress(wallet, d.cfg.Mint, true)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	destinationExists, err := client.AccountExists(ctx, destination)
	if err != nil {
		return nil, err
	}
	if !destinationExists {
		createIx, err := associatedtokenaccount.NewCreateInstruction(adminKey, wallet, d.cfg.Mint).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to build token account creation: %v", apperr.ErrChain, err)
		}
		instructions = append(instructions, createIx)
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(raw).
		SetDecimals(decimals).
		SetSourceAccount(source).
		SetMintAccount(d.cfg.Mint).
		SetDestinationAccount(destination).
		SetOwnerAccount(adminKey).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build transfer instruction: %v", apperr.ErrChain, err)
	}
	instructions = append(instructions, transferIx)

	d.logger.Info("Disbursing tokens",
		zap.String("wallet", wallet.String()),
		zap.String("destination", destination.String()),
		zap.String("amount", amount.String()),
		zap.Uint64("raw_amount", raw),
		zap.Uint8("decimals", decimals),
		zap.Bool("create_token_account", !destinationExists))

	sig, err := d.submitter.BuildAndSubmit(ctx, instructions, *d.admin)
	if err != nil {
		return nil, fmt.Errorf("failed to transfer tokens to %s: %w", wallet, err)
	}

	return &Result{
		Signature:           sig,
		Amount:              amount,
		Decimals:            decimals,
		RawAmount:           raw,
		CreatedTokenAccount: !destinationExists,
	}, nil
}

func (d *Disburser) resolveDecimals(ctx context.Context) (uint8, error) {
	if d.cfg.Decimals != nil {
		return *d.cfg.Decimals, nil
	}
	return d.submitter.Client().MintDecimals(ctx, d.cfg.Mint)
}

// RawAmount converts whole units to base units, rounding down.
func RawAmount(amount decimal.Decimal, decimals uint8) (uint64, error) {
	raw := amount.Shift(int32(decimals)).Floor()
	if !raw.IsPositive() {
		return 0, fmt.Errorf("%w: amount %s is below the smallest unit at %d decimals", apperr.ErrValidation, amount, decimals)
	}
	n := raw.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s overflows at %d decimals", apperr.ErrValidation, amount, decimals)
	}
	return n.Uint64(), nil
}

// AssociatedTokenAddress derives owner's token account for mint. Owners
// off the ed25519 curve are rejected unless allowOwnerOffCurve is set.
func AssociatedTokenAddress(owner, mint solana.PublicKey, allowOwnerOffCurve bool) (solana.PublicKey, error) {
	if !allowOwnerOffCurve && !owner.IsOnCurve() {
		return solana.PublicKey{}, fmt.Errorf("%w: token account owner %s is off curve", apperr.ErrValidation, owner)
	}
	address, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: failed to derive token account: %v", apperr.ErrChain, err)
	}
	return address, nil
}
