package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
)

// Client is the subset of Solana JSON-RPC used by settlement.
type Client interface {
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error)
	NativeBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// State is the coarse confirmation state of a submitted transaction.
type State int

const (
	StateUnknown State = iota
	StateProcessed
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProcessed:
		return "processed"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type SignatureStatus struct {
	State State
	Err   string
}

// RPCClient implements Client over solana-go's JSON-RPC client.
type RPCClient struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

func NewRPCClient(rpcURL string, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		rpc:        rpc.New(rpcURL),
		commitment: rpc.CommitmentConfirmed,
		logger:     logger,
	}
}

func (c *RPCClient) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{Commitment: c.commitment})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to get account info for %s: %v", apperr.ErrChain, account, err)
	}
	return true, nil
}

func (c *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%w: failed to get latest blockhash: %v", apperr.ErrChain, err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("%w: empty latest blockhash response", apperr.ErrChain)
	}
	return out.Value.Blockhash, nil
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to send transaction: %v", apperr.ErrChain, err)
	}
	return sig, nil
}

func (c *RPCClient) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return SignatureStatus{State: StateUnknown}, nil
		}
		return SignatureStatus{}, fmt.Errorf("%w: failed to get signature status for %s: %v", apperr.ErrChain, sig, err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return SignatureStatus{State: StateUnknown}, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return SignatureStatus{State: StateFailed, Err: fmt.Sprintf("%v", status.Err)}, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return SignatureStatus{State: StateConfirmed}, nil
	default:
		return SignatureStatus{State: StateProcessed}, nil
	}
}

func (c *RPCClient) NativeBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get balance for %s: %v", apperr.ErrChain, account, err)
	}
	return out.Value, nil
}

// TokenBalance returns the raw balance of an SPL token account. A token
// account that does not exist yet holds zero.
func (c *RPCClient) TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetTokenAccountBalance(ctx, tokenAccount, c.commitment)
	if err != nil {
		if strings.Contains(err.Error(), "could not find account") {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: failed to get token balance for %s: %v", apperr.ErrChain, tokenAccount, err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}

	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid token amount %q: %v", apperr.ErrChain, out.Value.Amount, err)
	}
	return amount, nil
}

func (c *RPCClient) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	account, err := c.rpc.GetAccountInfoWithOpts(ctx, mint, &rpc.GetAccountInfoOpts{Commitment: c.commitment})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get mint account %s: %v", apperr.ErrChain, mint, err)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(account.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return 0, fmt.Errorf("%w: failed to decode mint %s: %v", apperr.ErrChain, mint, err)
	}

	c.logger.Debug("Fetched mint decimals", zap.String("mint", mint.String()), zap.Uint8("decimals", mintData.Decimals))
	return mintData.Decimals, nil
}
