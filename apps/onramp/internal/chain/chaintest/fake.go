// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/chain"
)

type FakeClient struct {
	mu sync.Mutex

	Accounts map[solana.PublicKey]bool
	Native   map[solana.PublicKey]uint64
	Tokens   map[solana.PublicKey]uint64
	Decimals map[solana.PublicKey]uint8
	Statuses map[solana.Signature]chain.SignatureStatus

	// SendStatus is the status recorded for every sent transaction.
	SendStatus chain.SignatureStatus
	SendErr    error
	// SendErrAfterAccept is returned after the transaction was accepted,
	// like a response lost on the way back from the node.
	SendErrAfterAccept error
	// OnSend runs after a transaction is accepted, e.g. to create accounts.
	OnSend func(tx *solana.Transaction)

	Sent []*solana.Transaction
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Accounts:   make(map[solana.PublicKey]bool),
		Native:     make(map[solana.PublicKey]uint64),
		Tokens:     make(map[solana.PublicKey]uint64),
		Decimals:   make(map[solana.PublicKey]uint8),
		Statuses:   make(map[solana.Signature]chain.SignatureStatus),
		SendStatus: chain.SignatureStatus{State: chain.StateConfirmed},
	}
}

func (f *FakeClient) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Accounts[account], nil
}

func (f *FakeClient) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.HashFromBytes([]byte("fake-blockhash-fake-blockhash-32")), nil
}

func (f *FakeClient) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	if f.SendErr != nil {
		err := f.SendErr
		f.mu.Unlock()
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		f.mu.Unlock()
		return solana.Signature{}, fmt.Errorf("%w: transaction is not signed", apperr.ErrChain)
	}

	sig := tx.Signatures[0]
	f.Sent = append(f.Sent, tx)
	f.Statuses[sig] = f.SendStatus
	onSend := f.OnSend
	lostErr := f.SendErrAfterAccept
	f.mu.Unlock()

	if onSend != nil {
		onSend(tx)
	}
	if lostErr != nil {
		return solana.Signature{}, lostErr
	}
	return sig, nil
}

func (f *FakeClient) SignatureStatus(_ context.Context, sig solana.Signature) (chain.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Statuses[sig], nil
}

func (f *FakeClient) NativeBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Native[account], nil
}

func (f *FakeClient) TokenBalance(_ context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Tokens[tokenAccount], nil
}

func (f *FakeClient) MintDecimals(_ context.Context, mint solana.PublicKey) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Decimals[mint]
	if !ok {
		return 0, fmt.Errorf("%w: mint %s not found", apperr.ErrChain, mint)
	}
	return d, nil
}

// SetAccount marks an account as existing on chain.
func (f *FakeClient) SetAccount(account solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accounts[account] = true
}

// SentCount returns the number of accepted transactions.
func (f *FakeClient) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// SetSendStatus changes the status recorded for later transactions.
func (f *FakeClient) SetSendStatus(status chain.SignatureStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendStatus = status
}

// SetSendErrAfterAccept makes later sends land but report err.
func (f *FakeClient) SetSendErrAfterAccept(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendErrAfterAccept = err
}

// SetStatus overrides the status of a known signature.
func (f *FakeClient) SetStatus(sig solana.Signature, status chain.SignatureStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[sig] = status
}

var _ chain.Client = (*FakeClient)(nil)
