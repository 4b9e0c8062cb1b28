package wallet

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/chain"
	"onramp/apps/onramp/internal/passkey"
)

const smartWalletSeed = "smart_wallet"

// createWalletDiscriminator is the Anchor instruction discriminator of
// create_smart_wallet.
var createWalletDiscriminator = anchorDiscriminator("create_smart_wallet")

// CreateWalletParams describes a smart wallet to provision.
type CreateWalletParams struct {
	Payer        solana.PublicKey
	Wallet       solana.PublicKey
	PublicKey    *passkey.PublicKey
	CredentialID []byte
}

// BuildResult carries either a transaction still to be signed and sent, or
// the signature of one the builder already submitted.
type BuildResult struct {
	Signature   solana.Signature
	Transaction *solana.Transaction
}

type Builder interface {
	BuildCreateWallet(ctx context.Context, params CreateWalletParams) (*BuildResult, error)
}

// ProgramBuilder builds create_smart_wallet transactions for a passkey
// smart-wallet program.
type ProgramBuilder struct {
	programID solana.PublicKey
	client    chain.Client
}

func NewProgramBuilder(programID solana.PublicKey, client chain.Client) *ProgramBuilder {
	return &ProgramBuilder{programID: programID, client: client}
}

func (b *ProgramBuilder) BuildCreateWallet(ctx context.Context, params CreateWalletParams) (*BuildResult, error) {
	ix, err := b.createWalletInstruction(params)
	if err != nil {
		return nil, err
	}

	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(params.Payer))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create wallet transaction: %v", apperr.ErrChain, err)
	}

	return &BuildResult{Transaction: tx}, nil
}

func (b *ProgramBuilder) createWalletInstruction(params CreateWalletParams) (solana.Instruction, error) {
	if params.PublicKey == nil {
		return nil, fmt.Errorf("%w: missing passkey public key", apperr.ErrKeyFormat)
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(createWalletDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(params.PublicKey.Compressed(), false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(params.CredentialID, true); err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(params.Payer).WRITE().SIGNER(),
		solana.Meta(params.Wallet).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(b.programID, accounts, buf.Bytes()), nil
}

// DeriveAddress returns the smart wallet PDA for a credential.
func DeriveAddress(programID solana.PublicKey, credentialID []byte) (solana.PublicKey, error) {
	credentialHash := sha256.Sum256(credentialID)
	address, _, err := solana.FindProgramAddress([][]byte{[]byte(smartWalletSeed), credentialHash[:]}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: failed to derive smart wallet address: %v", apperr.ErrValidation, err)
	}
	return address, nil
}

func anchorDiscriminator(name string) [8]byte {
	var out [8]byte
	sum := sha256.Sum256([]byte("global:" + name))
	copy(out[:], sum[:8])
	return out
}
