package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
	"onramp/apps/onramp/internal/chain"
	"onramp/apps/onramp/internal/chain/chaintest"
	"onramp/apps/onramp/internal/passkey"
)

var testProgramID = solana.NewWallet().PublicKey()

type fixture struct {
	client      *chaintest.FakeClient
	admin       solana.PrivateKey
	provisioner *Provisioner
	capability  *passkey.Capability
	pub         *ecdsa.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	raw := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)

	blob, err := json.Marshal(map[string]any{
		"credentialId": base64.RawURLEncoding.EncodeToString([]byte("credential-1")),
		"publicKey":    base64.StdEncoding.EncodeToString(raw),
	})
	require.NoError(t, err)
	capability, err := passkey.ParseCapability(blob)
	require.NoError(t, err)

	admin, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	client := chaintest.NewFakeClient()
	submitter := chain.NewSubmitter(client, time.Second, 5*time.Millisecond, zap.NewNop())
	f := &fixture{
		client:      client,
		admin:       admin,
		capability:  capability,
		pub:         &priv.PublicKey,
		provisioner: NewProvisioner(submitter, NewProgramBuilder(testProgramID, client), &admin, testProgramID, zap.NewNop()),
	}

	// A confirmed create_smart_wallet makes the wallet account exist.
	client.OnSend = func(tx *solana.Transaction) {
		for _, key := range tx.Message.AccountKeys {
			if !key.Equals(admin.PublicKey()) && !key.Equals(solana.SystemProgramID) && !key.Equals(testProgramID) {
				client.SetAccount(key)
			}
		}
	}
	return f
}

func TestEnsureWalletExistingIsNoop(t *testing.T) {
	f := newFixture(t)
	wallet := solana.NewWallet().PublicKey()
	f.client.SetAccount(wallet)

	result, err := f.provisioner.EnsureWallet(context.Background(), wallet, f.capability)
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, 0, f.client.SentCount())
}

func TestEnsureWalletProvisionsOnce(t *testing.T) {
	f := newFixture(t)
	wallet, err := f.provisioner.ResolveAddress(f.capability)
	require.NoError(t, err)

	result, err := f.provisioner.EnsureWallet(context.Background(), wallet, f.capability)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.Signature.IsZero())
	assert.Equal(t, passkey.StrategyPrefixed65, result.KeyStrategy)
	require.Equal(t, 1, f.client.SentCount())

	tx := f.client.Sent[0]
	require.NoError(t, tx.VerifySignatures())
	require.Len(t, tx.Message.Instructions, 1)

	data := []byte(tx.Message.Instructions[0].Data)
	dec := bin.NewBorshDecoder(data)
	discriminator, err := dec.ReadNBytes(8)
	require.NoError(t, err)
	assert.Equal(t, createWalletDiscriminator[:], discriminator)
	compressed, err := dec.ReadNBytes(33)
	require.NoError(t, err)
	assert.Equal(t, elliptic.MarshalCompressed(elliptic.P256(), f.pub.X, f.pub.Y), compressed)
	credential, err := dec.ReadByteSlice()
	require.NoError(t, err)
	assert.Equal(t, []byte("credential-1"), credential)

	// A retry after a later failure must not provision again.
	again, err := f.provisioner.EnsureWallet(context.Background(), wallet, f.capability)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, 1, f.client.SentCount())
}

func TestEnsureWalletMissingSigner(t *testing.T) {
	f := newFixture(t)
	submitter := chain.NewSubmitter(f.client, time.Second, 5*time.Millisecond, zap.NewNop())
	p := NewProvisioner(submitter, NewProgramBuilder(testProgramID, f.client), nil, testProgramID, zap.NewNop())

	_, err := p.EnsureWallet(context.Background(), solana.NewWallet().PublicKey(), f.capability)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
	assert.Equal(t, 0, f.client.SentCount())
}

type stubBuilder struct {
	result *BuildResult
}

func (s stubBuilder) BuildCreateWallet(context.Context, CreateWalletParams) (*BuildResult, error) {
	return s.result, nil
}

func TestEnsureWalletBuilderReturnsNothing(t *testing.T) {
	f := newFixture(t)
	submitter := chain.NewSubmitter(f.client, time.Second, 5*time.Millisecond, zap.NewNop())
	p := NewProvisioner(submitter, stubBuilder{result: &BuildResult{}}, &f.admin, testProgramID, zap.NewNop())

	_, err := p.EnsureWallet(context.Background(), solana.NewWallet().PublicKey(), f.capability)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
}

func TestEnsureWalletBuilderSubmittedItself(t *testing.T) {
	f := newFixture(t)
	sig := solana.SignatureFromBytes([]byte("0123456789012345678901234567890123456789012345678901234567890123"))
	f.client.SetStatus(sig, chain.SignatureStatus{State: chain.StateConfirmed})

	submitter := chain.NewSubmitter(f.client, time.Second, 5*time.Millisecond, zap.NewNop())
	p := NewProvisioner(submitter, stubBuilder{result: &BuildResult{Signature: sig}}, &f.admin, testProgramID, zap.NewNop())

	result, err := p.EnsureWallet(context.Background(), solana.NewWallet().PublicKey(), f.capability)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, sig, result.Signature)
	assert.Equal(t, 0, f.client.SentCount())
}

func TestEnsureWalletChainFailure(t *testing.T) {
	f := newFixture(t)
	f.client.OnSend = nil
	f.client.SetSendStatus(chain.SignatureStatus{State: chain.StateFailed, Err: "custom program error: 0x1"})

	_, err := f.provisioner.EnsureWallet(context.Background(), solana.NewWallet().PublicKey(), f.capability)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrChain))
}

func TestEnsureWalletBadKey(t *testing.T) {
	f := newFixture(t)
	capability, err := passkey.ParseCapability(json.RawMessage(`{"credentialId":"abc","publicKey":"AQIDBAUG"}`))
	require.NoError(t, err)

	_, err = f.provisioner.EnsureWallet(context.Background(), solana.NewWallet().PublicKey(), capability)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrKeyFormat))
	assert.Equal(t, 0, f.client.SentCount())
}

func TestResolveAddress(t *testing.T) {
	f := newFixture(t)

	derived, err := f.provisioner.ResolveAddress(f.capability)
	require.NoError(t, err)
	again, err := DeriveAddress(testProgramID, []byte("credential-1"))
	require.NoError(t, err)
	assert.Equal(t, derived, again)

	explicit := solana.NewWallet().PublicKey()
	withWallet := *f.capability
	withWallet.SmartWallet = explicit.String()
	resolved, err := f.provisioner.ResolveAddress(&withWallet)
	require.NoError(t, err)
	assert.Equal(t, explicit, resolved)

	withWallet.SmartWallet = "not-base58!"
	_, err = f.provisioner.ResolveAddress(&withWallet)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.provisioner.ResolveAddress(&passkey.Capability{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
