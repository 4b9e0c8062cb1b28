package passkey

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"onramp/apps/onramp/internal/apperr"
)

type testKey struct {
	pub  *ecdsa.PublicKey
	x, y []byte
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	x := priv.PublicKey.X.FillBytes(make([]byte, 32))
	y := priv.PublicKey.Y.FillBytes(make([]byte, 32))
	return testKey{pub: &priv.PublicKey, x: x, y: y}
}

func (k testKey) raw64() []byte {
	return append(append([]byte{}, k.x...), k.y...)
}

func (k testKey) raw65() []byte {
	return append([]byte{0x04}, k.raw64()...)
}

func (k testKey) der(t *testing.T) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(k.pub)
	require.NoError(t, err)
	return der
}

func TestNormalizeAllEncodingsAgree(t *testing.T) {
	key := newTestKey(t)

	tests := []struct {
		name     string
		material Material
		strategy Strategy
	}{
		{
			name: "jwk",
			material: Material{
				JWKX: base64.RawURLEncoding.EncodeToString(key.x),
				JWKY: base64.RawURLEncoding.EncodeToString(key.y),
			},
			strategy: StrategyJWK,
		},
		{
			name: "jwk padded std alphabet",
			material: Material{
				JWKX: base64.StdEncoding.EncodeToString(key.x),
				JWKY: base64.StdEncoding.EncodeToString(key.y),
			},
			strategy: StrategyJWK,
		},
		{name: "split", material: Material{X: key.x, Y: key.y}, strategy: StrategySplit},
		{name: "raw 64", material: Material{Raw: key.raw64()}, strategy: StrategyRaw64},
		{name: "prefixed 65", material: Material{Raw: key.raw65()}, strategy: StrategyPrefixed65},
		{name: "der spki", material: Material{Raw: key.der(t)}, strategy: StrategyASN1Scan},
		{
			name:     "trailing point",
			material: Material{Raw: append([]byte{0xa5, 0x01, 0x02}, key.raw65()...)},
			strategy: StrategyBackwardScan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, strategy, err := Normalize(tt.material)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, strategy)
			assert.Equal(t, 0, pk.X.Cmp(key.pub.X), "x mismatch")
			assert.Equal(t, 0, pk.Y.Cmp(key.pub.Y), "y mismatch")
		})
	}
}

func TestNormalizeJWKWinsOverRaw(t *testing.T) {
	key := newTestKey(t)
	other := newTestKey(t)

	pk, strategy, err := Normalize(Material{
		JWKX: base64.RawURLEncoding.EncodeToString(key.x),
		JWKY: base64.RawURLEncoding.EncodeToString(key.y),
		Raw:  other.raw65(),
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyJWK, strategy)
	assert.Equal(t, 0, pk.X.Cmp(key.pub.X))
}

func TestNormalizeFailures(t *testing.T) {
	tests := []struct {
		name     string
		material Material
	}{
		{name: "empty", material: Material{}},
		{name: "short garbage", material: Material{Raw: []byte{1, 2, 3, 5, 6, 7, 8, 9}}},
		{name: "65 bytes without marker", material: Material{Raw: bytes.Repeat([]byte{0x01}, 65)}},
		{name: "bad jwk", material: Material{JWKX: "!!!", JWKY: "AAAA"}},
		{name: "oversized split", material: Material{X: make([]byte, 33), Y: make([]byte, 32)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Normalize(tt.material)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrKeyFormat), "expected key format error, got %v", err)
		})
	}
}

func TestNormalizeIsPure(t *testing.T) {
	key := newTestKey(t)
	raw := key.der(t)
	snapshot := append([]byte{}, raw...)

	first, _, err := Normalize(Material{Raw: raw})
	require.NoError(t, err)
	second, _, err := Normalize(Material{Raw: raw})
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, snapshot, raw)
}

func TestPublicKeyEncodings(t *testing.T) {
	key := newTestKey(t)
	pk, _, err := Normalize(Material{Raw: key.raw65()})
	require.NoError(t, err)

	assert.Equal(t, key.raw65(), pk.Uncompressed())
	assert.Equal(t, elliptic.MarshalCompressed(elliptic.P256(), key.pub.X, key.pub.Y), pk.Compressed())
	assert.Len(t, pk.Fingerprint(), 2+18)
}

func TestParseCapabilityShapes(t *testing.T) {
	key := newTestKey(t)

	ints := func(b []byte) []int {
		out := make([]int, len(b))
		for i, v := range b {
			out[i] = int(v)
		}
		return out
	}
	indexed := func(b []byte) map[string]int {
		out := make(map[string]int, len(b))
		for i, v := range b {
			out[fmt.Sprint(i)] = int(v)
		}
		return out
	}
	mustJSON := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name string
		blob json.RawMessage
	}{
		{
			name: "base64 der",
			blob: mustJSON(map[string]any{"credentialId": "cred-1", "publicKey": base64.StdEncoding.EncodeToString(key.der(t))}),
		},
		{
			name: "number array",
			blob: mustJSON(map[string]any{"credentialId": "cred-1", "publicKey": ints(key.raw65())}),
		},
		{
			name: "uint8array object",
			blob: mustJSON(map[string]any{"credentialId": "cred-1", "publicKey": indexed(key.raw64())}),
		},
		{
			name: "node buffer",
			blob: mustJSON(map[string]any{"credentialId": "cred-1", "publicKey": map[string]any{"type": "Buffer", "data": ints(key.der(t))}}),
		},
		{
			name: "nested jwk",
			blob: mustJSON(map[string]any{"credentialId": "cred-1", "publicKey": map[string]any{
				"kty": "EC", "crv": "P-256",
				"x": base64.RawURLEncoding.EncodeToString(key.x),
				"y": base64.RawURLEncoding.EncodeToString(key.y),
			}}),
		},
		{
			name: "split arrays",
			blob: mustJSON(map[string]any{"credentialId": "cred-1", "x": ints(key.x), "y": ints(key.y)}),
		},
		{
			name: "stringified blob",
			blob: mustJSON(string(mustJSON(map[string]any{"credentialId": "cred-1", "publicKey": ints(key.raw65())}))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCapability(tt.blob)
			require.NoError(t, err)
			assert.Equal(t, "cred-1", c.CredentialID)

			pk, _, err := c.PublicKey()
			require.NoError(t, err)
			assert.Equal(t, 0, pk.X.Cmp(key.pub.X))
			assert.Equal(t, 0, pk.Y.Cmp(key.pub.Y))
		})
	}
}

func TestParseCapabilityIdentifiers(t *testing.T) {
	blob := json.RawMessage(`{
		"credentialId": [1, 2, 3, 250],
		"userId": "user-42",
		"smartWallet": " 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin ",
		"publicKey": "AQID"
	}`)

	c, err := ParseCapability(blob)
	require.NoError(t, err)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3, 250}), c.CredentialID)
	assert.Equal(t, []byte{1, 2, 3, 250}, c.CredentialIDBytes())
	assert.Equal(t, "user-42", c.UserID)
	assert.Equal(t, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", c.SmartWallet)
}

func TestParseCapabilityRejectsNonObject(t *testing.T) {
	for _, blob := range []json.RawMessage{nil, json.RawMessage(`[1,2,3]`), json.RawMessage(`"not json"`)} {
		_, err := ParseCapability(blob)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrKeyFormat))
	}
}
