package passkey

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"onramp/apps/onramp/internal/apperr"
)

// Capability is the parsed view of a client-supplied passkey blob.
type Capability struct {
	CredentialID string
	UserID       string
	SmartWallet  string
	Material     Material
}

var (
	credentialIDKeys = []string{"credentialId", "credentialID", "credential_id", "id"}
	userIDKeys       = []string{"userId", "userID", "user_id", "userHandle"}
	publicKeyKeys    = []string{"publicKey", "publickey", "public_key", "pubkey", "key"}
	smartWalletKeys  = []string{"smartWallet", "smartWalletAddress", "smart_wallet", "walletAddress", "wallet_address"}
)

// ParseCapability reads a stored passkey blob. The blob may also arrive as
// a JSON string wrapping the object.
func ParseCapability(blob json.RawMessage) (*Capability, error) {
	fields, err := objectFields(blob)
	if err != nil {
		return nil, err
	}

	c := &Capability{
		CredentialID: identifier(firstField(fields, credentialIDKeys)),
		UserID:       identifier(firstField(fields, userIDKeys)),
	}
	if wallet := firstField(fields, smartWalletKeys); wallet != nil {
		var s string
		if json.Unmarshal(wallet, &s) == nil {
			c.SmartWallet = strings.TrimSpace(s)
		}
	}

	// Coordinates may sit at the top level or inside publicKey.
	readCoordinates(fields, &c.Material)

	if pk := firstField(fields, publicKeyKeys); pk != nil {
		if nested, err := objectFields(pk); err == nil && hasCoordinates(nested) {
			readCoordinates(nested, &c.Material)
		} else if raw, ok := decodeBytes(pk); ok {
			c.Material.Raw = raw
		}
	}

	return c, nil
}

// PublicKey normalizes the capability's key material.
func (c *Capability) PublicKey() (*PublicKey, Strategy, error) {
	return Normalize(c.Material)
}

// CredentialIDBytes returns the credential identifier as raw bytes. Most
// authenticators hand out base64url ids; anything else is used verbatim.
func (c *Capability) CredentialIDBytes() []byte {
	if b, err := decodeBase64URL(c.CredentialID); err == nil && len(b) > 0 {
		return b
	}
	return []byte(c.CredentialID)
}

func objectFields(blob json.RawMessage) (map[string]json.RawMessage, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty passkey data", apperr.ErrKeyFormat)
	}

	var wrapped string
	if err := json.Unmarshal(blob, &wrapped); err == nil {
		blob = json.RawMessage(wrapped)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(blob, &fields); err != nil {
		return nil, fmt.Errorf("%w: passkey data is not an object: %v", apperr.ErrKeyFormat, err)
	}
	return fields, nil
}

func hasCoordinates(fields map[string]json.RawMessage) bool {
	_, hasX := fields["x"]
	_, hasY := fields["y"]
	return hasX && hasY
}

func readCoordinates(fields map[string]json.RawMessage, m *Material) {
	rawX, okX := fields["x"]
	rawY, okY := fields["y"]
	if !okX || !okY {
		return
	}

	var x, y string
	if json.Unmarshal(rawX, &x) == nil && json.Unmarshal(rawY, &y) == nil {
		m.JWKX, m.JWKY = x, y
		return
	}

	bx, okX := decodeBytes(rawX)
	by, okY := decodeBytes(rawY)
	if okX && okY {
		m.X, m.Y = bx, by
	}
}

func firstField(fields map[string]json.RawMessage, keys []string) json.RawMessage {
	for _, k := range keys {
		if v, ok := fields[k]; ok && string(v) != "null" {
			return v
		}
	}
	return nil
}

// identifier passes strings through and base64url-encodes byte data.
func identifier(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if b, ok := decodeBytes(raw); ok {
		return EncodeIdentifier(b)
	}
	return ""
}

// decodeBytes coerces the byte encodings seen in client payloads: base64 or
// base64url strings, number arrays, Node Buffer objects and index-keyed
// objects produced by serializing a Uint8Array.
func decodeBytes(raw json.RawMessage) ([]byte, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b, err := decodeBase64URL(s)
		if err != nil || len(b) == 0 {
			return nil, false
		}
		return b, true
	}

	var nums []int
	if err := json.Unmarshal(raw, &nums); err == nil {
		return bytesFromInts(nums)
	}

	var buffer struct {
		Type string `json:"type"`
		Data []int  `json:"data"`
	}
	if err := json.Unmarshal(raw, &buffer); err == nil && len(buffer.Data) > 0 {
		return bytesFromInts(buffer.Data)
	}

	var indexed map[string]int
	if err := json.Unmarshal(raw, &indexed); err == nil && len(indexed) > 0 {
		return bytesFromIndexed(indexed)
	}

	return nil, false
}

func bytesFromInts(nums []int) ([]byte, bool) {
	if len(nums) == 0 {
		return nil, false
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, false
		}
		out[i] = byte(n)
	}
	return out, true
}

func bytesFromIndexed(indexed map[string]int) ([]byte, bool) {
	byIndex := make(map[int]int, len(indexed))
	idx := make([]int, 0, len(indexed))
	for k, v := range indexed {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, false
		}
		byIndex[i] = v
		idx = append(idx, i)
	}
	sort.Ints(idx)

	nums := make([]int, len(idx))
	for pos, i := range idx {
		if i != pos {
			return nil, false
		}
		nums[pos] = byIndex[i]
	}
	return bytesFromInts(nums)
}
