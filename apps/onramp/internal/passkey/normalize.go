package passkey

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"onramp/apps/onramp/internal/apperr"
)

const (
	coordinateSize   = 32
	rawPointSize     = 2 * coordinateSize
	uncompressedSize = rawPointSize + 1

	uncompressedMarker byte = 0x04
	bitStringTag       byte = 0x03
)

// PublicKey is a passkey public key on P-256 expressed as big-endian
// affine coordinates.
type PublicKey struct {
	X *big.Int
	Y *big.Int
}

// Compressed returns the 33-byte SEC1 compressed encoding.
func (k *PublicKey) Compressed() []byte {
	out := make([]byte, 0, coordinateSize+1)
	prefix := byte(0x02)
	if k.Y.Bit(0) == 1 {
		prefix = 0x03
	}
	out = append(out, prefix)
	return append(out, math.PaddedBigBytes(k.X, coordinateSize)...)
}

// Uncompressed returns the 65-byte SEC1 uncompressed encoding.
func (k *PublicKey) Uncompressed() []byte {
	out := make([]byte, 0, uncompressedSize)
	out = append(out, uncompressedMarker)
	out = append(out, math.PaddedBigBytes(k.X, coordinateSize)...)
	return append(out, math.PaddedBigBytes(k.Y, coordinateSize)...)
}

// Fingerprint is a short hex form of the compressed key, safe for logs.
func (k *PublicKey) Fingerprint() string {
	return hexutil.Encode(k.Compressed()[:9])
}

// Material is public-key data pulled out of a capability blob. Any
// combination of fields may be set; Normalize decides which to trust.
type Material struct {
	// JWK-style base64url coordinates.
	JWKX string
	JWKY string
	// Coordinates that were already split into byte arrays.
	X []byte
	Y []byte
	// Raw key buffer in an unknown encoding.
	Raw []byte
}

// Strategy names a decode path, reported for diagnostics.
type Strategy string

const (
	StrategyJWK          Strategy = "jwk"
	StrategySplit        Strategy = "split"
	StrategyRaw64        Strategy = "raw64"
	StrategyPrefixed65   Strategy = "prefixed65"
	StrategyASN1Scan     Strategy = "asn1_scan"
	StrategyBackwardScan Strategy = "backward_scan"
)

// decodeStrategy reports matched=false when the material does not have the
// shape it handles. An error means the shape matched but the data is bad.
type decodeStrategy struct {
	name   Strategy
	decode func(m Material) (x, y []byte, matched bool, err error)
}

var strategies = []decodeStrategy{
	{StrategyJWK, decodeJWK},
	{StrategySplit, decodeSplit},
	{StrategyRaw64, decodeRaw64},
	{StrategyPrefixed65, decodePrefixed65},
	{StrategyASN1Scan, decodeASN1Scan},
	{StrategyBackwardScan, decodeBackwardScan},
}

// Normalize converts key material into canonical coordinates, trying each
// strategy in order. It never modifies m.
func Normalize(m Material) (*PublicKey, Strategy, error) {
	for _, s := range strategies {
		x, y, matched, err := s.decode(m)
		if err != nil {
			return nil, s.name, fmt.Errorf("%w: %s: %v", apperr.ErrKeyFormat, s.name, err)
		}
		if !matched {
			continue
		}
		return &PublicKey{
			X: new(big.Int).SetBytes(x),
			Y: new(big.Int).SetBytes(y),
		}, s.name, nil
	}

	return nil, "", fmt.Errorf("%w: no decode strategy matched %d byte key", apperr.ErrKeyFormat, len(m.Raw))
}

func decodeJWK(m Material) ([]byte, []byte, bool, error) {
	if m.JWKX == "" || m.JWKY == "" {
		return nil, nil, false, nil
	}
	x, err := decodeBase64URL(m.JWKX)
	if err != nil {
		return nil, nil, true, fmt.Errorf("invalid x coordinate: %w", err)
	}
	y, err := decodeBase64URL(m.JWKY)
	if err != nil {
		return nil, nil, true, fmt.Errorf("invalid y coordinate: %w", err)
	}
	if err := checkCoordinates(x, y); err != nil {
		return nil, nil, true, err
	}
	return x, y, true, nil
}

func decodeSplit(m Material) ([]byte, []byte, bool, error) {
	if len(m.X) == 0 || len(m.Y) == 0 {
		return nil, nil, false, nil
	}
	if err := checkCoordinates(m.X, m.Y); err != nil {
		return nil, nil, true, err
	}
	return m.X, m.Y, true, nil
}

func decodeRaw64(m Material) ([]byte, []byte, bool, error) {
	if len(m.Raw) != rawPointSize {
		return nil, nil, false, nil
	}
	return m.Raw[:coordinateSize], m.Raw[coordinateSize:], true, nil
}

func decodePrefixed65(m Material) ([]byte, []byte, bool, error) {
	if len(m.Raw) != uncompressedSize || m.Raw[0] != uncompressedMarker {
		return nil, nil, false, nil
	}
	point := m.Raw[1:]
	return point[:coordinateSize], point[coordinateSize:], true, nil
}

// decodeASN1Scan looks for the SubjectPublicKeyInfo BIT STRING holding the
// point: tag, length, zero unused-bits byte, 0x04, then X||Y.
func decodeASN1Scan(m Material) ([]byte, []byte, bool, error) {
	b := m.Raw
	for i := 0; i+4+rawPointSize <= len(b); i++ {
		if b[i] != bitStringTag || b[i+2] != 0x00 || b[i+3] != uncompressedMarker {
			continue
		}
		point := b[i+4 : i+4+rawPointSize]
		return point[:coordinateSize], point[coordinateSize:], true, nil
	}
	return nil, nil, false, nil
}

func decodeBackwardScan(m Material) ([]byte, []byte, bool, error) {
	b := m.Raw
	for i := len(b) - uncompressedSize; i >= 0; i-- {
		if b[i] != uncompressedMarker {
			continue
		}
		point := b[i+1 : i+uncompressedSize]
		return point[:coordinateSize], point[coordinateSize:], true, nil
	}
	return nil, nil, false, nil
}

func checkCoordinates(x, y []byte) error {
	if len(x) > coordinateSize || len(y) > coordinateSize {
		return fmt.Errorf("coordinate longer than %d bytes (x=%d, y=%d)", coordinateSize, len(x), len(y))
	}
	return nil
}

// decodeBase64URL accepts base64url or standard base64, with or without
// padding.
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.TrimRight(s, "=")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

// EncodeIdentifier renders an opaque identifier as unpadded base64url.
func EncodeIdentifier(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Equal reports whether both keys hold the same point.
func (k *PublicKey) Equal(other *PublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return bytes.Equal(k.Uncompressed(), other.Uncompressed())
}
