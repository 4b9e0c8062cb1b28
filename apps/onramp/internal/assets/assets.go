package assets

import (
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Asset is a token an order may be denominated in.
type Asset struct {
	Symbol string           `json:"symbol"`
	Name   string           `json:"name"`
	Mint   solana.PublicKey `json:"mint"`
	// Decimals is nil when the mint's on-chain value should be used.
	Decimals *uint8 `json:"decimals,omitempty"`
}

// Disbursable reports whether settlement can transfer this asset on chain.
func (a *Asset) Disbursable() bool {
	return !a.Mint.IsZero()
}

// AssetRegistry holds all supported assets
type AssetRegistry struct {
	assets map[string]*Asset
	byMint map[solana.PublicKey]*Asset
}

// NewAssetRegistry builds a registry from the configured assets. Symbols
// are stored upper-cased.
func NewAssetRegistry(supported []*Asset) *AssetRegistry {
	registry := &AssetRegistry{
		assets: make(map[string]*Asset),
		byMint: make(map[solana.PublicKey]*Asset),
	}

	for _, asset := range supported {
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if asset.Symbol == "" {
			continue
		}
		registry.assets[asset.Symbol] = asset
		if asset.Disbursable() {
			registry.byMint[asset.Mint] = asset
		}
	}

	return registry
}

// GetBySymbol returns an asset by its symbol (case-insensitive)
func (r *AssetRegistry) GetBySymbol(symbol string) (*Asset, bool) {
	asset, exists := r.assets[strings.ToUpper(strings.TrimSpace(symbol))]
	return asset, exists
}

func (r *AssetRegistry) GetByMint(mint solana.PublicKey) (*Asset, bool) {
	asset, exists := r.byMint[mint]
	return asset, exists
}

// IsSupported checks if a symbol is supported
func (r *AssetRegistry) IsSupported(symbol string) bool {
	_, exists := r.GetBySymbol(symbol)
	return exists
}

// GetSupportedSymbols returns all supported asset symbols, sorted.
func (r *AssetRegistry) GetSupportedSymbols() []string {
	symbols := make([]string, 0, len(r.assets))
	for symbol := range r.assets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// GetAllAsArray returns all assets ordered by symbol.
func (r *AssetRegistry) GetAllAsArray() []*Asset {
	assets := make([]*Asset, 0, len(r.assets))
	for _, symbol := range r.GetSupportedSymbols() {
		assets = append(assets, r.assets[symbol])
	}
	return assets
}
