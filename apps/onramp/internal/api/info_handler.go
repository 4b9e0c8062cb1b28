package api

import (
	"context"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// ChainReader is the chain access the info endpoint needs.
type ChainReader interface {
	NativeBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// InfoConfig is the static part of GET /api/info.
type InfoConfig struct {
	Network             string
	TokenSymbol         string
	TokenMint           solana.PublicKey
	Decimals            *uint8
	Admin               solana.PublicKey
	DisbursementEnabled bool
	SupportedTokens     []string
}

// InfoHandler handles deployment information API endpoints
type InfoHandler struct {
	responder
	chain ChainReader
	cfg   InfoConfig
}

// NewInfoHandler creates a new InfoHandler
func NewInfoHandler(chain ChainReader, cfg InfoConfig, logger *zap.Logger) *InfoHandler {
	return &InfoHandler{
		responder: responder{logger: logger},
		chain:     chain,
		cfg:       cfg,
	}
}

// GetInfo handles GET /api/info. Chain reads that fail are logged and their
// fields left out.
func (h *InfoHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	response := InfoResponse{
		Network:             h.cfg.Network,
		TokenSymbol:         h.cfg.TokenSymbol,
		Decimals:            h.cfg.Decimals,
		DisbursementEnabled: h.cfg.DisbursementEnabled,
		SupportedTokens:     h.cfg.SupportedTokens,
	}

	if !h.cfg.TokenMint.IsZero() {
		response.TokenMint = h.cfg.TokenMint.String()
		if response.Decimals == nil {
			decimals, err := h.chain.MintDecimals(r.Context(), h.cfg.TokenMint)
			if err != nil {
				h.logger.Warn("Failed to read mint decimals", zap.String("mint", response.TokenMint), zap.Error(err))
			} else {
				response.Decimals = &decimals
			}
		}
	}

	if !h.cfg.Admin.IsZero() {
		response.AdminAddress = h.cfg.Admin.String()
		lamports, err := h.chain.NativeBalance(r.Context(), h.cfg.Admin)
		if err != nil {
			h.logger.Warn("Failed to read admin balance", zap.String("admin", response.AdminAddress), zap.Error(err))
		} else {
			response.AdminLamports = &lamports
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
