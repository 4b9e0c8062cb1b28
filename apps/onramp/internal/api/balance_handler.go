package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// BalanceHandler handles balance-related API endpoints
type BalanceHandler struct {
	responder
	service SettlementService
}

// NewBalanceHandler creates a new BalanceHandler
func NewBalanceHandler(service SettlementService, logger *zap.Logger) *BalanceHandler {
	return &BalanceHandler{
		responder: responder{logger: logger},
		service:   service,
	}
}

// GetBalance handles GET /api/balance/{wallet_address}. Balances are the
// credited amounts of the wallet's successful orders, not on-chain reads.
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	walletAddress := mux.Vars(r)["wallet_address"]

	walletBalance, err := h.service.Balance(r.Context(), walletAddress)
	if err != nil {
		h.writeError(w, err)
		return
	}

	balances := make(map[string]string, len(walletBalance.Balances))
	for symbol, amount := range walletBalance.Balances {
		balances[symbol] = amount.String()
	}

	h.writeJSONResponse(w, http.StatusOK, BalanceResponse{
		WalletAddress: walletBalance.WalletAddress,
		Balances:      balances,
		TotalOrders:   walletBalance.TotalOrders,
	})
}
