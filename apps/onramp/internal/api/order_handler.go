package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/balance"
	"onramp/apps/onramp/internal/model"
	"onramp/apps/onramp/internal/settlement"
)

// SettlementService is the order lifecycle the handlers drive.
type SettlementService interface {
	CreateOrder(ctx context.Context, req settlement.CreateOrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, reference string) (*model.Order, error)
	HandleSuccess(ctx context.Context, reference string) (*settlement.Result, error)
	HandleFailure(ctx context.Context, reference string) error
	Cancel(ctx context.Context, reference string) error
	Balance(ctx context.Context, walletAddress string) (*balance.WalletBalance, error)
}

// OrderHandler handles order-related API endpoints
type OrderHandler struct {
	responder
	service SettlementService
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(service SettlementService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		responder: responder{logger: logger},
		service:   service,
	}
}

// CreateOrder handles POST /api/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), settlement.CreateOrderRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Token:       req.Token,
		LineItems:   req.LineItems,
		PasskeyData: req.PasskeyData,
	})
	if err != nil {
		h.logger.Warn("Failed to create order", zap.Error(err))
		h.writeError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, CreateOrderResponse{
		OrderID:     order.OrderID,
		Reference:   order.Reference,
		CheckoutURL: order.CheckoutURL,
		Status:      string(order.Status),
	})
}

// GetOrder handles GET /api/orders/{reference}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	order, err := h.service.GetOrder(r.Context(), reference)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

// CancelOrder handles POST /api/orders/{reference}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	if err := h.service.Cancel(r.Context(), reference); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, OKResponse{OK: true})
}

func toOrderResponse(order *model.Order) OrderResponse {
	response := OrderResponse{
		OrderID:       order.OrderID,
		Reference:     order.Reference,
		Provider:      order.Provider,
		Amount:        order.Amount.String(),
		Currency:      order.Currency,
		Token:         order.Token,
		Status:        string(order.Status),
		CheckoutURL:   order.CheckoutURL,
		WalletAddress: order.WalletAddress,
		TxSignature:   order.TxSignature,
		LineItems:     order.LineItems,
		ExpiresAt:     order.ExpiresAt,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if order.CreditedAmount != nil {
		credited := order.CreditedAmount.String()
		response.CreditedAmount = &credited
	}
	return response
}
