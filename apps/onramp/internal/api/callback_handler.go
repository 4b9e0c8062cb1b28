package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"onramp/apps/onramp/internal/settlement"
)

// CallbackHandler receives the payment gateway's success and failure
// notifications.
type CallbackHandler struct {
	responder
	service SettlementService
}

func NewCallbackHandler(service SettlementService, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		responder: responder{logger: logger},
		service:   service,
	}
}

// Success handles POST /api/callbacks/success. Settlement runs inline; a
// deferred or concurrent settlement answers 202 so the caller retries.
func (h *CallbackHandler) Success(w http.ResponseWriter, r *http.Request) {
	reference, ok := h.readReference(w, r)
	if !ok {
		return
	}

	result, err := h.service.HandleSuccess(r.Context(), reference)
	if err != nil {
		h.logger.Warn("Settlement failed", zap.String("reference", reference), zap.Error(err))
		h.writeError(w, err)
		return
	}

	response := SettlementResponse{
		OK:            result.Outcome == settlement.OutcomeSettled,
		Outcome:       string(result.Outcome),
		Reference:     result.Reference,
		Status:        string(result.Status),
		WalletAddress: result.WalletAddress,
		TxSignature:   result.TxSignature,
		Message:       result.Detail,
	}
	if result.CreditedAmount != nil {
		credited := result.CreditedAmount.String()
		response.CreditedAmount = &credited
	}

	status := http.StatusOK
	if result.Outcome != settlement.OutcomeSettled {
		status = http.StatusAccepted
	}
	h.writeJSONResponse(w, status, response)
}

// Failure handles POST /api/callbacks/failure
func (h *CallbackHandler) Failure(w http.ResponseWriter, r *http.Request) {
	reference, ok := h.readReference(w, r)
	if !ok {
		return
	}

	if err := h.service.HandleFailure(r.Context(), reference); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, OKResponse{OK: true})
}

func (h *CallbackHandler) readReference(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return "", false
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_reference", "Reference is required")
		return "", false
	}
	return reference, true
}
