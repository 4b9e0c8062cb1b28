package apperr

import (
	"errors"
	"net/http"
)

// Error kinds shared by every settlement component. Wrap them with
// fmt.Errorf("%w: ...", apperr.ErrX) and test with errors.Is.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrKeyFormat           = errors.New("key format error")
	ErrChain               = errors.New("chain error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrConflict            = errors.New("conflict")
	ErrGateway             = errors.New("payment gateway error")
)

// Code returns the short machine-readable code used in API error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrKeyFormat):
		return "key_format_error"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrChain):
		return "chain_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps an error kind onto the status code returned by the API.
// Settlement-step failures are all 400; the order stays pending.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrKeyFormat),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrChain),
		errors.Is(err, ErrInsufficientBalance):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
