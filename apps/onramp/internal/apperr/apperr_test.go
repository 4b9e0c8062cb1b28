package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		code     string
	}{
		{"not found", fmt.Errorf("%w: order abc", ErrNotFound), http.StatusNotFound, "not_found"},
		{"conflict", fmt.Errorf("%w: order is failed", ErrConflict), http.StatusConflict, "conflict"},
		{"gateway", fmt.Errorf("%w: timeout", ErrGateway), http.StatusBadGateway, "gateway_error"},
		{"validation", fmt.Errorf("%w: amount", ErrValidation), http.StatusBadRequest, "validation_error"},
		{"chain", fmt.Errorf("provision: %w", fmt.Errorf("%w: rpc down", ErrChain)), http.StatusBadRequest, "chain_error"},
		{"insufficient", fmt.Errorf("%w: lamports", ErrInsufficientBalance), http.StatusBadRequest, "insufficient_balance"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}
