package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"onramp/apps/onramp/internal/apperr"
)

// CheckoutRequest is the order summary sent to the payment provider.
type CheckoutRequest struct {
	Reference string          `json:"reference"`
	Amount    string          `json:"amount"`
	Currency  string          `json:"currency"`
	Token     string          `json:"token"`
	LineItems json.RawMessage `json:"line_items,omitempty"`
}

type Checkout struct {
	Provider string
	URL      string
}

// Client creates hosted checkout sessions.
type Client interface {
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*Checkout, error)
}

type Config struct {
	BaseURL      string
	APIKey       string
	CheckoutPath string
	Provider     string
	Timeout      time.Duration
}

// HTTPClient implements Client against a JSON checkout API.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *HTTPClient) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*Checkout, error) {
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: payment gateway URL is not configured", apperr.ErrConfiguration)
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.CheckoutPath, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: checkout request failed: %v", apperr.ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read checkout response: %v", apperr.ErrGateway, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: checkout request failed: status=%d body=%s", apperr.ErrGateway, resp.StatusCode, truncate(string(raw), 256))
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: checkout response is not JSON: %v", apperr.ErrGateway, err)
	}

	url := ExtractCheckoutURL(body)
	if url == "" {
		return nil, fmt.Errorf("%w: checkout response contains no checkout URL", apperr.ErrGateway)
	}

	c.logger.Info("Created checkout session",
		zap.String("reference", req.Reference),
		zap.String("provider", c.cfg.Provider),
		zap.String("checkout_url", url))

	return &Checkout{Provider: c.cfg.Provider, URL: url}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
