package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"
)

const (
	// Test server configuration
	DefaultBaseURL = "http://localhost:8080"

	// TestSmartWallet is bound through passkey data so settlement never
	// derives a program address.
	TestSmartWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	// Test order parameters
	TestAmount   = "10.5"
	TestCurrency = "USD"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// baseURL is ONRAMP_BASE_URL or the local default.
func baseURL() string {
	if url := os.Getenv("ONRAMP_BASE_URL"); url != "" {
		return url
	}
	return DefaultBaseURL
}

// requireServer skips the test when no server answers the health check.
func requireServer(t *testing.T) {
	t.Helper()
	resp, err := httpClient.Get(baseURL() + "/api/health")
	if err != nil {
		t.Skipf("onramp server not reachable at %s: %v", baseURL(), err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("onramp server at %s is unhealthy: %d", baseURL(), resp.StatusCode)
	}
}

// testPasskeyData is a stored passkey blob naming TestSmartWallet.
func testPasskeyData() json.RawMessage {
	return json.RawMessage(`{"credentialId":"aW50ZWdyYXRpb24tdGVzdA","smartWallet":"` + TestSmartWallet + `"}`)
}

func postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	reqBody, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	resp, err := httpClient.Post(baseURL()+path, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		t.Fatalf("Failed to make POST request: %v", err)
	}
	return resp
}

func getJSON(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := httpClient.Get(baseURL() + path)
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}
