package gateway

import (
	"sort"
	"strings"
)

// knownURLPaths are the response locations checkout providers commonly use,
// tried in order before falling back to a full tree walk.
var knownURLPaths = [][]string{
	{"checkout_url"},
	{"checkoutUrl"},
	{"hosted_url"},
	{"hostedUrl"},
	{"payment_url"},
	{"paymentUrl"},
	{"url"},
	{"data", "checkout_url"},
	{"data", "checkoutUrl"},
	{"data", "url"},
	{"data", "attributes", "url"},
	{"session", "url"},
	{"checkout", "url"},
	{"links", "checkout"},
}

var (
	preferHints  = []string{"checkout", "session", "hosted", "pay"}
	excludeHints = []string{"thank", "receipt", "success"}
)

// ExtractCheckoutURL finds the customer checkout link in a decoded JSON
// response. It returns "" when the response holds no usable link. Return
// pages such as receipts are never picked, even at a known path.
func ExtractCheckoutURL(body any) string {
	for _, path := range knownURLPaths {
		s, ok := lookup(body, path).(string)
		if !ok || !isHTTPURL(s) || containsAny(strings.ToLower(s), excludeHints) {
			continue
		}
		return strings.TrimSpace(s)
	}

	var candidates []string
	collectURLs(body, &candidates)
	return pickCandidate(candidates)
}

func lookup(node any, path []string) any {
	for _, key := range path {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = obj[key]
	}
	return node
}

// collectURLs walks the tree in key order so the result is stable.
func collectURLs(node any, out *[]string) {
	switch v := node.(type) {
	case string:
		if isHTTPURL(v) {
			*out = append(*out, strings.TrimSpace(v))
		}
	case []any:
		for _, item := range v {
			collectURLs(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			collectURLs(v[key], out)
		}
	}
}

func pickCandidate(candidates []string) string {
	var fallback string
	for _, candidate := range candidates {
		lower := strings.ToLower(candidate)
		if containsAny(lower, excludeHints) {
			continue
		}
		if containsAny(lower, preferHints) {
			return candidate
		}
		if fallback == "" {
			fallback = candidate
		}
	}
	return fallback
}

func containsAny(s string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(s, hint) {
			return true
		}
	}
	return false
}

func isHTTPURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
