package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryTransport is a lightweight simulation of the Plaid API.
// Implements the endpoints txcache uses, sufficient for unit testing cache logic.
// Safe for concurrent use.
type InMemoryTransport struct {
	mu           sync.Mutex
	transactions map[string][]map[string]interface{}
	accounts     map[string][]map[string]interface{}
	failures     map[string]error
	requestLog   []RequestLogEntry

	// Delay is slept on every request, outside the lock, so concurrent
	// callers overlap.
	Delay       time.Duration
	inFlight    int
	maxInFlight int
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Endpoint string
	Payload  map[string]interface{}
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		transactions: make(map[string][]map[string]interface{}),
		accounts:     make(map[string][]map[string]interface{}),
		failures:     make(map[string]error),
	}
}

// Seed adds transactions reachable through the given access token.
func (t *InMemoryTransport) Seed(token string, txns ...map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transactions[token] = append(t.transactions[token], txns...)
}

// SeedAccounts adds accounts reachable through the given access token.
func (t *InMemoryTransport) SeedAccounts(token string, accounts ...map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accounts[token] = append(t.accounts[token], accounts...)
}

// FailToken makes every request using token return err.
func (t *InMemoryTransport) FailToken(token string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[token] = err
}

// RequestsMade returns the number of requests made to this transport,
// optionally restricted to one endpoint.
func (t *InMemoryTransport) RequestsMade(endpoint ...string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(endpoint) == 0 {
		return len(t.requestLog)
	}
	n := 0
	for _, e := range t.requestLog {
		if e.Endpoint == endpoint[0] {
			n++
		}
	}
	return n
}

// RequestLog returns a copy of the recorded requests.
func (t *InMemoryTransport) RequestLog() []RequestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RequestLogEntry, len(t.requestLog))
	copy(out, t.requestLog)
	return out
}

// MaxInFlight returns the highest number of overlapping requests observed.
func (t *InMemoryTransport) MaxInFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInFlight
}

// Reset clears all stored data and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transactions = make(map[string][]map[string]interface{})
	t.accounts = make(map[string][]map[string]interface{})
	t.failures = make(map[string]error)
	t.requestLog = nil
	t.maxInFlight = 0
}

// Request simulates a low-level Plaid API request.
func (t *InMemoryTransport) Request(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, error) {
	t.mu.Lock()
	// Track the call for assertions in unit tests
	t.requestLog = append(t.requestLog, RequestLogEntry{Endpoint: endpoint, Payload: copyPayload(payload)})
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if t.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.Delay):
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	token, _ := payload["access_token"].(string)
	if err, ok := t.failures[token]; ok {
		return nil, err
	}

	var resp map[string]interface{}

	switch endpoint {
	case "transactions/get":
		resp = t.transactionsGet(token, payload)
	case "accounts/get":
		resp = map[string]interface{}{
			"accounts":   nonNil(t.accounts[token]),
			"request_id": "req-accounts",
		}
	case "link/token/create":
		userID := ""
		if user, ok := payload["user"].(map[string]interface{}); ok {
			userID, _ = user["client_user_id"].(string)
		}
		resp = map[string]interface{}{
			"link_token": "link-sandbox-" + userID,
			"expiration": "2024-08-21T00:00:00Z",
			"request_id": "req-link",
		}
	case "item/public_token/exchange":
		public, _ := payload["public_token"].(string)
		resp = map[string]interface{}{
			"access_token": "access-sandbox-" + public,
			"item_id":      "item-" + public,
			"request_id":   "req-exchange",
		}
	default:
		return nil, &APIError{StatusCode: 404, ErrorType: "INVALID_REQUEST", ErrorCode: "NOT_FOUND", ErrorMessage: endpoint}
	}

	return json.Marshal(resp)
}

func (t *InMemoryTransport) transactionsGet(token string, payload map[string]interface{}) map[string]interface{} {
	start, _ := payload["start_date"].(string)
	end, _ := payload["end_date"].(string)

	subset := make([]map[string]interface{}, 0)
	for _, txn := range t.transactions[token] {
		d, _ := txn["date"].(string)
		if (start == "" || d >= start) && (end == "" || d <= end) {
			subset = append(subset, txn)
		}
	}

	// Newest first, like Plaid
	sort.SliceStable(subset, func(i, j int) bool {
		di, _ := subset[i]["date"].(string)
		dj, _ := subset[j]["date"].(string)
		return di > dj
	})

	count, offset := 100, 0
	if opts, ok := payload["options"].(map[string]interface{}); ok {
		if c := toInt(opts["count"]); c > 0 {
			count = c
		}
		offset = toInt(opts["offset"])
	}

	if offset > len(subset) {
		offset = len(subset)
	}
	endIdx := offset + count
	if endIdx > len(subset) {
		endIdx = len(subset)
	}

	return map[string]interface{}{
		"accounts":           nonNil(t.accounts[token]),
		"transactions":       subset[offset:endIdx],
		"total_transactions": len(subset),
		"request_id":         fmt.Sprintf("req-txns-%d", offset),
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func nonNil(items []map[string]interface{}) []map[string]interface{} {
	if items == nil {
		return []map[string]interface{}{}
	}
	return items
}

// copyPayload creates a shallow copy of the payload map.
func copyPayload(payload map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		result[k] = v
	}
	return result
}

// MockTransport is a fixture-driven fake suitable for deterministic unit tests.
// Each call to an endpoint returns the next fixture for it; the last one repeats.
type MockTransport struct {
	mu         sync.Mutex
	Fixtures   map[string][]string
	Errors     map[string]error
	calls      map[string]int
	RequestLog []RequestLogEntry
}

// NewMockTransport creates a new mock transport with the given fixtures.
func NewMockTransport(fixtures map[string][]string) *MockTransport {
	return &MockTransport{
		Fixtures: fixtures,
		Errors:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Request returns the next fixture for endpoint.
func (t *MockTransport) Request(_ context.Context, endpoint string, payload map[string]interface{}) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.RequestLog = append(t.RequestLog, RequestLogEntry{Endpoint: endpoint, Payload: copyPayload(payload)})

	if err, ok := t.Errors[endpoint]; ok {
		return nil, err
	}

	pages := t.Fixtures[endpoint]
	if len(pages) == 0 {
		return []byte(`{}`), nil
	}

	idx := t.calls[endpoint]
	t.calls[endpoint]++
	if idx >= len(pages) {
		idx = len(pages) - 1
	}
	return []byte(pages[idx]), nil
}
