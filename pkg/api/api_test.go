package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"perpd/pkg/auth"
	"perpd/pkg/book"
	"perpd/pkg/engine"
	"perpd/pkg/events"
	"perpd/pkg/storage"
)

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users, err := storage.OpenUserStore(filepath.Join(t.TempDir(), "users"))
	if err != nil {
		t.Fatalf("open user store: %v", err)
	}
	t.Cleanup(func() { users.Close() })

	tokens := auth.NewTokenIssuer("test-secret", time.Hour, nil)
	authSvc := auth.NewService(users, tokens, nil)

	bus := events.NewRing(256)
	eng := engine.New(book.New(nil), bus, nil, nil, engine.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(cancel)

	s := NewServer(eng, authSvc, tokens, bus, []string{"*"}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, client: srv.Client()}
}

func (e *testEnv) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// signup registers a user and returns a bearer token for them.
func (e *testEnv) signup(t *testing.T, email string) string {
	t.Helper()
	resp := e.post(t, "/api/v1/auth/signup", "", SignupRequest{Email: email, Password: "hunter22"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.post(t, "/api/v1/auth/signin", "", SigninRequest{Email: email, Password: "hunter22"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, want 200", resp.StatusCode)
	}
	var signin SigninResponse
	decodeInto(t, resp, &signin)
	if signin.Token == "" {
		t.Fatal("signin returned empty token")
	}
	return signin.Token
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice@example.com")

	resp := env.post(t, "/api/v1/auth/signup", "", SignupRequest{Email: "alice@example.com", Password: "other"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSigninWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice@example.com")

	resp := env.post(t, "/api/v1/auth/signin", "", SigninRequest{Email: "alice@example.com", Password: "wrong"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPlaceOrderRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/orders", "", PlaceOrderRequest{
		Type: "limit", Side: "buy", Quantity: "1", Price: "100", Leverage: "10",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPlaceLimitOrder(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice@example.com")

	resp := env.post(t, "/api/v1/orders", token, PlaceOrderRequest{
		Type: "limit", Side: "buy", Quantity: "5", Price: "100", Leverage: "10",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var placed PlaceOrderResponse
	decodeInto(t, resp, &placed)
	if placed.Status != "New" {
		t.Errorf("status = %q, want New", placed.Status)
	}
	if placed.Remaining != "5" {
		t.Errorf("remaining = %q, want 5", placed.Remaining)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice@example.com")

	cases := []struct {
		name string
		req  PlaceOrderRequest
	}{
		{"limit without price", PlaceOrderRequest{Type: "limit", Side: "buy", Quantity: "1", Leverage: "10"}},
		{"limit zero price", PlaceOrderRequest{Type: "limit", Side: "buy", Quantity: "1", Price: "0", Leverage: "10"}},
		{"market with price", PlaceOrderRequest{Type: "market", Side: "sell", Quantity: "1", Price: "100", Leverage: "10"}},
		{"unknown side", PlaceOrderRequest{Type: "limit", Side: "hold", Quantity: "1", Price: "100", Leverage: "10"}},
		{"unknown type", PlaceOrderRequest{Type: "stop", Side: "buy", Quantity: "1", Price: "100", Leverage: "10"}},
		{"zero quantity", PlaceOrderRequest{Type: "limit", Side: "buy", Quantity: "0", Price: "100", Leverage: "10"}},
		{"excessive leverage", PlaceOrderRequest{Type: "limit", Side: "buy", Quantity: "1", Price: "100", Leverage: "200"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.post(t, "/api/v1/orders", token, tc.req)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestMarketOrderFillsRestingLimit(t *testing.T) {
	env := newTestEnv(t)
	maker := env.signup(t, "maker@example.com")
	taker := env.signup(t, "taker@example.com")

	resp := env.post(t, "/api/v1/orders", maker, PlaceOrderRequest{
		Type: "limit", Side: "sell", Quantity: "3", Price: "100", Leverage: "5",
	})
	resp.Body.Close()

	resp = env.post(t, "/api/v1/orders", taker, PlaceOrderRequest{
		Type: "market", Side: "buy", Quantity: "3", Leverage: "5",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var placed PlaceOrderResponse
	decodeInto(t, resp, &placed)
	if placed.Status != "FullyFilled" {
		t.Errorf("status = %q, want FullyFilled", placed.Status)
	}
	if placed.Filled != "3" {
		t.Errorf("filled = %q, want 3", placed.Filled)
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com")
	mallory := env.signup(t, "mallory@example.com")

	resp := env.post(t, "/api/v1/orders", alice, PlaceOrderRequest{
		Type: "limit", Side: "buy", Quantity: "2", Price: "99", Leverage: "10",
	})
	var placed PlaceOrderResponse
	decodeInto(t, resp, &placed)

	// Someone else's token cannot cancel it.
	resp = env.post(t, "/api/v1/orders/cancel", mallory, CancelOrderRequest{OrderID: placed.OrderID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign cancel status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.post(t, "/api/v1/orders/cancel", alice, CancelOrderRequest{OrderID: placed.OrderID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	var cancelled CancelOrderResponse
	decodeInto(t, resp, &cancelled)
	if cancelled.Status != "Cancelled" {
		t.Errorf("status = %q, want Cancelled", cancelled.Status)
	}

	// Already gone.
	resp = env.post(t, "/api/v1/orders/cancel", alice, CancelOrderRequest{OrderID: placed.OrderID})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestOrderbookSnapshot(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice@example.com")

	for _, req := range []PlaceOrderRequest{
		{Type: "limit", Side: "buy", Quantity: "1", Price: "99", Leverage: "10"},
		{Type: "limit", Side: "buy", Quantity: "2", Price: "98", Leverage: "10"},
		{Type: "limit", Side: "sell", Quantity: "4", Price: "101", Leverage: "10"},
	} {
		resp := env.post(t, "/api/v1/orders", token, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("seed order status = %d, want 200", resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := env.client.Get(env.srv.URL + "/api/v1/orderbook")
	if err != nil {
		t.Fatalf("GET /api/v1/orderbook: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var snap OrderbookSnapshot
	decodeInto(t, resp, &snap)

	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("depth = %d/%d bids/asks, want 2/1", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != "99" {
		t.Errorf("best bid = %q, want 99", snap.Bids[0].Price)
	}
	if snap.Asks[0].Quantity != "4" {
		t.Errorf("ask quantity = %q, want 4", snap.Asks[0].Quantity)
	}
}
