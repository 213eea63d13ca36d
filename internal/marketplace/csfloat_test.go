package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

func testClient(t *testing.T, baseURL string) *CSFloat {
	t.Helper()
	client, err := NewCSFloat(Options{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		Timeout:   time.Second,
		UserAgent: "test",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCSFloat: %v", err)
	}
	return client
}

func simpleOrder() storage.BuyOrder {
	return storage.BuyOrder{
		OrderID:        "ord-1",
		MarketHashName: "AK-47 | Redline (Field-Tested)",
		PriceCents:     500,
		Quantity:       1,
		Kind:           storage.OrderKindSimple,
	}
}

func advancedOrder(floatMin, floatMax float64) storage.BuyOrder {
	defIndex := 7
	paintIndex := 282
	order := simpleOrder()
	order.Kind = storage.OrderKindAdvanced
	order.DefIndex = &defIndex
	order.PaintIndex = &paintIndex
	order.FloatMin = &floatMin
	order.FloatMax = &floatMax
	return order
}

func TestCompetitorPriceSimple(t *testing.T) {
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		switch {
		case r.URL.Path == "/listings":
			if got := r.URL.Query().Get("market_hash_name"); got != "AK-47 | Redline (Field-Tested)" {
				t.Errorf("market_hash_name = %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"listings": []map[string]any{{"id": "L1", "price": 900}},
			})
		case strings.HasSuffix(r.URL.Path, "/buy-orders"):
			if got := r.URL.Query().Get("limit"); got != "50" {
				t.Errorf("limit = %q, want 50", got)
			}
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "b1", "price": 520, "qty": 1},
				{"id": "b2", "price": 500, "qty": 1},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	price, err := client.CompetitorPrice(context.Background(), simpleOrder())
	if err != nil {
		t.Fatalf("CompetitorPrice: %v", err)
	}
	if price != 520 {
		t.Errorf("price = %d, want 520", price)
	}
	if authHeader != "test-key" {
		t.Errorf("authorization header = %q, want api key", authHeader)
	}
}

func TestCompetitorPriceAdvancedFiltersByFloatWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/listings":
			q := r.URL.Query()
			if q.Get("def_index") != "7" || q.Get("paint_index") != "282" {
				t.Errorf("listing query = %v", q)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"listings": []map[string]any{{"id": "L1", "price": 900}},
			})
		case strings.HasSuffix(r.URL.Path, "/buy-orders"):
			if got := r.URL.Query().Get("limit"); got != "100" {
				t.Errorf("limit = %q, want 100", got)
			}
			_ = json.NewEncoder(w).Encode([]map[string]any{
				// Plain order: never competes with a float-filtered one.
				{"id": "b1", "price": 999, "qty": 1},
				// Window 0.30-0.40: outside ours.
				{"id": "b2", "price": 800, "qty": 1, "expression": "FloatValue >= 0.30 and FloatValue < 0.40"},
				// Window 0.10-0.20: overlaps ours.
				{"id": "b3", "price": 600, "qty": 1, "expression": "FloatValue >= 0.10 and FloatValue < 0.20"},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	price, err := client.CompetitorPrice(context.Background(), advancedOrder(0.15, 0.25))
	if err != nil {
		t.Fatalf("CompetitorPrice: %v", err)
	}
	if price != 600 {
		t.Errorf("price = %d, want 600 (only overlapping window counts)", price)
	}
}

func TestCompetitorPriceNoOverlap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/listings" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"listings": []map[string]any{{"id": "L1", "price": 900}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "b1", "price": 800, "qty": 1, "expression": "FloatValue >= 0.50 and FloatValue < 0.60"},
		})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.CompetitorPrice(context.Background(), advancedOrder(0.15, 0.25))
	if !errors.Is(err, ErrNoCompetitor) {
		t.Fatalf("err = %v, want ErrNoCompetitor", err)
	}
}

func TestNoListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"listings": []map[string]any{}})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	if _, err := client.LowestListingPrice(context.Background(), simpleOrder()); !errors.Is(err, ErrNoListing) {
		t.Fatalf("err = %v, want ErrNoListing", err)
	}
}

func TestLowestListingPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sort_by"); got != "lowest_price" {
			t.Errorf("sort_by = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"listings": []map[string]any{{"id": "L1", "price": 874}},
		})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	price, err := client.LowestListingPrice(context.Background(), simpleOrder())
	if err != nil {
		t.Fatalf("LowestListingPrice: %v", err)
	}
	if price != 874 {
		t.Errorf("price = %d, want 874", price)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusNotFound, ErrNotFound},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
		}))

		client := testClient(t, srv.URL)
		_, err := client.LowestListingPrice(context.Background(), simpleOrder())
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
		srv.Close()
	}
}

func TestReplaceOrderDeletesThenCreates(t *testing.T) {
	var calls []string
	var created createOrderRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatalf("decode create body: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "new-123"})
		}
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	newID, err := client.ReplaceOrder(context.Background(), simpleOrder(), 521)
	if err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}
	if newID != "new-123" {
		t.Errorf("new id = %q, want new-123", newID)
	}

	want := []string{"DELETE /buy-orders/ord-1", "POST /buy-orders"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if created.MaxPrice != 521 || created.Quantity != 1 {
		t.Errorf("create body = %+v", created)
	}
	if created.MarketHashName != "AK-47 | Redline (Field-Tested)" {
		t.Errorf("market_hash_name = %q", created.MarketHashName)
	}
}

func TestReplaceOrderAdvancedExpression(t *testing.T) {
	var created createOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&created)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "new-456"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	if _, err := client.ReplaceOrder(context.Background(), advancedOrder(0.15, 0.25), 600); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}

	if created.Expression == nil {
		t.Fatal("advanced order created without expression")
	}
	if created.MarketHashName != "" {
		t.Error("advanced order must not carry market_hash_name")
	}
	fields := make(map[string]bool)
	for _, rule := range created.Expression.Rules {
		fields[rule.Field] = true
	}
	for _, field := range []string{"DefIndex", "PaintIndex", "FloatValue", "StatTrak"} {
		if !fields[field] {
			t.Errorf("expression missing %s rule", field)
		}
	}
}

func TestFactoryRebuildsOnCredentialChange(t *testing.T) {
	factory := NewCSFloatFactory(FactoryOptions{BaseURL: "http://localhost", Timeout: time.Second}, zerolog.Nop())

	account := storage.Account{ID: 1, Name: "main", APIKey: "key-a"}
	first := factory.ClientFor(account)
	second := factory.ClientFor(account)
	if first != second {
		t.Error("factory rebuilt client without credential change")
	}

	account.APIKey = "key-b"
	third := factory.ClientFor(account)
	if third == first {
		t.Error("factory reused client across credential change")
	}
}
