package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/bot"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/policy"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

type fakeBot struct {
	startErr error
	running  bool
	starts   int
	stops    int
}

func (f *fakeBot) Start(ctx context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeBot) Stop() error {
	f.stops++
	f.running = false
	return nil
}

func (f *fakeBot) Status() bot.Status {
	return bot.Status{IsRunning: f.running, CheckIntervalSeconds: 120, OutbidStepCents: 1, MaxOutbids: 10}
}

type fakeAccountStore struct {
	accounts map[int64]storage.Account
	nextID   int64
	updated  []storage.Account
}

func newFakeAccountStore(accounts ...storage.Account) *fakeAccountStore {
	store := &fakeAccountStore{accounts: make(map[int64]storage.Account), nextID: 1}
	for _, a := range accounts {
		store.accounts[a.ID] = a
		if a.ID >= store.nextID {
			store.nextID = a.ID + 1
		}
	}
	return store
}

func (f *fakeAccountStore) ListAccounts(ctx context.Context) ([]storage.Account, error) {
	out := make([]storage.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccountStore) ListActiveAccounts(ctx context.Context) ([]storage.Account, error) {
	return f.ListAccounts(ctx)
}

func (f *fakeAccountStore) GetAccount(ctx context.Context, id int64) (storage.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return storage.Account{}, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeAccountStore) CreateAccount(ctx context.Context, name, apiKey string, proxy *string) (storage.Account, error) {
	a := storage.Account{
		ID:        f.nextID,
		Name:      name,
		APIKey:    apiKey,
		Proxy:     proxy,
		IsActive:  true,
		Status:    storage.StatusIdle,
		CreatedAt: time.Now().UTC(),
	}
	f.accounts[a.ID] = a
	f.nextID++
	return a, nil
}

func (f *fakeAccountStore) UpdateAccount(ctx context.Context, account storage.Account) error {
	if _, ok := f.accounts[account.ID]; !ok {
		return pgx.ErrNoRows
	}
	f.accounts[account.ID] = account
	f.updated = append(f.updated, account)
	return nil
}

func (f *fakeAccountStore) DeleteAccount(ctx context.Context, id int64) error {
	delete(f.accounts, id)
	return nil
}

func (f *fakeAccountStore) MarkAccountStatus(ctx context.Context, id int64, status string, message *string) error {
	return nil
}

type fakeOrderStore struct {
	orders []storage.BuyOrder
}

func (f *fakeOrderStore) ListActiveOrders(ctx context.Context, accountID int64) ([]storage.BuyOrder, error) {
	return f.orders, nil
}

func (f *fakeOrderStore) ListOrders(ctx context.Context) ([]storage.BuyOrder, error) {
	return f.orders, nil
}

func (f *fakeOrderStore) SaveOrder(ctx context.Context, order storage.BuyOrder) error {
	return nil
}

type fakeHistoryStore struct {
	records   []storage.OutbidRecord
	lastLimit int
}

func (f *fakeHistoryStore) AppendOutbid(ctx context.Context, rec storage.OutbidRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistoryStore) ListRecentOutbids(ctx context.Context, limit int) ([]storage.OutbidRecord, error) {
	f.lastLimit = limit
	return f.records, nil
}

func (f *fakeHistoryStore) ListOutbidsBetween(ctx context.Context, from, to time.Time) ([]storage.OutbidRecord, error) {
	return f.records, nil
}

func (f *fakeHistoryStore) CountOutbids(ctx context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

type fakeSettingsStore struct {
	settings policy.Settings
	seeded   bool
	saved    []policy.Settings
}

func (f *fakeSettingsStore) GetPolicy(ctx context.Context) (policy.Settings, error) {
	if !f.seeded {
		return policy.Settings{}, storage.ErrNoSettings
	}
	return f.settings, nil
}

func (f *fakeSettingsStore) SavePolicy(ctx context.Context, s policy.Settings) error {
	f.settings = s
	f.seeded = true
	f.saved = append(f.saved, s)
	return nil
}

type testEnv struct {
	bot      *fakeBot
	accounts *fakeAccountStore
	orders   *fakeOrderStore
	history  *fakeHistoryStore
	settings *fakeSettingsStore
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		bot:      &fakeBot{},
		accounts: newFakeAccountStore(),
		orders:   &fakeOrderStore{},
		history:  &fakeHistoryStore{},
		settings: &fakeSettingsStore{},
	}

	handlers := NewHandlers(env.bot, env.accounts, env.orders, env.history, env.settings, zerolog.Nop())
	srv := New(Config{Addr: ":0"}, handlers, nil, zerolog.Nop())
	env.server = httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestBotStartStopStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/bot/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	var status map[string]any
	decodeBody(t, resp, &status)
	if status["is_running"] != true {
		t.Errorf("is_running = %v, want true", status["is_running"])
	}

	resp = env.do(t, http.MethodPost, "/api/bot/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/bot/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status status = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp, &status)
	if status["is_running"] != false {
		t.Errorf("is_running = %v, want false", status["is_running"])
	}
}

func TestBotStartErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"lock held", bot.ErrLockHeld, http.StatusConflict},
		{"invalid settings", fmt.Errorf("%w: check interval too low", bot.ErrInvalidSettings), http.StatusUnprocessableEntity},
		{"store failure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.bot.startErr = tc.err

			resp := env.do(t, http.MethodPost, "/api/bot/start", "")
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/settings", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unseeded settings status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/settings",
		`{"check_interval":120,"outbid_step":2,"max_outbids":5,"price_ceiling_pct":85}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put settings status = %d, want 200", resp.StatusCode)
	}

	if len(env.settings.saved) != 1 {
		t.Fatalf("saved %d settings, want 1", len(env.settings.saved))
	}
	saved := env.settings.saved[0]
	if saved.CheckInterval != 120*time.Second || saved.OutbidStepCents != 2 || saved.MaxOutbids != 5 || saved.PriceCeilingPct != 85 {
		t.Errorf("saved settings = %+v", saved)
	}

	resp = env.do(t, http.MethodGet, "/api/settings", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get settings status = %d, want 200", resp.StatusCode)
	}
	var payload settingsPayload
	decodeBody(t, resp, &payload)
	if payload.CheckIntervalSeconds != 120 || payload.OutbidStepCents != 2 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/settings",
		`{"check_interval":1,"outbid_step":1,"max_outbids":10,"price_ceiling_pct":85}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(env.settings.saved) != 0 {
		t.Error("invalid settings were saved")
	}
}

func TestCreateAccountHidesAPIKey(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/accounts", `{"name":"main","api_key":"secret-key"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var body map[string]any
	decodeBody(t, resp, &body)
	if _, leaked := body["api_key"]; leaked {
		t.Error("api_key leaked in response body")
	}
	if body["name"] != "main" {
		t.Errorf("name = %v, want main", body["name"])
	}
}

func TestCreateAccountRequiresFields(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/accounts", `{"name":"main"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateAccountClearsErrorStatus(t *testing.T) {
	errMsg := "unauthorized"
	env := newTestEnv(t)
	env.accounts.accounts[7] = storage.Account{
		ID:           7,
		Name:         "broken",
		APIKey:       "old-key",
		IsActive:     true,
		Status:       storage.StatusError,
		ErrorMessage: &errMsg,
	}

	resp := env.do(t, http.MethodPut, "/api/accounts/7", `{"api_key":"fresh-key"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	updated := env.accounts.accounts[7]
	if updated.Status != storage.StatusIdle {
		t.Errorf("status = %q, want %q", updated.Status, storage.StatusIdle)
	}
	if updated.ErrorMessage != nil {
		t.Errorf("error message = %q, want cleared", *updated.ErrorMessage)
	}
	if updated.APIKey != "fresh-key" {
		t.Errorf("api key = %q, want fresh-key", updated.APIKey)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/accounts/99", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListHistoryClampsLimit(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/history?limit=9999", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.history.lastLimit != 500 {
		t.Errorf("limit = %d, want clamped to 500", env.history.lastLimit)
	}

	resp = env.do(t, http.MethodGet, "/api/history", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.history.lastLimit != 50 {
		t.Errorf("default limit = %d, want 50", env.history.lastLimit)
	}
}
