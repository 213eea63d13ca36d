package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/bot"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/policy"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

// Bot is the slice of the manager the HTTP layer drives.
type Bot interface {
	Start(ctx context.Context) error
	Stop() error
	Status() bot.Status
}

// Handlers serves the REST API.
type Handlers struct {
	bot      Bot
	accounts storage.AccountStore
	orders   storage.OrderStore
	history  storage.HistoryStore
	settings storage.SettingsStore
	logger   zerolog.Logger
}

// NewHandlers wires the API handlers to their collaborators.
func NewHandlers(b Bot, accounts storage.AccountStore, orders storage.OrderStore, history storage.HistoryStore, settings storage.SettingsStore, logger zerolog.Logger) *Handlers {
	return &Handlers{
		bot:      b,
		accounts: accounts,
		orders:   orders,
		history:  history,
		settings: settings,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartBot starts the polling loop.
// POST /api/bot/start
func (h *Handlers) StartBot(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.Start(r.Context()); err != nil {
		switch {
		case errors.Is(err, bot.ErrLockHeld):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, bot.ErrInvalidSettings):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error().Err(err).Msg("bot start failed")
			writeError(w, http.StatusInternalServerError, "failed to start bot")
		}
		return
	}
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// StopBot stops the polling loop.
// POST /api/bot/stop
func (h *Handlers) StopBot(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.Stop(); err != nil {
		h.logger.Error().Err(err).Msg("bot stop failed")
		writeError(w, http.StatusInternalServerError, "failed to stop bot")
		return
	}
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// BotStatus reports the runtime snapshot.
// GET /api/bot/status
func (h *Handlers) BotStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Status())
}

type settingsPayload struct {
	CheckIntervalSeconds int64 `json:"check_interval"`
	OutbidStepCents      int64 `json:"outbid_step"`
	MaxOutbids           int   `json:"max_outbids"`
	PriceCeilingPct      int64 `json:"price_ceiling_pct"`
}

func toSettingsPayload(s policy.Settings) settingsPayload {
	return settingsPayload{
		CheckIntervalSeconds: int64(s.CheckInterval / time.Second),
		OutbidStepCents:      s.OutbidStepCents,
		MaxOutbids:           s.MaxOutbids,
		PriceCeilingPct:      s.PriceCeilingPct,
	}
}

// GetSettings returns the stored policy settings.
// GET /api/settings
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetPolicy(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNoSettings) {
			writeError(w, http.StatusNotFound, "settings not configured")
			return
		}
		h.logger.Error().Err(err).Msg("get settings failed")
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, toSettingsPayload(settings))
}

// UpdateSettings validates and stores new policy settings. A running bot
// picks them up on its next tick.
// PUT /api/settings
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings := policy.Settings{
		CheckInterval:   time.Duration(payload.CheckIntervalSeconds) * time.Second,
		OutbidStepCents: payload.OutbidStepCents,
		MaxOutbids:      payload.MaxOutbids,
		PriceCeilingPct: payload.PriceCeilingPct,
	}
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settings.SavePolicy(r.Context(), settings); err != nil {
		h.logger.Error().Err(err).Msg("save settings failed")
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	writeJSON(w, http.StatusOK, toSettingsPayload(settings))
}

// accountPayload never exposes the stored API key.
type accountPayload struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Proxy        *string    `json:"proxy,omitempty"`
	IsActive     bool       `json:"is_active"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	LastCheck    *time.Time `json:"last_check,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toAccountPayload(a storage.Account) accountPayload {
	return accountPayload{
		ID:           a.ID,
		Name:         a.Name,
		Proxy:        a.Proxy,
		IsActive:     a.IsActive,
		Status:       a.Status,
		ErrorMessage: a.ErrorMessage,
		LastCheck:    a.LastCheck,
		CreatedAt:    a.CreatedAt,
	}
}

// ListAccounts returns every configured account.
// GET /api/accounts
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListAccounts(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list accounts failed")
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	payload := make([]accountPayload, 0, len(accounts))
	for _, a := range accounts {
		payload = append(payload, toAccountPayload(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": payload})
}

type accountRequest struct {
	Name     string  `json:"name"`
	APIKey   string  `json:"api_key"`
	Proxy    *string `json:"proxy"`
	IsActive *bool   `json:"is_active"`
}

// CreateAccount registers a new marketplace account in idle state.
// POST /api/accounts
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "name and api_key are required")
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req.Name, req.APIKey, req.Proxy)
	if err != nil {
		h.logger.Error().Err(err).Msg("create account failed")
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	writeJSON(w, http.StatusCreated, toAccountPayload(account))
}

// GetAccount returns one account.
// GET /api/accounts/{id}
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error().Err(err).Int64("account_id", id).Msg("get account failed")
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountPayload(account))
}

// UpdateAccount modifies an account's credentials or flags. Any update
// clears a previous error status so the account re-enters the next tick.
// PUT /api/accounts/{id}
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error().Err(err).Int64("account_id", id).Msg("get account failed")
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	if req.Name != "" {
		account.Name = req.Name
	}
	if req.APIKey != "" {
		account.APIKey = req.APIKey
	}
	if req.Proxy != nil {
		account.Proxy = req.Proxy
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	account.Status = storage.StatusIdle
	account.ErrorMessage = nil

	if err := h.accounts.UpdateAccount(r.Context(), account); err != nil {
		h.logger.Error().Err(err).Int64("account_id", id).Msg("update account failed")
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountPayload(account))
}

// DeleteAccount removes an account and its orders.
// DELETE /api/accounts/{id}
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Int64("account_id", id).Msg("delete account failed")
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderPayload struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	OrderID        string    `json:"order_id"`
	MarketHashName string    `json:"market_hash_name"`
	PriceCents     int64     `json:"price_cents"`
	Quantity       int       `json:"quantity"`
	Kind           string    `json:"kind"`
	FloatMin       *float64  `json:"float_min,omitempty"`
	FloatMax       *float64  `json:"float_max,omitempty"`
	DefIndex       *int      `json:"def_index,omitempty"`
	PaintIndex     *int      `json:"paint_index,omitempty"`
	OutbidCount    int       `json:"outbid_count"`
	IsActive       bool      `json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListOrders returns every tracked buy order, optionally for one account.
// GET /api/orders?account_id=1
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list orders failed")
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if v := r.URL.Query().Get("account_id"); v != "" {
		accountID, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		filtered := orders[:0]
		for _, o := range orders {
			if o.AccountID == accountID {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}

	payload := make([]orderPayload, 0, len(orders))
	for _, o := range orders {
		payload = append(payload, orderPayload{
			ID:             o.ID,
			AccountID:      o.AccountID,
			OrderID:        o.OrderID,
			MarketHashName: o.MarketHashName,
			PriceCents:     o.PriceCents,
			Quantity:       o.Quantity,
			Kind:           o.Kind,
			FloatMin:       o.FloatMin,
			FloatMax:       o.FloatMax,
			DefIndex:       o.DefIndex,
			PaintIndex:     o.PaintIndex,
			OutbidCount:    o.OutbidCount,
			IsActive:       o.IsActive,
			UpdatedAt:      o.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": payload})
}

// ListHistory returns the most recent outbid records.
// GET /api/history?limit=50
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)

	records, err := h.history.ListRecentOutbids(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("list history failed")
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if records == nil {
		records = []storage.OutbidRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records, "count": len(records)})
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}
