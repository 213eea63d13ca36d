// Package bot runs the outbid loop: a periodic check over every eligible
// account's active buy orders, raising any that a competitor has overtaken.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/events"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/marketplace"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/policy"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/scheduler"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

var (
	// ErrLockHeld is returned by Start when another bot instance already
	// holds the advisory lock on the same database.
	ErrLockHeld = errors.New("bot: another instance holds the outbid lock")

	// ErrInvalidSettings is returned by Start when the stored policy
	// settings do not pass validation.
	ErrInvalidSettings = errors.New("bot: policy settings invalid")
)

// Deps are the external collaborators the manager drives.
type Deps struct {
	Accounts storage.AccountStore
	Orders   storage.OrderStore
	History  storage.HistoryStore
	Settings storage.SettingsStore
	Locker   storage.AdvisoryLocker // optional
	Clients  marketplace.Factory
	Sink     events.Sink // optional
}

// Options tune the loop.
type Options struct {
	AccountConcurrency int
	StopGrace          time.Duration
	AdvisoryLockKey    int64
	StartupDelay       time.Duration
}

// Status is the runtime snapshot exposed to the dashboard.
type Status struct {
	IsRunning            bool  `json:"is_running"`
	CheckIntervalSeconds int64 `json:"check_interval"`
	OutbidStepCents      int64 `json:"outbid_step"`
	MaxOutbids           int   `json:"max_outbids"`
	ActiveTasks          int   `json:"active_tasks"`
}

// Manager owns the Stopped/Running state machine around the polling loop.
type Manager struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	unlock     func()
	lastPolicy policy.Settings

	workers     sync.WaitGroup
	sem         *semaphore.Weighted
	activeTasks atomic.Int64

	inflightMu sync.Mutex
	inflight   map[int64]struct{}
}

// New constructs a stopped manager.
func New(deps Deps, opts Options, logger zerolog.Logger) *Manager {
	if opts.AccountConcurrency <= 0 {
		opts.AccountConcurrency = 4
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 30 * time.Second
	}
	return &Manager{
		deps:     deps,
		opts:     opts,
		logger:   logger.With().Str("component", "bot").Logger(),
		sem:      semaphore.NewWeighted(int64(opts.AccountConcurrency)),
		inflight: make(map[int64]struct{}),
	}
}

// Start validates the current policy settings and spawns the loop. Starting
// a running manager is a no-op. Invalid settings are fatal to the start
// request: the manager stays stopped and the error is reported to the caller.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn().Msg("bot is already running")
		return nil
	}

	settings, err := m.deps.Settings.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load policy settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	if m.deps.Locker != nil && m.opts.AdvisoryLockKey != 0 {
		unlock, acquired, lockErr := m.deps.Locker.TryAdvisoryLock(ctx, m.opts.AdvisoryLockKey)
		if lockErr != nil {
			return fmt.Errorf("acquire outbid lock: %w", lockErr)
		}
		if !acquired {
			return ErrLockHeld
		}
		m.unlock = unlock
	}

	// The loop outlives the HTTP request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastPolicy = settings

	go m.run(runCtx, settings)

	m.logger.Info().
		Dur("check_interval", settings.CheckInterval).
		Int64("outbid_step_cents", settings.OutbidStepCents).
		Int("max_outbids", settings.MaxOutbids).
		Msg("bot started")
	m.publish(events.New(events.TypeBotStarted, events.BotStatusData{
		IsRunning:     true,
		CheckInterval: int64(settings.CheckInterval / time.Second),
	}, "bot started"))

	return nil
}

// Stop signals the loop to exit and waits out the grace period for in-flight
// account workers. Stopping a stopped manager is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Warn().Msg("bot is not running")
		return nil
	}
	cancel := m.cancel
	done := m.done
	unlock := m.unlock
	m.running = false
	m.cancel = nil
	m.unlock = nil
	m.mu.Unlock()

	cancel()

	finished := make(chan struct{})
	go func() {
		<-done
		m.workers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		m.logger.Info().Msg("bot stopped")
	case <-time.After(m.opts.StopGrace):
		m.logger.Warn().Dur("grace", m.opts.StopGrace).Msg("bot stopped; abandoning outstanding account workers")
	}

	if unlock != nil {
		unlock()
	}

	m.publish(events.New(events.TypeBotStopped, events.BotStatusData{IsRunning: false}, "bot stopped"))
	return nil
}

// Status reports the runtime snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	running := m.running
	settings := m.lastPolicy
	m.mu.Unlock()

	return Status{
		IsRunning:            running,
		CheckIntervalSeconds: int64(settings.CheckInterval / time.Second),
		OutbidStepCents:      settings.OutbidStepCents,
		MaxOutbids:           settings.MaxOutbids,
		ActiveTasks:          int(m.activeTasks.Load()),
	}
}

func (m *Manager) run(ctx context.Context, settings policy.Settings) {
	defer close(m.done)

	sched := scheduler.New(scheduler.Options{
		FallbackInterval: settings.CheckInterval,
		StartupDelay:     m.opts.StartupDelay,
	}, m.logger)

	if err := sched.Run(ctx, m.tick); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error().Err(err).Msg("outbid loop terminated")
	}
}

// tick runs one check cycle and returns the interval for the next one, taken
// from a fresh settings snapshot so runtime changes apply on the next tick.
func (m *Manager) tick(ctx context.Context, start time.Time) time.Duration {
	settings := m.refreshSettings(ctx)

	accounts, err := m.deps.Accounts.ListActiveAccounts(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list accounts; skipping tick")
		return settings.CheckInterval
	}

	eligible := 0
	for _, account := range accounts {
		if !account.Eligible() {
			continue
		}
		eligible++

		if !m.beginAccount(account.ID) {
			m.logger.Warn().
				Str("account", account.Name).
				Msg("account still in progress from previous tick, skipping")
			continue
		}

		account := account
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			defer m.endAccount(account.ID)

			if err := m.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer m.sem.Release(1)

			m.activeTasks.Add(1)
			defer m.activeTasks.Add(-1)

			m.processAccount(ctx, account, settings)
		}()
	}

	m.logger.Info().
		Time("tick_start", start).
		Int("accounts", len(accounts)).
		Int("eligible", eligible).
		Msg("tick dispatched")

	return settings.CheckInterval
}

// refreshSettings reads the settings store, falling back to the previous
// snapshot when the store is unreachable or holds invalid values.
func (m *Manager) refreshSettings(ctx context.Context) policy.Settings {
	m.mu.Lock()
	previous := m.lastPolicy
	m.mu.Unlock()

	settings, err := m.deps.Settings.GetPolicy(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to refresh policy settings; reusing previous snapshot")
		return previous
	}
	if err := settings.Validate(); err != nil {
		m.logger.Error().Err(err).Msg("stored policy settings invalid; reusing previous snapshot")
		return previous
	}

	m.mu.Lock()
	m.lastPolicy = settings
	m.mu.Unlock()
	return settings
}

func (m *Manager) beginAccount(id int64) bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Manager) endAccount(id int64) {
	m.inflightMu.Lock()
	delete(m.inflight, id)
	m.inflightMu.Unlock()
}

// processAccount walks one account's active orders in stable order. Failures
// here never propagate: they mark this account's status and leave every
// other account untouched.
func (m *Manager) processAccount(ctx context.Context, account storage.Account, settings policy.Settings) {
	logger := m.logger.With().Str("account", account.Name).Int64("account_id", account.ID).Logger()

	client := m.deps.Clients.ClientFor(account)

	orders, err := m.deps.Orders.ListActiveOrders(ctx, account.ID)
	if err != nil {
		m.failAccount(ctx, account, fmt.Errorf("list active orders: %w", err))
		return
	}
	if len(orders) == 0 {
		logger.Debug().Msg("no active orders")
		m.markAccount(ctx, account, storage.StatusOnline, nil)
		return
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}

		err := m.processOrder(ctx, client, account, order, settings)
		if err == nil {
			continue
		}

		// A rejected credential or throttled session poisons every further
		// call for this account, so stop here and surface it.
		if errors.Is(err, marketplace.ErrAuth) || errors.Is(err, marketplace.ErrRateLimited) {
			m.failAccount(ctx, account, err)
			return
		}

		logger.Warn().Err(err).Str("order_id", order.OrderID).Msg("order check failed; continuing with remaining orders")
	}

	m.markAccount(ctx, account, storage.StatusOnline, nil)
}

func (m *Manager) processOrder(ctx context.Context, client marketplace.Client, account storage.Account, order storage.BuyOrder, settings policy.Settings) error {
	logger := m.logger.With().
		Str("account", account.Name).
		Str("order_id", order.OrderID).
		Str("item", order.MarketHashName).
		Logger()

	competitor, err := client.CompetitorPrice(ctx, order)
	if errors.Is(err, marketplace.ErrNoCompetitor) || errors.Is(err, marketplace.ErrNoListing) {
		logger.Debug().Msg("no competing buy order")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch competitor price: %w", err)
	}

	lowest, err := client.LowestListingPrice(ctx, order)
	if errors.Is(err, marketplace.ErrNoListing) {
		logger.Debug().Msg("no listing to derive price ceiling from")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch lowest listing: %w", err)
	}

	decision := policy.Decide(policy.OrderState{
		PriceCents:  order.PriceCents,
		OutbidCount: order.OutbidCount,
		IsActive:    order.IsActive,
	}, competitor, lowest, settings)

	if decision.Action != policy.Raise {
		logger.Debug().Str("reason", decision.Reason).Int64("competitor_cents", competitor).Msg("no outbid needed")
		return nil
	}

	newOrderID, err := client.ReplaceOrder(ctx, order, decision.NewPriceCents)
	if err != nil {
		// The order stays untouched locally; the next tick retries.
		return fmt.Errorf("replace order at %d cents: %w", decision.NewPriceCents, err)
	}

	oldPrice := order.PriceCents
	previousOrderID := order.OrderID

	order.OrderID = newOrderID
	order.PriceCents = decision.NewPriceCents
	order.OutbidCount++
	order.UpdatedAt = time.Now().UTC()

	if err := m.deps.Orders.SaveOrder(ctx, order); err != nil {
		logger.Error().Err(err).Msg("remote order replaced but local save failed")
	}

	record := storage.OutbidRecord{
		AccountID:            account.ID,
		OrderID:              previousOrderID,
		MarketHashName:       order.MarketHashName,
		OldPriceCents:        oldPrice,
		NewPriceCents:        decision.NewPriceCents,
		CompetitorPriceCents: competitor,
	}
	if err := m.deps.History.AppendOutbid(ctx, record); err != nil {
		logger.Error().Err(err).Msg("failed to append outbid history")
	}

	logger.Info().
		Int64("old_price_cents", oldPrice).
		Int64("new_price_cents", decision.NewPriceCents).
		Int64("competitor_cents", competitor).
		Int("outbid_count", order.OutbidCount).
		Str("new_order_id", newOrderID).
		Msg("order outbid")

	m.publish(events.New(events.TypeOrderOutbid, events.OutbidData{
		AccountID:            account.ID,
		AccountName:          account.Name,
		OrderID:              newOrderID,
		MarketHashName:       order.MarketHashName,
		OldPriceCents:        oldPrice,
		NewPriceCents:        decision.NewPriceCents,
		CompetitorPriceCents: competitor,
	}, ""))

	return nil
}

func (m *Manager) failAccount(ctx context.Context, account storage.Account, err error) {
	m.logger.Error().Err(err).Str("account", account.Name).Msg("account processing failed")
	msg := err.Error()
	m.markAccount(ctx, account, storage.StatusError, &msg)
}

func (m *Manager) markAccount(ctx context.Context, account storage.Account, status string, message *string) {
	// Use a detached context so the final status write survives Stop.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := m.deps.Accounts.MarkAccountStatus(writeCtx, account.ID, status, message); err != nil {
		m.logger.Error().Err(err).Str("account", account.Name).Msg("failed to mark account status")
	}

	if status != account.Status {
		errMsg := ""
		if message != nil {
			errMsg = *message
		}
		m.publish(events.New(events.TypeAccountStatus, events.AccountStatusData{
			AccountID:    account.ID,
			AccountName:  account.Name,
			Status:       status,
			ErrorMessage: errMsg,
		}, ""))
	}
}

func (m *Manager) publish(event events.Event) {
	if m.deps.Sink == nil {
		return
	}
	m.deps.Sink.Publish(event)
}
