package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/alerting"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/bot"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/config"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/events"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/marketplace"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/server"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/server/ws"
	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, storage.PoolConfig{
		DSN:             a.Config.Database.DSN,
		MaxOpenConns:    a.Config.Database.MaxOpenConns,
		MaxIdleConns:    a.Config.Database.MaxIdleConns,
		ConnMaxLifetime: a.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newFactory() *marketplace.CSFloatFactory {
	return marketplace.NewCSFloatFactory(marketplace.FactoryOptions{
		BaseURL:   a.Config.CSFloat.BaseURL,
		Timeout:   a.Config.CSFloat.RequestTimeout,
		UserAgent: a.Config.CSFloat.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// seedPolicy writes the configured defaults into the settings store on first
// run. Stored settings always win afterwards.
func (a *App) seedPolicy(ctx context.Context, store *storage.Store) error {
	_, err := store.GetPolicy(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNoSettings) {
		return err
	}

	defaults := a.Config.Bot.DefaultPolicy()
	a.Logger.Info().
		Dur("check_interval", defaults.CheckInterval).
		Int64("outbid_step_cents", defaults.OutbidStepCents).
		Msg("seeding policy settings from config defaults")
	return store.SavePolicy(ctx, defaults)
}

// Run starts the API server, the WebSocket hub, and (optionally) the bot,
// and blocks until a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := a.seedPolicy(ctx, store); err != nil {
		return err
	}

	hub := ws.NewHub(a.Logger)

	var sinks []events.Sink
	sinks = append(sinks, hub)
	if notifier := a.newNotifier(); notifier != nil {
		sinks = append(sinks, alerting.NewEventSink(notifier, a.Logger))
	}
	fanout := events.NewFanout(sinks...)

	manager := bot.New(bot.Deps{
		Accounts: store,
		Orders:   store,
		History:  store,
		Settings: store,
		Locker:   store,
		Clients:  a.newFactory(),
		Sink:     fanout,
	}, bot.Options{
		AccountConcurrency: a.Config.Bot.AccountConcurrency,
		StopGrace:          a.Config.Bot.StopGrace,
		AdvisoryLockKey:    a.Config.Bot.AdvisoryLockKey,
	}, a.Logger)

	handlers := server.NewHandlers(manager, store, store, store, store, a.Logger)
	srv := server.New(server.Config{
		Addr:            a.Config.Server.Addr(),
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, handlers, hub, a.Logger)

	if a.Config.Bot.Autostart {
		if err := manager.Start(ctx); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	a.Logger.Info().Str("addr", a.Config.Server.Addr()).Msg("service started")
	err = group.Wait()

	if stopErr := manager.Stop(); stopErr != nil {
		a.Logger.Error().Err(stopErr).Msg("bot shutdown failed")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

// ExportOptions hold parameters for exporting outbid history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// DecideOptions feed a one-shot dry run of the outbid decision.
type DecideOptions struct {
	OrderPriceCents    int64
	OutbidCount        int
	CompetitorCents    int64
	LowestListingCents int64
}
