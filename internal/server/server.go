// Package server exposes the bot's HTTP control surface: bot lifecycle,
// settings, accounts, orders, history, and the dashboard WebSocket feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the HTTP listener configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server wraps the HTTP listener and its routes.
type Server struct {
	httpServer *http.Server
	shutdown   time.Duration
	logger     zerolog.Logger
}

// New registers all routes and returns a server ready to Run. The ws handler
// may be nil when the WebSocket feed is disabled.
func New(cfg Config, handlers *Handlers, ws http.Handler, logger zerolog.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	logger = logger.With().Str("component", "http").Logger()

	router := mux.NewRouter()
	router.Use(requestLogger(logger))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)

	api.HandleFunc("/bot/start", handlers.StartBot).Methods(http.MethodPost)
	api.HandleFunc("/bot/stop", handlers.StopBot).Methods(http.MethodPost)
	api.HandleFunc("/bot/status", handlers.BotStatus).Methods(http.MethodGet)

	api.HandleFunc("/settings", handlers.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", handlers.UpdateSettings).Methods(http.MethodPut)

	api.HandleFunc("/accounts", handlers.ListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", handlers.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id:[0-9]+}", handlers.GetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id:[0-9]+}", handlers.UpdateAccount).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id:[0-9]+}", handlers.DeleteAccount).Methods(http.MethodDelete)

	api.HandleFunc("/orders", handlers.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/history", handlers.ListHistory).Methods(http.MethodGet)

	if ws != nil {
		router.Handle("/ws", ws).Methods(http.MethodGet)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdown: cfg.ShutdownTimeout,
		logger:   logger,
	}
}

// Run listens until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request handled")
		})
	}
}
