package marketplace

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

// FactoryOptions carry the shared connectivity settings; credentials and
// proxy come from each account.
type FactoryOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// CSFloatFactory caches one client per account, rebuilding it when the
// account's credential or proxy changes.
type CSFloatFactory struct {
	opts   FactoryOptions
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[int64]cachedClient
}

type cachedClient struct {
	client    *CSFloat
	signature string
}

// NewCSFloatFactory constructs the per-account client factory.
func NewCSFloatFactory(opts FactoryOptions, logger zerolog.Logger) *CSFloatFactory {
	return &CSFloatFactory{
		opts:    opts,
		logger:  logger,
		clients: make(map[int64]cachedClient),
	}
}

// ClientFor returns the cached client for the account, creating it on first
// use. A client that cannot be constructed (bad proxy URL) is replaced with
// one that fails every call, so the scheduler's normal per-account error
// isolation reports it.
func (f *CSFloatFactory) ClientFor(account storage.Account) Client {
	proxy := ""
	if account.Proxy != nil {
		proxy = *account.Proxy
	}
	signature := account.APIKey + "\x00" + proxy

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.clients[account.ID]; ok && cached.signature == signature {
		return cached.client
	}

	client, err := NewCSFloat(Options{
		BaseURL:   f.opts.BaseURL,
		APIKey:    account.APIKey,
		Proxy:     proxy,
		Timeout:   f.opts.Timeout,
		UserAgent: f.opts.UserAgent,
	}, f.logger)
	if err != nil {
		f.logger.Error().Err(err).Int64("account_id", account.ID).Msg("failed to build csfloat client")
		return failingClient{err: err}
	}

	f.clients[account.ID] = cachedClient{client: client, signature: signature}
	return client
}

type failingClient struct {
	err error
}

func (f failingClient) CompetitorPrice(_ context.Context, _ storage.BuyOrder) (int64, error) {
	return 0, f.err
}

func (f failingClient) LowestListingPrice(_ context.Context, _ storage.BuyOrder) (int64, error) {
	return 0, f.err
}

func (f failingClient) ReplaceOrder(_ context.Context, _ storage.BuyOrder, _ int64) (string, error) {
	return "", f.err
}

var _ Factory = (*CSFloatFactory)(nil)
