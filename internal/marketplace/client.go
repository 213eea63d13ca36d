package marketplace

import (
	"context"
	"errors"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

var (
	// ErrAuth indicates the account credential was rejected.
	ErrAuth = errors.New("marketplace: authentication failed")
	// ErrRateLimited indicates the API throttled the account.
	ErrRateLimited = errors.New("marketplace: rate limited")
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("marketplace: not found")
	// ErrNoCompetitor indicates no rival buy order exists for the item.
	ErrNoCompetitor = errors.New("marketplace: no competing buy order")
	// ErrNoListing indicates the item has no active buy-now listing, so
	// neither a competitor nor a price ceiling can be established.
	ErrNoListing = errors.New("marketplace: no active listing")
)

// Client is the per-account view of the marketplace consumed by the bot.
type Client interface {
	// CompetitorPrice returns the price of the top rival buy order for the
	// item the given order targets, or ErrNoCompetitor.
	CompetitorPrice(ctx context.Context, order storage.BuyOrder) (int64, error)

	// LowestListingPrice returns the cheapest buy-now listing price for the
	// item, the sell-side floor the price ceiling is derived from.
	LowestListingPrice(ctx context.Context, order storage.BuyOrder) (int64, error)

	// ReplaceOrder cancels the remote order and re-creates it at the new
	// price, returning the new remote order id.
	ReplaceOrder(ctx context.Context, order storage.BuyOrder, newPriceCents int64) (string, error)
}

// Factory hands out one Client per account so no two accounts share an API
// session or rate-limit budget.
type Factory interface {
	ClientFor(account storage.Account) Client
}
