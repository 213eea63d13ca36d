package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/storage"
)

const (
	defaultBaseURL = "https://csfloat.com/api/v1"

	// CSFloat listing categories: 0 any, 1 normal, 2 stattrak, 3 souvenir.
	categoryNormal = 1

	simpleBuyOrderLimit   = 50
	advancedBuyOrderLimit = 100
)

// Advanced buy orders carry their float window inside a rule expression
// string; competitors are matched by parsing the bounds back out.
var (
	floatMinRe = regexp.MustCompile(`FloatValue\s*>=?\s*([\d.]+)`)
	floatMaxRe = regexp.MustCompile(`FloatValue\s*<=?\s*([\d.]+)`)
)

// Options parameterise the CSFloat client for one account.
type Options struct {
	BaseURL   string
	APIKey    string
	Proxy     string
	Timeout   time.Duration
	UserAgent string
}

// CSFloat talks to the CSFloat marketplace API on behalf of one account.
type CSFloat struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCSFloat constructs a marketplace client. A per-account proxy, when
// configured, routes every request for that account.
func NewCSFloat(opts Options, logger zerolog.Logger) (*CSFloat, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	transport := http.DefaultTransport
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &CSFloat{
		opts:    opts,
		logger:  logger.With().Str("component", "csfloat_client").Logger(),
		client:  &http.Client{Timeout: timeout, Transport: transport},
		baseURL: baseURL,
	}, nil
}

type listingItem struct {
	MarketHashName string `json:"market_hash_name"`
}

type listing struct {
	ID    string      `json:"id"`
	Price int64       `json:"price"`
	Item  listingItem `json:"item"`
}

type listingsResponse struct {
	Listings []listing `json:"listings"`
}

type buyOrder struct {
	ID         string `json:"id"`
	Price      int64  `json:"price"`
	Qty        int    `json:"qty"`
	Expression string `json:"expression"`
}

// CompetitorPrice returns the top rival buy-order price for the order's item.
// For advanced orders only competitors whose float window overlaps ours count.
func (c *CSFloat) CompetitorPrice(ctx context.Context, order storage.BuyOrder) (int64, error) {
	found, err := c.findListing(ctx, order)
	if err != nil {
		return 0, err
	}

	limit := simpleBuyOrderLimit
	if order.Kind == storage.OrderKindAdvanced {
		limit = advancedBuyOrderLimit
	}

	var orders []buyOrder
	endpoint := fmt.Sprintf("%s/listings/%s/buy-orders?limit=%d", c.baseURL, url.PathEscape(found.ID), limit)
	if err := c.getJSON(ctx, endpoint, &orders); err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, ErrNoCompetitor
	}

	if order.Kind != storage.OrderKindAdvanced {
		// Simple buy orders come back sorted, first entry is the top bid.
		return orders[0].Price, nil
	}

	top := int64(0)
	matched := 0
	for _, bo := range orders {
		if bo.Expression == "" {
			// A simple order does not compete with a float-filtered one.
			continue
		}
		if !floatRangesOverlap(order, bo.Expression) {
			continue
		}
		matched++
		if bo.Price > top {
			top = bo.Price
		}
	}
	if matched == 0 {
		return 0, ErrNoCompetitor
	}

	c.logger.Debug().
		Str("item", order.MarketHashName).
		Int("candidates", len(orders)).
		Int("overlapping", matched).
		Int64("top_price", top).
		Msg("advanced competitors filtered by float window")

	return top, nil
}

// LowestListingPrice returns the cheapest buy-now listing for the item.
func (c *CSFloat) LowestListingPrice(ctx context.Context, order storage.BuyOrder) (int64, error) {
	found, err := c.findListing(ctx, order)
	if err != nil {
		return 0, err
	}
	return found.Price, nil
}

// ReplaceOrder deletes the remote order and re-creates it at the new price.
// CSFloat has no price-amend endpoint, replacement is the only way to raise.
func (c *CSFloat) ReplaceOrder(ctx context.Context, order storage.BuyOrder, newPriceCents int64) (string, error) {
	if err := c.deleteOrder(ctx, order.OrderID); err != nil {
		return "", fmt.Errorf("delete order %s: %w", order.OrderID, err)
	}

	newID, err := c.createOrder(ctx, order, newPriceCents)
	if err != nil {
		return "", fmt.Errorf("create replacement order: %w", err)
	}
	return newID, nil
}

func (c *CSFloat) findListing(ctx context.Context, order storage.BuyOrder) (listing, error) {
	params := url.Values{}
	params.Set("limit", "1")
	params.Set("type", "buy_now")
	params.Set("sort_by", "lowest_price")

	if order.Kind == storage.OrderKindAdvanced {
		if order.DefIndex == nil || order.PaintIndex == nil {
			return listing{}, fmt.Errorf("advanced order %s missing def/paint index", order.OrderID)
		}
		params.Set("def_index", strconv.Itoa(*order.DefIndex))
		params.Set("paint_index", strconv.Itoa(*order.PaintIndex))
		params.Set("category", strconv.Itoa(categoryNormal))
		if order.FloatMin != nil {
			params.Set("min_float", strconv.FormatFloat(*order.FloatMin, 'f', -1, 64))
		}
		if order.FloatMax != nil {
			params.Set("max_float", strconv.FormatFloat(*order.FloatMax, 'f', -1, 64))
		}
	} else {
		params.Set("market_hash_name", order.MarketHashName)
	}

	var res listingsResponse
	endpoint := c.baseURL + "/listings?" + params.Encode()
	if err := c.getJSON(ctx, endpoint, &res); err != nil {
		return listing{}, err
	}
	if len(res.Listings) == 0 {
		return listing{}, ErrNoListing
	}
	return res.Listings[0], nil
}

func (c *CSFloat) deleteOrder(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/buy-orders/%s", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// expressionRule mirrors the CSFloat advanced-order rule format.
type expressionRule struct {
	Field    string            `json:"field"`
	Operator string            `json:"operator"`
	Value    map[string]string `json:"value"`
}

type orderExpression struct {
	Condition string           `json:"condition"`
	Rules     []expressionRule `json:"rules"`
}

type createOrderRequest struct {
	MarketHashName string           `json:"market_hash_name,omitempty"`
	Expression     *orderExpression `json:"expression,omitempty"`
	MaxPrice       int64            `json:"max_price"`
	Quantity       int              `json:"quantity"`
}

type createOrderResponse struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
}

func (c *CSFloat) createOrder(ctx context.Context, order storage.BuyOrder, priceCents int64) (string, error) {
	payload := createOrderRequest{
		MaxPrice: priceCents,
		Quantity: order.Quantity,
	}

	if order.Kind == storage.OrderKindAdvanced {
		floatMin := 0.0
		if order.FloatMin != nil {
			floatMin = *order.FloatMin
		}
		floatMax := 1.0
		if order.FloatMax != nil {
			floatMax = *order.FloatMax
		}
		payload.Expression = &orderExpression{
			Condition: "and",
			Rules: []expressionRule{
				{Field: "DefIndex", Operator: "==", Value: constant(strconv.Itoa(deref(order.DefIndex)))},
				{Field: "PaintIndex", Operator: "==", Value: constant(strconv.Itoa(deref(order.PaintIndex)))},
				{Field: "FloatValue", Operator: ">=", Value: constant(strconv.FormatFloat(floatMin, 'f', -1, 64))},
				{Field: "FloatValue", Operator: "<", Value: constant(strconv.FormatFloat(floatMax, 'f', -1, 64))},
				{Field: "StatTrak", Operator: "==", Value: constant("false")},
			},
		}
	} else {
		payload.MarketHashName = order.MarketHashName
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/buy-orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var res createOrderResponse
	if err := c.do(req, &res); err != nil {
		return "", err
	}

	id := res.ID
	if id == "" {
		id = res.OrderID
	}
	if id == "" {
		return "", fmt.Errorf("create order response missing id")
	}
	return id, nil
}

func constant(v string) map[string]string {
	return map[string]string{"constant": v}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func (c *CSFloat) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *CSFloat) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("csfloat request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read csfloat response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyHTTPError(resp.StatusCode, payload)
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode csfloat response: %w", err)
	}
	return nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func classifyHTTPError(status int, payload []byte) error {
	detail := ""
	var apiErr apiError
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		detail = apiErr.Message
	} else if len(payload) > 0 {
		detail = strings.TrimSpace(string(payload))
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (%d): %s", ErrAuth, status, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w (%d): %s", ErrRateLimited, status, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w (%d): %s", ErrNotFound, status, detail)
	}
	if detail != "" {
		return fmt.Errorf("csfloat api error (%d): %s", status, detail)
	}
	return fmt.Errorf("csfloat api error (%d)", status)
}

// floatRangesOverlap reports whether a competitor expression's float window
// intersects our order's window. Missing bounds are treated as open.
func floatRangesOverlap(order storage.BuyOrder, expression string) bool {
	var boMin, boMax *float64

	if m := floatMinRe.FindStringSubmatch(expression); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			boMin = &v
		}
	}
	if m := floatMaxRe.FindStringSubmatch(expression); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			boMax = &v
		}
	}

	if order.FloatMin != nil && boMax != nil && *boMax < *order.FloatMin {
		return false
	}
	if order.FloatMax != nil && boMin != nil && *boMin > *order.FloatMax {
		return false
	}
	return true
}

var _ Client = (*CSFloat)(nil)
