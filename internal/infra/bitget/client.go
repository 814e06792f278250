package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quant_go/internal/book"
	"quant_go/internal/domain"
	"quant_go/internal/exchange"
	"quant_go/internal/infra"
	"quant_go/pkg/quant"
)

// Client is the Bitget USDT-futures REST adapter. Order and market calls run
// through separate token buckets; every call runs through one circuit breaker
// so a misbehaving venue trips the whole REST path at once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer

	orderLimiter  *infra.RateLimiter
	marketLimiter *infra.RateLimiter
	breaker       *infra.CircuitBreaker
}

// ClientOption tweaks a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (tests point it at a fake server).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimits replaces the default buckets.
func WithRateLimits(order, market *infra.RateLimiter) ClientOption {
	return func(c *Client) { c.orderLimiter, c.marketLimiter = order, market }
}

// NewClient creates a REST client. baseURL may be empty for production.
func NewClient(baseURL string, signer *Signer, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = defaultRestURL
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		signer:        signer,
		orderLimiter:  infra.NewRateLimiter(5, 10),
		marketLimiter: infra.NewRateLimiter(10, 20),
		breaker:       infra.NewCircuitBreaker("bitget-rest", 5, 2, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "BITGET" }

// PlaceOrder submits an order. The rate-limit token is taken before signing so
// a cancelled context never leaves a half-signed request in flight.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Ack, error) {
	if err := req.Validate(); err != nil {
		return exchange.Ack{}, err
	}
	if err := c.orderLimiter.Acquire(ctx); err != nil {
		return exchange.Ack{}, err
	}

	body := placeOrderRequest{
		Symbol:      req.Symbol,
		ProductType: productType,
		MarginMode:  "crossed",
		MarginCoin:  "USDT",
		Side:        sideString(req.Side),
		OrderType:   typeString(req.Type),
		Size:        req.Qty.String(),
		ClientOid:   req.ClientOrderID,
	}
	if req.Type == domain.TypeLimit {
		body.Price = req.LimitPrice.String()
	}

	var data placeOrderData
	if err := c.signedCall(ctx, http.MethodPost, "/api/v2/mix/order/place-order", "", body, &data); err != nil {
		return exchange.Ack{}, err
	}
	// The mix place endpoint acks asynchronously filled orders via the push
	// stream; the ack itself never carries a fill.
	return exchange.Ack{ExchangeOrderID: data.OrderID}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := c.orderLimiter.Acquire(ctx); err != nil {
		return err
	}
	body := cancelOrderRequest{Symbol: symbol, ProductType: productType, OrderID: exchangeOrderID}
	return c.signedCall(ctx, http.MethodPost, "/api/v2/mix/order/cancel-order", "", body, nil)
}

func (c *Client) BatchCancel(ctx context.Context, symbol string) error {
	if err := c.orderLimiter.Acquire(ctx); err != nil {
		return err
	}
	body := batchCancelRequest{Symbol: symbol, ProductType: productType}
	return c.signedCall(ctx, http.MethodPost, "/api/v2/mix/order/cancel-all-orders", "", body, nil)
}

// OpenOrders fetches the venue's authoritative pending-order list.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]exchange.VenueOrder, error) {
	if err := c.orderLimiter.Acquire(ctx); err != nil {
		return nil, err
	}

	query := "productType=" + productType
	if symbol != "" {
		query += "&symbol=" + url.QueryEscape(symbol)
	}

	var data pendingOrderData
	if err := c.signedCall(ctx, http.MethodGet, "/api/v2/mix/order/orders-pending", query, nil, &data); err != nil {
		return nil, err
	}

	out := make([]exchange.VenueOrder, 0, len(data.EntrustedList))
	for _, row := range data.EntrustedList {
		state, ok := mapOrderStatus(row.Status)
		if !ok {
			continue
		}
		filled, err := parseFixed(row.BaseVolume)
		if err != nil {
			return nil, err
		}
		out = append(out, exchange.VenueOrder{
			ExchangeOrderID: row.OrderID,
			ClientOrderID:   row.ClientOid,
			Symbol:          row.Symbol,
			State:           state,
			FilledQty:       filled,
		})
	}
	return out, nil
}

// Account fetches balances, margin and positions in one authoritative pass.
func (c *Client) Account(ctx context.Context) (domain.Account, []domain.Position, error) {
	if err := c.orderLimiter.Acquire(ctx); err != nil {
		return domain.Account{}, nil, err
	}

	var accounts []accountData
	query := "productType=" + productType
	if err := c.signedCall(ctx, http.MethodGet, "/api/v2/mix/account/accounts", query, nil, &accounts); err != nil {
		return domain.Account{}, nil, err
	}

	acct := domain.Account{Balances: make(map[string]quant.Fixed), UpdatedAt: time.Now()}
	for _, row := range accounts {
		avail, err := parseFixed(row.Available)
		if err != nil {
			return domain.Account{}, nil, err
		}
		frozen, err := parseFixed(row.Frozen)
		if err != nil {
			return domain.Account{}, nil, err
		}
		total, err := avail.Add(frozen)
		if err != nil {
			return domain.Account{}, nil, err
		}
		acct.Balances[row.MarginCoin] = total
		acct.MarginUsed = frozen
		acct.MarginAvailable = avail
	}

	var positions []positionData
	if err := c.signedCall(ctx, http.MethodGet, "/api/v2/mix/position/all-position", query, nil, &positions); err != nil {
		return domain.Account{}, nil, err
	}

	out := make([]domain.Position, 0, len(positions))
	for _, row := range positions {
		size, err := parseFixed(row.Total)
		if err != nil {
			return domain.Account{}, nil, err
		}
		if row.HoldSide == "short" {
			size = size.Neg()
		}
		entry, err := parseFixed(row.OpenPriceAvg)
		if err != nil {
			return domain.Account{}, nil, err
		}
		upl, err := parseFixed(row.UnrealizedPL)
		if err != nil {
			return domain.Account{}, nil, err
		}
		rpl, err := parseFixed(row.AchievedPL)
		if err != nil {
			return domain.Account{}, nil, err
		}
		out = append(out, domain.Position{
			Symbol:        row.Symbol,
			Size:          size,
			EntryPrice:    entry,
			UnrealizedPnL: upl,
			RealizedPnL:   rpl,
		})
	}
	return acct, out, nil
}

// BookSnapshot fetches a fresh ladder via the public market endpoint. This is
// the supervisor's resync path after a gap or crossed book.
func (c *Client) BookSnapshot(ctx context.Context, symbol string) ([]book.PriceLevel, []book.PriceLevel, uint64, error) {
	if err := c.marketLimiter.Acquire(ctx); err != nil {
		return nil, nil, 0, err
	}

	query := "productType=" + productType + "&symbol=" + url.QueryEscape(symbol) + "&limit=100"
	var data depthData
	if err := c.publicCall(ctx, "/api/v2/mix/market/merge-depth", query, &data); err != nil {
		return nil, nil, 0, err
	}

	bids, err := parseLevels(data.Bids)
	if err != nil {
		return nil, nil, 0, err
	}
	asks, err := parseLevels(data.Asks)
	if err != nil {
		return nil, nil, 0, err
	}
	return bids, asks, data.Seq, nil
}

func parseLevels(rows [][]string) ([]book.PriceLevel, error) {
	out := make([]book.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("malformed depth row: %v", row)
		}
		price, err := parseFixed(row[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseFixed(row[1])
		if err != nil {
			return nil, err
		}
		out = append(out, book.PriceLevel{Price: price, Qty: qty})
	}
	return out, nil
}

// signedCall performs one authenticated REST request and decodes the data
// field of the envelope into result (which may be nil).
func (c *Client) signedCall(ctx context.Context, method, path, query string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
	}

	signQuery := ""
	if query != "" {
		signQuery = "?" + query
	}
	headers, err := c.signer.Sign(method, path, signQuery, string(payload))
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, query, payload, headers, result)
}

func (c *Client) publicCall(ctx context.Context, path, query string, result any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, nil, result)
}

func (c *Client) do(ctx context.Context, method, path, query string, payload []byte, headers map[string]string, result any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("%w: circuit breaker open", domain.ErrRateLimited)
	}

	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.breaker.RecordFailure()
		return domain.ErrRateLimited
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: http %d", domain.ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return fmt.Errorf("venue returned http %d: %s", resp.StatusCode, truncate(raw))
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("malformed venue response: %w", err)
	}
	if envelope.Code != codeOK {
		return c.mapAPIError(envelope)
	}

	c.breaker.RecordSuccess()
	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("malformed venue data: %w", err)
		}
	}
	return nil
}

// mapAPIError translates venue error codes into the taxonomy. A business
// refusal is a rejection, not a breaker failure: the venue is healthy, it
// just said no.
func (c *Client) mapAPIError(envelope apiResponse) error {
	switch {
	case strings.HasPrefix(envelope.Code, "429"):
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, envelope.Msg)
	case envelope.Code == "40037", envelope.Code == "40001", envelope.Code == "40002", envelope.Code == "40006":
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: code %s %s", domain.ErrAuthFailed, envelope.Code, envelope.Msg)
	default:
		c.breaker.RecordSuccess()
		return &domain.RejectionError{Reason: fmt.Sprintf("code %s: %s", envelope.Code, envelope.Msg)}
	}
}

func truncate(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
