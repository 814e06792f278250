package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// markPriceResponse carries venue index/mark prices, one row per symbol.
// Prices come as strings and are parsed as decimals, never through float64.
type markPriceResponse struct {
	Data []struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	} `json:"data"`
}

// MarkPriceClient polls an index-price endpoint and feeds per-symbol mark
// prices to the position tracker for unrealized PnL marking.
type MarkPriceClient struct {
	onUpdate     func(symbol string, price decimal.Decimal)
	prices       map[string]decimal.Decimal
	mu           sync.RWMutex
	pollInterval time.Duration
	apiURL       string
	httpClient   *http.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewMarkPriceClient creates a poller. onUpdate is invoked once per symbol per
// successful poll.
func NewMarkPriceClient(apiURL string, pollIntervalSec int, onUpdate func(string, decimal.Decimal)) *MarkPriceClient {
	interval := 15 * time.Second
	if pollIntervalSec > 0 {
		interval = time.Duration(pollIntervalSec) * time.Second
	}
	return &MarkPriceClient{
		onUpdate:     onUpdate,
		prices:       make(map[string]decimal.Decimal),
		pollInterval: interval,
		apiURL:       apiURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Start begins polling. The first fetch happens immediately; failures are
// logged and retried on the next tick.
func (c *MarkPriceClient) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.fetch(ctx); err != nil {
		slog.Warn("initial mark price fetch failed", slog.Any("error", err))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.fetch(ctx); err != nil {
					slog.Warn("mark price fetch failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// Stop halts polling and waits for the poll goroutine.
func (c *MarkPriceClient) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Price returns the last observed mark price for a symbol.
func (c *MarkPriceClient) Price(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}

func (c *MarkPriceClient) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark price endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var parsed markPriceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("failed to parse mark price response: %w", err)
	}

	for _, row := range parsed.Data {
		price, err := decimal.NewFromString(row.MarkPrice)
		if err != nil {
			slog.Warn("skipping unparseable mark price",
				slog.String("symbol", row.Symbol), slog.String("raw", row.MarkPrice))
			continue
		}
		c.mu.Lock()
		c.prices[row.Symbol] = price
		c.mu.Unlock()
		if c.onUpdate != nil {
			c.onUpdate(row.Symbol, price)
		}
	}
	return nil
}
