package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quant_go/internal/book"
	"quant_go/internal/exchange"
	"quant_go/internal/infra"
	"quant_go/internal/infra/bitget"
	"quant_go/internal/metrics"
	"quant_go/internal/orders"
	"quant_go/internal/position"
	"quant_go/internal/storage"
	"quant_go/internal/supervisor"
	"quant_go/pkg/quant"
)

// Bootstrap assembles the trading core from configuration: venue adapters,
// books, order manager, position tracker and supervisor, plus the persistence
// and mark-price side loops.
type Bootstrap struct {
	Config     *infra.Config
	Metrics    *metrics.Metrics
	Books      *book.Manager
	Orders     *orders.Manager
	OrderStore *orders.Store
	Positions  *position.Tracker
	Supervisor *supervisor.Supervisor
	StateStore *storage.StateStore

	venue     exchange.Venue
	stream    exchange.Stream
	markPrice *infra.MarkPriceClient
	log       *slog.Logger
}

// NewBootstrap loads configuration and wires every component. Nothing talks
// to the network until Run.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	b := &Bootstrap{
		Config:  cfg,
		Metrics: metrics.New(),
		log:     logger,
	}

	mode := strings.ToLower(cfg.Trading.Mode)
	dataDir := filepath.Join(cfg.Storage.Dir, mode)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	b.StateStore, err = storage.NewStateStore(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return nil, err
	}
	logger.Info("state store ready", slog.String("dir", dataDir), slog.String("mode", mode))

	venue, stream, err := b.buildVenue()
	if err != nil {
		return nil, err
	}
	b.venue = venue
	b.stream = stream

	b.Books = book.NewManager(cfg.Trading.StrictSequencing)
	b.OrderStore = orders.NewStore()
	b.Orders = orders.NewManager(venue, b.OrderStore, b.Metrics, logger)
	b.Orders.SetJournal(b.StateStore)
	b.Orders.SetPendingGrace(time.Duration(cfg.Reconcile.IntervalSec) * time.Second)
	b.Positions = position.NewTracker(b.Metrics, logger)
	if tol := cfg.Trading.DriftTolerance; tol != "" {
		fixed, perr := quant.ParseFixed(tol)
		if perr != nil {
			return nil, fmt.Errorf("invalid drift tolerance %q: %w", tol, perr)
		}
		b.Positions.SetDriftTolerance(fixed)
	}

	b.Supervisor = supervisor.New(stream, venue, b.Books, b.Orders, b.Positions, supervisor.Config{
		Backoff: infra.BackoffPolicy{
			Base:        time.Duration(cfg.Supervisor.BackoffBaseMS) * time.Millisecond,
			Max:         time.Duration(cfg.Supervisor.BackoffMaxMS) * time.Millisecond,
			Jitter:      cfg.Supervisor.Jitter,
			MaxAttempts: cfg.Supervisor.MaxAttempts,
		},
		ReconcileEvery: time.Duration(cfg.Reconcile.IntervalSec) * time.Second,
	}, b.Metrics, logger)

	if cfg.MarkPrice.URL != "" {
		b.markPrice = infra.NewMarkPriceClient(cfg.MarkPrice.URL, cfg.MarkPrice.PollIntervalSec,
			func(symbol string, price decimal.Decimal) {
				mark, perr := quant.ParseFixed(price.String())
				if perr != nil {
					logger.Warn("bad mark price", slog.String("symbol", symbol), slog.Any("error", perr))
					return
				}
				if uerr := b.Positions.UpdateMark(symbol, mark); uerr != nil {
					logger.Warn("mark update failed", slog.String("symbol", symbol), slog.Any("error", uerr))
				}
			})
	}

	return b, nil
}

// buildVenue returns the venue and stream for the configured mode. PAPER runs
// everything against the in-memory mock, so the whole pipeline can be driven
// without credentials.
func (b *Bootstrap) buildVenue() (exchange.Venue, exchange.Stream, error) {
	cfg := b.Config
	if strings.ToUpper(cfg.Trading.Mode) == "PAPER" {
		mock := exchange.NewMockVenue()
		b.log.Info("paper mode: using in-memory venue")
		return mock, mock, nil
	}

	signer := bitget.NewSigner(bitget.StaticCredentials(bitget.Credentials{
		AccessKey:  cfg.Venue.Bitget.AccessKey,
		SecretKey:  cfg.Venue.Bitget.SecretKey,
		Passphrase: cfg.Venue.Bitget.Passphrase,
	}))

	orderRL := infra.NewRateLimiter(cfg.Limits.Order.Capacity, cfg.Limits.Order.PerSecond)
	orderRL.WaitHook = func() { b.Metrics.RateLimitWaits.WithLabelValues("order").Inc() }
	marketRL := infra.NewRateLimiter(cfg.Limits.Market.Capacity, cfg.Limits.Market.PerSecond)
	marketRL.WaitHook = func() { b.Metrics.RateLimitWaits.WithLabelValues("market").Inc() }

	client := bitget.NewClient(cfg.Venue.Bitget.RestURL, signer,
		bitget.WithRateLimits(orderRL, marketRL))
	stream := bitget.NewStream(cfg.Venue.Bitget.WSURL, signer, cfg.Trading.Symbols)
	return client, stream, nil
}

// fillCursorSeeder is implemented by stream adapters that convert venue
// cumulative fill sizes to increments and need their cursor primed after a
// restart.
type fillCursorSeeder interface {
	SeedFillCursor(exchangeOrderID string, cum quant.Fixed)
}

// Recover reloads persisted orders, fill dedupe state and positions. The
// first reconciliation pass then corrects whatever moved while the process
// was down; recovery only has to hand it a recent starting point.
func (b *Bootstrap) Recover(ctx context.Context) error {
	persisted, err := b.StateStore.LoadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted orders: %w", err)
	}
	seeder, _ := b.stream.(fillCursorSeeder)
	for _, o := range persisted {
		if rerr := b.OrderStore.Restore(o); rerr != nil {
			b.log.Warn("order restore skipped", slog.String("client_order_id", o.ClientOrderID), slog.Any("error", rerr))
			continue
		}
		if o.ExchangeOrderID == "" {
			continue
		}
		if seeder != nil && o.FilledQty.Sign() > 0 {
			seeder.SeedFillCursor(o.ExchangeOrderID, o.FilledQty)
		}
		fills, ferr := b.StateStore.LoadFills(ctx, o.ExchangeOrderID)
		if ferr != nil {
			return ferr
		}
		for _, f := range fills {
			b.OrderStore.MarkFillSeen(o.ClientOrderID, f.FillID)
		}
	}

	positions, err := b.StateStore.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted positions: %w", err)
	}
	if len(positions) > 0 {
		b.Positions.OnAccountSnapshot(b.Positions.Account(), positions)
	}

	b.log.Info("state recovered",
		slog.Int("orders", len(persisted)), slog.Int("positions", len(positions)))
	return nil
}

// Run starts the supervisor, the persistence loop, the mark-price poller and
// the metrics endpoint, and blocks until the context ends or the supervisor
// gives up.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.markPrice != nil {
		b.markPrice.Start(ctx)
		defer b.markPrice.Stop()
	}

	if addr := b.Config.Metrics.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: b.Metrics.Handler()}
		go func() {
			b.log.Info("metrics listening", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				b.log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer srv.Close()
	}

	go b.persistLoop(ctx)

	err := b.Supervisor.Run(ctx)
	b.persistOnce(context.Background())
	b.StateStore.Close()
	return err
}

// persistLoop snapshots orders and positions every few seconds. The writes
// are upserts keyed on stable ids, so a crash mid-pass loses nothing but
// recency.
func (b *Bootstrap) persistLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.persistOnce(ctx)
		}
	}
}

func (b *Bootstrap) persistOnce(ctx context.Context) {
	for _, o := range b.OrderStore.All() {
		if err := b.StateStore.SaveOrder(ctx, o); err != nil {
			b.log.Warn("order persist failed", slog.String("client_order_id", o.ClientOrderID), slog.Any("error", err))
		}
	}
	for _, p := range b.Positions.Positions() {
		if err := b.StateStore.SavePosition(ctx, p); err != nil {
			b.log.Warn("position persist failed", slog.String("symbol", p.Symbol), slog.Any("error", err))
		}
	}
}
