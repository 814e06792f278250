package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"quant_go/internal/book"
	"quant_go/internal/domain"
	"quant_go/internal/event"
	"quant_go/internal/exchange"
	"quant_go/internal/infra"
	"quant_go/internal/metrics"
	"quant_go/internal/orders"
	"quant_go/internal/position"
)

// State of the supervised connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateDegraded
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateDegraded:
		return "DEGRADED"
	case StateResyncing:
		return "RESYNCING"
	default:
		return "UNKNOWN"
	}
}

// Supervisor owns the connection lifecycle: it dials the stream, subscribes,
// drains events into the books, the order manager and the position tracker,
// and reacts to disconnects with jittered backoff. Streams never reconnect
// themselves; all redial policy lives here.
type Supervisor struct {
	stream    exchange.Stream
	venue     exchange.Venue
	books     *book.Manager
	orders    *orders.Manager
	positions *position.Tracker

	backoff        infra.BackoffPolicy
	reconcileEvery time.Duration
	topics         []string
	mtx            *metrics.Metrics
	log            *slog.Logger

	state    atomic.Int32
	lastGaps map[string]uint64
}

// Config collects the supervisor's knobs.
type Config struct {
	Backoff        infra.BackoffPolicy
	ReconcileEvery time.Duration
	Topics         []string
}

func New(stream exchange.Stream, venue exchange.Venue, books *book.Manager,
	om *orders.Manager, pt *position.Tracker, cfg Config, mtx *metrics.Metrics, log *slog.Logger) *Supervisor {

	if log == nil {
		log = slog.Default()
	}
	if mtx == nil {
		mtx = metrics.New()
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 30 * time.Second
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{exchange.TopicBooks, exchange.TopicOrders, exchange.TopicAccount}
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = infra.DefaultBackoff()
	}
	return &Supervisor{
		stream:         stream,
		venue:          venue,
		books:          books,
		orders:         om,
		positions:      pt,
		backoff:        cfg.Backoff,
		reconcileEvery: cfg.ReconcileEvery,
		topics:         cfg.Topics,
		mtx:            mtx,
		log:            log,
		lastGaps:       make(map[string]uint64),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	s.mtx.StreamState.Set(float64(st))
}

// Run drives the connect/subscribe/drain loop until the context is cancelled
// or the backoff attempt ceiling is hit. Hitting the ceiling is fatal for the
// session and returns the last connection error.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.setState(StateConnecting)
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			s.mtx.Reconnects.Inc()
			if s.backoff.Exhausted(attempt) {
				s.setState(StateDisconnected)
				s.log.Error("CONNECTION_ATTEMPTS_EXHAUSTED",
					slog.Int("attempts", attempt), slog.Any("error", err))
				return fmt.Errorf("connection attempts exhausted after %d tries: %w", attempt, err)
			}
			delay := s.backoff.Delay(attempt)
			s.log.Warn("connect failed, backing off",
				slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", err))
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		attempt = 0
		s.setState(StateSubscribed)
		s.log.Info("stream subscribed", slog.Any("topics", s.topics))

		err := s.drain(ctx)
		s.stream.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(StateDisconnected)
		s.mtx.Reconnects.Inc()
		s.log.Warn("stream disconnected, reconnecting", slog.Any("error", err))
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	if err := s.stream.Dial(ctx); err != nil {
		return err
	}
	for _, topic := range s.topics {
		if err := s.stream.Subscribe(ctx, topic); err != nil {
			s.stream.Close()
			return fmt.Errorf("subscribe %s failed: %w", topic, err)
		}
	}
	return nil
}

// drain dispatches stream events until a disconnect. The reconcile ticker
// shares the loop so order-state reconciliation pauses while reconnecting,
// when its listing would race the resubscribe anyway.
func (s *Supervisor) drain(ctx context.Context) error {
	ticker := time.NewTicker(s.reconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.orders.Reconcile(ctx); err != nil {
				s.log.Warn("reconcile failed", slog.Any("error", err))
			}
		case ev, ok := <-s.stream.Events():
			if !ok {
				return errors.New("event channel closed")
			}
			if done, err := s.dispatch(ctx, ev); done {
				return err
			}
		}
	}
}

// dispatch routes one event. It returns done=true when the connection is
// gone and the outer loop should redial.
func (s *Supervisor) dispatch(ctx context.Context, ev event.Event) (bool, error) {
	switch e := ev.(type) {
	case event.BookSnapshotEvent:
		s.applySnapshot(ctx, e)
	case event.BookDeltaEvent:
		s.applyDelta(ctx, e)
	case event.OrderUpdateEvent:
		s.orders.OnOrderUpdate(e)
	case event.FillEvent:
		if fill, applied := s.orders.OnFill(e); applied {
			if err := s.positions.OnFill(fill); err != nil {
				s.log.Error("POSITION_UPDATE_FAILED",
					slog.String("fill_id", fill.FillID), slog.Any("error", err))
			}
		}
	case event.AccountSnapshotEvent:
		s.positions.OnAccountSnapshot(e.Account, e.Positions)
	case event.DisconnectEvent:
		return true, errors.New(e.Reason)
	default:
		s.log.Debug("unhandled event", slog.Any("type", ev.GetType()))
	}
	return false, nil
}

func (s *Supervisor) applySnapshot(ctx context.Context, e event.BookSnapshotEvent) {
	b := s.books.GetOrCreate(e.Symbol)
	if err := b.ApplySnapshot(e.Bids, e.Asks, e.Seq); err != nil {
		s.mtx.CrossedBooks.WithLabelValues(e.Symbol).Inc()
		s.log.Error("CROSSED_BOOK_ON_SNAPSHOT", slog.String("symbol", e.Symbol), slog.Any("error", err))
		s.resync(ctx, e.Symbol)
		return
	}
	s.lastGaps[e.Symbol] = 0
}

func (s *Supervisor) applyDelta(ctx context.Context, e event.BookDeltaEvent) {
	b := s.books.GetOrCreate(e.Symbol)
	err := b.ApplyUpdate(e.Bids, e.Asks, e.Seq)

	// Monotonic books tolerate jumps but count them; a counted jump still
	// means missed levels, so it degrades the book exactly like a strict gap.
	if gaps := b.Gaps(); gaps > s.lastGaps[e.Symbol] {
		s.lastGaps[e.Symbol] = gaps
		s.mtx.SequenceGaps.WithLabelValues(e.Symbol).Inc()
		s.log.Warn("SEQUENCE_GAP", slog.String("symbol", e.Symbol), slog.Uint64("seq", e.Seq))
		s.resync(ctx, e.Symbol)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleUpdate):
		// Normal during post-resync replay.
		s.log.Debug("stale delta dropped", slog.String("symbol", e.Symbol), slog.Uint64("seq", e.Seq))
	case errors.Is(err, domain.ErrSequenceGap):
		s.mtx.SequenceGaps.WithLabelValues(e.Symbol).Inc()
		s.log.Warn("SEQUENCE_GAP", slog.String("symbol", e.Symbol), slog.Uint64("seq", e.Seq))
		s.resync(ctx, e.Symbol)
	case errors.Is(err, domain.ErrCrossedBook):
		s.mtx.CrossedBooks.WithLabelValues(e.Symbol).Inc()
		s.log.Error("CROSSED_BOOK", slog.String("symbol", e.Symbol), slog.Any("error", err))
		s.resync(ctx, e.Symbol)
	default:
		s.log.Warn("delta apply failed", slog.String("symbol", e.Symbol), slog.Any("error", err))
	}
}

// resync fetches a fresh snapshot over the query path and installs it. It
// runs inline in the event loop: deltas that queued up behind it replay
// afterwards, and the book's own stale check discards the ones the snapshot
// already covers.
func (s *Supervisor) resync(ctx context.Context, symbol string) {
	s.setState(StateResyncing)
	s.mtx.Resyncs.WithLabelValues(symbol).Inc()
	bids, asks, seq, err := s.venue.BookSnapshot(ctx, symbol)
	if err != nil {
		s.setState(StateDegraded)
		s.log.Error("RESYNC_FAILED", slog.String("symbol", symbol), slog.Any("error", err))
		return
	}

	b := s.books.GetOrCreate(symbol)
	if err := b.ApplySnapshot(bids, asks, seq); err != nil {
		s.setState(StateDegraded)
		s.log.Error("RESYNC_SNAPSHOT_CROSSED", slog.String("symbol", symbol), slog.Any("error", err))
		return
	}
	s.lastGaps[symbol] = 0
	s.setState(StateSubscribed)
	s.log.Info("book resynced", slog.String("symbol", symbol), slog.Uint64("seq", seq))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
