package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quant_go/internal/domain"
	"quant_go/internal/event"
	"quant_go/pkg/quant"
)

// Stream is the Bitget push-channel adapter. It owns exactly one WebSocket
// connection: a read error closes it and emits a DisconnectEvent, and the
// supervisor decides when to dial again. Reconnect policy does not live here.
type Stream struct {
	wsURL   string
	signer  *Signer
	symbols []string

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	events chan event.Event

	// lastCum tracks cumulative filled size per exchange order id so that
	// venue-cumulative fill reports become incremental Fill events. This is
	// the adapter-boundary half of the incremental-fill contract.
	cumMu   sync.Mutex
	lastCum map[string]quant.Fixed
}

// NewStream creates a push-channel adapter for the given symbols. signer may
// be nil for public-data-only streams.
func NewStream(wsURL string, signer *Signer, symbols []string) *Stream {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &Stream{
		wsURL:   wsURL,
		signer:  signer,
		symbols: symbols,
		events:  make(chan event.Event, 1024),
		lastCum: make(map[string]quant.Fixed),
	}
}

// Dial opens the connection, authenticates when credentials are present, and
// starts the read and ping loops.
func (s *Stream) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.signer != nil {
		if err := s.login(); err != nil {
			s.closeConn()
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go s.readLoop(loopCtx)
	go s.pingLoop(loopCtx)

	slog.Info("bitget stream connected", slog.Int("symbols", len(s.symbols)))
	return nil
}

// login signs the websocket auth request. The ws scheme signs
// timestamp + "GET" + "/user/verify" with no body.
func (s *Stream) login() error {
	headers, err := s.signer.Sign(http.MethodGet, "/user/verify", "", "")
	if err != nil {
		return err
	}
	req := wsLoginRequest{
		Op: "login",
		Args: []wsLoginArg{{
			APIKey:     headers["ACCESS-KEY"],
			Passphrase: headers["ACCESS-PASSPHRASE"],
			Timestamp:  headers["ACCESS-TIMESTAMP"],
			Sign:       headers["ACCESS-SIGN"],
		}},
	}
	return s.writeJSON(req)
}

// Subscribe registers one topic for every configured symbol. Account-level
// topics carry no symbol.
func (s *Stream) Subscribe(ctx context.Context, topic string) error {
	var args []wsArg
	switch topic {
	case "books":
		for _, sym := range s.symbols {
			args = append(args, wsArg{InstType: productType, Channel: "books", InstID: sym})
		}
	case "orders":
		// The orders channel carries both order-state changes and fills.
		args = []wsArg{{InstType: productType, Channel: "orders"}}
	case "account":
		args = []wsArg{{InstType: productType, Channel: "account", Coin: "default"}}
	default:
		return fmt.Errorf("%w: unknown topic %q", domain.ErrInvalidRequest, topic)
	}
	return s.writeJSON(wsRequest{Op: "subscribe", Args: args})
}

// SeedFillCursor primes the cumulative-fill cursor for an order restored
// from persistence, so replayed frames whose cumulative size is already
// accounted for do not re-emit fills. The cursor only moves forward.
func (s *Stream) SeedFillCursor(exchangeOrderID string, cum quant.Fixed) {
	s.cumMu.Lock()
	defer s.cumMu.Unlock()
	if cum.Cmp(s.lastCum[exchangeOrderID]) > 0 {
		s.lastCum[exchangeOrderID] = cum
	}
}

// Events returns the parsed event channel.
func (s *Stream) Events() <-chan event.Event { return s.events }

// Close tears down the connection and waits for the loops.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConn()
	s.wg.Wait()
	return nil
}

func (s *Stream) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.closeConn()
			s.emit(event.DisconnectEvent{
				BaseEvent: event.BaseEvent{Ts: time.Now()},
				Reason:    err.Error(),
			})
			return
		}

		if string(raw) == "pong" {
			continue
		}
		s.handleMessage(raw)
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte("ping")); err != nil {
				slog.Warn("bitget ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (s *Stream) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("bitget: unparseable ws frame dropped", slog.Any("error", err))
		return
	}

	if msg.Event != "" {
		// Subscription acks, login acks and error frames.
		if msg.Event == "error" {
			slog.Warn("bitget ws error frame",
				slog.String("code", msg.Code.String()), slog.String("channel", msg.Arg.Channel))
		}
		return
	}

	ts := time.UnixMilli(msg.Ts)
	switch msg.Arg.Channel {
	case "books":
		s.handleBooks(msg, ts)
	case "orders":
		s.handleOrders(msg, ts)
	case "account":
		s.handleAccount(msg, ts)
	}
}

func (s *Stream) handleBooks(msg wsMessage, ts time.Time) {
	var rows []wsBookData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		slog.Warn("bitget: malformed books payload", slog.Any("error", err))
		return
	}

	for _, row := range rows {
		bids, err := parseLevels(row.Bids)
		if err != nil {
			slog.Warn("bitget: bad bid level", slog.Any("error", err))
			continue
		}
		asks, err := parseLevels(row.Asks)
		if err != nil {
			slog.Warn("bitget: bad ask level", slog.Any("error", err))
			continue
		}

		base := event.BaseEvent{Ts: ts}
		if msg.Action == "snapshot" {
			s.emit(event.BookSnapshotEvent{
				BaseEvent: base, Symbol: msg.Arg.InstID, Bids: bids, Asks: asks, Seq: row.Seq,
			})
		} else {
			s.emit(event.BookDeltaEvent{
				BaseEvent: base, Symbol: msg.Arg.InstID, Bids: bids, Asks: asks, Seq: row.Seq,
			})
		}
	}
}

func (s *Stream) handleOrders(msg wsMessage, ts time.Time) {
	var rows []wsOrderData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		slog.Warn("bitget: malformed orders payload", slog.Any("error", err))
		return
	}

	for _, row := range rows {
		state, ok := mapOrderStatus(row.Status)
		if !ok {
			slog.Warn("bitget: unknown order status", slog.String("status", row.Status))
			continue
		}

		s.emit(event.OrderUpdateEvent{
			BaseEvent:       event.BaseEvent{Ts: ts},
			ExchangeOrderID: row.OrderID,
			ClientOrderID:   row.ClientOid,
			Symbol:          row.InstID,
			State:           state,
		})

		if row.TradeID != "" {
			s.emitFill(row, ts)
		}
	}
}

// emitFill converts the venue's cumulative filled size into an incremental
// Fill. Duplicate frames for the same trade yield a zero delta and are
// suppressed here; the order store's fill-id set is the second line of
// defense.
func (s *Stream) emitFill(row wsOrderData, ts time.Time) {
	cum, err := parseFixed(row.AccBaseVolume)
	if err != nil {
		slog.Warn("bitget: bad cumulative fill size", slog.Any("error", err))
		return
	}
	price, err := parseFixed(row.FillPrice)
	if err != nil {
		slog.Warn("bitget: bad fill price", slog.Any("error", err))
		return
	}

	s.cumMu.Lock()
	prev := s.lastCum[row.OrderID]
	delta, derr := cum.Sub(prev)
	if derr == nil && delta.Sign() > 0 {
		s.lastCum[row.OrderID] = cum
	}
	s.cumMu.Unlock()

	if derr != nil || delta.Sign() <= 0 {
		return
	}

	side := domain.SideBuy
	if row.Side == "sell" {
		side = domain.SideSell
	}
	fillTs := ts
	if ms, err := strconv.ParseInt(row.FillTime, 10, 64); err == nil {
		fillTs = time.UnixMilli(ms)
	}

	s.emit(event.FillEvent{
		BaseEvent: event.BaseEvent{Ts: ts},
		Fill: domain.Fill{
			FillID:          row.TradeID,
			ExchangeOrderID: row.OrderID,
			Symbol:          row.InstID,
			Side:            side,
			Price:           price,
			Qty:             delta,
			Ts:              fillTs,
		},
	})
}

func (s *Stream) handleAccount(msg wsMessage, ts time.Time) {
	var rows []wsAccountData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		slog.Warn("bitget: malformed account payload", slog.Any("error", err))
		return
	}

	acct := domain.Account{Balances: make(map[string]quant.Fixed), UpdatedAt: ts}
	for _, row := range rows {
		avail, err := parseFixed(row.Available)
		if err != nil {
			slog.Warn("bitget: bad balance", slog.Any("error", err))
			return
		}
		frozen, err := parseFixed(row.Frozen)
		if err != nil {
			slog.Warn("bitget: bad frozen balance", slog.Any("error", err))
			return
		}
		total, err := avail.Add(frozen)
		if err != nil {
			slog.Warn("bitget: balance overflow", slog.Any("error", err))
			return
		}
		acct.Balances[row.MarginCoin] = total
		acct.MarginAvailable = avail
		acct.MarginUsed = frozen
	}

	s.emit(event.AccountSnapshotEvent{BaseEvent: event.BaseEvent{Ts: ts}, Account: acct})
}

func (s *Stream) emit(ev event.Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("bitget stream buffer full, dropping event", slog.Any("type", ev.GetType()))
	}
}

func (s *Stream) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Stream) write(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("ws not connected")
	}
	return conn.WriteMessage(msgType, data)
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
