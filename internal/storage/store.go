package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"quant_go/internal/domain"
)

// StateStore persists open orders and positions to SQLite so that a restart
// resumes from the last known state instead of a blank slate. Reconciliation
// against the venue then corrects whatever happened while the process was
// down; the store only has to be recent, not perfect.
type StateStore struct {
	db *sql.DB
}

// NewStateStore opens (or creates) the state database with WAL mode enabled.
func NewStateStore(dbPath string) (*StateStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			client_order_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fills (
			fill_id TEXT PRIMARY KEY,
			exchange_order_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &StateStore{db: db}, nil
}

// SaveOrder upserts one order record. Terminal orders stay in the table until
// PruneOrders so a crash right after a fill still recovers the final state.
func (s *StateStore) SaveOrder(ctx context.Context, o domain.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (client_order_id, payload, state, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(client_order_id) DO UPDATE SET
		   payload=excluded.payload, state=excluded.state, updated_at=excluded.updated_at`,
		o.ClientOrderID, payload, string(o.State), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// LoadOpenOrders returns every persisted order that is not terminal.
func (s *StateStore) LoadOpenOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM orders WHERE state NOT IN (?, ?, ?, ?)`,
		string(domain.StateFilled), string(domain.StateCancelled),
		string(domain.StateRejected), string(domain.StateExpired),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		var o domain.Order
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// SavePosition upserts one position. Flat positions are deleted rather than
// stored so the table mirrors the live exposure set.
func (s *StateStore) SavePosition(ctx context.Context, p domain.Position) error {
	if p.IsFlat() {
		_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, p.Symbol)
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO positions (symbol, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		p.Symbol, payload, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// LoadPositions returns every persisted position.
func (s *StateStore) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		var p domain.Position
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// JournalFill appends one fill to the journal. The fill id is the primary
// key, so replaying a duplicate is a silent no-op.
func (s *StateStore) JournalFill(ctx context.Context, f domain.Fill) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fill: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fills (fill_id, exchange_order_id, payload, ts) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fill_id) DO NOTHING`,
		f.FillID, f.ExchangeOrderID, payload, f.Ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to journal fill: %w", err)
	}
	return nil
}

// LoadFills returns every journaled fill for one order, oldest first.
func (s *StateStore) LoadFills(ctx context.Context, exchangeOrderID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM fills WHERE exchange_order_id = ? ORDER BY ts ASC`, exchangeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		var f domain.Fill
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fill: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// PruneOrders removes terminal orders last touched before the cutoff, along
// with their journaled fills.
func (s *StateStore) PruneOrders(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM orders WHERE updated_at < ? AND state IN (?, ?, ?, ?)`,
		cutoff,
		string(domain.StateFilled), string(domain.StateCancelled),
		string(domain.StateRejected), string(domain.StateExpired),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune orders: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fills WHERE ts < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune fills: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *StateStore) Close() error {
	return s.db.Close()
}
