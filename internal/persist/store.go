// Package persist implements C6: an atomic, crash-safe key-value store for
// pending and scheduled signals, keyed by (symbol, strategy, exchange).
// Adapted from the teacher's SQLiteStorage (internal/adapters/storage in the
// source repo): a single-writer SQLite connection where every write commits
// inside a transaction, giving the same all-or-nothing durability spec
// §4.5 asks for ("write to temp + atomic rename, or equivalent" — here the
// SQLite commit is the equivalent).
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_signals (
	symbol   TEXT NOT NULL,
	strategy TEXT NOT NULL,
	exchange TEXT NOT NULL,
	payload  TEXT NOT NULL,
	PRIMARY KEY (symbol, strategy, exchange)
);

CREATE TABLE IF NOT EXISTS scheduled_signals (
	symbol   TEXT NOT NULL,
	strategy TEXT NOT NULL,
	exchange TEXT NOT NULL,
	payload  TEXT NOT NULL,
	PRIMARY KEY (symbol, strategy, exchange)
);
`

// Key identifies one logical record.
type Key struct {
	Symbol       string
	StrategyName string
	ExchangeName string
}

// Store is the persistence adapter. The zero value is not usable; use Open.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dsn and applies the schema.
// A single open connection enforces single-writer semantics, the same
// approach the teacher's SQLiteStorage uses.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("persist.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist.Open: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadPending returns the persisted pending signal for key, or nil if
// absent. A row whose payload identity doesn't match key is treated as
// absent (orphan recovery, spec §4.5).
func (s *Store) ReadPending(ctx context.Context, key Key) (*domain.SignalRow, error) {
	return s.read(ctx, "pending_signals", key)
}

// WritePending atomically writes row under key, or deletes the record when
// row is nil.
func (s *Store) WritePending(ctx context.Context, key Key, row *domain.SignalRow) error {
	return s.write(ctx, "pending_signals", key, row)
}

// ReadScheduled returns the persisted scheduled signal for key, or nil if absent.
func (s *Store) ReadScheduled(ctx context.Context, key Key) (*domain.SignalRow, error) {
	return s.read(ctx, "scheduled_signals", key)
}

// WriteScheduled atomically writes row under key, or deletes the record
// when row is nil.
func (s *Store) WriteScheduled(ctx context.Context, key Key, row *domain.SignalRow) error {
	return s.write(ctx, "scheduled_signals", key, row)
}

func (s *Store) read(ctx context.Context, table string, key Key) (*domain.SignalRow, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE symbol = ? AND strategy = ? AND exchange = ?`, table)
	var payload string
	err := s.db.QueryRowContext(ctx, query, key.Symbol, key.StrategyName, key.ExchangeName).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist.read(%s): query: %w", table, err)
	}

	var row domain.SignalRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		// Parse failure is treated as absent, not fatal — spec §6.3
		// "Readers gracefully handle ... parse failures".
		slog.Warn("persist: dropping unparsable record", "table", table, "symbol", key.Symbol, "err", err)
		return nil, nil
	}

	if row.Symbol != key.Symbol || row.StrategyName != key.StrategyName || row.ExchangeName != key.ExchangeName {
		// Orphan recovery (spec §4.5, §9): a record whose identity doesn't
		// match the context it was read under is treated as absent.
		slog.Warn("persist: ignoring foreign record", "table", table, "key", key)
		return nil, nil
	}

	return &row, nil
}

func (s *Store) write(ctx context.Context, table string, key Key, row *domain.SignalRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist.write(%s): begin tx: %w", table, err)
	}
	defer tx.Rollback()

	if row == nil {
		query := fmt.Sprintf(`DELETE FROM %s WHERE symbol = ? AND strategy = ? AND exchange = ?`, table)
		if _, err := tx.ExecContext(ctx, query, key.Symbol, key.StrategyName, key.ExchangeName); err != nil {
			return fmt.Errorf("persist.write(%s): delete: %w", table, err)
		}
		return tx.Commit()
	}

	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("persist.write(%s): marshal: %w", table, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (symbol, strategy, exchange, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, strategy, exchange) DO UPDATE SET payload = excluded.payload
	`, table)
	if _, err := tx.ExecContext(ctx, query, key.Symbol, key.StrategyName, key.ExchangeName, string(payload)); err != nil {
		return fmt.Errorf("persist.write(%s): upsert: %w", table, err)
	}
	return tx.Commit()
}
