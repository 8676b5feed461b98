package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for alert cooldowns and the alert
// audit log. Watcher state is deliberately not persisted; the watched
// range restarts from the chain head on every boot.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cooldowns (
  symbol      TEXT NOT NULL,
  kind        TEXT NOT NULL,
  until       TIMESTAMP NOT NULL,
  PRIMARY KEY(symbol, kind)
);

CREATE TABLE IF NOT EXISTS alerts (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol      TEXT NOT NULL,
  kind        TEXT NOT NULL,
  pct         REAL NOT NULL,
  price_ref   REAL NOT NULL,
  price_last  REAL NOT NULL,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SetCooldown records that (symbol, kind) must not alert again until the
// given time.
func (s *Store) SetCooldown(ctx context.Context, symbol, kind string, until time.Time) error {
	if symbol == "" || kind == "" {
		return errors.New("symbol and kind required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cooldowns (symbol, kind, until)
VALUES (?, ?, ?)
ON CONFLICT(symbol, kind) DO UPDATE SET until=excluded.until;
`, symbol, kind, until.UTC())
	if err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}

// OnCooldown reports whether (symbol, kind) is still cooling down at now.
// Expired entries are pruned.
func (s *Store) OnCooldown(ctx context.Context, symbol, kind string, now time.Time) (bool, error) {
	var until time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT until FROM cooldowns WHERE symbol = ? AND kind = ?;
`, symbol, kind).Scan(&until)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cooldown: %w", err)
	}

	if until.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cooldowns WHERE symbol = ? AND kind = ?;`, symbol, kind); err != nil {
		return false, fmt.Errorf("prune cooldown: %w", err)
	}
	return false, nil
}

// Alert is one audit row for a sent price alert.
type Alert struct {
	Symbol    string
	Kind      string
	Pct       float64
	PriceRef  float64
	PriceLast float64
}

// InsertAlert appends an audit row for a sent alert.
func (s *Store) InsertAlert(ctx context.Context, a Alert) error {
	if a.Symbol == "" || a.Kind == "" {
		return errors.New("symbol and kind required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (symbol, kind, pct, price_ref, price_last)
VALUES (?, ?, ?, ?, ?);
`, a.Symbol, a.Kind, a.Pct, a.PriceRef, a.PriceLast)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}
