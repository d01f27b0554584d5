package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists bars, trade journals and optimizer runs in one SQLite file.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database with WAL mode and the schema.
// Use ":memory:" for a throwaway store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol  TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  REAL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT    NOT NULL,
			strategy    TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			side        TEXT    NOT NULL,
			entry_ts    INTEGER NOT NULL,
			entry_price REAL    NOT NULL,
			exit_ts     INTEGER NOT NULL,
			exit_price  REAL    NOT NULL,
			size        REAL    NOT NULL,
			gross_pnl   REAL    NOT NULL,
			commission  REAL    NOT NULL,
			net_pnl     REAL    NOT NULL,
			exit_reason TEXT    NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
		CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy, symbol);

		CREATE TABLE IF NOT EXISTS runs (
			id            TEXT    PRIMARY KEY,
			strategy      TEXT    NOT NULL,
			datasets      TEXT    NOT NULL,
			engine_cfg    TEXT    NOT NULL,
			optimizer_cfg TEXT    NOT NULL,
			cells         INTEGER NOT NULL,
			failed_cells  INTEGER NOT NULL,
			elapsed_ms    INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS variants (
			run_id        TEXT    NOT NULL,
			rank          INTEGER NOT NULL,
			grid_index    INTEGER NOT NULL,
			params        TEXT    NOT NULL,
			score         REAL,
			eligible      INTEGER NOT NULL,
			avg_net_pct   REAL    NOT NULL,
			avg_dd_pct    REAL    NOT NULL,
			avg_p2d       REAL    NOT NULL,
			total_trades  INTEGER NOT NULL,
			PRIMARY KEY (run_id, rank)
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
