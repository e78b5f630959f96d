package execution

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"trading-backtestv1/internal/model"
)

// Journal persists fills to SQLite keyed by run ID for analysis and audit.
type Journal struct {
	mu  sync.Mutex
	db  *sql.DB
	log *zap.Logger
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		order_id    TEXT NOT NULL,
		side        TEXT NOT NULL,
		purpose     TEXT NOT NULL,
		price       REAL NOT NULL,
		qty         REAL NOT NULL,
		fee         REAL NOT NULL,
		is_maker    INTEGER NOT NULL,
		filled_at   INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_run ON fills(run_id, id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Named("journal").Info("opened fill journal", zap.String("path", dbPath))
	return &Journal{db: db, log: log.Named("journal")}, nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(ctx context.Context, runID string, f model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (run_id, order_id, side, purpose, price, qty, fee, is_maker, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		f.OrderID,
		string(f.Side),
		string(f.Purpose),
		f.Price,
		f.Qty,
		f.Fee,
		f.IsMaker,
		f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", f.OrderID, err)
	}
	return nil
}

// Fills returns every fill recorded for runID in insertion order.
func (j *Journal) Fills(ctx context.Context, runID string) ([]model.Fill, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT order_id, side, purpose, price, qty, fee, is_maker, filled_at
		 FROM fills WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var (
			f             model.Fill
			side, purpose string
		)
		if err := rows.Scan(&f.OrderID, &side, &purpose, &f.Price, &f.Qty, &f.Fee, &f.IsMaker, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		f.Side = model.Side(side)
		f.Purpose = model.Purpose(purpose)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Runs returns the distinct run IDs in the journal, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id FROM fills GROUP BY run_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("journal runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

var _ model.FillRecorder = (*Journal)(nil)
