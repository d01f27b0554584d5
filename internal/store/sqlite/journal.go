package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"tvbacktest/internal/model"
)

// RecordTrades persists the closed trades of one backtest run.
func (s *Store) RecordTrades(ctx context.Context, runID, strategy, symbol string, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, strategy, symbol, side, entry_ts, entry_price, exit_ts, exit_price,
		                    size, gross_pnl, commission, net_pnl, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.ExecContext(ctx, runID, strategy, symbol, string(t.Side),
			t.EntryTime.Unix(), t.EntryPrice, t.ExitTime.Unix(), t.ExitPrice,
			t.Size, t.GrossPnL, t.Commission, t.NetPnL, string(t.ExitReason))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert trade: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[journal] recorded %d trades for run %s", len(trades), runID)
	return nil
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID       int64  `json:"id"`
	RunID    string `json:"run_id"`
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	model.Trade
}

// GetTrades returns the trades of a run in entry order.
func (s *Store) GetTrades(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, strategy, symbol, side, entry_ts, entry_price, exit_ts, exit_price,
		       size, gross_pnl, commission, net_pnl, exit_reason
		FROM trades WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var side, reason string
		var entryTS, exitTS int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Strategy, &r.Symbol, &side, &entryTS, &r.EntryPrice,
			&exitTS, &r.ExitPrice, &r.Size, &r.GrossPnL, &r.Commission, &r.NetPnL, &reason); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		r.Side = model.Side(side)
		r.ExitReason = model.ExitReason(reason)
		r.EntryTime = time.Unix(entryTS, 0).UTC()
		r.ExitTime = time.Unix(exitTS, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
