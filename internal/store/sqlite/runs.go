package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tvbacktest/internal/backtest"
	"tvbacktest/internal/optimizer"
	"tvbacktest/internal/strategy"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// SaveReport persists an optimizer report and its ranked variants under a new
// run ID, which it returns.
func (s *Store) SaveReport(ctx context.Context, r *optimizer.Report, engine backtest.Config, opt optimizer.Config) (string, error) {
	runID := NewRunID()

	datasets, err := json.Marshal(r.Datasets)
	if err != nil {
		return "", err
	}
	engineJSON, err := json.Marshal(engine)
	if err != nil {
		return "", err
	}
	optJSON, err := json.Marshal(opt)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, datasets, engine_cfg, optimizer_cfg, cells, failed_cells, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, r.Strategy, string(datasets), string(engineJSON), string(optJSON),
		r.Cells, r.FailedCells, r.Elapsed.Milliseconds(), time.Now().Unix())
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("sqlite insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO variants (run_id, rank, grid_index, params, score, eligible, avg_net_pct, avg_dd_pct, avg_p2d, total_trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	defer stmt.Close()

	for _, v := range r.Variants {
		params, err := json.Marshal(v.Params)
		if err != nil {
			tx.Rollback()
			return "", err
		}
		// The sentinel score is stored as NULL.
		var score sql.NullFloat64
		if v.Scored > 0 {
			score = sql.NullFloat64{Float64: v.Score, Valid: true}
		}
		_, err = stmt.ExecContext(ctx, runID, v.Rank, v.Index, string(params), score, v.Eligible,
			v.AvgNetProfitPct, v.AvgMaxDrawdownPct, v.AvgProfitToDrawdown, v.TotalTrades)
		if err != nil {
			tx.Rollback()
			return "", fmt.Errorf("sqlite insert variant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	log.Printf("[sqlite] saved run %s (%s, %d variants)", runID, r.Strategy, len(r.Variants))
	return runID, nil
}

// RunRecord is a stored optimizer run.
type RunRecord struct {
	ID          string        `json:"id"`
	Strategy    string        `json:"strategy"`
	Datasets    []string      `json:"datasets"`
	Cells       int           `json:"cells"`
	FailedCells int           `json:"failed_cells"`
	Elapsed     time.Duration `json:"elapsed"`
	CreatedAt   time.Time     `json:"created_at"`
}

// VariantRecord is one ranked row of a stored run.
type VariantRecord struct {
	Rank                int             `json:"rank"`
	Index               int             `json:"index"`
	Params              strategy.Params `json:"params"`
	Score               *float64        `json:"score"`
	Eligible            bool            `json:"eligible"`
	AvgNetProfitPct     float64         `json:"avg_net_profit_pct"`
	AvgMaxDrawdownPct   float64         `json:"avg_max_drawdown_pct"`
	AvgProfitToDrawdown float64         `json:"avg_profit_to_drawdown"`
	TotalTrades         int             `json:"total_trades"`
}

// GetRun loads a stored run's header.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var r RunRecord
	var datasets string
	var elapsedMs, created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, datasets, cells, failed_cells, elapsed_ms, created_at
		FROM runs WHERE id = ?
	`, runID).Scan(&r.ID, &r.Strategy, &datasets, &r.Cells, &r.FailedCells, &elapsedMs, &created)
	if err != nil {
		return r, fmt.Errorf("sqlite get run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(datasets), &r.Datasets); err != nil {
		return r, fmt.Errorf("sqlite decode datasets: %w", err)
	}
	r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	r.CreatedAt = time.Unix(created, 0).UTC()
	return r, nil
}

// Leaderboard returns the top ranked variants of a stored run. top <= 0
// returns all of them.
func (s *Store) Leaderboard(ctx context.Context, runID string, top int) ([]VariantRecord, error) {
	if top <= 0 {
		top = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT rank, grid_index, params, score, eligible, avg_net_pct, avg_dd_pct, avg_p2d, total_trades
		FROM variants WHERE run_id = ? ORDER BY rank ASC LIMIT ?
	`, runID, top)
	if err != nil {
		return nil, fmt.Errorf("sqlite query variants: %w", err)
	}
	defer rows.Close()

	var out []VariantRecord
	for rows.Next() {
		var v VariantRecord
		var params string
		var score sql.NullFloat64
		if err := rows.Scan(&v.Rank, &v.Index, &params, &score, &v.Eligible,
			&v.AvgNetProfitPct, &v.AvgMaxDrawdownPct, &v.AvgProfitToDrawdown, &v.TotalTrades); err != nil {
			return nil, fmt.Errorf("sqlite scan variant: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &v.Params); err != nil {
			return nil, fmt.Errorf("sqlite decode params: %w", err)
		}
		if score.Valid {
			sc := score.Float64
			v.Score = &sc
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
