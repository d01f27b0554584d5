// Package api serves stored optimizer runs, trade journals and the live
// progress stream over HTTP.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	sqlitestore "tvbacktest/internal/store/sqlite"
	"tvbacktest/internal/strategy"
)

// RunStore is the read side of the SQLite store.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (sqlitestore.RunRecord, error)
	Leaderboard(ctx context.Context, runID string, top int) ([]sqlitestore.VariantRecord, error)
	GetTrades(ctx context.Context, runID string) ([]sqlitestore.TradeRecord, error)
}

type strategyInfo struct {
	Name     string               `json:"name"`
	Type     strategy.Type        `json:"type"`
	Defaults strategy.Params      `json:"defaults"`
	Space    map[string][]float64 `json:"space"`
	Variants int                  `json:"variants"`
}

type runResponse struct {
	sqlitestore.RunRecord
	Variants []sqlitestore.VariantRecord `json:"variants"`
}

// NewRouter sets up the HTTP routes. store and stream may be nil, in which
// case their routes answer 503.
//
//	GET /api/v1/health
//	GET /api/v1/strategies
//	GET /api/v1/runs/{id}?top=N
//	GET /api/v1/runs/{id}/trades
//	WS  /api/v1/stream
func NewRouter(reg *strategy.Registry, store RunStore, stream http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /api/v1/strategies", func(w http.ResponseWriter, r *http.Request) {
		defs := reg.List()
		out := make([]strategyInfo, 0, len(defs))
		for _, d := range defs {
			info := strategyInfo{
				Name:     d.Name,
				Type:     d.Type,
				Defaults: d.Defaults,
				Space:    make(map[string][]float64, len(d.Space)),
				Variants: d.Space.Size(),
			}
			for _, p := range d.Space {
				info.Space[p.Name] = p.Values
			}
			out = append(out, info)
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "no run store configured", http.StatusServiceUnavailable)
			return
		}
		id := r.PathValue("id")
		top := 0
		if s := r.URL.Query().Get("top"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				http.Error(w, "invalid top", http.StatusBadRequest)
				return
			}
			top = n
		}
		run, err := store.GetRun(r.Context(), id)
		if err != nil {
			storeError(w, err)
			return
		}
		variants, err := store.Leaderboard(r.Context(), id, top)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runResponse{RunRecord: run, Variants: variants})
	})

	mux.HandleFunc("GET /api/v1/runs/{id}/trades", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "no run store configured", http.StatusServiceUnavailable)
			return
		}
		trades, err := store.GetTrades(r.Context(), r.PathValue("id"))
		if err != nil {
			storeError(w, err)
			return
		}
		if trades == nil {
			trades = []sqlitestore.TradeRecord{}
		}
		writeJSON(w, http.StatusOK, trades)
	})

	mux.HandleFunc("/api/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		if stream == nil {
			http.Error(w, "no progress stream", http.StatusServiceUnavailable)
			return
		}
		stream.ServeHTTP(w, r)
	})

	return mux
}

func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	log.Printf("[api] store error: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
