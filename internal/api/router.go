// Package api serves finished backtest results over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"trading-backtestv1/internal/backtest"
	"trading-backtestv1/internal/model"
)

// FillStore reads journaled fills.
type FillStore interface {
	Runs(ctx context.Context) ([]string, error)
	Fills(ctx context.Context, runID string) ([]model.Fill, error)
}

// Results holds the summaries of runs finished in this process.
type Results struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]backtest.Summary
}

func NewResults() *Results {
	return &Results{byID: make(map[string]backtest.Summary)}
}

// Add records a run summary.
func (r *Results) Add(res *backtest.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[res.RunID]; !ok {
		r.order = append(r.order, res.RunID)
	}
	r.byID[res.RunID] = res.Summary
}

// List returns summaries in completion order.
func (r *Results) List() []backtest.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]backtest.Summary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Get returns one summary.
func (r *Results) Get(runID string) (backtest.Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[runID]
	return s, ok
}

// NewRouter sets up the results routes. fills may be nil when no journal
// is configured.
//
//	GET /api/v1/health
//	GET /api/v1/runs                 summaries of runs finished in this process
//	GET /api/v1/runs/summary?run_id=
//	GET /api/v1/journal/runs         run IDs in the fill journal
//	GET /api/v1/journal/fills?run_id=
func NewRouter(results *Results, fills FillStore, log *zap.Logger) *http.ServeMux {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, log)
	})

	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, results.List(), log)
	})

	mux.HandleFunc("/api/v1/runs/summary", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("run_id")
		s, ok := results.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run_id"}, log)
			return
		}
		writeJSON(w, http.StatusOK, s, log)
	})

	mux.HandleFunc("/api/v1/journal/runs", func(w http.ResponseWriter, r *http.Request) {
		if fills == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"}, log)
			return
		}
		ids, err := fills.Runs(r.Context())
		if err != nil {
			log.Warn("journal runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()}, log)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, ids, log)
	})

	mux.HandleFunc("/api/v1/journal/fills", func(w http.ResponseWriter, r *http.Request) {
		if fills == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"}, log)
			return
		}
		id := r.URL.Query().Get("run_id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run_id is required"}, log)
			return
		}
		fs, err := fills.Fills(r.Context(), id)
		if err != nil {
			log.Warn("journal fills failed", zap.String("run_id", id), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()}, log)
			return
		}
		if fs == nil {
			fs = []model.Fill{}
		}
		writeJSON(w, http.StatusOK, fs, log)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", zap.Error(err))
	}
}
