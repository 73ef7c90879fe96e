// Package httpapi serves a read-only HTTP API over persisted backtest runs
// and the local bar store.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"callisto/internal/store"
)

// Server serves the results HTTP API.
type Server struct {
	runs store.RunStore
	bars store.BarStore
	log  *slog.Logger
}

// NewServer creates a results API server over the given stores. bars may be
// nil, in which case the symbols endpoint reports an empty list.
func NewServer(runs store.RunStore, bars store.BarStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default().With("component", "httpapi")
	}
	return &Server{runs: runs, bars: bars, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/equity", s.handleGetEquity)
	mux.HandleFunc("GET /api/runs/{id}/trades", s.handleGetTrades)
	mux.HandleFunc("GET /api/symbols", s.handleListSymbols)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// runID extracts and validates the {id} path value.
func runID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", r.PathValue("id"))
	}
	return id, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, RunsResponse{Runs: runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %d not found", id))
			return
		}
		s.log.Error("getting run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleGetEquity(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.runs.GetEquity(r.Context(), id)
	if err != nil {
		s.log.Error("getting equity", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get equity")
		return
	}
	if points == nil {
		points = []store.EquityPoint{}
	}
	writeJSON(w, EquityResponse{RunID: id, Equity: points})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := s.runs.GetTrades(r.Context(), id)
	if err != nil {
		s.log.Error("getting trades", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get trades")
		return
	}
	if trades == nil {
		trades = []store.TradeRow{}
	}
	writeJSON(w, TradesResponse{RunID: id, Trades: trades})
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	if s.bars == nil {
		writeJSON(w, SymbolsResponse{Symbols: []string{}})
		return
	}

	symbols, err := s.bars.ListSymbols(r.Context())
	if err != nil {
		s.log.Error("listing symbols", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, SymbolsResponse{Symbols: symbols})
}
