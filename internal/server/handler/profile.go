package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
	"github.com/alanyoungcy/edgeprofiler/internal/service"
)

// ProfileService is the subset of service.ProfileService the API uses.
type ProfileService interface {
	Snapshot(symbol string, candles []domain.Candle, currentPrice float64) domain.Snapshot
	Latest(ctx context.Context, symbol string) (domain.Snapshot, error)
	Symbols(ctx context.Context) ([]string, error)
	BestZone(ctx context.Context, symbol string, price float64) (domain.EdgeZone, bool, error)
	History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Snapshot, error)
}

// ProfileHandler serves snapshots, best zones, history and ad-hoc analysis.
type ProfileHandler struct {
	svc    ProfileService
	logger *slog.Logger
}

// NewProfileHandler creates a ProfileHandler.
func NewProfileHandler(svc ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger.With(slog.String("handler", "profile"))}
}

// ListSymbols returns the symbols with a cached snapshot.
// GET /api/profile
func (h *ProfileHandler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.svc.Symbols(r.Context())
	if err != nil {
		h.internalError(w, r, "list symbols", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": symbols})
}

// GetProfile returns the latest snapshot for a symbol.
// GET /api/profile/{symbol}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	snap, err := h.svc.Latest(r.Context(), symbol)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no profile for "+symbol)
		return
	}
	if err != nil {
		h.internalError(w, r, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetBestZone evaluates the cached analysis against ?price=, or the
// snapshot's own price when absent. zone is null when nothing is nearby.
// GET /api/profile/{symbol}/best-zone
func (h *ProfileHandler) GetBestZone(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	var price float64
	if raw := r.URL.Query().Get("price"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 0 {
			writeError(w, http.StatusBadRequest, "price must be a positive number")
			return
		}
		price = p
	}

	z, ok, err := h.svc.BestZone(r.Context(), symbol, price)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no profile for "+symbol)
		return
	}
	if err != nil {
		h.internalError(w, r, "best zone", err)
		return
	}

	resp := map[string]any{"symbol": symbol, "zone": nil}
	if ok {
		resp["zone"] = z
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSnapshots returns stored snapshots, newest first.
// GET /api/snapshots/{symbol}?limit=&offset=&since=&until=
func (h *ProfileHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	snaps, err := h.svc.History(r.Context(), symbol, parseListOpts(r))
	if errors.Is(err, service.ErrHistoryUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "snapshot history is not enabled")
		return
	}
	if err != nil {
		h.internalError(w, r, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "snapshots": snaps})
}

// analyzeRequest is the body of POST /api/analyze.
type analyzeRequest struct {
	Symbol       string          `json:"symbol"`
	Candles      []domain.Candle `json:"candles"`
	CurrentPrice float64         `json:"current_price"`
}

// Analyze runs the full analysis on the posted window without touching any
// cache or store.
// POST /api/analyze
func (h *ProfileHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" {
		req.Symbol = "ADHOC"
	}
	if req.CurrentPrice < 0 {
		writeError(w, http.StatusBadRequest, "current_price must not be negative")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Snapshot(req.Symbol, req.Candles, req.CurrentPrice))
}

func (h *ProfileHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
