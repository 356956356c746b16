package handler

import (
	"context"
	"net/http"
	"time"
)

// SymbolLister lists symbols with a live snapshot.
type SymbolLister interface {
	Symbols(ctx context.Context) ([]string, error)
}

// StatusHandler serves runtime metadata for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	symbols   SymbolLister
	clients   func() int
}

// NewStatusHandler creates a StatusHandler. clients may be nil when the
// WebSocket hub is not running.
func NewStatusHandler(mode string, startedAt time.Time, symbols SymbolLister, clients func() int) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, symbols: symbols, clients: clients}
}

// GetStatus reports mode, uptime, tracked symbols and WebSocket clients.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.symbols.Symbols(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "symbols unavailable")
		return
	}
	var clients int
	if h.clients != nil {
		clients = h.clients()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"symbols":        symbols,
		"ws_clients":     clients,
	})
}
