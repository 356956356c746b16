package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// StreamReader reads the durable snapshot stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// streamEntry is one replayed snapshot. Snapshot is the payload as it was
// appended.
type streamEntry struct {
	ID       string          `json:"id"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// StreamHandler replays recent snapshots so a client that missed WebSocket
// pushes can catch up.
type StreamHandler struct {
	reader StreamReader
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(reader StreamReader, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{reader: reader, logger: logger.With(slog.String("handler", "stream"))}
}

// Replay returns up to count (default 100, max 1000) snapshots appended after
// the stream ID in ?after=, oldest first. next is the ID to resume from.
// GET /api/stream?after=&count=
func (h *StreamHandler) Replay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.reader.StreamRead(r.Context(), domain.StreamProfile, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream replay failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	entries := make([]streamEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		entries = append(entries, streamEntry{ID: m.ID, Snapshot: m.Payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "next": next})
}
