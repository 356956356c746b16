package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// archivePrefix is where the archiver writes snapshot objects.
const archivePrefix = "archive/snapshots/"

// ArchiveHandler lists and downloads archived snapshot objects.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger.With(slog.String("handler", "archive"))}
}

// ListArchives returns the archived objects.
// GET /api/archive
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.reader.List(r.Context(), archivePrefix)
	if err != nil {
		h.internalError(w, r, "list archives", err)
		return
	}
	type object struct {
		Name         string `json:"name"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified,omitempty"`
	}
	objects := make([]object, 0, len(infos))
	for _, info := range infos {
		o := object{Name: strings.TrimPrefix(info.Path, archivePrefix), Size: info.Size}
		if !info.LastModified.IsZero() {
			o.LastModified = info.LastModified.UTC().Format("2006-01-02T15:04:05Z")
		}
		objects = append(objects, o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

// GetArchive streams one archived object as JSON lines.
// GET /api/archive/{name}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !strings.HasSuffix(name, ".jsonl") || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive name")
		return
	}

	body, err := h.reader.Get(r.Context(), archivePrefix+name)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no archive "+name)
		return
	}
	if err != nil {
		h.internalError(w, r, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download interrupted",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}

func (h *ArchiveHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
