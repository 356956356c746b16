package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

const (
	// archiveLockKey guards against two processes archiving the same range.
	archiveLockKey = "archive:snapshots"
	// archiveLockTTL bounds how long a crashed archiver can hold the lock.
	archiveLockTTL = 10 * time.Minute
	// archiveEvent is the audit event of a completed pass. Its "before"
	// detail is the watermark the next pass starts from.
	archiveEvent = "archive.snapshots"

	defaultPageSize = 500
	archivePartSize = 8 << 20
)

// SnapshotSource is the slice of domain.SnapshotStore the archiver needs.
type SnapshotSource interface {
	ListPage(ctx context.Context, after domain.SnapshotCursor, before time.Time, limit int) ([]domain.Snapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithLocks serialises archive runs across processes.
func WithLocks(locks domain.LockManager) ArchiverOption {
	return func(a *Archiver) { a.locks = locks }
}

// WithDeleteAfterUpload removes archived rows from the primary store once
// the upload and audit entry have succeeded.
func WithDeleteAfterUpload(enabled bool) ArchiverOption {
	return func(a *Archiver) { a.deleteAfterUpload = enabled }
}

// WithReader lets the archiver check for an existing object before writing,
// so a second pass on the same day gets its own file.
func WithReader(r domain.BlobReader) ArchiverOption {
	return func(a *Archiver) { a.reader = r }
}

// WithPageSize sets how many snapshots are read from the store per query.
func WithPageSize(n int) ArchiverOption {
	return func(a *Archiver) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithLogger sets the archiver's logger.
func WithLogger(logger *slog.Logger) ArchiverOption {
	return func(a *Archiver) { a.logger = logger.With(slog.String("component", "archiver")) }
}

// Archiver implements domain.Archiver. Each pass copies the snapshots
// created between the previous pass's cutoff and the new one into a JSONL
// object, streaming page by page, and records the new cutoff in the audit
// log.
type Archiver struct {
	writer            domain.BlobWriter
	reader            domain.BlobReader
	snapshots         SnapshotSource
	audit             domain.AuditStore
	locks             domain.LockManager
	deleteAfterUpload bool
	pageSize          int
	logger            *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, snapshots SnapshotSource, audit domain.AuditStore, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		writer:    writer,
		snapshots: snapshots,
		audit:     audit,
		pageSize:  defaultPageSize,
		logger:    slog.Default().With(slog.String("component", "archiver")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveSnapshots uploads the snapshots created before the cutoff that no
// earlier pass has archived, and returns how many it wrote. When another
// process holds the archive lock it returns 0 and domain.ErrLockHeld.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archive already running elsewhere")
			}
			return 0, fmt.Errorf("s3blob: archive snapshots lock: %w", err)
		}
		defer unlock()
	}

	from, err := a.watermark(ctx)
	if err != nil {
		return 0, err
	}
	if !from.Before(before) {
		return 0, nil
	}

	first, err := a.snapshots.ListPage(ctx, domain.CursorAt(from), before, a.pageSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	if len(first) == 0 {
		return 0, nil
	}

	path, err := a.objectPath(ctx, before)
	if err != nil {
		return 0, err
	}
	count, size, err := a.upload(ctx, path, first, before)
	if err != nil {
		return 0, err
	}

	detail := map[string]any{
		"path":   path,
		"count":  count,
		"bytes":  size,
		"from":   from.UTC().Format(time.RFC3339Nano),
		"before": before.UTC().Format(time.RFC3339Nano),
	}
	if err := a.audit.Log(ctx, archiveEvent, detail); err != nil {
		return count, fmt.Errorf("s3blob: archive snapshots audit log: %w", err)
	}

	if a.deleteAfterUpload {
		deleted, err := a.snapshots.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive snapshots delete: %w", err)
		}
		a.logger.InfoContext(ctx, "archived snapshots deleted",
			slog.Int64("deleted", deleted),
		)
	}

	a.logger.InfoContext(ctx, "snapshots archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("bytes", size),
	)
	return count, nil
}

// watermark is the cutoff of the last completed pass, or the zero time.
func (a *Archiver) watermark(ctx context.Context) (time.Time, error) {
	e, err := a.audit.Latest(ctx, archiveEvent)
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("s3blob: archive watermark: %w", err)
	}
	raw, _ := e.Detail["before"].(string)
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("s3blob: archive watermark %q: %w", raw, err)
	}
	return t, nil
}

// objectPath is archive/snapshots/YYYY-MM-DD.jsonl, or a time-stamped name
// when that day already has an object.
func (a *Archiver) objectPath(ctx context.Context, before time.Time) (string, error) {
	path := archivePath("snapshots", before)
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshots stat: %w", err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/snapshots/%s.jsonl", before.UTC().Format("2006-01-02T150405Z")), nil
}

// upload streams first and every following page into one multipart
// object, so memory stays bounded by a page plus an upload part.
func (a *Archiver) upload(ctx context.Context, path string, first []domain.Snapshot, before time.Time) (count, size int64, err error) {
	pr, pw := io.Pipe()
	cw := &countingWriter{w: pw}
	done := make(chan error, 1)

	go func() {
		n, err := a.writePages(ctx, cw, first, before)
		count = n
		_ = pw.CloseWithError(err)
		done <- err
	}()

	upErr := a.writer.PutMultipart(ctx, path, pr, archivePartSize)
	if upErr != nil {
		_ = pr.CloseWithError(upErr)
	}
	pageErr := <-done
	if upErr != nil {
		return 0, 0, fmt.Errorf("s3blob: archive snapshots upload: %w", upErr)
	}
	if pageErr != nil {
		return 0, 0, pageErr
	}
	return count, cw.n, nil
}

func (a *Archiver) writePages(ctx context.Context, w io.Writer, page []domain.Snapshot, before time.Time) (int64, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var n int64
	for len(page) > 0 {
		for _, snap := range page {
			if err := enc.Encode(snap); err != nil {
				return n, fmt.Errorf("s3blob: archive snapshots encode %s: %w", snap.ID, err)
			}
			n++
		}
		if len(page) < a.pageSize {
			break
		}
		var err error
		page, err = a.snapshots.ListPage(ctx, domain.CursorAfter(page[len(page)-1]), before, a.pageSize)
		if err != nil {
			return n, fmt.Errorf("s3blob: archive snapshots query: %w", err)
		}
	}
	return n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// archivePath partitions archive objects by the UTC day of the cutoff, e.g.
// archive/snapshots/2026-01-31.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

var _ domain.Archiver = (*Archiver)(nil)
