package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
	"github.com/alanyoungcy/edgeprofiler/internal/notify"
)

// ArchiveService periodically moves snapshots older than the retention
// period to cold storage.
type ArchiveService struct {
	archiver  domain.Archiver
	retention time.Duration
	notifier  Notifier
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveService creates an ArchiveService. notifier may be nil.
func NewArchiveService(archiver domain.Archiver, retentionDays int, notifier Notifier, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_service")),
	}
}

// RunOnce archives everything older than the retention cutoff. A run skipped
// because another process holds the archive lock is not an error.
func (s *ArchiveService) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)

	n, err := s.archiver.ArchiveSnapshots(ctx, cutoff)
	if errors.Is(err, domain.ErrLockHeld) {
		s.logger.InfoContext(ctx, "archive skipped, lock held")
		return 0, nil
	}
	if err != nil {
		s.notify(ctx, notify.Message{
			Event: notify.EventError,
			Title: "snapshot archive failed",
			Body:  err.Error(),
		})
		return n, fmt.Errorf("archive_service: run: %w", err)
	}

	s.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("archived", n),
		slog.Time("cutoff", cutoff),
	)
	if n > 0 {
		s.notify(ctx, notify.Message{
			Event: notify.EventArchive,
			Title: "snapshots archived",
			Body:  fmt.Sprintf("%d snapshots older than %s", n, cutoff.Format(time.DateOnly)),
		})
	}
	return n, nil
}

// Run calls RunOnce immediately and then every interval until ctx ends.
// Failed passes are logged and retried on the next tick.
func (s *ArchiveService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *ArchiveService) notify(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "archive notification failed", slog.String("error", err.Error()))
	}
}
