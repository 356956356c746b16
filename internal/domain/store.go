package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotStore persists profile snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, snap Snapshot) error
	GetByID(ctx context.Context, id string) (Snapshot, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]Snapshot, error)
	// ListPage returns up to limit snapshots ordered by (CreatedAt, ID) that
	// sort after the cursor and were created before the cutoff.
	ListPage(ctx context.Context, after SnapshotCursor, before time.Time, limit int) ([]Snapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotCursor is a keyset position in the (created_at, id) order. The
// zero ID sorts before every real ID at the same instant.
type SnapshotCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAt positions a cursor at the start of t.
func CursorAt(t time.Time) SnapshotCursor {
	return SnapshotCursor{CreatedAt: t, ID: ZeroSnapshotID}
}

// CursorAfter positions a cursor just past snap.
func CursorAfter(snap Snapshot) SnapshotCursor {
	return SnapshotCursor{CreatedAt: snap.CreatedAt, ID: snap.ID}
}

// ZeroSnapshotID is the smallest snapshot ID.
const ZeroSnapshotID = "00000000-0000-0000-0000-000000000000"

// AuditEntry is a single row of the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore is an append-only event log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// Latest returns the newest entry for event, or ErrNotFound.
	Latest(ctx context.Context, event string) (AuditEntry, error)
}
