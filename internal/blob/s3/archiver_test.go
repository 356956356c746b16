package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = map[string][]byte{}
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func (w *memWriter) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := w.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (w *memWriter) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range w.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	slices.SortFunc(out, func(a, b domain.BlobInfo) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

type memSnapshots struct {
	snaps   []domain.Snapshot
	deleted int
	queries int
}

func cursorLess(a, b domain.SnapshotCursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *memSnapshots) ListPage(_ context.Context, after domain.SnapshotCursor, before time.Time, limit int) ([]domain.Snapshot, error) {
	s.queries++
	sorted := slices.Clone(s.snaps)
	slices.SortFunc(sorted, func(a, b domain.Snapshot) int {
		if cursorLess(domain.CursorAfter(a), domain.CursorAfter(b)) {
			return -1
		}
		return 1
	})
	out := []domain.Snapshot{}
	for _, snap := range sorted {
		if cursorLess(after, domain.CursorAfter(snap)) && snap.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memSnapshots) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := s.snaps[:0]
	var n int64
	for _, snap := range s.snaps {
		if snap.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, snap)
	}
	s.snaps = kept
	s.deleted += int(n)
	return n, nil
}

type memAudit struct {
	events  []string
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.entries, nil
}

func (a *memAudit) Latest(_ context.Context, event string) (domain.AuditEntry, error) {
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Event == event {
			return a.entries[i], nil
		}
	}
	return domain.AuditEntry{}, domain.ErrNotFound
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// countingLocks grants every lock and records acquire and release calls.
type countingLocks struct {
	keys     []string
	released int
}

func (l *countingLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.keys = append(l.keys, key)
	return func() { l.released++ }, nil
}

func archivedIDs(t *testing.T, body []byte) []string {
	t.Helper()
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var snap domain.Snapshot
		if err := json.Unmarshal(sc.Bytes(), &snap); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		ids = append(ids, snap.ID)
	}
	return ids
}

func snapshotsAround(cutoff time.Time) *memSnapshots {
	return &memSnapshots{snaps: []domain.Snapshot{
		{ID: "a", Symbol: "ES", CreatedAt: cutoff.Add(-2 * time.Hour)},
		{ID: "b", Symbol: "ES", CreatedAt: cutoff.Add(-time.Hour)},
		{ID: "c", Symbol: "ES", CreatedAt: cutoff.Add(time.Hour)},
	}}
}

func TestArchiveSnapshots(t *testing.T) {
	cutoff := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	w := &memWriter{}
	store := snapshotsAround(cutoff)
	audit := &memAudit{}

	n, err := NewArchiver(w, store, audit).ArchiveSnapshots(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveSnapshots: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived = %d, want 2", n)
	}

	body, ok := w.objects["archive/snapshots/2026-03-14.jsonl"]
	if !ok {
		t.Fatalf("objects = %v, want archive/snapshots/2026-03-14.jsonl", w.objects)
	}
	ids := archivedIDs(t, body)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("archived ids = %v, want [a b]", ids)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.snapshots" {
		t.Errorf("audit events = %v", audit.events)
	}
	if store.deleted != 0 {
		t.Errorf("rows deleted without delete-after-upload: %d", store.deleted)
	}
}

func TestArchiveSnapshots_DeleteAfterUpload(t *testing.T) {
	cutoff := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := snapshotsAround(cutoff)

	a := NewArchiver(&memWriter{}, store, &memAudit{}, WithDeleteAfterUpload(true))
	if _, err := a.ArchiveSnapshots(context.Background(), cutoff); err != nil {
		t.Fatalf("ArchiveSnapshots: %v", err)
	}
	if store.deleted != 2 || len(store.snaps) != 1 || store.snaps[0].ID != "c" {
		t.Errorf("deleted = %d, remaining = %+v", store.deleted, store.snaps)
	}
}

func TestArchiveSnapshots_UploadFailureKeepsRows(t *testing.T) {
	cutoff := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := snapshotsAround(cutoff)
	audit := &memAudit{}

	a := NewArchiver(&memWriter{err: errors.New("boom")}, store, audit, WithDeleteAfterUpload(true))
	if _, err := a.ArchiveSnapshots(context.Background(), cutoff); err == nil {
		t.Fatal("expected upload error")
	}
	if store.deleted != 0 || len(audit.events) != 0 {
		t.Errorf("deleted = %d, audit = %v after failed upload", store.deleted, audit.events)
	}
}

func TestArchiveSnapshots_NothingToDo(t *testing.T) {
	w := &memWriter{}
	n, err := NewArchiver(w, &memSnapshots{}, &memAudit{}).ArchiveSnapshots(context.Background(), time.Now())
	if err != nil || n != 0 || len(w.objects) != 0 {
		t.Fatalf("n = %d, err = %v, objects = %d", n, err, len(w.objects))
	}
}

func TestArchiveSnapshots_LockHeld(t *testing.T) {
	a := NewArchiver(&memWriter{}, &memSnapshots{}, &memAudit{}, WithLocks(heldLocks{}))
	_, err := a.ArchiveSnapshots(context.Background(), time.Now())
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

func TestArchiveSnapshots_IncrementalWithoutDelete(t *testing.T) {
	cutoff := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	w := &memWriter{}
	store := snapshotsAround(cutoff)
	audit := &memAudit{}
	a := NewArchiver(w, store, audit, WithReader(w))

	if n, err := a.ArchiveSnapshots(context.Background(), cutoff); err != nil || n != 2 {
		t.Fatalf("first pass n = %d, err = %v", n, err)
	}

	store.snaps = append(store.snaps, domain.Snapshot{ID: "d", Symbol: "ES", CreatedAt: cutoff.Add(30 * time.Minute)})
	second := cutoff.Add(2 * time.Hour)
	n, err := a.ArchiveSnapshots(context.Background(), second)
	if err != nil || n != 2 {
		t.Fatalf("second pass n = %d, err = %v, want 2", n, err)
	}

	if len(w.objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(w.objects))
	}
	if ids := archivedIDs(t, w.objects["archive/snapshots/2026-03-14.jsonl"]); !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("first object ids = %v, want [a b]", ids)
	}
	if ids := archivedIDs(t, w.objects["archive/snapshots/2026-03-14T140000Z.jsonl"]); !slices.Equal(ids, []string{"d", "c"}) {
		t.Errorf("second object ids = %v, want [d c]", ids)
	}
	if store.deleted != 0 {
		t.Errorf("deleted = %d without delete-after-upload", store.deleted)
	}

	if n, err := a.ArchiveSnapshots(context.Background(), second); err != nil || n != 0 {
		t.Fatalf("repeat pass n = %d, err = %v, want nothing new", n, err)
	}
	if len(w.objects) != 2 {
		t.Errorf("repeat pass wrote an object: %d", len(w.objects))
	}
}

func TestArchiveSnapshots_Pages(t *testing.T) {
	cutoff := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	at := cutoff.Add(-time.Hour)
	store := &memSnapshots{snaps: []domain.Snapshot{
		{ID: "e", CreatedAt: at},
		{ID: "b", CreatedAt: at},
		{ID: "z", CreatedAt: at.Add(-time.Minute)},
		{ID: "c", CreatedAt: at},
		{ID: "late", CreatedAt: cutoff},
	}}
	w := &memWriter{}

	n, err := NewArchiver(w, store, &memAudit{}, WithPageSize(2)).ArchiveSnapshots(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Fatalf("n = %d, err = %v, want 4", n, err)
	}
	if ids := archivedIDs(t, w.objects["archive/snapshots/2026-03-14.jsonl"]); !slices.Equal(ids, []string{"z", "b", "c", "e"}) {
		t.Errorf("ids = %v, want [z b c e]", ids)
	}
	if store.queries != 3 {
		t.Errorf("queries = %d, want 3 pages", store.queries)
	}
}

func TestArchiveSnapshots_BadWatermark(t *testing.T) {
	audit := &memAudit{}
	_ = audit.Log(context.Background(), archiveEvent, map[string]any{"before": "yesterday"})
	store := snapshotsAround(time.Now())

	if _, err := NewArchiver(&memWriter{}, store, audit).ArchiveSnapshots(context.Background(), time.Now()); err == nil {
		t.Fatal("expected a watermark error")
	}
	if store.queries != 0 {
		t.Errorf("store queried %d times with an unreadable watermark", store.queries)
	}
}

func TestArchiveSnapshots_ReleasesLock(t *testing.T) {
	cutoff := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		writer  *memWriter
		wantErr bool
	}{
		{"success", &memWriter{}, false},
		{"upload failure", &memWriter{err: errors.New("boom")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locks := &countingLocks{}
			a := NewArchiver(tt.writer, snapshotsAround(cutoff), &memAudit{}, WithLocks(locks))
			_, err := a.ArchiveSnapshots(context.Background(), cutoff)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !slices.Equal(locks.keys, []string{"archive:snapshots"}) || locks.released != 1 {
				t.Errorf("keys = %v released = %d", locks.keys, locks.released)
			}
		})
	}
}

func TestWithScheme(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"e2.example.com", true, "https://e2.example.com"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tt := range tests {
		if got := withScheme(tt.in, tt.ssl); got != tt.want {
			t.Errorf("withScheme(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}
