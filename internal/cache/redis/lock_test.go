package redis

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// memLocks is an in-process lockStore with the same SETNX / compare-and-
// delete semantics as the Redis script.
type memLocks struct {
	mu         sync.Mutex
	held       map[string]string
	releases   int
	releaseErr error
	setErr     error
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]string{}} }

func (m *memLocks) setNX(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return false, m.setErr
	}
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = token
	return true, nil
}

func (m *memLocks) release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	if m.releaseErr != nil {
		return m.releaseErr
	}
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func TestLockManager_AcquireRelease(t *testing.T) {
	store := newMemLocks()
	lm := newLockManager(store, "desk1", nil)
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "archive:snapshots", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, ok := store.held["desk1:lock:archive:snapshots"]; !ok {
		t.Fatalf("held keys = %v, want desk1:lock:archive:snapshots", store.held)
	}
	if _, err := lm.Acquire(ctx, "archive:snapshots", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire err = %v, want ErrLockHeld", err)
	}

	release()
	if _, err := lm.Acquire(ctx, "archive:snapshots", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLockManager_ReleaseOnceConcurrently(t *testing.T) {
	store := newMemLocks()
	lm := newLockManager(store, "", nil)

	release, err := lm.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release()
		}()
	}
	wg.Wait()

	if store.releases != 1 {
		t.Fatalf("releases = %d, want 1", store.releases)
	}
}

func TestLockManager_LogsFailedRelease(t *testing.T) {
	store := newMemLocks()
	store.releaseErr = errors.New("connection reset")
	var buf bytes.Buffer
	lm := newLockManager(store, "", slog.New(slog.NewJSONHandler(&buf, nil)))

	release, err := lm.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()

	out := buf.String()
	if !strings.Contains(out, "lock release failed") || !strings.Contains(out, "connection reset") {
		t.Fatalf("log = %s", out)
	}
	if !strings.Contains(out, `"key":"edgeprof:lock:k"`) {
		t.Fatalf("log missing namespaced key: %s", out)
	}
}

func TestLockManager_AcquireError(t *testing.T) {
	store := newMemLocks()
	store.setErr = errors.New("timeout")
	lm := newLockManager(store, "", nil)

	_, err := lm.Acquire(context.Background(), "k", time.Minute)
	if err == nil || errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want a wrapped transport error", err)
	}
}

func TestNamespacedKey(t *testing.T) {
	tests := []struct {
		ns    string
		parts []string
		want  string
	}{
		{namespaceOrDefault(""), []string{"profile", "symbols"}, "edgeprof:profile:symbols"},
		{namespaceOrDefault("desk1:"), []string{"ratelimit", "api:1.2.3.4"}, "desk1:ratelimit:api:1.2.3.4"},
		{namespaceOrDefault(":x:"), []string{"lock", "k"}, "x:lock:k"},
	}
	for _, tt := range tests {
		if got := namespacedKey(tt.ns, tt.parts...); got != tt.want {
			t.Errorf("namespacedKey(%q, %v) = %q, want %q", tt.ns, tt.parts, got, tt.want)
		}
	}
}
