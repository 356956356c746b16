package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
	"github.com/alanyoungcy/edgeprofiler/internal/notify"
	signals "github.com/alanyoungcy/edgeprofiler/internal/orderflow"
	"github.com/alanyoungcy/edgeprofiler/internal/platform/orderflow"
	"github.com/alanyoungcy/edgeprofiler/internal/profile"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type memCache struct {
	mu    sync.Mutex
	snaps map[string]domain.Snapshot
	err   error
}

func newMemCache() *memCache { return &memCache{snaps: map[string]domain.Snapshot{}} }

func (c *memCache) Set(_ context.Context, snap domain.Snapshot) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.Symbol] = snap
	return nil
}

func (c *memCache) Get(_ context.Context, symbol string) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[symbol]
	if !ok {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (c *memCache) Symbols(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.snaps))
	for s := range c.snaps {
		out = append(out, s)
	}
	return out, nil
}

type recBus struct {
	mu        sync.Mutex
	published []string
	streamed  []string
}

func (b *recBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return nil
}

func (b *recBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *recBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, stream)
	return nil
}

func (b *recBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memStore struct {
	inserted []domain.Snapshot
}

func (s *memStore) Insert(_ context.Context, snap domain.Snapshot) error {
	s.inserted = append(s.inserted, snap)
	return nil
}

func (s *memStore) GetByID(context.Context, string) (domain.Snapshot, error) {
	return domain.Snapshot{}, domain.ErrNotFound
}

func (s *memStore) ListBySymbol(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.Snapshot, error) {
	var out []domain.Snapshot
	for _, snap := range s.inserted {
		if snap.Symbol == symbol {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memStore) ListPage(context.Context, domain.SnapshotCursor, time.Time, int) ([]domain.Snapshot, error) {
	return nil, nil
}

func (s *memStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type recNotifier struct {
	msgs []notify.Message
}

func (n *recNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.msgs = append(n.msgs, msg)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// window builds a three-level candle where every level has the given bid and
// ask. Bid-heavy windows read BULLISH, ask-heavy ones BEARISH.
func window(bid, ask float64) []domain.Candle {
	return []domain.Candle{{
		Open: 100, Close: 101, Volume: 600,
		FP: domain.Footprint{
			"100": {B: bid, A: ask},
			"101": {B: bid, A: ask},
			"102": {B: bid, A: ask},
		},
	}}
}

type fixture struct {
	svc      *ProfileService
	cache    *memCache
	bus      *recBus
	store    *memStore
	notifier *recNotifier
	now      time.Time
}

func newFixture(opts ...ProfileOption) *fixture {
	f := &fixture{
		cache:    newMemCache(),
		bus:      &recBus{},
		store:    &memStore{},
		notifier: &recNotifier{},
		now:      time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
	base := []ProfileOption{
		WithSnapshotStore(f.store, time.Minute),
		WithNotifier(f.notifier),
		WithClock(func() time.Time { return f.now }),
	}
	f.svc = NewProfileService(
		profile.NewAnalyzer(profile.DefaultConfig()),
		signals.NewDetector(signals.DefaultConfig()),
		f.cache, f.bus, discardLogger(),
		append(base, opts...)...,
	)
	return f
}

func (f *fixture) update(t *testing.T, candles []domain.Candle) {
	t.Helper()
	if err := f.svc.HandleUpdate(context.Background(), orderflow.Update{Symbol: "ES", Candles: candles}); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestHandleUpdate_CachesAndPublishes(t *testing.T) {
	f := newFixture()
	f.update(t, window(10, 2))

	snap, err := f.svc.Latest(context.Background(), "ES")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap.ID == "" || snap.CurrentPrice != 101 || snap.CandleCount != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Analysis.OverallBias != domain.BiasBullish {
		t.Errorf("bias = %s, want BULLISH", snap.Analysis.OverallBias)
	}
	if snap.BestZone == nil || snap.BestZone.Kind != domain.ZoneStrongSupport {
		t.Errorf("best zone = %+v, want STRONG_SUPPORT", snap.BestZone)
	}
	if len(snap.Ladder.Rows) != 3 || snap.Ladder.CurrentIndex != 1 {
		t.Errorf("ladder = %+v", snap.Ladder)
	}

	// snapshot on its channel, then one event per signal (sell imbalance
	// and high activity).
	want := []string{domain.ProfileChannel("ES"), domain.ChannelSignal, domain.ChannelSignal}
	if len(f.bus.published) != len(want) {
		t.Fatalf("published = %v, want %v", f.bus.published, want)
	}
	for i := range want {
		if f.bus.published[i] != want[i] {
			t.Errorf("published[%d] = %s, want %s", i, f.bus.published[i], want[i])
		}
	}
	if len(f.bus.streamed) != 1 || f.bus.streamed[0] != domain.StreamProfile {
		t.Errorf("streamed = %v", f.bus.streamed)
	}
}

func TestHandleUpdate_CacheFailure(t *testing.T) {
	f := newFixture()
	f.cache.err = errors.New("redis down")
	err := f.svc.HandleUpdate(context.Background(), orderflow.Update{Symbol: "ES", Candles: window(10, 2)})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(f.bus.published) != 0 || len(f.store.inserted) != 0 {
		t.Error("nothing should be published or stored after a cache failure")
	}
}

func TestHandleUpdate_TrimsWindow(t *testing.T) {
	f := newFixture(WithMaxCandles(2))
	candles := append(append(window(1, 1), window(1, 1)...), window(10, 2)...)
	f.update(t, candles)

	snap, _ := f.svc.Latest(context.Background(), "ES")
	if snap.CandleCount != 2 {
		t.Fatalf("candle count = %d, want 2", snap.CandleCount)
	}
}

func TestHandleUpdate_PersistInterval(t *testing.T) {
	f := newFixture()
	start := f.now

	for _, offset := range []time.Duration{0, 30 * time.Second, 61 * time.Second, 90 * time.Second} {
		f.now = start.Add(offset)
		f.update(t, window(10, 2))
	}
	if len(f.store.inserted) != 2 {
		t.Fatalf("inserted = %d, want 2", len(f.store.inserted))
	}
	if got := f.store.inserted[1].CreatedAt; !got.Equal(start.Add(61 * time.Second)) {
		t.Errorf("second insert at %v", got)
	}

	hist, err := f.svc.History(context.Background(), "ES", domain.ListOpts{})
	if err != nil || len(hist) != 2 {
		t.Fatalf("history = %d, %v", len(hist), err)
	}
}

func TestHandleUpdate_Alerts(t *testing.T) {
	f := newFixture()

	f.update(t, window(10, 2)) // first sight: zone entered, bias recorded
	f.update(t, window(10, 2)) // unchanged
	f.update(t, window(2, 10)) // bias flips, new zone

	var events []string
	for _, m := range f.notifier.msgs {
		events = append(events, m.Event)
	}
	want := []string{notify.EventEdgeZone, notify.EventBiasChange, notify.EventEdgeZone}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
	if title := f.notifier.msgs[1].Title; title != "ES bias BULLISH -> BEARISH" {
		t.Errorf("bias title = %q", title)
	}
}

func TestHandleUpdate_AlertsThrottled(t *testing.T) {
	f := newFixture(WithRateLimiter(denyLimiter{}))
	f.update(t, window(10, 2))
	f.update(t, window(2, 10))
	if len(f.notifier.msgs) != 0 {
		t.Fatalf("throttled alerts delivered: %+v", f.notifier.msgs)
	}
}

func TestSnapshot_PriceFallback(t *testing.T) {
	f := newFixture()

	snap := f.svc.Snapshot("ES", window(10, 2), 0)
	if snap.CurrentPrice != 101 {
		t.Errorf("price = %v, want last close 101", snap.CurrentPrice)
	}
	empty := f.svc.Snapshot("ES", nil, 0)
	if empty.Analysis.OverallBias != domain.BiasNeutral || len(empty.Signals) != 0 || empty.Ladder.CurrentIndex != -1 {
		t.Errorf("empty snapshot = %+v", empty)
	}
}

func TestBestZone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, _, err := f.svc.BestZone(ctx, "ES", 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	f.update(t, window(10, 2))
	z, ok, err := f.svc.BestZone(ctx, "ES", 0)
	if err != nil || !ok || z.Kind != domain.ZoneStrongSupport {
		t.Fatalf("zone = %+v ok=%v err=%v", z, ok, err)
	}
	if _, ok, _ := f.svc.BestZone(ctx, "ES", 500); ok {
		t.Error("no zone expected far from the profile")
	}
}

func TestHistory_NoStore(t *testing.T) {
	svc := NewProfileService(
		profile.NewAnalyzer(profile.DefaultConfig()),
		signals.NewDetector(signals.DefaultConfig()),
		newMemCache(), &recBus{}, discardLogger(),
	)
	if _, err := svc.History(context.Background(), "ES", domain.ListOpts{}); !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// archive service
// ---------------------------------------------------------------------------

type fakeArchiver struct {
	n      int64
	err    error
	cutoff time.Time
}

func (a *fakeArchiver) ArchiveSnapshots(_ context.Context, before time.Time) (int64, error) {
	a.cutoff = before
	return a.n, a.err
}

func TestArchiveService_RunOnce(t *testing.T) {
	now := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		archiver   *fakeArchiver
		wantErr    bool
		wantEvents []string
	}{
		{"archived", &fakeArchiver{n: 5}, false, []string{notify.EventArchive}},
		{"nothing to archive", &fakeArchiver{}, false, nil},
		{"lock held", &fakeArchiver{err: domain.ErrLockHeld}, false, nil},
		{"failure", &fakeArchiver{err: errors.New("s3 down")}, true, []string{notify.EventError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recNotifier{}
			svc := NewArchiveService(tt.archiver, 30, n, discardLogger())
			svc.now = func() time.Time { return now }

			_, err := svc.RunOnce(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if want := now.AddDate(0, 0, -30); !tt.archiver.cutoff.Equal(want) {
				t.Errorf("cutoff = %v, want %v", tt.archiver.cutoff, want)
			}
			if len(n.msgs) != len(tt.wantEvents) {
				t.Fatalf("notifications = %+v, want %v", n.msgs, tt.wantEvents)
			}
			for i, ev := range tt.wantEvents {
				if n.msgs[i].Event != ev {
					t.Errorf("event[%d] = %s, want %s", i, n.msgs[i].Event, ev)
				}
			}
		})
	}
}
