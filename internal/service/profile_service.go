package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
	"github.com/alanyoungcy/edgeprofiler/internal/notify"
	signals "github.com/alanyoungcy/edgeprofiler/internal/orderflow"
	"github.com/alanyoungcy/edgeprofiler/internal/platform/orderflow"
	"github.com/alanyoungcy/edgeprofiler/internal/profile"
	"github.com/alanyoungcy/edgeprofiler/internal/tracing"
)

// ErrHistoryUnavailable is returned by History when no snapshot store is
// configured.
var ErrHistoryUnavailable = errors.New("service: snapshot history not configured")

// Alerts per symbol allowed inside notifyWindow.
const (
	notifyLimit  = 6
	notifyWindow = 10 * time.Minute
)

// Notifier delivers alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// ProfileOption configures a ProfileService.
type ProfileOption func(*ProfileService)

// WithSnapshotStore enables periodic persistence and History.
func WithSnapshotStore(store domain.SnapshotStore, every time.Duration) ProfileOption {
	return func(s *ProfileService) {
		s.store = store
		s.persistEvery = every
	}
}

// WithNotifier enables bias-change and edge-zone alerts.
func WithNotifier(n Notifier) ProfileOption {
	return func(s *ProfileService) { s.notifier = n }
}

// WithRateLimiter throttles alerts per symbol.
func WithRateLimiter(l domain.RateLimiter) ProfileOption {
	return func(s *ProfileService) { s.limiter = l }
}

// WithMaxCandles keeps only the most recent n candles of each window.
func WithMaxCandles(n int) ProfileOption {
	return func(s *ProfileService) { s.maxCandles = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ProfileOption {
	return func(s *ProfileService) { s.now = now }
}

// symbolState is what the service remembers between updates of one symbol.
type symbolState struct {
	lastPersist time.Time
	bias        domain.Bias
	zoneKey     string
}

// ProfileService turns feed updates into snapshots: it runs the analyzer and
// the signal detector, caches and publishes the result, persists a sample
// to history and raises alerts.
type ProfileService struct {
	analyzer *profile.Analyzer
	detector *signals.Detector
	cache    domain.SnapshotCache
	bus      domain.SignalBus

	store        domain.SnapshotStore
	persistEvery time.Duration
	notifier     Notifier
	limiter      domain.RateLimiter
	maxCandles   int
	now          func() time.Time

	mu     sync.Mutex
	states map[string]*symbolState

	tracer trace.Tracer
	logger *slog.Logger
}

// NewProfileService creates a ProfileService. HandleUpdate needs cache and
// bus; Snapshot uses neither, so offline callers may pass nil.
func NewProfileService(
	analyzer *profile.Analyzer,
	detector *signals.Detector,
	cache domain.SnapshotCache,
	bus domain.SignalBus,
	logger *slog.Logger,
	opts ...ProfileOption,
) *ProfileService {
	s := &ProfileService{
		analyzer: analyzer,
		detector: detector,
		cache:    cache,
		bus:      bus,
		now:      time.Now,
		states:   make(map[string]*symbolState),
		tracer:   tracing.Tracer("service"),
		logger:   logger.With(slog.String("component", "profile_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot runs the full analysis for one window without side effects.
// A non-positive currentPrice falls back to the close of the last candle.
func (s *ProfileService) Snapshot(symbol string, candles []domain.Candle, currentPrice float64) domain.Snapshot {
	if currentPrice <= 0 && len(candles) > 0 {
		currentPrice = candles[len(candles)-1].Close
	}

	p := profile.Aggregate(candles)
	analysis := s.analyzer.AnalyzeProfile(p, currentPrice)
	snap := domain.Snapshot{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		CurrentPrice: currentPrice,
		CandleCount:  len(candles),
		Analysis:     analysis,
		Ladder:       profile.BuildLadder(p, analysis, currentPrice),
		Signals:      s.detector.Detect(candles),
		CreatedAt:    s.now().UTC(),
	}
	if z, ok := s.analyzer.BestTradeZone(analysis, currentPrice); ok {
		snap.BestZone = &z
	}
	return snap
}

// HandleUpdate analyzes one feed update. Failing to cache the snapshot is an
// error; publish, persist and notify failures are logged and skipped.
func (s *ProfileService) HandleUpdate(ctx context.Context, u orderflow.Update) error {
	candles := u.Candles
	if s.maxCandles > 0 && len(candles) > s.maxCandles {
		candles = candles[len(candles)-s.maxCandles:]
	}

	ctx, span := s.tracer.Start(ctx, "profile.HandleUpdate",
		trace.WithAttributes(
			attribute.String("symbol", u.Symbol),
			attribute.Int("candles", len(candles)),
		),
	)
	defer span.End()

	snap := s.Snapshot(u.Symbol, candles, u.CurrentPrice())
	span.SetAttributes(
		attribute.String("bias", string(snap.Analysis.OverallBias)),
		attribute.Int("zones", len(snap.Analysis.EdgeZones)),
	)

	if err := s.cache.Set(ctx, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache snapshot")
		return fmt.Errorf("profile_service: cache snapshot %s: %w", u.Symbol, err)
	}

	s.publish(ctx, snap)
	s.persist(ctx, snap)
	s.alert(ctx, snap)

	s.logger.DebugContext(ctx, "snapshot updated",
		slog.String("symbol", snap.Symbol),
		slog.Float64("price", snap.CurrentPrice),
		slog.Float64("poc", snap.Analysis.PointOfControl),
		slog.String("bias", string(snap.Analysis.OverallBias)),
		slog.Int("zones", len(snap.Analysis.EdgeZones)),
		slog.Int("signals", len(snap.Signals)),
	)
	return nil
}

// signalEvent is the payload published on domain.ChannelSignal.
type signalEvent struct {
	Symbol     string            `json:"symbol"`
	SnapshotID string            `json:"snapshot_id"`
	Price      float64           `json:"price"`
	Signal     domain.FlowSignal `json:"signal"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (s *ProfileService) publish(ctx context.Context, snap domain.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal snapshot failed",
			slog.String("symbol", snap.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.bus.Publish(ctx, domain.ProfileChannel(snap.Symbol), payload); err != nil {
		s.logger.WarnContext(ctx, "publish snapshot failed",
			slog.String("symbol", snap.Symbol),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamProfile, payload); err != nil {
		s.logger.WarnContext(ctx, "append snapshot stream failed",
			slog.String("symbol", snap.Symbol),
			slog.String("error", err.Error()),
		)
	}

	for _, sig := range snap.Signals {
		evt, _ := json.Marshal(signalEvent{
			Symbol:     snap.Symbol,
			SnapshotID: snap.ID,
			Price:      snap.CurrentPrice,
			Signal:     sig,
			CreatedAt:  snap.CreatedAt,
		})
		if err := s.bus.Publish(ctx, domain.ChannelSignal, evt); err != nil {
			s.logger.WarnContext(ctx, "publish signal failed",
				slog.String("symbol", snap.Symbol),
				slog.String("signal", string(sig.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// persist stores snap when the symbol's last stored snapshot is older than
// the persist interval.
func (s *ProfileService) persist(ctx context.Context, snap domain.Snapshot) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	st := s.state(snap.Symbol)
	due := st.lastPersist.IsZero() || snap.CreatedAt.Sub(st.lastPersist) >= s.persistEvery
	if due {
		st.lastPersist = snap.CreatedAt
	}
	s.mu.Unlock()
	if !due {
		return
	}

	if err := s.store.Insert(ctx, snap); err != nil {
		s.mu.Lock()
		st.lastPersist = time.Time{}
		s.mu.Unlock()
		s.logger.ErrorContext(ctx, "persist snapshot failed",
			slog.String("symbol", snap.Symbol),
			slog.String("id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}

// alert notifies when the overall bias flips or the price enters a new best
// trade zone. The first update of a symbol only records its bias.
func (s *ProfileService) alert(ctx context.Context, snap domain.Snapshot) {
	var zoneKey string
	if snap.BestZone != nil {
		zoneKey = fmt.Sprintf("%s@%.4f", snap.BestZone.Kind, snap.BestZone.Anchor())
	}

	s.mu.Lock()
	st := s.state(snap.Symbol)
	prevBias := st.bias
	prevZone := st.zoneKey
	st.bias = snap.Analysis.OverallBias
	st.zoneKey = zoneKey
	s.mu.Unlock()

	if s.notifier == nil {
		return
	}

	var msgs []notify.Message
	if prevBias != "" && prevBias != snap.Analysis.OverallBias {
		msgs = append(msgs, notify.Message{
			Event: notify.EventBiasChange,
			Title: fmt.Sprintf("%s bias %s -> %s", snap.Symbol, prevBias, snap.Analysis.OverallBias),
			Body: fmt.Sprintf("price %.2f, POC %.2f, value area %.2f - %.2f, strength %.0f",
				snap.CurrentPrice, snap.Analysis.PointOfControl,
				snap.Analysis.ValueAreaLow, snap.Analysis.ValueAreaHigh,
				snap.Analysis.BiasStrength),
		})
	}
	if zoneKey != "" && zoneKey != prevZone {
		z := snap.BestZone
		msgs = append(msgs, notify.Message{
			Event: notify.EventEdgeZone,
			Title: fmt.Sprintf("%s at %s (%s)", snap.Symbol, z.Kind, z.TradeBias),
			Body: fmt.Sprintf("price %.2f inside band %.2f - %.2f, strength %d. %s",
				snap.CurrentPrice, z.PriceStart, z.PriceEnd, z.Strength, z.Description),
		})
	}

	for _, msg := range msgs {
		if !s.allowAlert(ctx, snap.Symbol) {
			s.logger.InfoContext(ctx, "alert throttled",
				slog.String("symbol", snap.Symbol),
				slog.String("event", msg.Event),
			)
			continue
		}
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "alert failed",
				slog.String("symbol", snap.Symbol),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *ProfileService) allowAlert(ctx context.Context, symbol string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(ctx, "notify:"+symbol, notifyLimit, notifyWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "alert rate limit check failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// state returns the per-symbol state, creating it. Callers hold s.mu.
func (s *ProfileService) state(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = &symbolState{}
		s.states[symbol] = st
	}
	return st
}

// Latest returns the cached snapshot for symbol.
func (s *ProfileService) Latest(ctx context.Context, symbol string) (domain.Snapshot, error) {
	snap, err := s.cache.Get(ctx, symbol)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("profile_service: latest %s: %w", symbol, err)
	}
	return snap, nil
}

// Symbols lists the symbols with a cached snapshot.
func (s *ProfileService) Symbols(ctx context.Context) ([]string, error) {
	symbols, err := s.cache.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("profile_service: symbols: %w", err)
	}
	return symbols, nil
}

// BestZone evaluates the best trade zone of the cached snapshot against
// price, or against the snapshot's own price when price is not positive.
func (s *ProfileService) BestZone(ctx context.Context, symbol string, price float64) (domain.EdgeZone, bool, error) {
	snap, err := s.Latest(ctx, symbol)
	if err != nil {
		return domain.EdgeZone{}, false, err
	}
	if price <= 0 {
		price = snap.CurrentPrice
	}
	z, ok := s.analyzer.BestTradeZone(snap.Analysis, price)
	return z, ok, nil
}

// History lists stored snapshots for symbol, newest first.
func (s *ProfileService) History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Snapshot, error) {
	if s.store == nil {
		return nil, ErrHistoryUnavailable
	}
	snaps, err := s.store.ListBySymbol(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("profile_service: history %s: %w", symbol, err)
	}
	return snaps, nil
}
