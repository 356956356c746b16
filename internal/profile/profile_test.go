package profile

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func candle(fp domain.Footprint) domain.Candle {
	return domain.Candle{FP: fp}
}

// threeLevelWindow is the reference window used across these tests.
func threeLevelWindow() []domain.Candle {
	return []domain.Candle{
		candle(domain.Footprint{
			"100.00": {B: 10, A: 2},
			"100.05": {B: 2, A: 12},
			"100.10": {B: 3, A: 3},
		}),
	}
}

func TestAggregate_SumsPerPrice(t *testing.T) {
	candles := []domain.Candle{
		candle(domain.Footprint{"100.0": {B: 1, A: 2}, "101": {B: 4}}),
		candle(domain.Footprint{"100.00": {B: 3, A: 1}}),
		candle(nil),
		candle(domain.Footprint{"1.0e2": {A: 5}}),
	}
	levels := Aggregate(candles).Levels()
	if len(levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(levels))
	}
	want := []domain.VolumeLevel{
		{Price: 101, Bid: 4, Ask: 0, Total: 4, Delta: 4},
		{Price: 100, Bid: 4, Ask: 8, Total: 12, Delta: -4},
	}
	if !reflect.DeepEqual(levels, want) {
		t.Fatalf("levels = %+v, want %+v", levels, want)
	}
}

func TestAggregate_SkipsMalformedCandle(t *testing.T) {
	candles := []domain.Candle{
		candle(domain.Footprint{"100": {B: 1, A: 1}}),
		candle(domain.Footprint{"100": {B: 50}, "abc": {B: 1}}),
		candle(domain.Footprint{"-3": {B: 1}}),
	}
	p, stats := AggregateWithStats(candles)
	if stats.Candles != 3 || stats.Skipped != 2 {
		t.Fatalf("stats = %+v, want 3 candles and 2 skipped", stats)
	}
	if p.Len() != 1 || p.TotalVolume() != 2 {
		t.Fatalf("len = %d total = %v, want 1 and 2", p.Len(), p.TotalVolume())
	}
}

func TestAggregate_SkipsOutOfRangePrice(t *testing.T) {
	for _, key := range []string{"1e400", "1e10000000"} {
		t.Run(key, func(t *testing.T) {
			candles := []domain.Candle{
				candle(domain.Footprint{"100": {B: 3, A: 1}}),
				candle(domain.Footprint{key: {B: 1, A: 1}, "100": {B: 9}}),
			}
			p, stats := AggregateWithStats(candles)
			if stats.Skipped != 1 {
				t.Fatalf("skipped = %d, want 1", stats.Skipped)
			}
			levels := p.Levels()
			if len(levels) != 1 || levels[0].Price != 100 || levels[0].Total != 4 {
				t.Fatalf("levels = %+v", levels)
			}

			a := AnalyzeProfile(p, 100)
			for _, v := range []float64{a.PointOfControl, a.ValueAreaHigh, a.ValueAreaLow} {
				if math.IsInf(v, 0) || math.IsNaN(v) {
					t.Fatalf("non-finite analysis %+v", a)
				}
			}
			if _, err := json.Marshal(a); err != nil {
				t.Fatalf("marshal analysis: %v", err)
			}
		})
	}
}

func TestAggregate_FoldsEqualPrices(t *testing.T) {
	candles := []domain.Candle{
		candle(domain.Footprint{"100": {B: 1}, "100.00000000000000000001": {A: 2}}),
		candle(domain.Footprint{"100.0000000000001": {B: 4}}),
	}
	levels := Aggregate(candles).Levels()
	seen := map[float64]bool{}
	for _, l := range levels {
		if seen[l.Price] {
			t.Fatalf("duplicate price %v in %+v", l.Price, levels)
		}
		seen[l.Price] = true
	}
	if len(levels) != 1 || levels[0].Bid != 5 || levels[0].Ask != 2 {
		t.Fatalf("levels = %+v, want one row with bid 5 ask 2", levels)
	}
}

func TestAggregate_ClampsBadVolumes(t *testing.T) {
	candles := []domain.Candle{
		candle(domain.Footprint{"10": {B: math.NaN(), A: 4}}),
		candle(domain.Footprint{"10": {B: -2, A: math.Inf(1)}}),
	}
	p, stats := AggregateWithStats(candles)
	if stats.Clamped != 3 {
		t.Fatalf("clamped = %d, want 3", stats.Clamped)
	}
	levels := p.Levels()
	if len(levels) != 1 || levels[0].Bid != 0 || levels[0].Ask != 4 {
		t.Fatalf("levels = %+v", levels)
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	a := candle(domain.Footprint{"100": {B: 1, A: 2}, "101": {B: 3}})
	b := candle(domain.Footprint{"101": {A: 7}, "99": {B: 2, A: 2}})
	c := candle(domain.Footprint{"100": {B: 5}, "99": {A: 1}})

	base := Aggregate([]domain.Candle{a, b, c}).Levels()
	for name, order := range map[string][]domain.Candle{
		"bca": {b, c, a},
		"cab": {c, a, b},
		"acb": {a, c, b},
	} {
		if got := Aggregate(order).Levels(); !reflect.DeepEqual(got, base) {
			t.Errorf("%s: levels = %+v, want %+v", name, got, base)
		}
	}

	left := Aggregate([]domain.Candle{a, b}).Merge(Aggregate([]domain.Candle{c}))
	right := Aggregate([]domain.Candle{a}).Merge(Aggregate([]domain.Candle{b, c}))
	if !reflect.DeepEqual(left.Levels(), base) || !reflect.DeepEqual(right.Levels(), base) {
		t.Fatalf("merge is not associative: %+v / %+v", left.Levels(), right.Levels())
	}
}

func TestMerge_LeavesInputsUntouched(t *testing.T) {
	p := Aggregate([]domain.Candle{candle(domain.Footprint{"1": {B: 1}})})
	q := Aggregate([]domain.Candle{candle(domain.Footprint{"1": {A: 2}})})
	_ = p.Merge(q)
	if p.TotalVolume() != 1 || q.TotalVolume() != 2 {
		t.Fatalf("inputs mutated: %v %v", p.TotalVolume(), q.TotalVolume())
	}
}

func TestAnalyze_ReferenceWindow(t *testing.T) {
	got := Analyze(threeLevelWindow(), 100.05)

	// 100.05 carries 14 of the 32 units, so it is the point of control.
	// Expansion goes down to 100.00 (12 > 6) and stops at 26 >= 22.4.
	if !near(got.PointOfControl, 100.05) {
		t.Errorf("poc = %v, want 100.05", got.PointOfControl)
	}
	if !near(got.ValueAreaHigh, 100.05) || !near(got.ValueAreaLow, 100.00) {
		t.Errorf("value area = [%v, %v], want [100.00, 100.05]", got.ValueAreaLow, got.ValueAreaHigh)
	}

	want := []struct {
		kind     domain.EdgeZoneKind
		anchor   float64
		strength int
		bias     domain.TradeBias
	}{
		{domain.ZoneStrongSupport, 100.00, 100, domain.TradeBuy},
		{domain.ZoneStrongResistance, 100.05, 100, domain.TradeSell},
		{domain.ZonePointOfControl, 100.05, 100, domain.TradeNeutral},
		{domain.ZoneValueAreaLow, 100.00, 80, domain.TradeBuy},
		{domain.ZoneValueAreaHigh, 100.05, 80, domain.TradeSell},
	}
	if len(got.EdgeZones) != len(want) {
		t.Fatalf("zones = %+v, want %d zones", got.EdgeZones, len(want))
	}
	for i, w := range want {
		z := got.EdgeZones[i]
		if z.Kind != w.kind || z.Strength != w.strength || z.TradeBias != w.bias || math.Abs(z.Anchor()-w.anchor) > 1e-6 {
			t.Errorf("zone[%d] = %+v (anchor %v), want %v@%v strength %d %s",
				i, z, z.Anchor(), w.kind, w.anchor, w.strength, w.bias)
		}
	}

	if got.OverallBias != domain.BiasBearish {
		t.Errorf("bias = %s, want BEARISH", got.OverallBias)
	}
	if !near(got.BiasStrength, 2) {
		t.Errorf("bias strength = %v, want 2", got.BiasStrength)
	}
}

func TestAnalyze_ZoneBandWidths(t *testing.T) {
	got := Analyze(threeLevelWindow(), 100.05)
	for _, z := range got.EdgeZones {
		width := z.PriceEnd - z.PriceStart
		want := 0.10
		if z.Kind == domain.ZoneHighVolumeNode || z.Kind == domain.ZoneValueAreaHigh || z.Kind == domain.ZoneValueAreaLow {
			want = 0.20
		}
		if math.Abs(width-want) > 1e-6 {
			t.Errorf("%s width = %v, want %v", z.Kind, width, want)
		}
	}
}

func TestAnalyze_Empty(t *testing.T) {
	for _, candles := range [][]domain.Candle{nil, {}, {candle(nil)}} {
		got := Analyze(candles, 42)
		want := domain.NeutralAnalysis(42)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
		if got.EdgeZones == nil {
			t.Fatal("edge zones should be an empty slice, not nil")
		}
	}
}

func TestAnalyze_SingleZeroLevel(t *testing.T) {
	got := Analyze([]domain.Candle{candle(domain.Footprint{"50": {}})}, 50)
	if got.PointOfControl != 50 || got.ValueAreaHigh != 51 || got.ValueAreaLow != 49 {
		t.Fatalf("poc/vah/val = %v/%v/%v", got.PointOfControl, got.ValueAreaHigh, got.ValueAreaLow)
	}
	kinds := make([]domain.EdgeZoneKind, 0, len(got.EdgeZones))
	for _, z := range got.EdgeZones {
		kinds = append(kinds, z.Kind)
	}
	want := []domain.EdgeZoneKind{domain.ZonePointOfControl, domain.ZoneValueAreaLow, domain.ZoneValueAreaHigh}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	if got.OverallBias != domain.BiasNeutral || got.BiasStrength != 0 {
		t.Fatalf("bias = %s %v", got.OverallBias, got.BiasStrength)
	}
}

func TestAnalyze_ValueAreaExpansion(t *testing.T) {
	// Totals 10/20/40/20/10 from 105 down to 101. The first step is a tie and
	// goes up to 104, the second goes down to 102 and reaches 80 >= 70.
	fp := domain.Footprint{
		"105": {B: 5, A: 5},
		"104": {B: 10, A: 10},
		"103": {B: 20, A: 20},
		"102": {B: 10, A: 10},
		"101": {B: 5, A: 5},
	}
	got := Analyze([]domain.Candle{candle(fp)}, 103)
	if got.PointOfControl != 103 || got.ValueAreaHigh != 104 || got.ValueAreaLow != 102 {
		t.Fatalf("poc/vah/val = %v/%v/%v, want 103/104/102",
			got.PointOfControl, got.ValueAreaHigh, got.ValueAreaLow)
	}
}

func TestAnalyze_ValueAreaInvariants(t *testing.T) {
	windows := map[string][]domain.Candle{
		"reference": threeLevelWindow(),
		"skewed top": {candle(domain.Footprint{
			"10": {B: 90}, "9": {B: 1}, "8": {A: 1}, "7": {B: 2, A: 2},
		})},
		"skewed bottom": {candle(domain.Footprint{
			"10": {B: 1}, "9": {A: 1}, "8": {B: 3}, "7": {B: 50, A: 45},
		})},
		"flat": {candle(domain.Footprint{
			"1": {B: 1}, "2": {B: 1}, "3": {B: 1}, "4": {B: 1},
		})},
	}
	for name, candles := range windows {
		t.Run(name, func(t *testing.T) {
			p := Aggregate(candles)
			a := AnalyzeProfile(p, 0)
			if !(a.ValueAreaHigh >= a.PointOfControl && a.PointOfControl >= a.ValueAreaLow) {
				t.Fatalf("VAH %v >= POC %v >= VAL %v violated", a.ValueAreaHigh, a.PointOfControl, a.ValueAreaLow)
			}

			var inside, total float64
			for _, l := range p.Levels() {
				total += l.Total
				if l.Price <= a.ValueAreaHigh && l.Price >= a.ValueAreaLow {
					inside += l.Total
				}
			}
			if inside < total*0.7 {
				t.Fatalf("value area covers %v of %v", inside, total)
			}
		})
	}
}

func TestAnalyze_PocTieFavoursHigherPrice(t *testing.T) {
	got := Analyze([]domain.Candle{candle(domain.Footprint{
		"100": {B: 5, A: 5},
		"101": {B: 5, A: 5},
	})}, 100)
	if got.PointOfControl != 101 {
		t.Fatalf("poc = %v, want 101", got.PointOfControl)
	}
}

func TestAnalyze_VolumeNodes(t *testing.T) {
	tests := []struct {
		name     string
		fp       domain.Footprint
		kind     domain.EdgeZoneKind
		price    float64
		strength int
	}{
		{
			name:     "low volume node",
			fp:       domain.Footprint{"3": {B: 50, A: 50}, "2": {B: 50, A: 50}, "1": {B: 5, A: 5}},
			kind:     domain.ZoneLowVolumeNode,
			price:    1,
			strength: 86, // round((1 - 10/70) * 100)
		},
		{
			name:     "high volume node",
			fp:       domain.Footprint{"4": {B: 50, A: 50}, "3": {B: 5, A: 5}, "2": {B: 5, A: 5}, "1": {B: 5, A: 5}},
			kind:     domain.ZoneHighVolumeNode,
			price:    4,
			strength: 92, // round(100 / 32.5 * 30)
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze([]domain.Candle{candle(tt.fp)}, tt.price)
			var found bool
			for _, z := range a.EdgeZones {
				if z.Kind != tt.kind {
					continue
				}
				found = true
				if math.Abs(z.Anchor()-tt.price) > 1e-6 || z.Strength != tt.strength || z.TradeBias != domain.TradeNeutral {
					t.Fatalf("zone = %+v, want %v@%v strength %d", z, tt.kind, tt.price, tt.strength)
				}
			}
			if !found {
				t.Fatalf("no %s zone in %+v", tt.kind, a.EdgeZones)
			}
		})
	}
}

func TestAnalyze_StrengthBoundsAndOrder(t *testing.T) {
	windows := [][]domain.Candle{
		threeLevelWindow(),
		{candle(domain.Footprint{"1": {B: 1000}, "2": {A: 1000}, "3": {B: 1, A: 1}, "4": {B: 0.5}})},
		{candle(domain.Footprint{"10": {B: 3, A: 1}, "11": {B: 1, A: 9}, "12": {B: 400, A: 390}})},
	}
	for i, candles := range windows {
		a := Analyze(candles, 5)
		for j, z := range a.EdgeZones {
			if z.Strength < 0 || z.Strength > 100 {
				t.Errorf("window %d zone %d strength %d out of range", i, j, z.Strength)
			}
			if j > 0 && a.EdgeZones[j-1].Strength < z.Strength {
				t.Errorf("window %d zones not sorted by strength at %d", i, j)
			}
		}
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	candles := threeLevelWindow()
	first := Analyze(candles, 100.05)
	second := Analyze(candles, 100.05)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated analysis differs:\n%+v\n%+v", first, second)
	}
}

// The delta bias compares totalDelta against a multiple of itself, so its
// outcome depends on the sign of the delta and the level count only.
func TestAnalyze_DeltaBiasFormula(t *testing.T) {
	tests := []struct {
		name     string
		fp       domain.Footprint
		bias     domain.Bias
		strength float64
	}{
		{"one level negative reads bullish", domain.Footprint{"10": {B: 1, A: 5}}, domain.BiasBullish, 12},
		{"one level positive is neutral", domain.Footprint{"10": {B: 5, A: 1}}, domain.BiasNeutral, 12},
		{"two levels positive is neutral", domain.Footprint{"10": {B: 5, A: 1}, "11": {B: 5, A: 1}}, domain.BiasNeutral, 12},
		{"two levels negative is bearish", domain.Footprint{"10": {B: 1, A: 5}, "11": {B: 1, A: 5}}, domain.BiasBearish, 12},
		{"three levels positive is bullish", domain.Footprint{"10": {B: 2}, "11": {B: 2}, "12": {B: 2}}, domain.BiasBullish, 6},
		{"three levels negative is bearish", domain.Footprint{"10": {A: 2}, "11": {A: 2}, "12": {A: 2}}, domain.BiasBearish, 6},
		{"balanced is neutral", domain.Footprint{"10": {B: 2, A: 2}, "11": {B: 3, A: 3}, "12": {B: 1, A: 1}}, domain.BiasNeutral, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze([]domain.Candle{candle(tt.fp)}, 10)
			if a.OverallBias != tt.bias {
				t.Errorf("bias = %s, want %s", a.OverallBias, tt.bias)
			}
			if !near(a.BiasStrength, tt.strength) {
				t.Errorf("strength = %v, want %v", a.BiasStrength, tt.strength)
			}
		})
	}
}

func TestNewAnalyzer_Config(t *testing.T) {
	a := NewAnalyzer(Config{ProximityWindow: 5, ValueAreaFraction: 3})
	cfg := a.Config()
	if cfg.ProximityWindow != 5 {
		t.Errorf("proximity = %v, want 5", cfg.ProximityWindow)
	}
	if cfg.ValueAreaFraction != 0.70 || cfg.NarrowHalfWidth != 0.05 || cfg.WideHalfWidth != 0.10 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"100.00", "100", false},
		{"100.05", "100.05", false},
		{"1.5e1", "15", false},
		{"0", "0", false},
		{"", "", true},
		{"x1", "", true},
		{"-0.5", "", true},
		{"100.00000000000000000001", "100", false},
		{"0.1234567890123456", "0.123456789012", false},
		{"999999999999999999", "999999999999999999", false},
		{"1e18", "", true},
		{"1e400", "", true},
		{"1e10000000", "", true},
		{"1e-10000000", "", true},
		{"NaN", "", true},
	}
	for _, tt := range tests {
		d, err := ParsePrice(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrice(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && d.String() != tt.want {
			t.Errorf("ParsePrice(%q) = %s, want %s", tt.in, d.String(), tt.want)
		}
	}
}
