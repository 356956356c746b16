package profile

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// Classification thresholds. These are part of the output contract and are
// not configurable.
const (
	imbalanceRatio       = 2.5
	imbalanceMinAvgShare = 0.5
	imbalanceScale       = 20.0
	lowVolumeAvgShare    = 0.3
	highVolumeAvgMult    = 2.0
	highVolumeScale      = 30.0
	pocStrength          = 100
	valueAreaStrength    = 80
	maxStrength          = 100
	biasStrengthScale    = 3.0
	biasDeltaMult        = 2.0
)

// Config holds the tunable parts of the analyzer. The zero value of any
// field means "use the default".
type Config struct {
	// ValueAreaFraction is the share of total volume the value area must cover.
	ValueAreaFraction float64
	// NarrowHalfWidth is the band half-width for support, resistance, LVN and
	// POC zones.
	NarrowHalfWidth float64
	// WideHalfWidth is the band half-width for HVN and value-area zones.
	WideHalfWidth float64
	// SingleLevelOffset is added/subtracted from the POC to form the value
	// area when the profile holds one level.
	SingleLevelOffset float64
	// ProximityWindow is the distance from the current price inside which a
	// zone is a candidate for BestTradeZone.
	ProximityWindow float64
}

// DefaultConfig returns the analyzer configuration used by the dashboard.
func DefaultConfig() Config {
	return Config{
		ValueAreaFraction: 0.70,
		NarrowHalfWidth:   0.05,
		WideHalfWidth:     0.10,
		SingleLevelOffset: 1,
		ProximityWindow:   2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ValueAreaFraction <= 0 || c.ValueAreaFraction > 1 {
		c.ValueAreaFraction = d.ValueAreaFraction
	}
	if c.NarrowHalfWidth <= 0 {
		c.NarrowHalfWidth = d.NarrowHalfWidth
	}
	if c.WideHalfWidth <= 0 {
		c.WideHalfWidth = d.WideHalfWidth
	}
	if c.SingleLevelOffset <= 0 {
		c.SingleLevelOffset = d.SingleLevelOffset
	}
	if c.ProximityWindow <= 0 {
		c.ProximityWindow = d.ProximityWindow
	}
	return c
}

// Analyzer turns candles or profiles into a ProfileAnalysis. It carries only
// its immutable configuration and is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an Analyzer. Unset config fields take their defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

var defaultAnalyzer = NewAnalyzer(DefaultConfig())

// Analyze aggregates candles and analyzes the result with the default
// configuration.
func Analyze(candles []domain.Candle, currentPrice float64) domain.ProfileAnalysis {
	return defaultAnalyzer.Analyze(candles, currentPrice)
}

// AnalyzeProfile analyzes an already aggregated profile with the default
// configuration.
func AnalyzeProfile(p Profile, currentPrice float64) domain.ProfileAnalysis {
	return defaultAnalyzer.AnalyzeProfile(p, currentPrice)
}

// Analyze aggregates candles and analyzes the result.
func (a *Analyzer) Analyze(candles []domain.Candle, currentPrice float64) domain.ProfileAnalysis {
	return a.AnalyzeProfile(Aggregate(candles), currentPrice)
}

// AnalyzeProfile derives the point of control, value area, edge zones and
// bias of p. An empty profile yields domain.NeutralAnalysis(currentPrice).
func (a *Analyzer) AnalyzeProfile(p Profile, currentPrice float64) domain.ProfileAnalysis {
	levels := p.Levels()
	if len(levels) == 0 {
		return domain.NeutralAnalysis(currentPrice)
	}

	var totalVolume float64
	for _, l := range levels {
		totalVolume += l.Total
	}

	pocIdx := pointOfControl(levels)
	poc := levels[pocIdx].Price

	vah, val := poc+a.cfg.SingleLevelOffset, poc-a.cfg.SingleLevelOffset
	if len(levels) > 1 {
		hi, lo := valueArea(levels, pocIdx, totalVolume*a.cfg.ValueAreaFraction)
		vah, val = levels[hi].Price, levels[lo].Price
	}

	avgVolume := totalVolume / float64(len(levels))
	zones := make([]domain.EdgeZone, 0, len(levels)+3)
	for _, l := range levels {
		zones = a.classifyLevel(zones, l, avgVolume)
	}
	zones = append(zones,
		a.zone(domain.ZonePointOfControl, poc, a.cfg.NarrowHalfWidth, pocStrength, domain.TradeNeutral,
			fmt.Sprintf("POC at %.2f", poc)),
		a.zone(domain.ZoneValueAreaHigh, vah, a.cfg.WideHalfWidth, valueAreaStrength, valueAreaHighBias(currentPrice, vah),
			fmt.Sprintf("VAH at %.2f", vah)),
		a.zone(domain.ZoneValueAreaLow, val, a.cfg.WideHalfWidth, valueAreaStrength, valueAreaLowBias(currentPrice, val),
			fmt.Sprintf("VAL at %.2f", val)),
	)
	sortZones(zones)

	bias, strength := deltaBias(levels)

	return domain.ProfileAnalysis{
		PointOfControl: poc,
		ValueAreaHigh:  vah,
		ValueAreaLow:   val,
		EdgeZones:      zones,
		OverallBias:    bias,
		BiasStrength:   strength,
	}
}

// pointOfControl returns the index of the level with the largest total.
// levels are sorted by price descending, so ties resolve to the higher price.
func pointOfControl(levels []domain.VolumeLevel) int {
	best := 0
	for i := 1; i < len(levels); i++ {
		if levels[i].Total > levels[best].Total {
			best = i
		}
	}
	return best
}

// valueArea grows [hi, lo] outward from the POC, one level at a time, toward
// the larger adjacent total (upward on ties) until target is reached or both
// edges of the profile are hit. Indices are into the price-descending slice,
// so hi <= pocIdx <= lo.
func valueArea(levels []domain.VolumeLevel, pocIdx int, target float64) (hi, lo int) {
	hi, lo = pocIdx, pocIdx
	last := len(levels) - 1
	acc := levels[pocIdx].Total

	for acc < target && (hi > 0 || lo < last) {
		var above, below float64
		if hi > 0 {
			above = levels[hi-1].Total
		}
		if lo < last {
			below = levels[lo+1].Total
		}
		if hi > 0 && above >= below {
			hi--
			acc += levels[hi].Total
		} else {
			lo++
			acc += levels[lo].Total
		}
	}
	return hi, lo
}

func valueAreaHighBias(price, vah float64) domain.TradeBias {
	if price > vah {
		return domain.TradeBuy
	}
	return domain.TradeSell
}

func valueAreaLowBias(price, val float64) domain.TradeBias {
	if price < val {
		return domain.TradeSell
	}
	return domain.TradeBuy
}

// deltaBias scores the cumulative delta of the profile. avgDelta is
// totalDelta/n, so the thresholds below compare totalDelta against a fixed
// multiple of itself: for n > 2 a positive delta is BULLISH and a negative
// one BEARISH, for n == 2 only a negative delta registers (BEARISH), and for
// n == 1 a negative delta reads BULLISH. The formula is kept as-is for output
// compatibility with existing consumers.
func deltaBias(levels []domain.VolumeLevel) (domain.Bias, float64) {
	var totalDelta float64
	for _, l := range levels {
		totalDelta += l.Delta
	}
	n := float64(len(levels))
	avgDelta := totalDelta / n
	strength := math.Abs(totalDelta) / n * biasStrengthScale

	switch {
	case totalDelta > avgDelta*biasDeltaMult:
		return domain.BiasBullish, strength
	case totalDelta < -avgDelta*biasDeltaMult:
		return domain.BiasBearish, strength
	default:
		return domain.BiasNeutral, strength
	}
}

// roundHalfUp rounds to the nearest integer with halves going toward +Inf.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clampStrength(s int) int {
	if s > maxStrength {
		return maxStrength
	}
	if s < 0 {
		return 0
	}
	return s
}
