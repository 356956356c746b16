// Package orderflow raises alerts from the footprint of the most recent
// candle in a window.
package orderflow

import (
	"fmt"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// Config holds the detection thresholds. Zero fields take the defaults.
type Config struct {
	// ImbalanceRatio is how many times one side must exceed the other at a
	// level for the level to count as imbalanced.
	ImbalanceRatio float64
	// ImbalanceMinVolume is the minimum dominant-side volume at a level.
	ImbalanceMinVolume float64
	// StackedLevels is how many imbalanced levels raise an alert.
	StackedLevels int
	// HighActivityVolume is the candle volume above which activity is flagged.
	HighActivityVolume float64
}

// DefaultConfig returns the thresholds used by the dashboard.
func DefaultConfig() Config {
	return Config{
		ImbalanceRatio:     3,
		ImbalanceMinVolume: 5,
		StackedLevels:      3,
		HighActivityVolume: 500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ImbalanceRatio <= 0 {
		c.ImbalanceRatio = d.ImbalanceRatio
	}
	if c.ImbalanceMinVolume <= 0 {
		c.ImbalanceMinVolume = d.ImbalanceMinVolume
	}
	if c.StackedLevels <= 0 {
		c.StackedLevels = d.StackedLevels
	}
	if c.HighActivityVolume <= 0 {
		c.HighActivityVolume = d.HighActivityVolume
	}
	return c
}

// Detector evaluates order-flow signals. It is stateless.
type Detector struct {
	cfg Config
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Detect returns the signals raised by the last candle of the window, in a
// fixed order: imbalances, absorption, then activity. It returns an empty
// slice for an empty window.
func (d *Detector) Detect(candles []domain.Candle) []domain.FlowSignal {
	signals := []domain.FlowSignal{}
	if len(candles) == 0 {
		return signals
	}
	last := candles[len(candles)-1]

	// Buyers lift the offer, so ask-dominant levels stack into a buy imbalance.
	var buyLevels, sellLevels int
	for _, cell := range last.FP {
		if cell.A > cell.B*d.cfg.ImbalanceRatio && cell.A > d.cfg.ImbalanceMinVolume {
			buyLevels++
		}
		if cell.B > cell.A*d.cfg.ImbalanceRatio && cell.B > d.cfg.ImbalanceMinVolume {
			sellLevels++
		}
	}
	if buyLevels >= d.cfg.StackedLevels {
		signals = append(signals, domain.FlowSignal{
			Kind:   domain.SignalBuyImbalance,
			Text:   fmt.Sprintf("STRONG BUY IMBALANCE (%d levels)", buyLevels),
			Levels: buyLevels,
		})
	}
	if sellLevels >= d.cfg.StackedLevels {
		signals = append(signals, domain.FlowSignal{
			Kind:   domain.SignalSellImbalance,
			Text:   fmt.Sprintf("STRONG SELL IMBALANCE (%d levels)", sellLevels),
			Levels: sellLevels,
		})
	}

	delta := last.BuyVol - last.SellVol
	if last.Close < last.Open && delta > 0 {
		signals = append(signals, domain.FlowSignal{
			Kind: domain.SignalBullishAbsorption,
			Text: "BULLISH ABSORPTION DETECTED",
		})
	}
	if last.Close > last.Open && delta < 0 {
		signals = append(signals, domain.FlowSignal{
			Kind: domain.SignalBearishAbsorption,
			Text: "BEARISH ABSORPTION DETECTED",
		})
	}
	if last.Volume > d.cfg.HighActivityVolume {
		signals = append(signals, domain.FlowSignal{
			Kind: domain.SignalHighActivity,
			Text: "HIGH INSTITUTIONAL ACTIVITY",
		})
	}
	return signals
}

var defaultDetector = NewDetector(DefaultConfig())

// Detect evaluates candles with the default thresholds.
func Detect(candles []domain.Candle) []domain.FlowSignal {
	return defaultDetector.Detect(candles)
}
