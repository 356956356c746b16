package profile

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// classifyLevel appends every zone that l qualifies for. A level may emit
// none, one or several zones.
func (a *Analyzer) classifyLevel(zones []domain.EdgeZone, l domain.VolumeLevel, avgVolume float64) []domain.EdgeZone {
	buyRatio := l.Bid / math.Max(l.Ask, 1)
	sellRatio := l.Ask / math.Max(l.Bid, 1)
	heavy := l.Total > avgVolume*imbalanceMinAvgShare

	if buyRatio >= imbalanceRatio && heavy {
		zones = append(zones, a.zone(domain.ZoneStrongSupport, l.Price, a.cfg.NarrowHalfWidth,
			clampStrength(roundHalfUp(buyRatio*imbalanceScale)), domain.TradeBuy,
			fmt.Sprintf("Strong buyers at %.2f", l.Price)))
	}
	if sellRatio >= imbalanceRatio && heavy {
		zones = append(zones, a.zone(domain.ZoneStrongResistance, l.Price, a.cfg.NarrowHalfWidth,
			clampStrength(roundHalfUp(sellRatio*imbalanceScale)), domain.TradeSell,
			fmt.Sprintf("Strong sellers at %.2f", l.Price)))
	}
	if l.Total > 0 && l.Total < avgVolume*lowVolumeAvgShare {
		zones = append(zones, a.zone(domain.ZoneLowVolumeNode, l.Price, a.cfg.NarrowHalfWidth,
			clampStrength(roundHalfUp((1-l.Total/avgVolume)*100)), domain.TradeNeutral,
			fmt.Sprintf("LVN at %.2f", l.Price)))
	}
	if l.Total > avgVolume*highVolumeAvgMult {
		zones = append(zones, a.zone(domain.ZoneHighVolumeNode, l.Price, a.cfg.WideHalfWidth,
			clampStrength(roundHalfUp(l.Total/avgVolume*highVolumeScale)), domain.TradeNeutral,
			fmt.Sprintf("HVN at %.2f", l.Price)))
	}
	return zones
}

func (a *Analyzer) zone(kind domain.EdgeZoneKind, anchor, halfWidth float64, strength int, bias domain.TradeBias, desc string) domain.EdgeZone {
	return domain.EdgeZone{
		Kind:        kind,
		PriceStart:  anchor - halfWidth,
		PriceEnd:    anchor + halfWidth,
		Strength:    strength,
		TradeBias:   bias,
		Description: desc,
	}
}

// sortZones orders zones by strength descending, then anchor price
// ascending, then kind.
func sortZones(zones []domain.EdgeZone) {
	slices.SortFunc(zones, func(x, y domain.EdgeZone) int {
		if c := cmp.Compare(y.Strength, x.Strength); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Anchor(), y.Anchor()); c != 0 {
			return c
		}
		return cmp.Compare(x.Kind, y.Kind)
	})
}

// BestTradeZone picks the zone to act on near currentPrice using the default
// configuration.
func BestTradeZone(analysis domain.ProfileAnalysis, currentPrice float64) (domain.EdgeZone, bool) {
	return defaultAnalyzer.BestTradeZone(analysis, currentPrice)
}

// BestTradeZone returns the strongest support or resistance zone whose anchor
// lies within the proximity window of currentPrice, falling back to the
// strongest nearby zone of any kind. It relies on analysis.EdgeZones being
// sorted by strength, as AnalyzeProfile returns them.
func (a *Analyzer) BestTradeZone(analysis domain.ProfileAnalysis, currentPrice float64) (domain.EdgeZone, bool) {
	var (
		fallback    domain.EdgeZone
		hasFallback bool
	)
	for _, z := range analysis.EdgeZones {
		if math.Abs(z.Anchor()-currentPrice) >= a.cfg.ProximityWindow {
			continue
		}
		if z.Kind.Actionable() {
			return z, true
		}
		if !hasFallback {
			fallback, hasFallback = z, true
		}
	}
	return fallback, hasFallback
}
