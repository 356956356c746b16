// Package profile folds candle footprints into a volume profile and derives
// its structural analysis: point of control, value area, edge zones and the
// aggregate delta bias.
//
// Everything in this package is a pure function of its inputs. A Profile is
// rebuilt from scratch for every window and never mutated afterwards, so any
// number of goroutines may aggregate and analyze independent windows at the
// same time without coordination.
package profile

import (
	"cmp"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// Price keys are bounded before any arithmetic touches them: a short key
// such as "1e10000000" would otherwise expand to millions of digits.
const (
	maxPriceDigits = 18 // integer digits, so every price is below 1e18
	maxPriceScale  = 40 // fractional digits accepted on input
	priceScale     = 12 // fractional digits kept after parsing
)

// level is the running sum at one canonical price.
type level struct {
	price float64
	bid   float64
	ask   float64
}

// Profile is the cumulative bid/ask volume per price across a window of
// candles. The zero value is an empty profile. Levels are keyed by the
// float64 price so two keys that print differently but denote the same
// price fold into one row.
type Profile struct {
	levels map[float64]level
}

// AggregateStats reports what the aggregator dropped or repaired.
type AggregateStats struct {
	Candles int // candles seen
	Skipped int // candles rejected for a malformed price key
	Clamped int // volumes that were negative or non-finite and folded as zero
}

// Aggregate sums bid and ask volume per price across all candles.
func Aggregate(candles []domain.Candle) Profile {
	p, _ := AggregateWithStats(candles)
	return p
}

// AggregateWithStats is Aggregate plus a report of skipped candles and
// clamped volumes. A candle whose footprint holds a price key that is not a
// finite, non-negative decimal is skipped as a whole; the remaining candles
// are still folded.
func AggregateWithStats(candles []domain.Candle) (Profile, AggregateStats) {
	stats := AggregateStats{Candles: len(candles)}
	p := Profile{levels: make(map[float64]level)}

	for _, c := range candles {
		if len(c.FP) == 0 {
			continue
		}
		parsed, ok := parseFootprint(c.FP)
		if !ok {
			stats.Skipped++
			continue
		}
		for _, pc := range parsed {
			bid, clampedBid := sanitizeVolume(pc.cell.B)
			ask, clampedAsk := sanitizeVolume(pc.cell.A)
			if clampedBid {
				stats.Clamped++
			}
			if clampedAsk {
				stats.Clamped++
			}
			cur := p.levels[pc.price]
			cur.price = pc.price
			cur.bid += bid
			cur.ask += ask
			p.levels[pc.price] = cur
		}
	}
	return p, stats
}

type parsedCell struct {
	price float64
	cell  domain.VolumeCell
}

// parseFootprint validates every price key of one candle before any of them
// is folded, so a malformed candle contributes nothing.
func parseFootprint(fp domain.Footprint) ([]parsedCell, bool) {
	out := make([]parsedCell, 0, len(fp))
	for key, cell := range fp {
		price, err := ParsePrice(key)
		if err != nil {
			return nil, false
		}
		out = append(out, parsedCell{price: price.InexactFloat64(), cell: cell})
	}
	return out, true
}

// ParsePrice parses a footprint price key. It accepts plain and scientific
// decimal notation, rejects negative prices and prices of 1e18 or more, and
// rounds to 12 decimal places.
func ParsePrice(key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(key)
	if err != nil {
		return decimal.Decimal{}, domain.ErrMalformedCandle
	}
	if d.IsNegative() {
		return decimal.Decimal{}, domain.ErrMalformedCandle
	}
	if d.IsZero() {
		return decimal.Zero, nil
	}
	exp := int64(d.Exponent())
	if exp > maxPriceDigits || exp < -maxPriceScale {
		return decimal.Decimal{}, domain.ErrMalformedCandle
	}
	if int64(d.NumDigits())+exp > maxPriceDigits {
		return decimal.Decimal{}, domain.ErrMalformedCandle
	}
	if f := d.InexactFloat64(); math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, domain.ErrMalformedCandle
	}
	return d.Round(priceScale), nil
}

func sanitizeVolume(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return v, false
}

// Len returns the number of distinct price levels.
func (p Profile) Len() int {
	return len(p.levels)
}

// Levels returns a fresh copy of the profile rows sorted by price, highest
// first.
func (p Profile) Levels() []domain.VolumeLevel {
	keys := make([]level, 0, len(p.levels))
	for _, l := range p.levels {
		keys = append(keys, l)
	}
	slices.SortFunc(keys, func(a, b level) int {
		return cmp.Compare(b.price, a.price)
	})

	out := make([]domain.VolumeLevel, len(keys))
	for i, l := range keys {
		out[i] = domain.VolumeLevel{
			Price: l.price,
			Bid:   l.bid,
			Ask:   l.ask,
			Total: l.bid + l.ask,
			Delta: l.bid - l.ask,
		}
	}
	return out
}

// TotalVolume returns the sum of bid and ask volume across all levels.
func (p Profile) TotalVolume() float64 {
	var total float64
	for _, l := range p.Levels() {
		total += l.Total
	}
	return total
}

// Merge returns a new profile holding the per-price sums of p and other.
// Neither input is modified.
func (p Profile) Merge(other Profile) Profile {
	out := Profile{levels: make(map[float64]level, len(p.levels)+len(other.levels))}
	for k, l := range p.levels {
		out.levels[k] = l
	}
	for k, l := range other.levels {
		cur, ok := out.levels[k]
		if !ok {
			out.levels[k] = l
			continue
		}
		cur.bid += l.bid
		cur.ask += l.ask
		out.levels[k] = cur
	}
	return out
}
