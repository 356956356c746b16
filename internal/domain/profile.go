package domain

import "time"

// VolumeCell is the executed volume at one price inside one candle, split
// into the bid (B) and ask (A) side of the book.
type VolumeCell struct {
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Footprint maps a price key (decimal string as sent by the feed) to the
// volume traded at that price during one candle.
type Footprint map[string]VolumeCell

// Candle is one time bucket of the order-flow feed.
type Candle struct {
	Time    int64     `json:"t,omitempty"`
	Open    float64   `json:"o"`
	High    float64   `json:"h"`
	Low     float64   `json:"l"`
	Close   float64   `json:"c"`
	Volume  float64   `json:"v"`
	BuyVol  float64   `json:"buy_v"`
	SellVol float64   `json:"sell_v"`
	FP      Footprint `json:"fp,omitempty"`
}

// VolumeLevel is one row of an aggregated profile.
type VolumeLevel struct {
	Price float64 `json:"price"`
	Bid   float64 `json:"bid"`
	Ask   float64 `json:"ask"`
	Total float64 `json:"total"`
	Delta float64 `json:"delta"`
}

// EdgeZoneKind classifies a structural feature of the profile.
type EdgeZoneKind int

const (
	ZoneStrongSupport EdgeZoneKind = iota
	ZoneStrongResistance
	ZoneLowVolumeNode
	ZoneHighVolumeNode
	ZonePointOfControl
	ZoneValueAreaHigh
	ZoneValueAreaLow
)

// String returns the wire name of the zone kind.
func (k EdgeZoneKind) String() string {
	switch k {
	case ZoneStrongSupport:
		return "STRONG_SUPPORT"
	case ZoneStrongResistance:
		return "STRONG_RESISTANCE"
	case ZoneLowVolumeNode:
		return "LVN"
	case ZoneHighVolumeNode:
		return "HVN"
	case ZonePointOfControl:
		return "POC"
	case ZoneValueAreaHigh:
		return "VALUE_AREA_HIGH"
	case ZoneValueAreaLow:
		return "VALUE_AREA_LOW"
	default:
		return "UNKNOWN"
	}
}

// Actionable reports whether the zone kind is a support or resistance zone.
func (k EdgeZoneKind) Actionable() bool {
	return k == ZoneStrongSupport || k == ZoneStrongResistance
}

// MarshalText implements encoding.TextMarshaler.
func (k EdgeZoneKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EdgeZoneKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "STRONG_SUPPORT":
		*k = ZoneStrongSupport
	case "STRONG_RESISTANCE":
		*k = ZoneStrongResistance
	case "LVN", "LOW_VOLUME_NODE":
		*k = ZoneLowVolumeNode
	case "HVN", "HIGH_VOLUME_NODE":
		*k = ZoneHighVolumeNode
	case "POC", "POINT_OF_CONTROL":
		*k = ZonePointOfControl
	case "VALUE_AREA_HIGH":
		*k = ZoneValueAreaHigh
	case "VALUE_AREA_LOW":
		*k = ZoneValueAreaLow
	default:
		return ErrUnknownZoneKind
	}
	return nil
}

// TradeBias is the trade direction suggested by a single zone.
type TradeBias string

const (
	TradeBuy     TradeBias = "BUY"
	TradeSell    TradeBias = "SELL"
	TradeNeutral TradeBias = "NEUTRAL"
)

// Bias is the aggregate directional lean of a profile.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// EdgeZone is a classified price band.
type EdgeZone struct {
	Kind        EdgeZoneKind `json:"type"`
	PriceStart  float64      `json:"priceStart"`
	PriceEnd    float64      `json:"priceEnd"`
	Strength    int          `json:"strength"`
	TradeBias   TradeBias    `json:"tradeBias"`
	Description string       `json:"description"`
}

// Anchor returns the midpoint of the zone band.
func (z EdgeZone) Anchor() float64 {
	return (z.PriceStart + z.PriceEnd) / 2
}

// Contains reports whether price lies inside the band, bounds included.
func (z EdgeZone) Contains(price float64) bool {
	return price >= z.PriceStart && price <= z.PriceEnd
}

// ProfileAnalysis is the structural analysis of one aggregated window.
type ProfileAnalysis struct {
	PointOfControl float64    `json:"poc"`
	ValueAreaHigh  float64    `json:"valueAreaHigh"`
	ValueAreaLow   float64    `json:"valueAreaLow"`
	EdgeZones      []EdgeZone `json:"edgeZones"`
	OverallBias    Bias       `json:"overallBias"`
	BiasStrength   float64    `json:"biasStrength"`
}

// NeutralAnalysis is the analysis of an empty profile, anchored on the
// supplied price.
func NeutralAnalysis(currentPrice float64) ProfileAnalysis {
	return ProfileAnalysis{
		PointOfControl: currentPrice,
		ValueAreaHigh:  currentPrice + 1,
		ValueAreaLow:   currentPrice - 1,
		EdgeZones:      []EdgeZone{},
		OverallBias:    BiasNeutral,
		BiasStrength:   0,
	}
}

// LadderRow is one display row of the footprint ladder.
type LadderRow struct {
	VolumeLevel
	Zone *EdgeZoneKind `json:"zone,omitempty"`
}

// Ladder is the flattened, price-descending view of a profile.
type Ladder struct {
	Rows          []LadderRow `json:"rows"`
	CurrentIndex  int         `json:"currentIndex"`
	MaxSideVolume float64     `json:"maxSideVolume"`
}

// FlowSignalKind enumerates the order-flow alerts raised on the latest candle.
type FlowSignalKind string

const (
	SignalBuyImbalance      FlowSignalKind = "buy_imbalance"
	SignalSellImbalance     FlowSignalKind = "sell_imbalance"
	SignalBullishAbsorption FlowSignalKind = "bullish_absorption"
	SignalBearishAbsorption FlowSignalKind = "bearish_absorption"
	SignalHighActivity      FlowSignalKind = "high_activity"
)

// FlowSignal is a single order-flow alert.
type FlowSignal struct {
	Kind   FlowSignalKind `json:"kind"`
	Text   string         `json:"text"`
	Levels int            `json:"levels,omitempty"`
}

// Snapshot bundles everything produced for one streaming update.
type Snapshot struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	CurrentPrice float64         `json:"current_price"`
	CandleCount  int             `json:"candle_count"`
	Analysis     ProfileAnalysis `json:"analysis"`
	Ladder       Ladder          `json:"ladder"`
	Signals      []FlowSignal    `json:"signals"`
	BestZone     *EdgeZone       `json:"best_zone,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
