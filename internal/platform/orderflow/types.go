package orderflow

import (
	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// Message types sent by the order-flow server.
const (
	MsgOrderflowUpdate = "orderflow_update"
)

// Actions a client can send.
const (
	ActionSubscribe = "subscribe"
)

// envelope is decoded first to route a message by its type.
type envelope struct {
	Type string `json:"type"`
}

// UpdateMessage is the payload of an orderflow_update message. Candles hold
// the whole rolling window, oldest first.
type UpdateMessage struct {
	Type    string          `json:"type"`
	Symbol  string          `json:"symbol,omitempty"`
	Candles []domain.Candle `json:"candles"`
	Spread  *float64        `json:"spread,omitempty"`
}

// Update is the decoded, domain-level form of an UpdateMessage.
type Update struct {
	Symbol  string
	Candles []domain.Candle
	Spread  float64
}

// CurrentPrice is the close of the most recent candle, or 0 when the window
// is empty.
func (u Update) CurrentPrice() float64 {
	if len(u.Candles) == 0 {
		return 0
	}
	return u.Candles[len(u.Candles)-1].Close
}

// UpdateToDomain converts the wire message. A missing symbol falls back to
// defaultSymbol.
func UpdateToDomain(m *UpdateMessage, defaultSymbol string) Update {
	u := Update{
		Symbol:  m.Symbol,
		Candles: m.Candles,
	}
	if u.Symbol == "" {
		u.Symbol = defaultSymbol
	}
	if m.Spread != nil {
		u.Spread = *m.Spread
	}
	return u
}

// ClientCommand is a control message sent to the server.
type ClientCommand struct {
	Action string `json:"action"`
	Symbol string `json:"symbol,omitempty"`
}
