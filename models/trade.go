package models

import "github.com/shopspring/decimal"

// Event is implemented by BookUpdate and TradeEvent.
type Event interface {
	event()
}

// TradeEvent is a decoded trade frame. Price and quantity stay exact until
// the volume is computed.
type TradeEvent struct {
	Timestamp int64           `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Market    MarketType      `json:"market"`
}

func (TradeEvent) event() {}

// TradeRecord is the persisted form of a trade: notional volume plus the
// quoted price.
type TradeRecord struct {
	Timestamp  int64   `json:"timestamp"`
	Instrument string  `json:"instrument"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`
}
