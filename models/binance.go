package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// BinanceStreamEnvelope wraps every message of a combined stream
// (/stream?streams=a/b).
type BinanceStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// BinanceDepthEvent mirrors the spot and futures diff depth payloads.
type BinanceDepthEvent struct {
	Event     string              `json:"e"`
	EventTime int64               `json:"E"`
	Symbol    string              `json:"s"`
	Bids      [][]decimal.Decimal `json:"b"`
	Asks      [][]decimal.Decimal `json:"a"`
}

// BinanceTradeEvent mirrors the spot and futures trade payloads. Only the
// fields consumed downstream are mapped.
type BinanceTradeEvent struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	TradeTime int64           `json:"T"`
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
}
