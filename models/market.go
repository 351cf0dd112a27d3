package models

import "fmt"

// MarketType tags every event with the venue segment it was streamed from.
type MarketType int

const (
	MarketSpot MarketType = iota
	MarketPerpetual
)

// String returns the instrument suffix used for the market.
func (m MarketType) String() string {
	switch m {
	case MarketSpot:
		return "spot"
	case MarketPerpetual:
		return "perp"
	default:
		return fmt.Sprintf("market(%d)", int(m))
	}
}

// Instrument builds the composite key used across the series and the
// report, e.g. "BTCUSDT_spot".
func Instrument(symbol string, market MarketType) string {
	return symbol + "_" + market.String()
}
