package models

// CaptureWindow is the closed interval of event time covered by the
// collected book data.
type CaptureWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether ts lies inside the window, bounds included.
func (w CaptureWindow) Contains(ts int64) bool {
	return w.Start <= ts && ts <= w.End
}

// TradeStats aggregates the trades of one instrument inside the window.
type TradeStats struct {
	Count        int     `json:"trade_nb"`
	TotalVolume  float64 `json:"traded_volumes"`
	AvgVolume    float64 `json:"avg_volume"`
	UniquePrices int     `json:"unique_quotes"`
}

// ReportRow joins trade statistics and per-level average spreads for one
// instrument. A nil Trades or a missing AvgSpread key means no data was
// collected for that column.
type ReportRow struct {
	Instrument string          `json:"instrument"`
	Trades     *TradeStats     `json:"trades,omitempty"`
	AvgSpread  map[int]float64 `json:"avg_spread,omitempty"`
}

// TradeReport is the end-of-run summary, rows sorted by instrument.
type TradeReport struct {
	RunID  string        `json:"run_id"`
	Window CaptureWindow `json:"window"`
	Rows   []ReportRow   `json:"rows"`
}
