package models

// BookLevels lists the depth buckets computed for every book update, in
// the order their records are produced.
var BookLevels = []int{1, 10, 25}

// PriceLevel is a single [price, quantity] entry of a book side.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// BookUpdate is a decoded depth frame. Bids and Asks keep the order in
// which the exchange delivered them.
type BookUpdate struct {
	Timestamp int64        `json:"timestamp"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Market    MarketType   `json:"market"`
}

func (BookUpdate) event() {}

// BookMetricRecord is one averaged view of the top Level entries of a book
// update. Records are immutable once appended to the series.
type BookMetricRecord struct {
	Timestamp   int64   `json:"timestamp"`
	Instrument  string  `json:"instrument"`
	Level       int     `json:"level_qty"`
	AvgBidPrice float64 `json:"average_bid_price"`
	AvgAskPrice float64 `json:"average_ask_price"`
	Spread      float64 `json:"spread"`
}
