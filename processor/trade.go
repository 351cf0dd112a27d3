package processor

import (
	"spreadflow/models"
)

// TradeAggregator turns trade events into notional volume records.
type TradeAggregator struct {
	series *TradeSeries
}

func NewTradeAggregator(series *TradeSeries) *TradeAggregator {
	return &TradeAggregator{series: series}
}

func (a *TradeAggregator) Handle(event models.TradeEvent) {
	volume := event.Price.Mul(event.Quantity)
	a.series.Append(models.TradeRecord{
		Timestamp:  event.Timestamp,
		Instrument: models.Instrument(event.Symbol, event.Market),
		Volume:     volume.InexactFloat64(),
		Price:      event.Price.InexactFloat64(),
	})
}
