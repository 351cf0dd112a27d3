package processor

import (
	"errors"

	"spreadflow/logger"
	"spreadflow/models"
)

// ErrEmptyLevelGroup marks a level skipped because one side of the book
// had no entries.
var ErrEmptyLevelGroup = errors.New("empty level group")

// BookAggregator turns book updates into per-level spread records.
type BookAggregator struct {
	series *BookSeries
	levels []int
	log    *logger.Log
}

func NewBookAggregator(series *BookSeries) *BookAggregator {
	return &BookAggregator{
		series: series,
		levels: models.BookLevels,
		log:    logger.GetLogger(),
	}
}

// Handle appends one record per level for which both sides have at least
// one entry and returns the number of records appended.
func (a *BookAggregator) Handle(update models.BookUpdate) int {
	instrument := models.Instrument(update.Symbol, update.Market)
	records := make([]models.BookMetricRecord, 0, len(a.levels))

	for _, level := range a.levels {
		avgBid, okBid := meanPrice(update.Bids, level)
		avgAsk, okAsk := meanPrice(update.Asks, level)
		if !okBid || !okAsk {
			a.log.WithComponent("book_aggregator").WithError(ErrEmptyLevelGroup).WithFields(logger.Fields{
				"instrument": instrument,
				"level":      level,
				"bids":       len(update.Bids),
				"asks":       len(update.Asks),
			}).Debug("skipping level")
			continue
		}
		records = append(records, models.BookMetricRecord{
			Timestamp:   update.Timestamp,
			Instrument:  instrument,
			Level:       level,
			AvgBidPrice: avgBid,
			AvgAskPrice: avgAsk,
			Spread:      avgAsk - avgBid,
		})
	}

	a.series.Append(records...)
	return len(records)
}

// meanPrice averages the prices of the first n entries, or of all entries
// when fewer are available.
func meanPrice(side []models.PriceLevel, n int) (float64, bool) {
	if len(side) < n {
		n = len(side)
	}
	if n == 0 {
		return 0, false
	}
	var sum float64
	for _, lvl := range side[:n] {
		sum += lvl.Price
	}
	return sum / float64(n), true
}
