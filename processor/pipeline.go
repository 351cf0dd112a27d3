package processor

import (
	"fmt"

	"spreadflow/decoder"
	"spreadflow/metrics"
	"spreadflow/models"
)

// Pipeline decodes a raw frame and routes the event to the matching
// aggregator. It runs synchronously in the calling feed goroutine.
type Pipeline struct {
	store  *Store
	book   *BookAggregator
	trades *TradeAggregator
}

func NewPipeline(store *Store) *Pipeline {
	return &Pipeline{
		store:  store,
		book:   NewBookAggregator(store.Book),
		trades: NewTradeAggregator(store.Trades),
	}
}

func (p *Pipeline) Store() *Store { return p.store }

// Handle processes one frame. The returned error is a *decoder.DecodeError
// for frames that must be dropped.
func (p *Pipeline) Handle(market models.MarketType, frame []byte) error {
	evt, err := decoder.Decode(frame, market)
	if err != nil {
		return err
	}
	switch e := evt.(type) {
	case models.BookUpdate:
		n := p.book.Handle(e)
		metrics.BookRecords.WithLabelValues(e.Market.String()).Add(float64(n))
	case models.TradeEvent:
		p.trades.Handle(e)
		metrics.TradeRecords.WithLabelValues(e.Market.String()).Inc()
	default:
		return fmt.Errorf("unsupported event %T", evt)
	}
	return nil
}
