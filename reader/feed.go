package reader

import (
	"spreadflow/config"
	"spreadflow/models"
)

// Kind labels what a feed carries. Routing follows the decoded event, not
// the kind.
type Kind string

const (
	KindBook  Kind = "book"
	KindTrade Kind = "trade"
)

type FeedSpec struct {
	Name     string
	Endpoint string
	Market   models.MarketType
	Kind     Kind
}

// FeedSpecs builds the four feeds from the two base URLs and the two
// stream groups.
func FeedSpecs(cfg config.FeedsConfig) []FeedSpec {
	return []FeedSpec{
		{Name: "spot-trade", Endpoint: config.Endpoint(cfg.SpotURL, cfg.TradeStreams), Market: models.MarketSpot, Kind: KindTrade},
		{Name: "perp-trade", Endpoint: config.Endpoint(cfg.PerpURL, cfg.TradeStreams), Market: models.MarketPerpetual, Kind: KindTrade},
		{Name: "spot-book", Endpoint: config.Endpoint(cfg.SpotURL, cfg.BookStreams), Market: models.MarketSpot, Kind: KindBook},
		{Name: "perp-book", Endpoint: config.Endpoint(cfg.PerpURL, cfg.BookStreams), Market: models.MarketPerpetual, Kind: KindBook},
	}
}

type FeedState int

const (
	StateIdle FeedState = iota
	StateConnecting
	StateStreaming
	StateError
	StateClosing
	StateClosed
)

func (s FeedState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
