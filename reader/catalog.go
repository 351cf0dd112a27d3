package reader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"spreadflow/logger"
	"spreadflow/models"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

// Catalog checks stream symbols against Binance exchange info before any
// feed is dialed.
type Catalog struct {
	spot *binance.Client
	perp *futures.Client
	log  *logger.Log
}

func NewCatalog(spotURL, perpURL string, timeout time.Duration) *Catalog {
	httpClient := &http.Client{Timeout: timeout}

	spot := binance.NewClient("", "")
	spot.HTTPClient = httpClient
	if spotURL != "" {
		spot.BaseURL = strings.TrimRight(spotURL, "/")
	}

	perp := futures.NewClient("", "")
	perp.HTTPClient = httpClient
	if perpURL != "" {
		perp.BaseURL = strings.TrimRight(perpURL, "/")
	}

	return &Catalog{spot: spot, perp: perp, log: logger.GetLogger()}
}

// Symbols returns the symbols currently trading on market.
func (c *Catalog) Symbols(ctx context.Context, market models.MarketType) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	switch market {
	case models.MarketSpot:
		info, err := c.spot.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("spot exchange info: %w", err)
		}
		for _, s := range info.Symbols {
			if s.Status == "TRADING" {
				known[s.Symbol] = struct{}{}
			}
		}
	case models.MarketPerpetual:
		info, err := c.perp.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("futures exchange info: %w", err)
		}
		for _, s := range info.Symbols {
			if s.Status == "TRADING" {
				known[s.Symbol] = struct{}{}
			}
		}
	default:
		return nil, fmt.Errorf("unknown market %q", market)
	}
	return known, nil
}

// Validate fails when any feed subscribes to a symbol its market does not
// list. Exchange info is fetched once per market.
func (c *Catalog) Validate(ctx context.Context, feeds []FeedSpec) error {
	log := c.log.WithComponent("catalog")
	cache := make(map[models.MarketType]map[string]struct{})

	var problems []string
	for _, feed := range feeds {
		known, ok := cache[feed.Market]
		if !ok {
			var err error
			known, err = c.Symbols(ctx, feed.Market)
			if err != nil {
				return err
			}
			cache[feed.Market] = known
		}
		want, err := symbolsFromStreams(feed.Endpoint)
		if err != nil {
			return fmt.Errorf("feed %s: %w", feed.Name, err)
		}
		if missing := missingSymbols(want, known); len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("%s: %s", feed.Name, strings.Join(missing, ",")))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("unknown symbols: %s", strings.Join(problems, "; "))
	}
	log.WithFields(logger.Fields{"feeds": len(feeds)}).Info("feed symbols validated")
	return nil
}

// symbolsFromStreams extracts the upper-cased symbols of a combined stream
// endpoint such as ...?streams=btcusdt@depth/ethusdt@depth.
func symbolsFromStreams(endpoint string) ([]string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	streams := u.Query().Get("streams")
	if streams == "" {
		return nil, fmt.Errorf("endpoint %q has no streams parameter", endpoint)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, stream := range strings.Split(streams, "/") {
		name, _, _ := strings.Cut(stream, "@")
		sym := strings.ToUpper(strings.TrimSpace(name))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out, nil
}

func missingSymbols(want []string, known map[string]struct{}) []string {
	var missing []string
	for _, s := range want {
		if _, ok := known[s]; !ok {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return missing
}
