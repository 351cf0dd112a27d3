// Package decoder turns raw exchange frames into typed book and trade
// events.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"spreadflow/models"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingField   = errors.New("missing required field")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// DecodeError describes a frame that could not be turned into an event.
// The frame is dropped; the feed keeps streaming.
type DecodeError struct {
	Market models.MarketType
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s frame: %s: %v", e.Market, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s frame: %v", e.Market, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses frame and classifies it as a BookUpdate or a TradeEvent
// tagged with market. Combined-stream envelopes are unwrapped first.
func Decode(frame []byte, market models.MarketType) (models.Event, error) {
	payload, err := unwrap(frame)
	if err != nil {
		return nil, &DecodeError{Market: market, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, &DecodeError{Market: market, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}

	switch classify(fields) {
	case kindBook:
		return decodeBook(payload, fields, market)
	case kindTrade:
		return decodeTrade(payload, fields, market)
	default:
		return nil, &DecodeError{Market: market, Err: ErrUnknownEvent}
	}
}

type kind int

const (
	kindUnknown kind = iota
	kindBook
	kindTrade
)

func unwrap(frame []byte) ([]byte, error) {
	frame = bytes.TrimSpace(frame)
	var env models.BinanceStreamEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		return env.Data, nil
	}
	return frame, nil
}

func classify(fields map[string]json.RawMessage) kind {
	if raw, ok := fields["e"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			switch name {
			case "depthUpdate":
				return kindBook
			case "trade", "aggTrade":
				return kindTrade
			}
		}
	}
	// spot trades carry numeric "b"/"a" order ids, so look for a trade first
	if has(fields, "p") && has(fields, "q") {
		return kindTrade
	}
	if isArray(fields["b"]) && isArray(fields["a"]) {
		return kindBook
	}
	return kindUnknown
}

func decodeBook(payload []byte, fields map[string]json.RawMessage, market models.MarketType) (models.Event, error) {
	for _, f := range []string{"E", "s", "b", "a"} {
		if !has(fields, f) {
			return nil, &DecodeError{Market: market, Field: f, Err: ErrMissingField}
		}
	}

	var evt models.BinanceDepthEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &DecodeError{Market: market, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	if evt.Symbol == "" {
		return nil, &DecodeError{Market: market, Field: "s", Err: ErrMissingField}
	}

	bids, err := levels(evt.Bids)
	if err != nil {
		return nil, &DecodeError{Market: market, Field: "b", Err: err}
	}
	asks, err := levels(evt.Asks)
	if err != nil {
		return nil, &DecodeError{Market: market, Field: "a", Err: err}
	}

	return models.BookUpdate{
		Timestamp: evt.EventTime,
		Symbol:    evt.Symbol,
		Bids:      bids,
		Asks:      asks,
		Market:    market,
	}, nil
}

func decodeTrade(payload []byte, fields map[string]json.RawMessage, market models.MarketType) (models.Event, error) {
	for _, f := range []string{"s", "p", "q"} {
		if !has(fields, f) {
			return nil, &DecodeError{Market: market, Field: f, Err: ErrMissingField}
		}
	}
	if !has(fields, "T") && !has(fields, "E") {
		return nil, &DecodeError{Market: market, Field: "T", Err: ErrMissingField}
	}

	var evt models.BinanceTradeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &DecodeError{Market: market, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	if evt.Symbol == "" {
		return nil, &DecodeError{Market: market, Field: "s", Err: ErrMissingField}
	}

	ts := evt.TradeTime
	if !has(fields, "T") {
		ts = evt.EventTime
	}

	return models.TradeEvent{
		Timestamp: ts,
		Symbol:    evt.Symbol,
		Price:     evt.Price,
		Quantity:  evt.Quantity,
		Market:    market,
	}, nil
}

func levels(entries [][]decimal.Decimal) ([]models.PriceLevel, error) {
	out := make([]models.PriceLevel, 0, len(entries))
	for i, e := range entries {
		if len(e) < 2 {
			return nil, fmt.Errorf("%w: entry %d has %d values", ErrMalformedFrame, i, len(e))
		}
		out = append(out, models.PriceLevel{
			Price:    e[0].InexactFloat64(),
			Quantity: e[1].InexactFloat64(),
		})
	}
	return out, nil
}

func has(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	return ok && len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
