// Package report correlates the collected trade series with the window in
// which book data was captured.
package report

import (
	"errors"
	"sort"

	"spreadflow/models"
)

// ErrEmptyCaptureWindow is returned when no book data was collected, so
// there is no window to correlate trades with.
var ErrEmptyCaptureWindow = errors.New("empty capture window: no book data collected")

// CaptureWindowOf returns the earliest and latest timestamps of the book
// records. Records may arrive out of timestamp order from concurrent
// feeds, so every record is inspected.
func CaptureWindowOf(book []models.BookMetricRecord) (models.CaptureWindow, error) {
	if len(book) == 0 {
		return models.CaptureWindow{}, ErrEmptyCaptureWindow
	}
	w := models.CaptureWindow{Start: book[0].Timestamp, End: book[0].Timestamp}
	for _, r := range book[1:] {
		if r.Timestamp < w.Start {
			w.Start = r.Timestamp
		}
		if r.Timestamp > w.End {
			w.End = r.Timestamp
		}
	}
	return w, nil
}

type tradeAcc struct {
	count  int
	volume float64
	prices map[float64]struct{}
}

type spreadAcc struct {
	sum   float64
	count int
}

// Build produces the per-instrument report. Trades outside the capture
// window are ignored; spreads are averaged over all book records given.
func Build(book []models.BookMetricRecord, trades []models.TradeRecord) (*models.TradeReport, error) {
	window, err := CaptureWindowOf(book)
	if err != nil {
		return nil, err
	}

	byInstrument := make(map[string]*tradeAcc)
	for _, t := range trades {
		if !window.Contains(t.Timestamp) {
			continue
		}
		acc, ok := byInstrument[t.Instrument]
		if !ok {
			acc = &tradeAcc{prices: make(map[float64]struct{})}
			byInstrument[t.Instrument] = acc
		}
		acc.count++
		acc.volume += t.Volume
		acc.prices[t.Price] = struct{}{}
	}

	type spreadKey struct {
		instrument string
		level      int
	}
	spreads := make(map[spreadKey]*spreadAcc)
	bookInstruments := make(map[string]struct{})
	for _, r := range book {
		bookInstruments[r.Instrument] = struct{}{}
		k := spreadKey{r.Instrument, r.Level}
		acc, ok := spreads[k]
		if !ok {
			acc = &spreadAcc{}
			spreads[k] = acc
		}
		acc.sum += r.Spread
		acc.count++
	}

	names := make([]string, 0, len(byInstrument)+len(bookInstruments))
	for name := range byInstrument {
		names = append(names, name)
	}
	for name := range bookInstruments {
		if _, ok := byInstrument[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rows := make([]models.ReportRow, 0, len(names))
	for _, name := range names {
		row := models.ReportRow{Instrument: name}
		if acc, ok := byInstrument[name]; ok {
			row.Trades = &models.TradeStats{
				Count:        acc.count,
				TotalVolume:  acc.volume,
				AvgVolume:    acc.volume / float64(acc.count),
				UniquePrices: len(acc.prices),
			}
		}
		for _, level := range models.BookLevels {
			acc, ok := spreads[spreadKey{name, level}]
			if !ok {
				continue
			}
			if row.AvgSpread == nil {
				row.AvgSpread = make(map[int]float64, len(models.BookLevels))
			}
			row.AvgSpread[level] = acc.sum / float64(acc.count)
		}
		rows = append(rows, row)
	}

	return &models.TradeReport{Window: window, Rows: rows}, nil
}
