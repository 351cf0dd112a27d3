package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spreadflow/logger"
	"spreadflow/models"
)

// Output is what one capture run hands to the sinks: the raw book metric
// series and the report built from it.
type Output struct {
	Book   []models.BookMetricRecord
	Report *models.TradeReport
}

type Sink interface {
	Name() string
	Write(ctx context.Context, out Output) error
}

// MultiSink writes to every sink in order and joins their errors. A
// failing sink does not prevent the others from running.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Write(ctx context.Context, out Output) error {
	log := logger.GetLogger().WithComponent("writer")
	var errs []error
	for _, sink := range m {
		start := time.Now()
		if err := sink.Write(ctx, out); err != nil {
			log.WithError(err).WithFields(logger.Fields{"sink": sink.Name()}).Error("sink write failed")
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		logger.LogPerformanceEntry(log, "writer", "write_"+sink.Name(), time.Since(start), logger.Fields{
			"book_records": len(out.Book),
			"report_rows":  reportRows(out.Report),
		})
	}
	return errors.Join(errs...)
}

func reportRows(r *models.TradeReport) int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}
