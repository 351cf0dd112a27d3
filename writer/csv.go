package writer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"spreadflow/logger"
	"spreadflow/models"
)

var (
	bookHeader   = []string{"timestamp", "instrument", "level_qty", "average_bid_price", "average_ask_price", "spread"}
	reportHeader = []string{"instrument", "trade_nb", "traded_volumes", "avg_volume", "unique_quotes"}
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EncodeBookCSV writes the book metric series, one row per record.
func EncodeBookCSV(w io.Writer, records []models.BookMetricRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(bookHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.Timestamp, 10),
			r.Instrument,
			strconv.Itoa(r.Level),
			formatFloat(r.AvgBidPrice),
			formatFloat(r.AvgAskPrice),
			formatFloat(r.Spread),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeReportCSV writes one row per report row. Columns without data are
// left empty.
func EncodeReportCSV(w io.Writer, report *models.TradeReport) error {
	header := append([]string{}, reportHeader...)
	for _, level := range models.BookLevels {
		header = append(header, fmt.Sprintf("average_spread_level_%d", level))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range report.Rows {
		row := make([]string, 0, len(header))
		row = append(row, r.Instrument)
		if r.Trades != nil {
			row = append(row,
				strconv.Itoa(r.Trades.Count),
				formatFloat(r.Trades.TotalVolume),
				formatFloat(r.Trades.AvgVolume),
				strconv.Itoa(r.Trades.UniquePrices),
			)
		} else {
			row = append(row, "", "", "", "")
		}
		for _, level := range models.BookLevels {
			if spread, ok := r.AvgSpread[level]; ok {
				row = append(row, formatFloat(spread))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVSink writes the book series and the report into Dir, creating it when
// missing.
type CSVSink struct {
	Dir        string
	BookFile   string
	ReportFile string
}

func (s CSVSink) Name() string { return "csv" }

func (s CSVSink) Write(ctx context.Context, out Output) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	bookPath := filepath.Join(s.Dir, s.BookFile)
	if err := writeFile(bookPath, func(w io.Writer) error { return EncodeBookCSV(w, out.Book) }); err != nil {
		return fmt.Errorf("write book csv: %w", err)
	}
	reportPath := filepath.Join(s.Dir, s.ReportFile)
	if err := writeFile(reportPath, func(w io.Writer) error { return EncodeReportCSV(w, out.Report) }); err != nil {
		return fmt.Errorf("write report csv: %w", err)
	}

	logger.LogDataFlowEntry(logger.GetLogger().WithComponent("csv_writer"), "report", bookPath, len(out.Book), "book_metrics")
	logger.LogDataFlowEntry(logger.GetLogger().WithComponent("csv_writer"), "report", reportPath, len(out.Report.Rows), "trade_report")
	return nil
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := encode(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
