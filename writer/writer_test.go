package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "spreadflow/config"
	"spreadflow/logger"
	"spreadflow/models"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/segmentio/kafka-go"
)

func sampleOutput() Output {
	return Output{
		Book: []models.BookMetricRecord{
			{Timestamp: 100, Instrument: "BTCUSDT_spot", Level: 1, AvgBidPrice: 100, AvgAskPrice: 110, Spread: 10},
			{Timestamp: 100, Instrument: "BTCUSDT_spot", Level: 10, AvgBidPrice: 99.5, AvgAskPrice: 110.25, Spread: 10.75},
		},
		Report: &models.TradeReport{
			RunID:  "run-1",
			Window: models.CaptureWindow{Start: 100, End: 100},
			Rows: []models.ReportRow{
				{
					Instrument: "BTCUSDT_spot",
					Trades:     &models.TradeStats{Count: 1, TotalVolume: 100010, AvgVolume: 100010, UniquePrices: 1},
					AvgSpread:  map[int]float64{1: 10, 10: 10.75},
				},
				{Instrument: "ETHUSDT_perp", AvgSpread: map[int]float64{1: 0.5}},
				{Instrument: "SOLUSDT_spot", Trades: &models.TradeStats{Count: 2, TotalVolume: 30, AvgVolume: 15, UniquePrices: 2}},
			},
		},
	}
}

func TestEncodeBookCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeBookCSV(&buf, sampleOutput().Book); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "timestamp,instrument,level_qty,average_bid_price,average_ask_price,spread\n" +
		"100,BTCUSDT_spot,1,100,110,10\n" +
		"100,BTCUSDT_spot,10,99.5,110.25,10.75\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestEncodeReportCSVLeavesMissingCellsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeReportCSV(&buf, sampleOutput().Report); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "instrument,trade_nb,traded_volumes,avg_volume,unique_quotes,average_spread_level_1,average_spread_level_10,average_spread_level_25\n" +
		"BTCUSDT_spot,1,100010,100010,1,10,10.75,\n" +
		"ETHUSDT_perp,,,,,0.5,,\n" +
		"SOLUSDT_spot,2,30,15,2,,,\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestCSVSinkCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "collected_data")
	sink := CSVSink{Dir: dir, BookFile: "book_data.csv", ReportFile: "trade_report.csv"}
	if err := sink.Write(context.Background(), sampleOutput()); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, name := range []string{"book_data.csv", "trade_report.csv"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(bytes.Split(bytes.TrimSpace(data), []byte("\n"))) < 3 {
			t.Errorf("%s has too few lines", name)
		}
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Write(context.Context, Output) error {
	f.calls++
	return errors.New("boom")
}

func TestMultiSinkContinuesAfterFailure(t *testing.T) {
	logger.GetLogger().SetOutput(io.Discard)
	defer logger.GetLogger().SetOutput(os.Stdout)

	failing := &failingSink{}
	dir := t.TempDir()
	sinks := MultiSink{failing, CSVSink{Dir: dir, BookFile: "b.csv", ReportFile: "r.csv"}}

	err := sinks.Write(context.Background(), sampleOutput())
	if err == nil || !strings.Contains(err.Error(), "failing: boom") {
		t.Fatalf("unexpected error: %v", err)
	}
	if failing.calls != 1 {
		t.Errorf("failing sink called %d times", failing.calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "r.csv")); err != nil {
		t.Errorf("csv sink did not run: %v", err)
	}
}

func TestEncodeBookParquet(t *testing.T) {
	data, err := EncodeBookParquet(sampleOutput().Book)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Errorf("output is not a parquet file (%d bytes)", len(data))
	}
}

func TestParquetSink(t *testing.T) {
	dir := t.TempDir()
	if err := (ParquetSink{Dir: dir, File: "book_data.parquet"}).Write(context.Background(), sampleOutput()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "book_data.parquet")); err != nil {
		t.Fatalf("parquet file missing: %v", err)
	}
}

type fakePutter struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *in.Bucket+"/"+*in.Key)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Key(t *testing.T) {
	ts := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	if got := s3Key("spreadflow", "abc", ts, "trade_report.csv"); got != "spreadflow/year=2024/month=03/day=07/run=abc/trade_report.csv" {
		t.Errorf("unexpected key: %s", got)
	}
	if got := parquetName("book_data.csv"); got != "book_data.parquet" {
		t.Errorf("unexpected parquet name: %s", got)
	}
}

func TestS3SinkUploadsOutputs(t *testing.T) {
	putter := &fakePutter{}
	sink := &S3Sink{
		client:     putter,
		bucket:     "bucket",
		prefix:     "p",
		bookFile:   "book_data.csv",
		reportFile: "trade_report.csv",
		parquet:    true,
		log:        logger.GetLogger(),
	}
	if err := sink.Write(context.Background(), sampleOutput()); err != nil {
		t.Fatalf("write: %v", err)
	}
	sort.Strings(putter.keys)
	want := []string{
		"bucket/p/year=1970/month=01/day=01/run=run-1/book_data.csv",
		"bucket/p/year=1970/month=01/day=01/run=run-1/book_data.parquet",
		"bucket/p/year=1970/month=01/day=01/run=run-1/trade_report.csv",
	}
	if strings.Join(putter.keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", putter.keys, want)
	}
}

type fakeMessageWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeMessageWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkPublishesRows(t *testing.T) {
	fake := &fakeMessageWriter{}
	sink := &KafkaSink{writer: fake, topic: "reports", log: logger.GetLogger()}
	if err := sink.Write(context.Background(), sampleOutput()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(fake.msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(fake.msgs))
	}

	if string(fake.msgs[1].Key) != "ETHUSDT_perp" {
		t.Errorf("unexpected key %s", fake.msgs[1].Key)
	}
	var eth map[string]interface{}
	if err := json.Unmarshal(fake.msgs[1].Value, &eth); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if eth["trade_nb"] != nil {
		t.Errorf("missing trades should be null, got %v", eth["trade_nb"])
	}
	if spreads := eth["average_spread"].(map[string]interface{}); spreads["level_1"] != 0.5 {
		t.Errorf("unexpected spreads %v", spreads)
	}
	if eth["run_id"] != "run-1" {
		t.Errorf("unexpected run id %v", eth["run_id"])
	}

	if err := sink.Close(); err != nil || !fake.closed {
		t.Errorf("close not forwarded")
	}
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink(appconfig.KafkaConfig{Enabled: true, Topic: "reports"}); err == nil {
		t.Fatal("expected error without brokers")
	}
}
