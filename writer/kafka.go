package writer

import (
	"context"
	"encoding/json"
	"fmt"

	appconfig "spreadflow/config"
	"spreadflow/logger"
	"spreadflow/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// reportMessage is the JSON value published per report row. Null fields
// carry no data.
type reportMessage struct {
	RunID         string             `json:"run_id"`
	WindowStart   int64              `json:"window_start"`
	WindowEnd     int64              `json:"window_end"`
	Instrument    string             `json:"instrument"`
	TradeNb       *int               `json:"trade_nb"`
	TradedVolumes *float64           `json:"traded_volumes"`
	AvgVolume     *float64           `json:"avg_volume"`
	UniqueQuotes  *int               `json:"unique_quotes"`
	AvgSpread     map[string]float64 `json:"average_spread"`
}

// KafkaSink publishes one message per report row, keyed by instrument.
type KafkaSink struct {
	writer messageWriter
	topic  string
	log    *logger.Log
}

func NewKafkaSink(cfg appconfig.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	s := &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		topic: cfg.Topic,
		log:   logger.GetLogger(),
	}
	s.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return s, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, out Output) error {
	msgs, err := reportMessages(out.Report)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	s.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"topic":    s.topic,
		"messages": len(msgs),
	}).Info("report published")
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

func reportMessages(report *models.TradeReport) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(report.Rows))
	for _, row := range report.Rows {
		m := reportMessage{
			RunID:       report.RunID,
			WindowStart: report.Window.Start,
			WindowEnd:   report.Window.End,
			Instrument:  row.Instrument,
			AvgSpread:   make(map[string]float64, len(row.AvgSpread)),
		}
		if t := row.Trades; t != nil {
			m.TradeNb = &t.Count
			m.TradedVolumes = &t.TotalVolume
			m.AvgVolume = &t.AvgVolume
			m.UniqueQuotes = &t.UniquePrices
		}
		for level, spread := range row.AvgSpread {
			m.AvgSpread[fmt.Sprintf("level_%d", level)] = spread
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", row.Instrument, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(row.Instrument), Value: data})
	}
	return msgs, nil
}
