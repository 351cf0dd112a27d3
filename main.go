package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"spreadflow/config"
	"spreadflow/logger"
	"spreadflow/metrics"
	"spreadflow/models"
	"spreadflow/processor"
	"spreadflow/reader"
	"spreadflow/report"
	"spreadflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	runID := uuid.NewString()
	log.WithFields(logger.Fields{
		"service": cfg.Spreadflow.Name,
		"version": cfg.Spreadflow.Version,
		"run_id":  runID,
		"env":     config.AppEnvironment(),
	}).Info("starting spreadflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feeds := reader.FeedSpecs(cfg.Feeds)

	if cfg.Metrics.CloudWatch.Enabled {
		names := make([]string, 0, len(feeds))
		for _, f := range feeds {
			names = append(names, f.Name)
		}
		logger.InitCloudWatch(ctx, logger.CloudWatchOptions{
			Region:    cfg.Metrics.CloudWatch.Region,
			Namespace: cfg.Metrics.CloudWatch.Namespace,
			Dashboard: cfg.Metrics.CloudWatch.Dashboard,
		}, names)
	}
	if cfg.Metrics.Prometheus.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Prometheus.Addr); err != nil {
				log.WithComponent("metrics").WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	if cfg.Feeds.ValidateSymbols {
		catalog := reader.NewCatalog(cfg.Feeds.SpotRestURL, cfg.Feeds.PerpRestURL, cfg.Feeds.HandshakeTimeout)
		if err := catalog.Validate(ctx, feeds); err != nil {
			log.WithError(err).Error("feed symbol validation failed")
			os.Exit(1)
		}
	}

	store := processor.NewStore()
	pipeline := processor.NewPipeline(store)

	if cfg.Run.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Run.ReportInterval, func() logger.Fields {
			return logger.Fields{
				"book_records":  store.Book.Len(),
				"trade_records": store.Trades.Len(),
			}
		})
	}

	supervisor := reader.NewSupervisor(feeds, pipeline, reader.DialOptions{
		HandshakeTimeout:   cfg.Feeds.HandshakeTimeout,
		ReadTimeout:        cfg.Feeds.ReadTimeout,
		InsecureSkipVerify: cfg.Feeds.InsecureSkipVerify,
	}, cfg.Supervisor.ProgressInterval)

	if err := supervisor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start feeds")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if cfg.Run.Duration > 0 {
		deadline = time.After(cfg.Run.Duration)
	}

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-deadline:
		log.WithFields(logger.Fields{"duration": cfg.Run.Duration.String()}).Info("capture duration reached")
	}

	log.Info("stopping feeds")
	if err := supervisor.Stop(cfg.Supervisor.ShutdownTimeout); err != nil {
		log.WithError(err).Warn("feeds did not stop cleanly")
	}
	for feed, ferr := range supervisor.Errors() {
		log.WithError(ferr).WithFields(logger.Fields{"feed": feed}).Warn("feed ended with error")
	}

	writeCtx, writeCancel := context.WithTimeout(context.Background(), time.Minute)
	defer writeCancel()

	sinks, closers := buildSinks(writeCtx, cfg, log)
	tradeReport, err := finishRun(writeCtx, store, runID, sinks)
	for _, c := range closers {
		c()
	}
	if err != nil {
		log.WithError(err).Error("capture run failed")
		os.Exit(1)
	}

	for _, row := range tradeReport.Rows {
		if row.Trades == nil {
			continue
		}
		log.LogMetric("report", "TradeCount", row.Trades.Count, "gauge", logger.Fields{"instrument": row.Instrument})
		log.LogMetric("report", "TradedVolume", row.Trades.TotalVolume, "gauge", logger.Fields{"instrument": row.Instrument})
	}

	log.WithFields(logger.Fields{"run_id": runID, "output_dir": cfg.Output.Dir}).Info("spreadflow stopped")
}

// finishRun builds the report from the collected series and hands both to
// sink. When the report cannot be built nothing reaches the sink.
func finishRun(ctx context.Context, store *processor.Store, runID string, sink writer.Sink) (*models.TradeReport, error) {
	log := logger.GetLogger().WithComponent("report")

	book := store.Book.Snapshot()
	trades := store.Trades.Snapshot()

	start := time.Now()
	tradeReport, err := report.Build(book, trades)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"book_records":  len(book),
			"trade_records": len(trades),
		}).Error("report build failed, no output written")
		return nil, fmt.Errorf("build report: %w", err)
	}
	tradeReport.RunID = runID
	logger.LogPerformanceEntry(log, "report", "build", time.Since(start), logger.Fields{
		"rows":         len(tradeReport.Rows),
		"window_start": tradeReport.Window.Start,
		"window_end":   tradeReport.Window.End,
	})

	if err := sink.Write(ctx, writer.Output{Book: book, Report: tradeReport}); err != nil {
		return nil, fmt.Errorf("write outputs: %w", err)
	}
	return tradeReport, nil
}

// buildSinks assembles the enabled output sinks. The local CSV sink is
// always present; cloud sinks that fail to initialise are skipped.
func buildSinks(ctx context.Context, cfg *config.Config, log *logger.Log) (writer.MultiSink, []func()) {
	sinks := writer.MultiSink{writer.CSVSink{
		Dir:        cfg.Output.Dir,
		BookFile:   cfg.Output.BookFile,
		ReportFile: cfg.Output.ReportFile,
	}}
	var closers []func()

	if cfg.Output.Parquet {
		name := strings.TrimSuffix(cfg.Output.BookFile, filepath.Ext(cfg.Output.BookFile)) + ".parquet"
		sinks = append(sinks, writer.ParquetSink{Dir: cfg.Output.Dir, File: name})
	}

	if cfg.Storage.S3.Enabled {
		s3Sink, err := writer.NewS3Sink(ctx, cfg.Storage.S3, cfg.Output)
		if err != nil {
			log.WithError(err).Warn("s3 sink disabled")
		} else {
			sinks = append(sinks, s3Sink)
		}
	}

	if cfg.Kafka.Enabled {
		kafkaSink, err := writer.NewKafkaSink(cfg.Kafka)
		if err != nil {
			log.WithError(err).Warn("kafka sink disabled")
		} else {
			sinks = append(sinks, kafkaSink)
			closers = append(closers, func() {
				if err := kafkaSink.Close(); err != nil {
					log.WithComponent("kafka_writer").WithError(err).Warn("kafka close failed")
				}
			})
		}
	}

	return sinks, closers
}
