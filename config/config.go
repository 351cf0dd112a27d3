package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Spreadflow SpreadflowConfig `yaml:"spreadflow"`
	Feeds      FeedsConfig      `yaml:"feeds"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Run        RunConfig        `yaml:"run"`
	Output     OutputConfig     `yaml:"output"`
	Storage    StorageConfig    `yaml:"storage"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type SpreadflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedsConfig holds the two base URLs and the two stream groups combined
// into the four feed endpoints.
type FeedsConfig struct {
	SpotURL            string        `yaml:"spot_url"`
	PerpURL            string        `yaml:"perp_url"`
	BookStreams        string        `yaml:"book_streams"`
	TradeStreams       string        `yaml:"trade_streams"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ValidateSymbols    bool          `yaml:"validate_symbols"`
	SpotRestURL        string        `yaml:"spot_rest_url"`
	PerpRestURL        string        `yaml:"perp_rest_url"`
}

type SupervisorConfig struct {
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

type RunConfig struct {
	// Duration stops the capture automatically; zero waits for a signal.
	Duration       time.Duration `yaml:"duration"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type OutputConfig struct {
	Dir        string `yaml:"dir"`
	BookFile   string `yaml:"book_file"`
	ReportFile string `yaml:"report_file"`
	Parquet    bool   `yaml:"parquet"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when a key is absent from the
// file: the public Binance spot and futures combined streams for BTCUSDT
// and ETHUSDT.
func Default() Config {
	return Config{
		Spreadflow: SpreadflowConfig{Name: "spreadflow", Version: "dev"},
		Feeds: FeedsConfig{
			SpotURL:          "wss://stream.binance.com:9443/stream?streams=",
			PerpURL:          "wss://fstream.binance.com/stream?streams=",
			BookStreams:      "btcusdt@depth/ethusdt@depth",
			TradeStreams:     "btcusdt@trade/ethusdt@trade",
			HandshakeTimeout: 10 * time.Second,
			SpotRestURL:      "https://api.binance.com",
			PerpRestURL:      "https://fapi.binance.com",
		},
		Supervisor: SupervisorConfig{
			ShutdownTimeout:  10 * time.Second,
			ProgressInterval: 5 * time.Second,
		},
		Output: OutputConfig{
			Dir:        "collected_data",
			BookFile:   "book_data.csv",
			ReportFile: "trade_report.csv",
		},
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{Addr: ":9102"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Endpoint joins a base URL with a stream group.
func Endpoint(base, streams string) string {
	return base + streams
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	overrides := map[string]*string{
		"SPOT_SOCKET":    &config.Feeds.SpotURL,
		"FUTURES_SOCKET": &config.Feeds.PerpURL,
		"BOOK_STREAMS":   &config.Feeds.BookStreams,
		"TRADE_STREAMS":  &config.Feeds.TradeStreams,
	}
	if config.Storage.S3.Enabled {
		overrides["AWS_ACCESS_KEY_ID"] = &config.Storage.S3.AccessKeyID
		overrides["AWS_SECRET_ACCESS_KEY"] = &config.Storage.S3.SecretAccessKey
		overrides["AWS_REGION"] = &config.Storage.S3.Region
		overrides["S3_BUCKET"] = &config.Storage.S3.Bucket
	}
	for env, dst := range overrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
}

func validateConfig(cfg *Config) error {
	if cfg.Spreadflow.Name == "" {
		return fmt.Errorf("spreadflow.name is required")
	}

	for key, u := range map[string]string{"feeds.spot_url": cfg.Feeds.SpotURL, "feeds.perp_url": cfg.Feeds.PerpURL} {
		if err := validateSocketURL(u); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if strings.TrimSpace(cfg.Feeds.BookStreams) == "" {
		return fmt.Errorf("feeds.book_streams is required")
	}
	if strings.TrimSpace(cfg.Feeds.TradeStreams) == "" {
		return fmt.Errorf("feeds.trade_streams is required")
	}
	if cfg.Feeds.HandshakeTimeout < 0 || cfg.Feeds.ReadTimeout < 0 {
		return fmt.Errorf("feeds timeouts must not be negative")
	}

	if cfg.Supervisor.ShutdownTimeout <= 0 {
		return fmt.Errorf("supervisor.shutdown_timeout must be greater than 0")
	}
	if cfg.Run.Duration < 0 {
		return fmt.Errorf("run.duration must not be negative")
	}

	if cfg.Output.Dir == "" || cfg.Output.BookFile == "" || cfg.Output.ReportFile == "" {
		return fmt.Errorf("output.dir, output.book_file and output.report_file are required")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Metrics.Prometheus.Enabled && cfg.Metrics.Prometheus.Addr == "" {
		return fmt.Errorf("metrics.prometheus.addr is required when prometheus is enabled")
	}

	return nil
}

func validateSocketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
