package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MarketFeed MarketFeedConfig `yaml:"marketfeed"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Reader     ReaderConfig     `yaml:"reader"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Source     SourceConfig     `yaml:"source"`
	Cache      CacheConfig      `yaml:"cache"`
	Writer     WriterConfig     `yaml:"writer"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Stream     StreamConfig     `yaml:"stream"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type MarketFeedConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	UsedWeight bool             `yaml:"used_weight"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ReaderConfig struct {
	// Timeout bounds the single network call of every adapter invocation.
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	LocalIP   string          `yaml:"local_ip"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type ProcessorConfig struct {
	// MaxWorkers caps concurrent interval fetches of one multi-interval request.
	MaxWorkers int `yaml:"max_workers"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type SourceConfig struct {
	Binance      BinanceSourceConfig      `yaml:"binance"`
	Bybit        BybitSourceConfig        `yaml:"bybit"`
	AlphaVantage AlphaVantageSourceConfig `yaml:"alphavantage"`
}

type BinanceSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	WebsocketURL   string               `yaml:"websocket_url"`
	Limit          int                  `yaml:"limit"`
	MaxPoints      int                  `yaml:"max_points"`
	Timeout        time.Duration        `yaml:"timeout"`
	QuoteAsset     string               `yaml:"quote_asset"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

type BybitSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	Category       string               `yaml:"category"`
	Limit          int                  `yaml:"limit"`
	MaxPoints      int                  `yaml:"max_points"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type AlphaVantageSourceConfig struct {
	Enabled       bool            `yaml:"enabled"`
	URL           string          `yaml:"url"`
	APIKey        string          `yaml:"api_key"`
	Function      string          `yaml:"function"`
	Interval      string          `yaml:"interval"`
	OutputSize    string          `yaml:"output_size"`
	Adjusted      bool            `yaml:"adjusted"`
	ExtendedHours bool            `yaml:"extended_hours"`
	MaxPoints     int             `yaml:"max_points"`
	Timeout       time.Duration   `yaml:"timeout"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// CacheConfig controls the opt-in series cache. Provider revisions of past
// bars are hidden for TTL when enabled.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

type WriterConfig struct {
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Formats      FormatsConfig      `yaml:"formats"`
	Timeout      time.Duration      `yaml:"timeout"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
	Parallelism int64  `yaml:"parallelism"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Local LocalConfig `yaml:"local"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LocalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Mode    string `yaml:"mode"`
}

// StreamConfig drives the optional live kline watcher.
type StreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Symbols        []string      `yaml:"symbols"`
	Interval       string        `yaml:"interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Buffer         int           `yaml:"buffer"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		MarketFeed: MarketFeedConfig{Name: "marketfeed", Version: "dev"},
		Metrics: MetricsConfig{
			UsedWeight: true,
			CloudWatch: CloudWatchConfig{Namespace: "MarketFeed", Dashboard: "MarketFeed"},
		},
		Reader: ReaderConfig{
			Timeout: 20 * time.Second,
		},
		Processor: ProcessorConfig{MaxWorkers: 4},
		Source: SourceConfig{
			Binance: BinanceSourceConfig{
				Enabled:      true,
				URL:          "https://api.binance.com",
				WebsocketURL: "wss://stream.binance.com:9443/ws",
				Limit:        750,
				MaxPoints:    500,
				Timeout:      20 * time.Second,
				QuoteAsset:   "USDT",
				ConnectionPool: ConnectionPoolConfig{
					MaxIdleConns:    10,
					MaxConnsPerHost: 10,
					IdleConnTimeout: 90 * time.Second,
				},
				RateLimit: RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5},
			},
			Bybit: BybitSourceConfig{
				URL:       "https://api.bybit.com",
				Category:  "spot",
				Limit:     1000,
				MaxPoints: 500,
				Timeout:   20 * time.Second,
			},
			AlphaVantage: AlphaVantageSourceConfig{
				Enabled:       true,
				URL:           "https://www.alphavantage.co/query",
				Function:      "TIME_SERIES_DAILY",
				Interval:      "5min",
				OutputSize:    "full",
				Adjusted:      true,
				ExtendedHours: true,
				MaxPoints:     500,
				Timeout:       20 * time.Second,
				RateLimit:     RateLimitConfig{RequestsPerSecond: 5.0 / 60.0, BurstSize: 1},
			},
		},
		Cache: CacheConfig{TTL: time.Minute, MaxSize: 256},
		Writer: WriterConfig{
			Partitioning: PartitioningConfig{
				TimeFormat:     "year={year}/month={month}/day={day}",
				AdditionalKeys: []string{"provider", "symbol", "interval"},
			},
			Formats: FormatsConfig{Parquet: ParquetConfig{Compression: "snappy", Parallelism: 4}},
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Local: LocalConfig{Dir: "data"},
			Kafka: KafkaConfig{Topic: "marketfeed.series"},
		},
		API: APIConfig{Address: ":8080", Mode: "release"},
		Stream: StreamConfig{
			Interval:       "1m",
			ReconnectDelay: 5 * time.Second,
			Buffer:         256,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: 30 * time.Second,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		config.Source.AlphaVantage.APIKey = strings.TrimSpace(v)
	} else if v := os.Getenv("ALPHA_VANTAGE"); v != "" {
		config.Source.AlphaVantage.APIKey = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers := make([]string, 0)
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Storage.Kafka.Brokers = brokers
	}
}

func validateConfig(cfg *Config) error {
	if cfg.MarketFeed.Name == "" {
		return fmt.Errorf("marketfeed.name is required")
	}

	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}

	if b := cfg.Source.Binance; b.Enabled {
		if b.URL == "" {
			return fmt.Errorf("source.binance.url is required when binance is enabled")
		}
		if b.Limit <= 0 || b.Limit > 1000 {
			return fmt.Errorf("source.binance.limit must be between 1 and 1000")
		}
		if b.MaxPoints <= 0 {
			return fmt.Errorf("source.binance.max_points must be greater than 0")
		}
	}

	if b := cfg.Source.Bybit; b.Enabled {
		if b.URL == "" {
			return fmt.Errorf("source.bybit.url is required when bybit is enabled")
		}
		if b.MaxPoints <= 0 {
			return fmt.Errorf("source.bybit.max_points must be greater than 0")
		}
	}

	if av := cfg.Source.AlphaVantage; av.Enabled {
		if av.URL == "" {
			return fmt.Errorf("source.alphavantage.url is required when alphavantage is enabled")
		}
		if av.APIKey == "" {
			return fmt.Errorf("source.alphavantage.api_key is required when alphavantage is enabled")
		}
		if av.MaxPoints <= 0 {
			return fmt.Errorf("source.alphavantage.max_points must be greater than 0")
		}
	}

	if cfg.Cache.Enabled && cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than 0 when cache is enabled")
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

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Stream.Enabled && len(cfg.Stream.Symbols) == 0 {
		return fmt.Errorf("stream.symbols is required when stream is enabled")
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
