package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"PaperTrade/internal/services/execution"
	"PaperTrade/internal/services/risk"
	"PaperTrade/internal/services/signal"
	"PaperTrade/internal/services/trailing"
	"PaperTrade/internal/services/validator"
	"PaperTrade/internal/usecase"
	applogger "PaperTrade/pkg/logger"

	"github.com/creasty/defaults"
	playvalidator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Log         applogger.Config `yaml:"log"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
	} `yaml:"server"`
	Market struct {
		Symbols        []string      `yaml:"symbols"`
		RestURL        string        `yaml:"rest_url" default:"https://api.binance.com"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
		CandleLimit    int           `yaml:"candle_limit" default:"200" validate:"gte=50,lte=1000"`
		PriceTTL       time.Duration `yaml:"price_ttl" default:"5s"`
		Stream         struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url" default:"wss://stream.binance.com:9443/stream"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
			MaxRPS         int           `yaml:"max_rps" default:"50"`
			BufferSize     int           `yaml:"buffer_size" default:"2000"`
		} `yaml:"stream"`
	} `yaml:"market"`
	Schedule struct {
		Revalue  time.Duration `yaml:"revalue" default:"1s"`
		Trailing time.Duration `yaml:"trailing" default:"5s"`
		Risk     time.Duration `yaml:"risk" default:"10s"`
		Snapshot time.Duration `yaml:"snapshot" default:"30s"`
		Purge    time.Duration `yaml:"purge" default:"1m"`
	} `yaml:"schedule"`
	EventBus struct {
		BufferSize  int `yaml:"buffer_size" default:"256"`
		HistorySize int `yaml:"history_size" default:"500"`
	} `yaml:"event_bus"`
	Trader     usecase.TraderConfig `yaml:"trader"`
	Signal     signal.Config        `yaml:"signal"`
	Validation validator.Config     `yaml:"validation"`
	Execution  execution.Config     `yaml:"execution"`
	Risk       risk.Config          `yaml:"risk"`
	Trailing   trailing.Config      `yaml:"trailing"`
	Kafka      struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		TopicPrefix  string   `yaml:"topic_prefix" default:"papertrade"`
		FeedTopic    string   `yaml:"feed_topic" default:"papertrade.feed"`
		LogTopic     string   `yaml:"log_topic" default:"papertrade.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"papertrade-engine"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"papertrade"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Bolt struct {
		Path string `yaml:"path" default:"data/papertrade.db"`
	} `yaml:"bolt"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"papertrade"`
	} `yaml:"redis"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// Tags are static; a failure here is a programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads an optional .env file, the YAML config, then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Market.Symbols = splitList(v)
	}
	if v := os.Getenv("MARKET_REST_URL"); v != "" {
		c.Market.RestURL = v
	}
	if v := os.Getenv("INITIAL_BALANCE"); v != "" {
		if b, err := strconv.ParseFloat(v, 64); err == nil {
			c.Execution.InitialBalance = b
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols cannot be empty")
	}
	if c.Market.RestURL == "" {
		return fmt.Errorf("market.rest_url is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Risk.MaxDailyLossPct >= c.Risk.PanicLossPct {
		return fmt.Errorf("risk.max_daily_loss_pct (%.2f) must be below risk.panic_loss_pct (%.2f)",
			c.Risk.MaxDailyLossPct, c.Risk.PanicLossPct)
	}
	if c.Trader.DefaultLeverage > c.Execution.MaxLeverage {
		return fmt.Errorf("trader.default_leverage (%.0f) exceeds execution.max_leverage (%.0f)",
			c.Trader.DefaultLeverage, c.Execution.MaxLeverage)
	}
	for name, s := range c.Trailing.Presets {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("trailing.presets.%s: %w", name, err)
		}
	}
	if err := playvalidator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
