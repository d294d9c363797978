package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"production" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	NEMWeb struct {
		BaseURL         string        `yaml:"base_url" default:"https://nemweb.com.au/Reports/Current/" validate:"url"`
		ListTimeout     time.Duration `yaml:"list_timeout" default:"30s"`
		DownloadTimeout time.Duration `yaml:"download_timeout" default:"60s"`
		MaxAttempts     int           `yaml:"max_attempts" default:"5" validate:"gte=1"`
		AttemptDelay    time.Duration `yaml:"attempt_delay" default:"500ms"`
	} `yaml:"nemweb"`
	Cache struct {
		Path            string        `yaml:"path" default:"nem_price_cache.json"`
		StaleAfter      time.Duration `yaml:"stale_after" default:"6h"`
		DispatchEntries int           `yaml:"dispatch_entries" default:"24" validate:"gte=1"`
		ForecastEntries int           `yaml:"forecast_entries" default:"10" validate:"gte=1"`
	} `yaml:"cache"`
	Sync struct {
		Regions               []string      `yaml:"regions" validate:"min=1"`
		Interval              time.Duration `yaml:"interval" default:"5m"`
		BackfillInterval      time.Duration `yaml:"backfill_interval" default:"1h"`
		SettlementTolerance   time.Duration `yaml:"settlement_tolerance" default:"60s"`
		FutureTolerance       time.Duration `yaml:"future_tolerance" default:"15m"`
		ForecastRetention     time.Duration `yaml:"forecast_retention" default:"2h"`
		DispatchHoursBack     int           `yaml:"dispatch_hours_back" default:"1"`
		PredispatchHoursAhead int           `yaml:"predispatch_hours_ahead" default:"24"`
		ErrorReportLimit      int           `yaml:"error_report_limit" default:"10"`
	} `yaml:"sync"`
	Mongo struct {
		URI        string        `yaml:"uri" validate:"required"`
		Database   string        `yaml:"database" default:"nem_prices"`
		Collection string        `yaml:"collection" default:"price_data"`
		Timeout    time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"mongo"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"nem.price.updates"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"nem_prices"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl" default:"30s"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file and applies struct
// defaults. Validation happens after env overrides in LoadWithEnv.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if len(c.Sync.Regions) == 0 {
		c.Sync.Regions = []string{"VIC1", "NSW1", "QLD1", "SA1", "TAS1"}
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables. Secrets come from the environment in deployment.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NEM_REGIONS"); v != "" {
		c.Sync.Regions = strings.Split(v, ",")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// Validate checks the configuration beyond what struct tags can express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}
