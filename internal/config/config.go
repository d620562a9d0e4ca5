package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the taa backtester.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
	Provider Provider `yaml:"provider"`
	Cache    Cache    `yaml:"cache"`
	Backtest Backtest `yaml:"backtest"`
	Universe Universe `yaml:"universe"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" default:"data" validate:"required"`
	SQLitePath string `yaml:"sqlite_path"`
	ExportDir  string `yaml:"export_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

// Credential is one API identity. Alpha Vantage only uses Key; Alpaca uses
// Key and Secret.
type Credential struct {
	Key    string `yaml:"key" validate:"required"`
	Secret string `yaml:"secret"`
}

// Provider controls how market data is requested from the remote service.
type Provider struct {
	Source           string        `yaml:"source" default:"alphavantage" validate:"oneof=alphavantage alpaca"`
	BaseURL          string        `yaml:"base_url" default:"https://www.alphavantage.co/query" validate:"required,url"`
	AlpacaDataURL    string        `yaml:"alpaca_data_url"`
	Timeout          time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
	MaxAttempts      int           `yaml:"max_attempts" default:"3" validate:"min=1,max=10"`
	Backoff          time.Duration `yaml:"backoff" default:"2s" validate:"gte=0"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff" default:"15s" validate:"gte=0"`
	PerMinute        int           `yaml:"per_minute" default:"5" validate:"gte=0"`
	PerDay           int           `yaml:"per_day" default:"25" validate:"gte=0"`
	JitterMin        time.Duration `yaml:"jitter_min" default:"100ms" validate:"gte=0"`
	JitterMax        time.Duration `yaml:"jitter_max" default:"300ms" validate:"gtefield=JitterMin"`
	BreakerFailures  int           `yaml:"breaker_failures" validate:"gte=0"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" default:"60s" validate:"gte=0"`
	Credentials      []Credential  `yaml:"credentials" validate:"dive"`
}

// Cache selects the backend that stores fetched series.
type Cache struct {
	Backend     string `yaml:"backend" default:"disk" validate:"oneof=disk memory redis sqlite"`
	RedisAddr   string `yaml:"redis_addr" default:"localhost:6379" validate:"required_if=Backend redis"`
	RedisDB     int    `yaml:"redis_db" validate:"gte=0"`
	RedisPrefix string `yaml:"redis_prefix" default:"taa:series:"`
}

// Backtest holds the simulation parameters.
type Backtest struct {
	Capital        float64  `yaml:"capital" default:"100000" validate:"gt=0"`
	Start          string   `yaml:"start" default:"2010-01-01" validate:"required,datetime=2006-01-02"`
	End            string   `yaml:"end" validate:"omitempty,datetime=2006-01-02"`
	Benchmark      string   `yaml:"benchmark" default:"SPY"`
	Strategies     []string `yaml:"strategies" default:"[\"canary\"]" validate:"min=1,dive,required"`
	PeriodsPerYear int      `yaml:"periods_per_year" default:"12" validate:"min=1"`
	AllowSurrogate bool     `yaml:"allow_surrogate"`
}

// Universe lists the ticker groups the strategies draw from.
type Universe struct {
	Risky      []string `yaml:"risky" default:"[\"SPY\",\"IWM\",\"QQQ\",\"VGK\",\"EWJ\",\"EEM\",\"VNQ\",\"DBC\",\"GLD\",\"TLT\",\"HYG\",\"LQD\"]"`
	Protective []string `yaml:"protective" default:"[\"SHY\",\"IEF\",\"LQD\"]"`
	Canary     []string `yaml:"canary" default:"[\"EEM\",\"AGG\"]"`
	Broad      []string `yaml:"broad" default:"[\"SPY\",\"QQQ\",\"IWM\",\"EFA\",\"EEM\",\"VNQ\",\"DBC\",\"GLD\",\"TLT\",\"LQD\",\"HYG\",\"IEF\",\"BIL\",\"SHY\",\"MDY\",\"IEV\",\"EWJ\",\"AGG\"]"`
	Fill       []string `yaml:"fill" default:"[\"SHY\",\"IEF\",\"BIL\"]"`
}

// Metrics toggles prometheus instrumentation.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

var validate = validator.New()

// Default returns a Config populated only from defaults and the environment.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct on top of the defaults, applies environment variable
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and returns a readable error listing
// every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", e.Namespace(), e.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SQLiteFile returns the configured SQLite path, defaulting to taa.db inside
// the data directory.
func (s Storage) SQLiteFile() string {
	if s.SQLitePath != "" {
		return s.SQLitePath
	}
	return filepath.Join(s.DataDir, "taa.db")
}

// ExportRoot returns the directory run curves are exported under.
func (s Storage) ExportRoot() string {
	if s.ExportDir != "" {
		return s.ExportDir
	}
	return s.DataDir
}

// StartDate parses Backtest.Start.
func (b Backtest) StartDate() time.Time {
	t, _ := time.Parse("2006-01-02", b.Start)
	return t
}

// EndDate parses Backtest.End; the zero time means open-ended.
func (b Backtest) EndDate() time.Time {
	if b.End == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", b.End)
	return t
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	// Comma-separated Alpha Vantage keys replace any configured list.
	if v := os.Getenv("ALPHAVANTAGE_API_KEYS"); v != "" && cfg.Provider.Source == "alphavantage" {
		var creds []Credential
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				creds = append(creds, Credential{Key: k})
			}
		}
		cfg.Provider.Credentials = creds
	}

	// Standard Alpaca env vars, the canonical names used by the SDK.
	if cfg.Provider.Source == "alpaca" {
		key, secret := os.Getenv("APCA_API_KEY_ID"), os.Getenv("APCA_API_SECRET_KEY")
		if key != "" && secret != "" {
			cfg.Provider.Credentials = []Credential{{Key: key, Secret: secret}}
		}
	}
}
