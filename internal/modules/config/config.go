package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	redisAddrENV      = "REDIS_ADDR"
)

// Config ...
type Config struct {
	Telegram struct {
		Token string `yaml:"token"`
		Debug bool   `yaml:"debug"`
	} `yaml:"telegram"`
	DB    string `yaml:"db_dsn"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Service struct {
		Name       string `yaml:"name"`
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
		Debug      bool   `yaml:"debug"`
	} `yaml:"service"`
	Tracing struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"tracing"`

	Exchange   Exchange   `yaml:"exchange"`
	Supervisor Supervisor `yaml:"supervisor"`
	Engine     Engine     `yaml:"engine"`
}

// Exchange configures the venue gateway and candle stream.
type Exchange struct {
	BaseURL        string        `yaml:"base_url"`
	WsURL          string        `yaml:"ws_url"`
	RatePerSec     float64       `yaml:"rate_per_sec"`
	Burst          int           `yaml:"burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	PollAttempts   int           `yaml:"poll_attempts"`
	PollBackoff    time.Duration `yaml:"poll_backoff"`
	Simulated      bool          `yaml:"simulated"`
}

type Supervisor struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	MaxRestarts       int           `yaml:"max_restarts"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
}

type Engine struct {
	CandleHistory             int           `yaml:"candle_history"`
	EntryTimeoutBars          int           `yaml:"entry_timeout_bars"`
	FillPollInterval          time.Duration `yaml:"fill_poll_interval"`
	HeartbeatInterval         time.Duration `yaml:"heartbeat_interval"`
	MinNotionalUSD            float64       `yaml:"min_notional_usd"`
	MinAvailableExposureUSD   float64       `yaml:"min_available_exposure_usd"`
	FallbackStopPct           float64       `yaml:"fallback_stop_pct"`
	BreakEvenAfterFirstTarget bool          `yaml:"break_even_after_first_target"`
}

// Defaults are applied before the file is decoded, so the file only needs
// what differs.
func Defaults() Config {
	var c Config
	c.Service.Name = "fibo_bot"
	c.Service.PublicPort = 8080
	c.Service.AdminPort = 8081
	c.Redis.TTL = 30 * time.Second

	c.Exchange = Exchange{
		BaseURL:        "https://www.okx.com",
		WsURL:          "wss://ws.okx.com:8443/ws/v5/business",
		RatePerSec:     floatFromEnv("EXCHANGE_RATE_PER_SEC", 10),
		Burst:          intFromEnv("EXCHANGE_BURST", 5),
		RequestTimeout: durationFromEnv("EXCHANGE_REQUEST_TIMEOUT", "5s"),
		MaxRetries:     3,
		PollAttempts:   5,
		PollBackoff:    durationFromEnv("EXCHANGE_POLL_BACKOFF", "500ms"),
	}
	c.Supervisor = Supervisor{
		ReconcileInterval: durationFromEnv("RECONCILE_INTERVAL", "30s"),
		HeartbeatTimeout:  durationFromEnv("HEARTBEAT_TIMEOUT", "90s"),
		MaxRestarts:       intFromEnv("MAX_RESTARTS", 5),
		StopTimeout:       10 * time.Second,
	}
	c.Engine = Engine{
		CandleHistory:             300,
		EntryTimeoutBars:          intFromEnv("ENTRY_TIMEOUT_BARS", 12),
		FillPollInterval:          10 * time.Second,
		HeartbeatInterval:         10 * time.Second,
		MinNotionalUSD:            10,
		MinAvailableExposureUSD:   50,
		FallbackStopPct:           0.5,
		BreakEvenAfterFirstTarget: boolFromEnv("BREAK_EVEN_AFTER_FIRST_TARGET", true),
	}
	return c
}

func NewConfig() (*Config, error) {
	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	return Load("configs/" + configFileName)
}

// Load reads a yaml file through viper so that env vars like
// EXCHANGE_BASE_URL override exchange.base_url, then decodes the merged
// settings on top of Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	raw, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, errors.Wrap(err, "merge config")
	}
	config := Defaults()
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}
	if addr := os.Getenv(redisAddrENV); addr != "" {
		config.Redis.Addr = addr
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch {
	case c.Supervisor.ReconcileInterval <= 0:
		return fmt.Errorf("supervisor.reconcile_interval must be positive")
	case c.Supervisor.HeartbeatTimeout <= c.Engine.HeartbeatInterval:
		return fmt.Errorf("supervisor.heartbeat_timeout must exceed engine.heartbeat_interval")
	case c.Exchange.RatePerSec <= 0 || c.Exchange.Burst <= 0:
		return fmt.Errorf("exchange rate limit must be positive")
	case c.Engine.CandleHistory < 60:
		return fmt.Errorf("engine.candle_history must be at least 60")
	}
	return nil
}

func (c *Config) PublicAddr() string { return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.PublicPort) }
func (c *Config) AdminAddr() string  { return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.AdminPort) }

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
