package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"lifecycle_bot/pkg/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	brokerKeyENV      = "OKX_API_KEY"
	brokerSecretENV   = "OKX_API_SECRET"
	brokerPassENV     = "OKX_PASSPHRASE"
)

// Config: статическая часть конфига (подключения, порты, режим брокера).
// Торговые параметры читаются через Provider на каждом решении.
type Config struct {
	Path string `yaml:"-"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Storage struct {
		Driver     string `yaml:"driver"` // memory | postgres | sqlite
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`

	Log     logger.Config `yaml:"log"`
	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	Broker struct {
		Mode       string `yaml:"mode"` // simulation | okx
		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		Passphrase string `yaml:"passphrase"`
		BaseURL    string `yaml:"base_url"`

		RetryAttempts  int           `yaml:"retry_attempts"`
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

		SimBalance float64 `yaml:"sim_balance"`
	} `yaml:"broker"`

	SignalFeed struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Buffer  int    `yaml:"buffer"`
	} `yaml:"signal_feed"`

	MarketData struct {
		Enabled   bool          `yaml:"enabled"`
		URL       string        `yaml:"url"`
		Symbols   []string      `yaml:"symbols"`
		Timeframe string        `yaml:"timeframe"`
		TrendTTL  time.Duration `yaml:"trend_ttl"`
	} `yaml:"market_data"`

	Dispatcher struct {
		Shards int `yaml:"shards"`
		Queue  int `yaml:"queue"`
	} `yaml:"dispatcher"`

	NotifyQueue int `yaml:"notify_queue"`
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	path := filepath.Join(getenvDefault(configDirENV, "configs"), configFileName)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	config := defaults()
	config.Path = path

	decoder := yaml.NewDecoder(file)
	if err = decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	applyEnv(config)
	return config, nil
}

func defaults() *Config {
	c := &Config{}
	c.Storage.Driver = getenvDefault("STORAGE_DRIVER", "sqlite")
	c.Storage.SQLitePath = getenvDefault("SQLITE_PATH", "data/lifecycle.db")
	c.Service.Host = "0.0.0.0"
	c.Service.AdminPort = intFromEnv("ADMIN_PORT", 8080)
	c.Log.Level = getenvDefault("LOG_LEVEL", "info")
	c.Broker.Mode = getenvDefault("BROKER_MODE", "simulation")
	c.Broker.BaseURL = "https://www.okx.com"
	c.Broker.RetryAttempts = intFromEnv("BROKER_RETRY_ATTEMPTS", 3)
	c.Broker.RetryBaseDelay = durationFromEnv("BROKER_RETRY_DELAY", "500ms")
	c.Broker.SimBalance = floatFromEnv("SIM_BALANCE", 10000)
	c.SignalFeed.Buffer = 64
	c.MarketData.URL = "wss://ws.okx.com:8443/ws/v5/business"
	c.MarketData.Timeframe = "5m"
	c.MarketData.TrendTTL = 15 * time.Minute
	c.Dispatcher.Shards = 8
	c.Dispatcher.Queue = 128
	c.NotifyQueue = intFromEnv("NOTIFY_QUEUE", 256)
	return c
}

func applyEnv(config *Config) {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if v := os.Getenv(chatTelegramENV); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}
	if v := os.Getenv(brokerKeyENV); v != "" {
		config.Broker.APIKey = v
	}
	if v := os.Getenv(brokerSecretENV); v != "" {
		config.Broker.APISecret = v
	}
	if v := os.Getenv(brokerPassENV); v != "" {
		config.Broker.Passphrase = v
	}
}

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
