package util

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

type CoinGeckoConfig struct {
	BaseURL            string
	ApiKey             string
	PerPage            int
	Pages              int
	Timeout            time.Duration
	MinRequestInterval time.Duration
	MonthlyLimit       int
}

type CreditConfig struct {
	MinPrice          decimal.Decimal
	MaxPrice          decimal.Decimal
	RequireMarketData bool
}

type RefreshConfig struct {
	Interval       time.Duration
	CacheTTL       time.Duration
	RefreshOnStart bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SQSConfig struct {
	Region   string
	QueueURL string
}

type ApiConfig struct {
	AllowedOrigins []string
	BlockedIPs     []string
}

type Config struct {
	Env       Environment
	Port      int
	LogLevel  string
	CoinGecko CoinGeckoConfig
	Credit    CreditConfig
	Refresh   RefreshConfig
	Kafka     KafkaConfig
	SQS       SQSConfig
	Api       ApiConfig
}

func (c Config) IsProduction() bool {
	return c.Env == Production
}

// env names predate this service and are kept as-is
var envBindings = map[string]string{
	"env":                        "APP_ENV",
	"port":                       "PORT",
	"log_level":                  "LOG_LEVEL",
	"secrets_file":               "SECRETS_FILE",
	"coingecko.base_url":         "COINGECKO_BASE_URL",
	"coingecko.api_key":          "COINGECKO_API_KEY",
	"coingecko.pages":            "COINGECKO_PAGES",
	"coingecko.monthly_limit":    "COINGECKO_MONTHLY_LIMIT",
	"refresh.interval_seconds":   "UPDATE_INTERVAL",
	"refresh.cache_ttl_seconds":  "CACHE_TTL",
	"refresh.on_start":           "REFRESH_ON_START",
	"credit.min_price":           "MIN_PRICE",
	"credit.max_price":           "MAX_PRICE",
	"credit.require_market_data": "REQUIRE_MARKET_DATA",
	"kafka.brokers":              "KAFKA_BROKERS",
	"kafka.topic":                "KAFKA_TOPIC",
	"sqs.region":                 "AWS_REGION",
	"sqs.queue_url":              "SQS_QUEUE_URL",
	"api.allowed_origins":        "ALLOWED_ORIGINS",
	"api.blocked_ips":            "BLOCKED_IPS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", string(Development))
	v.SetDefault("port", 5000)
	v.SetDefault("log_level", "info")
	v.SetDefault("secrets_file", "secrets.json")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.per_page", 250)
	v.SetDefault("coingecko.pages", 1)
	v.SetDefault("coingecko.timeout_seconds", 10)
	v.SetDefault("coingecko.min_request_interval_ms", 500)
	v.SetDefault("coingecko.monthly_limit", 10000)

	v.SetDefault("refresh.interval_seconds", 300)
	// 0 means "same as the refresh interval"
	v.SetDefault("refresh.cache_ttl_seconds", 0)
	v.SetDefault("refresh.on_start", true)

	v.SetDefault("credit.min_price", "0.01")
	v.SetDefault("credit.max_price", "1000000")
	v.SetDefault("credit.require_market_data", false)

	v.SetDefault("kafka.topic", "barter.credit")
	v.SetDefault("api.allowed_origins", []string{"*"})
}

// LoadConfig layers defaults, an optional config.yaml from dirs, a
// .env file and the process environment, in that order.
func LoadConfig(dirs ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	if err := v.ReadInConfig(); err != nil {
		notFound := viper.ConfigFileNotFoundError{}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	return configFromViper(v)
}

func configFromViper(v *viper.Viper) (*Config, error) {
	minPrice, err := decimal.NewFromString(v.GetString("credit.min_price"))
	if err != nil {
		return nil, fmt.Errorf("invalid credit.min_price: %w", err)
	}
	maxPrice, err := decimal.NewFromString(v.GetString("credit.max_price"))
	if err != nil {
		return nil, fmt.Errorf("invalid credit.max_price: %w", err)
	}
	if minPrice.IsNegative() {
		return nil, fmt.Errorf("credit.min_price must not be negative, got %s", minPrice)
	}

	interval := time.Duration(v.GetInt("refresh.interval_seconds")) * time.Second
	if interval <= 0 {
		return nil, fmt.Errorf("refresh.interval_seconds must be positive, got %d", v.GetInt("refresh.interval_seconds"))
	}
	ttl := time.Duration(v.GetInt("refresh.cache_ttl_seconds")) * time.Second
	if ttl <= 0 {
		ttl = interval
	}

	cfg := &Config{
		Env:      Environment(strings.ToLower(v.GetString("env"))),
		Port:     v.GetInt("port"),
		LogLevel: v.GetString("log_level"),
		CoinGecko: CoinGeckoConfig{
			BaseURL:            strings.TrimRight(v.GetString("coingecko.base_url"), "/"),
			ApiKey:             v.GetString("coingecko.api_key"),
			PerPage:            v.GetInt("coingecko.per_page"),
			Pages:              v.GetInt("coingecko.pages"),
			Timeout:            time.Duration(v.GetInt("coingecko.timeout_seconds")) * time.Second,
			MinRequestInterval: time.Duration(v.GetInt("coingecko.min_request_interval_ms")) * time.Millisecond,
			MonthlyLimit:       v.GetInt("coingecko.monthly_limit"),
		},
		Credit: CreditConfig{
			MinPrice:          minPrice,
			MaxPrice:          maxPrice,
			RequireMarketData: v.GetBool("credit.require_market_data"),
		},
		Refresh: RefreshConfig{
			Interval:       interval,
			CacheTTL:       ttl,
			RefreshOnStart: v.GetBool("refresh.on_start"),
		},
		Kafka: KafkaConfig{
			Brokers: stringList(v, "kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		SQS: SQSConfig{
			Region:   v.GetString("sqs.region"),
			QueueURL: v.GetString("sqs.queue_url"),
		},
		Api: ApiConfig{
			AllowedOrigins: stringList(v, "api.allowed_origins"),
			BlockedIPs:     stringList(v, "api.blocked_ips"),
		},
	}

	if cfg.CoinGecko.ApiKey == "" {
		// older deployments keep the key in secrets.json
		if secrets, err := LoadSecrets(v.GetString("secrets_file")); err == nil {
			cfg.CoinGecko.ApiKey = secrets.CoinGeckoKey
		}
	}

	return cfg, nil
}

// stringList accepts either a yaml list or a comma separated env value
func stringList(v *viper.Viper, key string) []string {
	raw := v.Get(key)
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, ",")
	default:
		parts = v.GetStringSlice(key)
	}

	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
