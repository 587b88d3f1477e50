// Package config loads runtime configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/database"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Broker backends.
const (
	BrokerNone     = "none"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// Config is the full runtime configuration.
type Config struct {
	Port  string
	Store string
	DB    database.Config

	GatewayBaseURL   string
	GatewaySecretKey string
	GatewayTimeout   time.Duration

	Currency            string
	PlatformName        string
	WithdrawalFeeRate   decimal.Decimal
	WithdrawalMinFee    decimal.Decimal
	RefundRetentionRate decimal.Decimal

	Broker        string
	KafkaBroker   string
	KafkaTopic    string
	RabbitMQURL   string
	RabbitMQQueue string

	PromotionExpirySchedule string
	PaymentSweepSchedule    string
	PaymentSweepAge         time.Duration
	PaymentAbandonAfter     time.Duration

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"port":                      "8080",
	"store":                     StorePostgres,
	"db_host":                   "localhost",
	"db_port":                   "5432",
	"db_user":                   "postgres",
	"db_password":               "postgres",
	"db_name":                   "settlement",
	"db_sslmode":                "disable",
	"gateway_base_url":          "https://api.paystack.co",
	"gateway_secret_key":        "",
	"gateway_timeout":           "15s",
	"currency":                  "NGN",
	"platform_name":             "tourbook",
	"withdrawal_fee_rate":       "0.005",
	"withdrawal_min_fee":        "10",
	"refund_retention_rate":     "0.01",
	"broker":                    BrokerNone,
	"kafka_broker":              "",
	"kafka_topic":               "settlement-events",
	"rabbitmq_url":              "",
	"rabbitmq_queue":            "settlement-events",
	"promotion_expiry_schedule": "@every 1h",
	"payment_sweep_schedule":    "@every 5m",
	"payment_sweep_age":         "10m",
	"payment_abandon_after":     "24h",
	"log_level":                 "info",
	"log_format":                "text",
}

// Load reads .env from the working directory when present, then the
// environment. Environment variables are the upper-cased keys, e.g. DB_HOST.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		Port:  v.GetString("port"),
		Store: strings.ToLower(v.GetString("store")),
		DB: database.Config{
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			DBName:   v.GetString("db_name"),
			SSLMode:  v.GetString("db_sslmode"),
		},
		GatewayBaseURL:          v.GetString("gateway_base_url"),
		GatewaySecretKey:        v.GetString("gateway_secret_key"),
		GatewayTimeout:          v.GetDuration("gateway_timeout"),
		Currency:                v.GetString("currency"),
		PlatformName:            v.GetString("platform_name"),
		Broker:                  strings.ToLower(v.GetString("broker")),
		KafkaBroker:             v.GetString("kafka_broker"),
		KafkaTopic:              v.GetString("kafka_topic"),
		RabbitMQURL:             v.GetString("rabbitmq_url"),
		RabbitMQQueue:           v.GetString("rabbitmq_queue"),
		PromotionExpirySchedule: v.GetString("promotion_expiry_schedule"),
		PaymentSweepSchedule:    v.GetString("payment_sweep_schedule"),
		PaymentSweepAge:         v.GetDuration("payment_sweep_age"),
		PaymentAbandonAfter:     v.GetDuration("payment_abandon_after"),
		LogLevel:                v.GetString("log_level"),
		LogFormat:               v.GetString("log_format"),
	}

	var err error
	if cfg.WithdrawalFeeRate, err = rate(v, "withdrawal_fee_rate"); err != nil {
		return nil, err
	}
	if cfg.RefundRetentionRate, err = rate(v, "refund_retention_rate"); err != nil {
		return nil, err
	}
	if cfg.WithdrawalMinFee, err = amount(v, "withdrawal_min_fee"); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	switch c.Broker {
	case BrokerNone, "":
		c.Broker = BrokerNone
	case BrokerKafka:
		if c.KafkaBroker == "" {
			return errors.New("KAFKA_BROKER is required when BROKER=kafka")
		}
	case BrokerRabbitMQ:
		if c.RabbitMQURL == "" {
			return errors.New("RABBITMQ_URL is required when BROKER=rabbitmq")
		}
	default:
		return fmt.Errorf("BROKER must be none, kafka or rabbitmq, got %q", c.Broker)
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("GATEWAY_TIMEOUT must be positive")
	}
	if c.PaymentSweepAge <= 0 || c.PaymentAbandonAfter <= 0 {
		return errors.New("PAYMENT_SWEEP_AGE and PAYMENT_ABANDON_AFTER must be positive")
	}
	return nil
}

// RequireGateway reports an error when the gateway secret is missing. Commands
// that talk to the gateway or accept webhooks call it.
func (c *Config) RequireGateway() error {
	if strings.TrimSpace(c.GatewaySecretKey) == "" {
		return errors.New("GATEWAY_SECRET_KEY is required")
	}
	return nil
}

func rate(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := amount(v, key)
	if err != nil {
		return d, err
	}
	if d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return d, fmt.Errorf("%s must be below 1, got %s", strings.ToUpper(key), d)
	}
	return d, nil
}

func amount(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return d, fmt.Errorf("%s: %w", strings.ToUpper(key), err)
	}
	if d.IsNegative() {
		return d, fmt.Errorf("%s cannot be negative, got %s", strings.ToUpper(key), d)
	}
	return d, nil
}
