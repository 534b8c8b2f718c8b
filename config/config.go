package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

type Config struct {
	App        AppConfig
	HTTP       ServerConfig
	MySQL      MySQLConfig
	Log        LogConfig
	Payments   PaymentsConfig
	AbacatePay AbacatePayConfig
	Itau       ItauConfig
	Rede       RedeConfig
	Jobs       JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
	Environment string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type PaymentsConfig struct {
	Provider       string
	MerchantName   string
	MerchantCity   string
	PixKey         string
	ReturnURL      string
	CancelURL      string
	PendingTimeout time.Duration
	StaleAfter     time.Duration
	JobBatchSize   int32
}

type AbacatePayConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	HTTPTimeout   time.Duration
}

type ItauConfig struct {
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	BaseURL       string
	TokenURL      string
	PixKey        string
	HTTPTimeout   time.Duration
}

type RedeConfig struct {
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	BaseURL       string
	TokenURL      string
	HTTPTimeout   time.Duration
}

type JobsConfig struct {
	ExpireStaleInterval time.Duration
	ReconcileInterval   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	environment := strings.ToLower(getEnv("APP_ENV", EnvSandbox))
	if environment != EnvSandbox && environment != EnvProduction {
		return nil, fmt.Errorf("APP_ENV must be %q or %q", EnvSandbox, EnvProduction)
	}

	paymentsProvider := strings.ToLower(getEnv("PAYMENTS_PROVIDER", "abacatepay"))
	switch paymentsProvider {
	case "abacatepay", "itau", "rede":
	default:
		return nil, fmt.Errorf("PAYMENTS_PROVIDER %q is not supported", paymentsProvider)
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "checkout-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
			Environment: environment,
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Payments: PaymentsConfig{
			Provider:       paymentsProvider,
			MerchantName:   getEnv("PAYMENTS_MERCHANT_NAME", "Lua Store"),
			MerchantCity:   getEnv("PAYMENTS_MERCHANT_CITY", "SAO PAULO"),
			PixKey:         getEnv("PAYMENTS_PIX_KEY", ""),
			ReturnURL:      getEnv("PAYMENTS_RETURN_URL", ""),
			CancelURL:      getEnv("PAYMENTS_CANCEL_URL", ""),
			PendingTimeout: getMinutesEnv("PAYMENTS_PENDING_TIMEOUT_MINUTES", 60*time.Minute),
			StaleAfter:     getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			JobBatchSize:   int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		AbacatePay: AbacatePayConfig{
			APIKey:        getEnv("ABACATEPAY_API_KEY", ""),
			WebhookSecret: getEnv("ABACATEPAY_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("ABACATEPAY_BASE_URL", ""),
			HTTPTimeout:   getSecondsEnv("ABACATEPAY_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Itau: ItauConfig{
			ClientID:      getEnv("ITAU_CLIENT_ID", ""),
			ClientSecret:  getEnv("ITAU_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("ITAU_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("ITAU_BASE_URL", ""),
			TokenURL:      getEnv("ITAU_TOKEN_URL", ""),
			PixKey:        getEnv("ITAU_PIX_KEY", getEnv("PAYMENTS_PIX_KEY", "")),
			HTTPTimeout:   getSecondsEnv("ITAU_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Rede: RedeConfig{
			ClientID:      getEnv("REDE_CLIENT_ID", ""),
			ClientSecret:  getEnv("REDE_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("REDE_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("REDE_BASE_URL", ""),
			TokenURL:      getEnv("REDE_TOKEN_URL", ""),
			HTTPTimeout:   getSecondsEnv("REDE_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Jobs: JobsConfig{
			ExpireStaleInterval: getMinutesEnv("PAYMENTS_EXPIRE_STALE_INTERVAL_MINUTES", 5*time.Minute),
			ReconcileInterval:   getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
		},
	}, nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
