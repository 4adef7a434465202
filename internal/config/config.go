/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), then normalizes the values the rest of the service depends on.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 * - github.com/shopspring/decimal: loan interest rate parsing.
 * - github.com/sirupsen/logrus: warnings for coerced values.
 */

package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/transfa/ledger-service/internal/domain"
)

// Config holds all the configuration variables for the ledger-service.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	LogLevel                     string `mapstructure:"LOG_LEVEL"`
	LogFormat                    string `mapstructure:"LOG_FORMAT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	StoreDriver                  string `mapstructure:"STORE_DRIVER"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix               string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	GatewayEventQueue            string `mapstructure:"GATEWAY_EVENT_QUEUE"`
	LedgerEventsExchange         string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	PaystackBaseURL              string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey            string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackWebhookSecret        string `mapstructure:"PAYSTACK_WEBHOOK_SECRET"`
	PaystackCallbackURL          string `mapstructure:"PAYSTACK_CALLBACK_URL"`
	GatewayTimeoutSeconds        int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	JWKSURL                      string `mapstructure:"JWKS_URL"`
	CORSAllowedOrigins           string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LoanInterestRate             string `mapstructure:"LOAN_INTEREST_RATE"`
	LoanRepaymentPeriodDays      int    `mapstructure:"LOAN_REPAYMENT_PERIOD_DAYS"`
	LoanRepaymentSchedule        string `mapstructure:"LOAN_REPAYMENT_SCHEDULE"`
	TransferCodeTTLMinutes       int    `mapstructure:"TRANSFER_CODE_TTL_MINUTES"`
	WithdrawalRateLimitPerMinute int    `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_MINUTE"`
	BankCacheTTLMinutes          int    `mapstructure:"BANK_CACHE_TTL_MINUTES"`
	GLWalletPool                 string `mapstructure:"GL_WALLET_POOL"`
	GLBankSettlement             string `mapstructure:"GL_BANK_SETTLEMENT"`
	GLLoanDisbursement           string `mapstructure:"GL_LOAN_DISBURSEMENT"`
	GLLoanReceivable             string `mapstructure:"GL_LOAN_RECEIVABLE"`
	GLInwardClearing             string `mapstructure:"GL_INWARD_CLEARING"`
	GLVendorPayment              string `mapstructure:"GL_VENDOR_PAYMENT"`
}

var envKeys = []string{
	"SERVER_PORT", "PORT", "LOG_LEVEL", "LOG_FORMAT",
	"DATABASE_URL", "STORE_DRIVER", "REDIS_URL", "REDIS_KEY_PREFIX",
	"RABBITMQ_URL", "GATEWAY_EVENT_QUEUE", "LEDGER_EVENTS_EXCHANGE",
	"PAYSTACK_BASE_URL", "PAYSTACK_SECRET_KEY", "PAYSTACK_WEBHOOK_SECRET", "PAYSTACK_CALLBACK_URL",
	"GATEWAY_TIMEOUT_SECONDS", "JWKS_URL", "CORS_ALLOWED_ORIGINS",
	"LOAN_INTEREST_RATE", "LOAN_REPAYMENT_PERIOD_DAYS", "LOAN_REPAYMENT_SCHEDULE",
	"TRANSFER_CODE_TTL_MINUTES", "WITHDRAWAL_RATE_LIMIT_PER_MINUTE", "BANK_CACHE_TTL_MINUTES",
	"GL_WALLET_POOL", "GL_BANK_SETTLEMENT", "GL_LOAN_DISBURSEMENT",
	"GL_LOAN_RECEIVABLE", "GL_INWARD_CLEARING", "GL_VENDOR_PAYMENT",
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	log := logrus.WithField("component", "config")

	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	gl := domain.DefaultGLAccounts()
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("STORE_DRIVER", "postgres")
	viper.SetDefault("REDIS_KEY_PREFIX", "ledger")
	viper.SetDefault("GATEWAY_EVENT_QUEUE", "ledger_service.gateway_events")
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", "ledger.events")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 30)
	viper.SetDefault("LOAN_INTEREST_RATE", domain.DefaultInterestRate.String())
	viper.SetDefault("LOAN_REPAYMENT_PERIOD_DAYS", domain.DefaultRepaymentPeriod)
	viper.SetDefault("LOAN_REPAYMENT_SCHEDULE", "0 1 * * *")
	viper.SetDefault("TRANSFER_CODE_TTL_MINUTES", 30)
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("BANK_CACHE_TTL_MINUTES", 720)
	viper.SetDefault("GL_WALLET_POOL", gl.WalletPool)
	viper.SetDefault("GL_BANK_SETTLEMENT", gl.BankSettlement)
	viper.SetDefault("GL_LOAN_DISBURSEMENT", gl.LoanDisbursement)
	viper.SetDefault("GL_LOAN_RECEIVABLE", gl.LoanReceivable)
	viper.SetDefault("GL_INWARD_CLEARING", gl.InwardClearing)
	viper.SetDefault("GL_VENDOR_PAYMENT", gl.VendorPayment)

	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.WithError(err).Warn("failed to read config file; using environment values")
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != "memory" {
		config.StoreDriver = "postgres"
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "ledger"
	}
	config.PaystackBaseURL = strings.TrimRight(strings.TrimSpace(config.PaystackBaseURL), "/")
	config.PaystackSecretKey = strings.TrimSpace(config.PaystackSecretKey)
	config.PaystackWebhookSecret = strings.TrimSpace(config.PaystackWebhookSecret)
	if config.PaystackWebhookSecret == "" {
		config.PaystackWebhookSecret = config.PaystackSecretKey
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)

	if config.GatewayTimeoutSeconds <= 0 {
		config.GatewayTimeoutSeconds = 30
	}
	if config.LoanRepaymentPeriodDays < 1 {
		log.WithField("value", config.LoanRepaymentPeriodDays).Warn("invalid loan repayment period; using default")
		config.LoanRepaymentPeriodDays = domain.DefaultRepaymentPeriod
	}
	if rate, parseErr := decimal.NewFromString(strings.TrimSpace(config.LoanInterestRate)); parseErr != nil || rate.IsNegative() {
		log.WithField("value", config.LoanInterestRate).Warn("invalid LOAN_INTEREST_RATE; using default")
		config.LoanInterestRate = domain.DefaultInterestRate.String()
	}
	if strings.TrimSpace(config.LoanRepaymentSchedule) == "" {
		config.LoanRepaymentSchedule = "0 1 * * *"
	}
	if config.TransferCodeTTLMinutes <= 0 {
		config.TransferCodeTTLMinutes = 30
	}
	if config.WithdrawalRateLimitPerMinute <= 0 {
		config.WithdrawalRateLimitPerMinute = 10
	}
	if config.BankCacheTTLMinutes <= 0 {
		config.BankCacheTTLMinutes = 720
	}

	config.GLWalletPool = glCode(log, "GL_WALLET_POOL", config.GLWalletPool, gl.WalletPool)
	config.GLBankSettlement = glCode(log, "GL_BANK_SETTLEMENT", config.GLBankSettlement, gl.BankSettlement)
	config.GLLoanDisbursement = glCode(log, "GL_LOAN_DISBURSEMENT", config.GLLoanDisbursement, gl.LoanDisbursement)
	config.GLLoanReceivable = glCode(log, "GL_LOAN_RECEIVABLE", config.GLLoanReceivable, gl.LoanReceivable)
	config.GLInwardClearing = glCode(log, "GL_INWARD_CLEARING", config.GLInwardClearing, gl.InwardClearing)
	config.GLVendorPayment = glCode(log, "GL_VENDOR_PAYMENT", config.GLVendorPayment, gl.VendorPayment)

	return
}

func glCode(log *logrus.Entry, key, value, fallback string) string {
	value = strings.TrimSpace(value)
	if domain.ValidGLAcctNo(value) {
		return value
	}
	log.WithFields(logrus.Fields{"key": key, "value": value}).Warn("invalid GL account code; using default")
	return fallback
}

// GLAccounts returns the configured chart of accounts.
func (c Config) GLAccounts() domain.GLAccounts {
	return domain.GLAccounts{
		WalletPool:       c.GLWalletPool,
		BankSettlement:   c.GLBankSettlement,
		LoanDisbursement: c.GLLoanDisbursement,
		LoanReceivable:   c.GLLoanReceivable,
		InwardClearing:   c.GLInwardClearing,
		VendorPayment:    c.GLVendorPayment,
	}
}

// LoanTerms returns the configured default loan pricing.
func (c Config) LoanTerms() domain.LoanTerms {
	rate, err := decimal.NewFromString(c.LoanInterestRate)
	if err != nil {
		rate = domain.DefaultInterestRate
	}
	return domain.LoanTerms{InterestRate: rate, RepaymentPeriod: c.LoanRepaymentPeriodDays}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas. Empty means any origin.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c Config) TransferCodeTTL() time.Duration {
	return time.Duration(c.TransferCodeTTLMinutes) * time.Minute
}

func (c Config) BankCacheTTL() time.Duration {
	return time.Duration(c.BankCacheTTLMinutes) * time.Minute
}
