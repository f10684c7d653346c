package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port                string
	AllowedOrigin       string
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	WarehouseID         string
	LevyRatePercent     decimal.Decimal
	VoucherThresholdVES decimal.Decimal
	VoucherExpiryDays   int
	ExpiryWarningDays   int
	FallbackRateVES     decimal.Decimal
	RateTimeoutSeconds  int
	RateTTLSeconds      int
	ManagerPIN          string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	voucherDays, err := strconv.Atoi(getEnv("VOUCHER_EXPIRY_DAYS", "180"))
	if err != nil || voucherDays < 1 {
		voucherDays = 180
	}
	expiryDays, err := strconv.Atoi(getEnv("EXPIRY_WARNING_DAYS", "90"))
	if err != nil || expiryDays < 1 {
		expiryDays = 90
	}
	rateTimeout, err := strconv.Atoi(getEnv("RATE_TIMEOUT_SECONDS", "3"))
	if err != nil || rateTimeout < 1 {
		rateTimeout = 3
	}
	rateTTL, err := strconv.Atoi(getEnv("RATE_TTL_SECONDS", "300"))
	if err != nil || rateTTL < 1 {
		rateTTL = 300
	}

	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		AllowedOrigin:       getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             redisDB,
		WarehouseID:         getEnv("DEFAULT_WAREHOUSE_ID", "main"),
		LevyRatePercent:     getDecimal("CASH_LEVY_PERCENT", "3"),
		VoucherThresholdVES: getDecimal("VOUCHER_THRESHOLD_VES", "2"),
		VoucherExpiryDays:   voucherDays,
		ExpiryWarningDays:   expiryDays,
		FallbackRateVES:     getPositiveDecimal("FALLBACK_RATE_VES", "36"),
		RateTimeoutSeconds:  rateTimeout,
		RateTTLSeconds:      rateTTL,
		ManagerPIN:          strings.TrimSpace(os.Getenv("MANAGER_PIN")),
	}

	return cfg
}

// LevyRate returns the levy as a fraction, e.g. 3 percent -> 0.03.
func (c Config) LevyRate() decimal.Decimal {
	return c.LevyRatePercent.Div(decimal.NewFromInt(100))
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getDecimal(key string, fallback string) decimal.Decimal {
	val, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil || val.IsNegative() {
		val, _ = decimal.NewFromString(fallback)
	}
	return val
}

// getPositiveDecimal is for values used as divisors; zero is as bad as
// a negative there.
func getPositiveDecimal(key string, fallback string) decimal.Decimal {
	val, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil || !val.IsPositive() {
		val, _ = decimal.NewFromString(fallback)
	}
	return val
}
