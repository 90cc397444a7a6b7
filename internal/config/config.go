package config

import (
	"os"
	"strconv"
	"time"
)

// Config collects every tunable the service reads from the environment.
// Monetary values are minor units (cents).
type Config struct {
	ServiceName string
	Env         string
	Addr        string

	Currency string
	// TaxRateBps is the flat tax policy in basis points (800 = 8%).
	TaxRateBps int64
	// FreeShippingOver waives the shipping fee when the subtotal is
	// strictly greater than this amount.
	FreeShippingOver int64
	ShippingFee      int64

	OrderNumberPrefix string
	OrderNumberWidth  int

	GatewayTimeout time.Duration
	StripeAPIKey   string

	// RecoveryDir is where the pebble-backed recovery journal lives.
	RecoveryDir string
}

func FromEnv() Config {
	return Config{
		ServiceName: getenvDefault("SERVICE_NAME", "storefront-checkout"),
		Env:         getenvDefault("ENV", "dev"),
		Addr:        getenvDefault("HTTP_ADDR", ":8080"),

		Currency:         getenvDefault("CURRENCY", "usd"),
		TaxRateBps:       getenvInt64("TAX_RATE_BPS", 800),
		FreeShippingOver: getenvInt64("FREE_SHIPPING_OVER_MINOR", 10000),
		ShippingFee:      getenvInt64("SHIPPING_FEE_MINOR", 999),

		OrderNumberPrefix: getenvDefault("ORDER_NUMBER_PREFIX", "ORD-"),
		OrderNumberWidth:  int(getenvInt64("ORDER_NUMBER_WIDTH", 6)),

		GatewayTimeout: getenvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		StripeAPIKey:   os.Getenv("STRIPE_SECRET_KEY"),

		RecoveryDir: getenvDefault("RECOVERY_DIR", "data/recovery"),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
