// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Frontend
	FrontendURL    string   // Base URL for checkout success/cancel and portal return redirects
	AllowedOrigins []string // CORS allowlist; defaults to FrontendURL

	// Stripe
	StripeSecretKey string
	// Price IDs per plan, configured in the Stripe dashboard
	PriceBasicMonth    string
	PriceBasicYear     string
	PriceAdvancedMonth string
	PriceAdvancedYear  string
	PricePremiumMonth  string
	PricePremiumYear   string

	// Firebase
	FirebaseProjectID string // credentials come from GOOGLE_APPLICATION_CREDENTIALS

	// Rate limiting
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultRateLimit = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		FrontendURL:        os.Getenv("FRONTEND_URL"),
		StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
		PriceBasicMonth:    os.Getenv("STRIPE_PRICE_BASIC_MONTH"),
		PriceBasicYear:     os.Getenv("STRIPE_PRICE_BASIC_YEAR"),
		PriceAdvancedMonth: os.Getenv("STRIPE_PRICE_ADVANCED_MONTH"),
		PriceAdvancedYear:  os.Getenv("STRIPE_PRICE_ADVANCED_YEAR"),
		PricePremiumMonth:  os.Getenv("STRIPE_PRICE_PREMIUM_MONTH"),
		PricePremiumYear:   os.Getenv("STRIPE_PRICE_PREMIUM_YEAR"),
		FirebaseProjectID:  os.Getenv("FIREBASE_PROJECT_ID"),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	} else if cfg.FrontendURL != "" {
		cfg.AllowedOrigins = []string{cfg.FrontendURL}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	if c.FrontendURL == "" {
		return fmt.Errorf("FRONTEND_URL is required")
	}

	// The base plan price is the fallback for unknown price IDs, so it
	// must exist even if the other tiers are not configured yet.
	if c.PriceBasicMonth == "" {
		return fmt.Errorf("STRIPE_PRICE_BASIC_MONTH is required")
	}

	if c.FirebaseProjectID == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
