package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"schoolfees_app/internal/models"
)

// Config collects every environment-driven setting in one place so the
// rest of the code never reads os.Getenv directly.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	SMTPHost  string
	SMTPPort  string
	SMTPUser  string
	SMTPPass  string
	EmailFrom string

	StripeSecretKey     string
	StripeWebhookSecret string

	// BillingCutover is the fixed system-wide billing start: no monthly
	// billing is generated for any month before it, regardless of a
	// student's joining date. Business policy, not derived.
	BillingCutover time.Time

	// DefaultAdmissionFee is the fixed one-time enrollment charge,
	// overridable per student.
	DefaultAdmissionFee models.Pence
}

// defaultCutover is September 2025.
var defaultCutover = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

// Load reads .env if present and assembles the configuration.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using system environment")
	}

	cfg := Config{
		Port:                getenv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            getenv("REDIS_URL", "redis://localhost:6379/0"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            os.Getenv("SMTP_PORT"),
		SMTPUser:            os.Getenv("SMTP_USER"),
		SMTPPass:            os.Getenv("SMTP_PASS"),
		EmailFrom:           os.Getenv("EMAIL_FROM"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		BillingCutover:      defaultCutover,
		DefaultAdmissionFee: 2000, // 20.00
	}

	if v := os.Getenv("BILLING_CUTOVER"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			cfg.BillingCutover = t
		} else {
			log.Warn().Str("value", v).Err(err).Msg("invalid BILLING_CUTOVER, using default")
		}
	}
	if v := os.Getenv("ADMISSION_FEE_PENCE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.DefaultAdmissionFee = models.Pence(n)
		} else {
			log.Warn().Str("value", v).Msg("invalid ADMISSION_FEE_PENCE, using default")
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
