package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting the server, worker and CLI read at startup.
type Config struct {
	Port   string
	AppEnv string
	AppURL string

	DatabaseURL string
	RedisURL    string

	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration

	MinAmountMinorUnits  int64
	AllowedCurrencies    []string
	SweepWindow          time.Duration
	CreatedGrace         time.Duration
	DeadLetterThreshold  int
	ReceiptClaimLease    time.Duration
	ReceiptBackfillDelay time.Duration

	EmailProvider string
	ResendAPIKey  string
	SMTPHost      string
	SMTPPort      string
	SMTPUser      string
	SMTPPass      string
	EmailFrom     string
	StaffEmail    string

	WahaBaseURL     string
	WahaAPIKey      string
	WahaStaffChatID string

	KafkaBrokers []string
	KafkaTopic   string

	OTELEndpoint string

	FirebaseCredentialsPath string

	IntakeRateLimit  int
	IntakeRateWindow time.Duration
	// TrustedProxies are the CIDRs allowed to set X-Forwarded-For
	TrustedProxies []string

	OrganizationName string
	OrganizationEIN  string

	WorkerInterval time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_URL", "http://localhost:8080")
	v.SetDefault("STRIPE_WEBHOOK_TOLERANCE", "5m")
	v.SetDefault("DONATION_MIN_AMOUNT", 500)
	v.SetDefault("DONATION_CURRENCIES", "usd")
	v.SetDefault("DONATION_SWEEP_WINDOW", "24h")
	v.SetDefault("DONATION_CREATED_GRACE", "1h")
	v.SetDefault("WEBHOOK_DEADLETTER_THRESHOLD", 5)
	v.SetDefault("RECEIPT_CLAIM_LEASE", "10m")
	v.SetDefault("RECEIPT_BACKFILL_DELAY", "15m")
	v.SetDefault("EMAIL_PROVIDER", "log")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("EMAIL_FROM", "Meauxbility <noreply@meauxbility.org>")
	v.SetDefault("STAFF_EMAIL", "info@meauxbility.org")
	v.SetDefault("WAHA_BASE_URL", "http://waha:3000")
	v.SetDefault("KAFKA_TOPIC", "donation.state.changed")
	v.SetDefault("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json")
	v.SetDefault("INTAKE_RATE_LIMIT", 20)
	v.SetDefault("INTAKE_RATE_WINDOW", "1m")
	v.SetDefault("ORGANIZATION_NAME", "Meauxbility")
	v.SetDefault("ORGANIZATION_EIN", "33-4214907")
	v.SetDefault("WORKER_INTERVAL", "5m")
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Port:   v.GetString("PORT"),
		AppEnv: v.GetString("APP_ENV"),
		AppURL: v.GetString("APP_URL"),

		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisURL:    v.GetString("REDIS_URL"),

		StripeSecretKey:        v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:    v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeWebhookTolerance: v.GetDuration("STRIPE_WEBHOOK_TOLERANCE"),

		MinAmountMinorUnits:  v.GetInt64("DONATION_MIN_AMOUNT"),
		AllowedCurrencies:    splitList(v.GetString("DONATION_CURRENCIES"), true),
		SweepWindow:          v.GetDuration("DONATION_SWEEP_WINDOW"),
		CreatedGrace:         v.GetDuration("DONATION_CREATED_GRACE"),
		DeadLetterThreshold:  v.GetInt("WEBHOOK_DEADLETTER_THRESHOLD"),
		ReceiptClaimLease:    v.GetDuration("RECEIPT_CLAIM_LEASE"),
		ReceiptBackfillDelay: v.GetDuration("RECEIPT_BACKFILL_DELAY"),

		EmailProvider: strings.ToLower(v.GetString("EMAIL_PROVIDER")),
		ResendAPIKey:  v.GetString("RESEND_API_KEY"),
		SMTPHost:      v.GetString("SMTP_HOST"),
		SMTPPort:      v.GetString("SMTP_PORT"),
		SMTPUser:      v.GetString("SMTP_USER"),
		SMTPPass:      v.GetString("SMTP_PASS"),
		EmailFrom:     v.GetString("EMAIL_FROM"),
		StaffEmail:    v.GetString("STAFF_EMAIL"),

		WahaBaseURL:     v.GetString("WAHA_BASE_URL"),
		WahaAPIKey:      v.GetString("WAHA_API_KEY"),
		WahaStaffChatID: v.GetString("WAHA_STAFF_CHAT_ID"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS"), false),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		OTELEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		FirebaseCredentialsPath: v.GetString("FIREBASE_CREDENTIALS_PATH"),

		IntakeRateLimit:  v.GetInt("INTAKE_RATE_LIMIT"),
		IntakeRateWindow: v.GetDuration("INTAKE_RATE_WINDOW"),
		TrustedProxies:   splitList(v.GetString("TRUSTED_PROXIES"), false),

		OrganizationName: v.GetString("ORGANIZATION_NAME"),
		OrganizationEIN:  v.GetString("ORGANIZATION_EIN"),

		WorkerInterval: v.GetDuration("WORKER_INTERVAL"),
	}
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is not set"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is not set"))
	}
	if c.MinAmountMinorUnits <= 0 {
		errs = append(errs, errors.New("DONATION_MIN_AMOUNT must be positive"))
	}
	if len(c.AllowedCurrencies) == 0 {
		errs = append(errs, errors.New("DONATION_CURRENCIES is empty"))
	}
	if c.DeadLetterThreshold < 1 {
		errs = append(errs, errors.New("WEBHOOK_DEADLETTER_THRESHOLD must be at least 1"))
	}
	return errors.Join(errs...)
}

func splitList(raw string, lower bool) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return out
}
