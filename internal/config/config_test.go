package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	cfg := FromViper(newViper())

	if cfg.Port != "8080" {
		t.Errorf("Port = %q; want 8080", cfg.Port)
	}
	if cfg.MinAmountMinorUnits != 500 {
		t.Errorf("MinAmountMinorUnits = %d; want 500", cfg.MinAmountMinorUnits)
	}
	if cfg.SweepWindow != 24*time.Hour {
		t.Errorf("SweepWindow = %v; want 24h", cfg.SweepWindow)
	}
	if cfg.StripeWebhookTolerance != 5*time.Minute {
		t.Errorf("StripeWebhookTolerance = %v; want 5m", cfg.StripeWebhookTolerance)
	}
	if len(cfg.AllowedCurrencies) != 1 || cfg.AllowedCurrencies[0] != "usd" {
		t.Errorf("AllowedCurrencies = %v; want [usd]", cfg.AllowedCurrencies)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v; want empty", cfg.KafkaBrokers)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v; want empty", cfg.TrustedProxies)
	}
}

func TestFromViperOverrides(t *testing.T) {
	v := newViper()
	v.Set("DONATION_CURRENCIES", " USD, eur ,,")
	v.Set("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	v.Set("DONATION_SWEEP_WINDOW", "2h")
	v.Set("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.0/12")

	cfg := FromViper(v)

	if got := cfg.AllowedCurrencies; len(got) != 2 || got[0] != "usd" || got[1] != "eur" {
		t.Errorf("AllowedCurrencies = %v; want [usd eur]", got)
	}
	if got := cfg.KafkaBrokers; len(got) != 2 || got[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokers = %v", got)
	}
	if cfg.SweepWindow != 2*time.Hour {
		t.Errorf("SweepWindow = %v; want 2h", cfg.SweepWindow)
	}
	if got := cfg.TrustedProxies; len(got) != 2 || got[1] != "172.16.0.0/12" {
		t.Errorf("TrustedProxies = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr bool
	}{
		{
			name:    "missing database and stripe",
			mutate:  func(v *viper.Viper) {},
			wantErr: true,
		},
		{
			name: "complete",
			mutate: func(v *viper.Viper) {
				v.Set("DATABASE_URL", "postgres://localhost/donations")
				v.Set("STRIPE_SECRET_KEY", "sk_test_123")
				v.Set("STRIPE_WEBHOOK_SECRET", "whsec_123")
			},
			wantErr: false,
		},
		{
			name: "zero dead letter threshold",
			mutate: func(v *viper.Viper) {
				v.Set("DATABASE_URL", "postgres://localhost/donations")
				v.Set("STRIPE_SECRET_KEY", "sk_test_123")
				v.Set("STRIPE_WEBHOOK_SECRET", "whsec_123")
				v.Set("WEBHOOK_DEADLETTER_THRESHOLD", 0)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			tt.mutate(v)
			err := FromViper(v).Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}
