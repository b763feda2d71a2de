package donations

import "testing"

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   int64
		currency string
		want     string
	}{
		{500, "usd", "$5.00 USD"},
		{2599, "USD", "$25.99 USD"},
		{1, "eur", "€0.01 EUR"},
		{1500, "jpy", "¥1500 JPY"},
		{100000, "chf", "1000.00 CHF"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatAmount(tt.amount, tt.currency); got != tt.want {
				t.Errorf("FormatAmount(%d, %q) = %q; want %q", tt.amount, tt.currency, got, tt.want)
			}
		})
	}
}
