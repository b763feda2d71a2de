package donations

import (
	"net/mail"
	"strings"
	"unicode"
)

const (
	// MaxAmountMinorUnits is the largest charge the gateway accepts in a single intent
	MaxAmountMinorUnits = 99999999

	maxIdempotencyKeyLen = 255
	maxNameLen           = 255
	maxMetadataKeys      = 20
	maxMetadataKeyLen    = 40
	maxMetadataValueLen  = 500
)

// reservedMetadataKeys are set by intake itself on every intent
var reservedMetadataKeys = map[string]bool{
	"attempt_id":      true,
	"idempotency_key": true,
	"organization":    true,
	"ein":             true,
}

// DonationRequest is the intake payload
type DonationRequest struct {
	AmountMinorUnits int64             `json:"amountMinorUnits"`
	Currency         string            `json:"currency"`
	IdempotencyKey   string            `json:"idempotencyKey"`
	DonorEmail       string            `json:"donorEmail,omitempty"`
	DonorName        string            `json:"donorName,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Limits are the deployment's acceptance rules for intake
type Limits struct {
	MinAmountMinorUnits int64
	Currencies          []string
}

func (l Limits) allows(currency string) bool {
	for _, c := range l.Currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// Normalize trims the request in place and lowercases the currency
func (r *DonationRequest) Normalize() {
	r.Currency = strings.ToLower(strings.TrimSpace(r.Currency))
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.DonorEmail = strings.TrimSpace(r.DonorEmail)
	r.DonorName = strings.TrimSpace(r.DonorName)
}

// Validate reports every problem with r as a *ValidationError
func (r DonationRequest) Validate(limits Limits) error {
	verr := &ValidationError{}

	switch {
	case r.IdempotencyKey == "":
		verr.add("idempotencyKey", "is required")
	case len(r.IdempotencyKey) > maxIdempotencyKeyLen:
		verr.add("idempotencyKey", "must be at most %d characters", maxIdempotencyKeyLen)
	case strings.IndexFunc(r.IdempotencyKey, func(c rune) bool { return !unicode.IsPrint(c) || unicode.IsSpace(c) }) >= 0:
		verr.add("idempotencyKey", "must not contain whitespace or control characters")
	}

	if r.AmountMinorUnits < limits.MinAmountMinorUnits {
		verr.add("amountMinorUnits", "must be at least %d", limits.MinAmountMinorUnits)
	} else if r.AmountMinorUnits > MaxAmountMinorUnits {
		verr.add("amountMinorUnits", "must be at most %d", MaxAmountMinorUnits)
	}

	if len(r.Currency) != 3 {
		verr.add("currency", "must be a 3-letter ISO 4217 code")
	} else if !limits.allows(r.Currency) {
		verr.add("currency", "%s is not accepted", r.Currency)
	}

	if r.DonorEmail != "" {
		if addr, err := mail.ParseAddress(r.DonorEmail); err != nil || addr.Address != r.DonorEmail {
			verr.add("donorEmail", "is not a valid email address")
		}
	}
	if len(r.DonorName) > maxNameLen {
		verr.add("donorName", "must be at most %d characters", maxNameLen)
	}

	if len(r.Metadata) > maxMetadataKeys {
		verr.add("metadata", "must have at most %d keys", maxMetadataKeys)
	}
	for k, v := range r.Metadata {
		switch {
		case k == "" || len(k) > maxMetadataKeyLen:
			verr.add("metadata", "key %q must be 1-%d characters", k, maxMetadataKeyLen)
		case reservedMetadataKeys[k]:
			verr.add("metadata", "key %q is reserved", k)
		case len(v) > maxMetadataValueLen:
			verr.add("metadata", "value for %q must be at most %d characters", k, maxMetadataValueLen)
		}
	}

	return verr.orNil()
}

// ValidateAmount applies only the amount rules, for callers outside intake
func ValidateAmount(amount, minimum int64) error {
	verr := &ValidationError{}
	if amount < minimum {
		verr.add("amountMinorUnits", "must be at least %d", minimum)
	}
	return verr.orNil()
}
