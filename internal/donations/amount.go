package donations

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies whose minor unit is the major unit
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

var symbols = map[string]string{
	"usd": "$", "cad": "$", "aud": "$", "eur": "€", "gbp": "£", "jpy": "¥",
}

// FormatAmount renders a minor-unit amount for people, e.g. 2500 usd -> "$25.00 USD"
func FormatAmount(minorUnits int64, currency string) string {
	currency = strings.ToLower(currency)
	var value string
	if zeroDecimal[currency] {
		value = decimal.NewFromInt(minorUnits).StringFixed(0)
	} else {
		value = decimal.New(minorUnits, -2).StringFixed(2)
	}
	return symbols[currency] + value + " " + strings.ToUpper(currency)
}
