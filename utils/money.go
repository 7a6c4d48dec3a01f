package utils

import (
	"fmt"
	"strings"
)

var currencySymbols = map[string]string{
	"GBP": "£",
	"EUR": "€",
	"USD": "$",
}

// FormatMoney renders an amount in minor units, e.g. 129900 GBP -> £1,299.00.
func FormatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}

	whole := fmt.Sprintf("%d", minor/100)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	amount := fmt.Sprintf("%s.%02d", grouped.String(), minor%100)
	if symbol, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return sign + symbol + amount
	}
	return sign + amount + " " + strings.ToUpper(currency)
}

// VATFromGross splits a VAT-inclusive amount into net and VAT parts,
// rounding VAT half up.
func VATFromGross(gross, ratePercent int64) (net, vat int64) {
	if ratePercent <= 0 {
		return gross, 0
	}
	vat = (gross*ratePercent*2 + (100 + ratePercent)) / (2 * (100 + ratePercent))
	return gross - vat, vat
}
