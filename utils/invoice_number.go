package utils

import (
	"fmt"
	"strings"
)

const invoiceSequenceWidth = 6

// FormatInvoiceNumber renders prefix, year and a zero padded sequence value,
// e.g. INV-2026-000123. Values wider than the padding are kept whole.
func FormatInvoiceNumber(prefix string, year int, seq int64) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "INV"
	}
	return fmt.Sprintf("%s-%d-%0*d", prefix, year, invoiceSequenceWidth, seq)
}
