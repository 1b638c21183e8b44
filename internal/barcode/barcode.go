// Package barcode turns raw scanner input into a SKU lookup key.
package barcode

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const packedPrefix = "PB"

var (
	ErrEmpty       = errors.New("barcode: empty scan")
	ErrUnreadable  = errors.New("barcode: scanner reported a failed read")
	ErrMalformed   = errors.New("barcode: malformed scan")
	ErrMissingSKU  = errors.New("barcode: missing sku")
	ErrNonPrinting = errors.New("barcode: non-printable character in scan")
)

// Decode accepts either a bare SKU or a packed label of the form
// PB|<categoryCode>|<sku>. The returned SKU is upper-cased.
func Decode(scan string) (sku, categoryCode string, err error) {
	raw := strings.TrimSpace(scan)
	if raw == "" {
		return "", "", ErrEmpty
	}
	if !utf8.ValidString(raw) {
		return "", "", fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	for _, r := range raw {
		if !unicode.IsPrint(r) {
			return "", "", ErrNonPrinting
		}
	}

	if !strings.Contains(raw, "|") {
		if failedRead(raw) {
			return "", "", ErrUnreadable
		}
		if hasSpace(raw) {
			return "", "", fmt.Errorf("%w: whitespace in sku", ErrMalformed)
		}
		return strings.ToUpper(raw), "", nil
	}

	fields := strings.Split(raw, "|")
	if len(fields) != 3 || !strings.EqualFold(fields[0], packedPrefix) {
		return "", "", fmt.Errorf("%w: expected %s|<category>|<sku>", ErrMalformed, packedPrefix)
	}
	for _, f := range fields {
		if failedRead(f) {
			return "", "", ErrUnreadable
		}
		if hasSpace(f) {
			return "", "", fmt.Errorf("%w: whitespace in field", ErrMalformed)
		}
	}
	if fields[2] == "" {
		return "", "", ErrMissingSKU
	}
	return strings.ToUpper(fields[2]), strings.ToUpper(fields[1]), nil
}

func failedRead(s string) bool {
	return strings.EqualFold(s, "NOREAD") || strings.EqualFold(s, "ERROR")
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
