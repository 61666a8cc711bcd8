// Package currency formats and parses Brazilian real amounts. Task values
// are stored as integer cents; strings only exist at the UI boundary.
package currency

import (
	"errors"
	"strings"
)

var ErrBadAmount = errors.New("unrecognized currency amount")

// FormatCents renders cents as pt-BR currency, e.g. 123456 -> "R$ 1.234,56".
func FormatCents(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}

	whole := cents / 100
	frac := cents % 100

	digits := []byte{}
	if whole == 0 {
		digits = []byte{'0'}
	}
	for whole > 0 {
		digits = append([]byte{byte('0' + whole%10)}, digits...)
		whole /= 10
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString("R$ ")
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteByte(d)
	}
	b.WriteByte(',')
	b.WriteByte(byte('0' + frac/10))
	b.WriteByte(byte('0' + frac%10))
	return b.String()
}

// ParseCents converts user input like "R$ 1.234,56", "1234,56" or "12.5"
// into cents. The comma is the decimal separator; dots before a comma are
// thousands grouping. A bare dot is accepted as a decimal separator for
// inputs typed with an en-US keyboard layout.
func ParseCents(s string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	if cleaned == "" || cleaned == "-" {
		return 0, ErrBadAmount
	}

	neg := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimLeft(cleaned, "-")
	if strings.Contains(cleaned, "-") {
		return 0, ErrBadAmount
	}

	intPart := cleaned
	fracPart := ""
	if i := strings.LastIndex(cleaned, ","); i >= 0 {
		intPart, fracPart = cleaned[:i], cleaned[i+1:]
		if strings.ContainsAny(fracPart, ",.") {
			return 0, ErrBadAmount
		}
	} else if i := strings.LastIndex(cleaned, "."); i >= 0 && len(cleaned)-i-1 <= 2 {
		// "12.5" means twelve and a half, "1.234" means one thousand.
		intPart, fracPart = cleaned[:i], cleaned[i+1:]
	}
	intPart = strings.ReplaceAll(intPart, ".", "")
	intPart = strings.ReplaceAll(intPart, ",", "")

	if intPart == "" && fracPart == "" {
		return 0, ErrBadAmount
	}

	var cents int64
	for _, r := range intPart {
		if r < '0' || r > '9' {
			return 0, ErrBadAmount
		}
		cents = cents*10 + int64(r-'0')*100 // shift in a whole digit
		if cents < 0 {
			return 0, ErrBadAmount
		}
	}

	switch len(fracPart) {
	case 0:
	case 1:
		cents += int64(fracPart[0]-'0') * 10
	case 2:
		cents += int64(fracPart[0]-'0')*10 + int64(fracPart[1]-'0')
	default:
		return 0, ErrBadAmount
	}

	if neg {
		cents = -cents
	}
	return cents, nil
}
