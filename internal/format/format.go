// Package format renders amounts, counts and tables identically for every
// answer path, so live, historical and comparison answers never drift.
package format

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Formatter struct {
	symbol  string
	printer *message.Printer
}

// New builds a Formatter for a BCP 47 locale such as "en-IN". Unknown
// locales fall back to English grouping.
func New(symbol, locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Formatter{symbol: symbol, printer: message.NewPrinter(tag)}
}

// Int renders n with locale digit grouping.
func (f *Formatter) Int(n int64) string {
	return f.printer.Sprintf("%d", n)
}

// Amount rounds v to a whole unit and prefixes the currency symbol.
func (f *Formatter) Amount(v float64) string {
	n := int64(math.Round(v))
	if n < 0 {
		return "-" + f.symbol + f.Int(-n)
	}
	return f.symbol + f.Int(n)
}

func (f *Formatter) Symbol() string {
	return f.symbol
}

// Percent renders p with at most one decimal, dropping a trailing ".0".
func Percent(p float64) string {
	return strconv.FormatFloat(math.Round(p*10)/10, 'f', -1, 64) + "%"
}

// Table renders a markdown table.
func Table(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseAmount reads an amount rendered with grouping separators and an
// optional currency prefix ("₹5,000", "5000.50"). ok is false when no digits
// are present.
func ParseAmount(s string) (float64, bool) {
	var digits strings.Builder
	seenDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
			seenDigit = true
		case r == '.' && seenDigit:
			digits.WriteRune(r)
		case r == '-' && !seenDigit && digits.Len() == 0:
			digits.WriteRune(r)
		}
	}
	if !seenDigit {
		return 0, false
	}
	v, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
