package dataset

import (
	"math"
	"strconv"
	"strings"
)

// ParseOptions controls how raw text is typed.
type ParseOptions struct {
	// DecimalSeparator for numbers. If 0, '.' is assumed.
	DecimalSeparator rune
	// ThousandsSeparator is stripped before parsing when set.
	ThousandsSeparator rune
}

// ParseValue types a raw cell: empty and NaN text are nil, true/false are
// bools, finite numbers are float64 and anything else, infinities included,
// stays a string.
func ParseValue(s string, opt ParseOptions) Value {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil
	}
	switch raw {
	case "true", "TRUE", "True":
		return true
	case "false", "FALSE", "False":
		return false
	}
	if f, ok := parseNumeric(raw, opt); ok {
		switch {
		case math.IsNaN(f):
			return nil
		case math.IsInf(f, 0):
			return raw
		}
		return f
	}
	return raw
}

func parseNumeric(raw string, opt ParseOptions) (float64, bool) {
	raw = strings.ReplaceAll(raw, " ", "")
	dec := opt.DecimalSeparator
	if dec == 0 {
		dec = '.'
	}
	if thou := opt.ThousandsSeparator; thou != 0 && thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
	}
	if dec != '.' {
		if strings.Contains(raw, ".") {
			return 0, false
		}
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FormatValue renders a cell for reports and filter text.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	if f, ok := AsFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return ""
}
