// Package normalize provides stateless conversions from raw cell values to
// canonical typed values with explicit fallback defaults.
package normalize

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateFormats is the ordered list of accepted date layouts. The first layout
// that parses wins, so day-month-year takes precedence over month-day-year.
var DateFormats = []string{
	"02-01-2006",
	"2006/01/02",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006",
	"2006.01.02",
}

// fallbackFormats are tried after DateFormats as a permissive generic parse.
var fallbackFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
}

var identifierRegex = regexp.MustCompile(`[^a-zA-Z0-9\-]`)

// isNaN reports whether v is a floating-point NaN.
func isNaN(v interface{}) bool {
	switch f := v.(type) {
	case float64:
		return math.IsNaN(f)
	case float32:
		return math.IsNaN(float64(f))
	}
	return false
}

// stringify converts a scalar cell value to its string form. Returns "" and
// false for nil and NaN values.
func stringify(v interface{}) (string, bool) {
	if v == nil || isNaN(v) {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case int:
		return strconv.Itoa(s), true
	case int32:
		return strconv.FormatInt(int64(s), 10), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	case time.Time:
		return s.Format("2006-01-02"), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// String normalizes a string field. Null, NaN, and the literal tokens "",
// "0", "nan", "null" (case-insensitive after trim) all normalize to the
// empty string; anything else is returned trimmed.
func String(v interface{}) string {
	s, ok := stringify(v)
	if !ok {
		return ""
	}
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "0", "nan", "null":
		return ""
	}
	return trimmed
}

// Identifier normalizes a barcode-like identifier by stripping every
// character except ASCII alphanumerics and hyphens. The boolean is false
// when the value is null or nothing survives the stripping.
func Identifier(v interface{}) (string, bool) {
	s, valid := stringify(v)
	if !valid {
		return "", false
	}
	id := identifierRegex.ReplaceAllString(strings.TrimSpace(s), "")
	if id == "" {
		return "", false
	}
	return id, true
}

// Date parses a date value against DateFormats in order, then the permissive
// fallback formats. Unparseable or null input returns defaultDate.
func Date(v interface{}, defaultDate time.Time) time.Time {
	s, ok := stringify(v)
	if !ok {
		return defaultDate
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return defaultDate
	}

	for _, layout := range DateFormats {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t
		}
	}
	for _, layout := range fallbackFormats {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	return defaultDate
}

// Float parses a numeric value, returning def for null or non-numeric input.
func Float(v interface{}, def float64) float64 {
	switch n := v.(type) {
	case nil:
		return def
	case float64:
		if math.IsNaN(n) {
			return def
		}
		return n
	case float32:
		if math.IsNaN(float64(n)) {
			return def
		}
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	s, ok := stringify(v)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

// Int parses an integer value, truncating through a float parse so numeric
// strings with decimal points are accepted. Returns def on null or
// non-numeric input.
func Int(v interface{}, def int) int {
	sentinel := math.Inf(-1)
	f := Float(v, sentinel)
	if f == sentinel {
		return def
	}
	return int(f)
}

// CleanItemName trims an item name and decodes HTML entities such as &amp;.
func CleanItemName(name string) string {
	if name == "" {
		return ""
	}
	return html.UnescapeString(strings.TrimSpace(name))
}
