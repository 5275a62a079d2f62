package ingestion

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ToNumber coerces a cell value to a number. Numeric values pass through,
// strings are read by their leading numeric prefix, anything else is 0.
func ToNumber(v any) float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		return ParseAmount(n)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParseAmount parses the longest leading floating-point prefix of s.
// "12abc" yields 12 and "abc" yields 0.
func ParseAmount(s string) float64 {
	prefix := floatPrefix(strings.TrimSpace(s))
	if prefix == "" {
		return 0
	}
	f, err := strconv.ParseFloat(prefix, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParseCount parses the leading integer prefix of s, truncating any fraction.
// Out of range values saturate at math.MaxInt64 or math.MinInt64.
func ParseCount(s string) int64 {
	prefix := intPrefix(strings.TrimSpace(s))
	if prefix == "" {
		return 0
	}
	n, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	// ParseInt reports ErrRange with n already clamped
	return n
}

func intPrefix(s string) string {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i == start {
		return ""
	}
	return s[:i]
}

func floatPrefix(s string) string {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	intDigits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		intDigits++
	}
	end := i
	if i < len(s) && s[i] == '.' {
		i++
		fracDigits := 0
		for i < len(s) && isDigit(s[i]) {
			i++
			fracDigits++
		}
		if intDigits == 0 && fracDigits == 0 {
			return ""
		}
		end = i
	} else if intDigits == 0 {
		return ""
	}

	// exponent only counts when followed by at least one digit
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		expStart := j
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if j > expStart {
			end = j
		}
	}
	return s[:end]
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
