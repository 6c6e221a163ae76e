package runnable

import (
	"strconv"
	"strings"
)

// MathValue is a string that behaves like a number when one is needed --
// the payload a query body returns is always text, but filters need to
// compare it against numeric thresholds. MathValue parses lazily and
// caches nothing: Float returns ok=false for non-numeric payloads instead
// of panicking, so callers decide how to treat unparseable results.
type MathValue string

// Float parses the value as a float64, tolerating surrounding whitespace
// and a trailing unit suffix (e.g. "12.5ms" yields 12.5, "ms").
func (m MathValue) Float() (value float64, unit string, ok bool) {
	s := strings.TrimSpace(string(m))
	if s == "" {
		return 0, "", false
	}
	i := 0
	for i < len(s) && (s[i] == '-' || s[i] == '+' || s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	f, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, "", false
	}
	return f, strings.TrimSpace(s[i:]), true
}

func (m MathValue) String() string { return string(m) }
