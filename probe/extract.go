package probe

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ysmood/gson"
)

// QuotaUnitPerDollar converts upstream quota units into dollars. Gateways
// that report quota instead of currency all use this fixed ratio.
const QuotaUnitPerDollar = 500000.0

var numberPattern = regexp.MustCompile(`-?[\d,]+(?:\.\d+)?`)

// ParseFirstNumber extracts the first numeric token from free-form text,
// tolerating thousands separators ("$1,234.56" parses as 1234.56).
func ParseFirstNumber(text string) (float64, bool) {
	matched := numberPattern.FindString(text)
	if matched == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(matched, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var usdHeaderKeys = []string{
	"x-balance",
	"x-user-balance",
	"x-credit-balance",
	"x-remaining-balance",
	"x-total-available",
	"x-account-balance",
}

var quotaHeaderKeys = []string{
	"x-quota",
	"x-remaining-quota",
	"x-total-quota",
}

// balanceFromHeaders checks well-known response headers for a balance value.
// Dollar-denominated keys win over quota keys; quota values are converted.
func balanceFromHeaders(h http.Header) (float64, bool) {
	for _, key := range usdHeaderKeys {
		if raw := h.Get(key); raw != "" {
			if v, ok := ParseFirstNumber(raw); ok {
				return max0(v), true
			}
		}
	}
	for _, key := range quotaHeaderKeys {
		if raw := h.Get(key); raw != "" {
			if v, ok := ParseFirstNumber(raw); ok {
				return max0(v / QuotaUnitPerDollar), true
			}
		}
	}
	return 0, false
}

var usdFieldPatterns = []string{
	"balance",
	"remaining_balance",
	"available_balance",
	"current_balance",
	"credit_balance",
	"total_available",
	"available_credit",
	"remain_amount",
}

var quotaFieldPatterns = []string{
	"quota",
	"remaining_quota",
	"remain_quota",
	"left_quota",
	"available_quota",
}

// balanceFromBody parses a response body as JSON and looks for a balance,
// first at well-known top-level fields and then via a bounded recursive scan.
func balanceFromBody(text string) (float64, bool) {
	var raw interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return 0, false
	}
	data := gson.New(raw)

	if v, ok := toFloat(data.Get("total_available")); ok {
		return max0(v), true
	}
	if v, ok := toFloat(data.Get("balance")); ok {
		return max0(normalizeBalance(v, "balance")), true
	}
	if v, ok := scanBalance(data, 0); ok {
		return max0(v), true
	}
	return 0, false
}

// scanBalance walks nested objects and arrays up to five levels deep. Within
// one object, every dollar-style key is checked before any quota-style key;
// keys are visited in sorted order so the result is deterministic.
func scanBalance(node gson.JSON, depth int) (float64, bool) {
	if depth > 5 {
		return 0, false
	}

	switch node.Val().(type) {
	case map[string]interface{}:
		fields := node.Map()
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			lower := strings.ToLower(key)
			if matchesAny(lower, usdFieldPatterns) {
				if v, ok := toFloat(fields[key]); ok {
					return normalizeBalance(v, lower), true
				}
			}
		}
		for _, key := range keys {
			lower := strings.ToLower(key)
			if matchesAny(lower, quotaFieldPatterns) {
				if v, ok := toFloat(fields[key]); ok {
					return v / QuotaUnitPerDollar, true
				}
			}
		}
		for _, key := range keys {
			if v, ok := scanBalance(fields[key], depth+1); ok {
				return v, true
			}
		}
	case []interface{}:
		for _, item := range node.Arr() {
			if v, ok := scanBalance(item, depth+1); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// normalizeBalance converts implausibly large values from quota units to
// dollars. A real dollar balance never exceeds 100000 in absolute value.
func normalizeBalance(value float64, keyHint string) float64 {
	if strings.Contains(keyHint, "quota") {
		return value / QuotaUnitPerDollar
	}
	if value > 100000.0 || value < -100000.0 {
		return value / QuotaUnitPerDollar
	}
	return value
}

// firstFloatField parses text as JSON and returns the first of the named
// top-level fields that holds a number.
func firstFloatField(text string, keys ...string) (float64, bool) {
	var raw interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return 0, false
	}
	data := gson.New(raw)
	for _, key := range keys {
		if v, ok := toFloat(data.Get(key)); ok {
			return v, true
		}
	}
	return 0, false
}

// toFloat extracts a number from a JSON value, accepting both numeric types
// and numeric strings with thousands separators.
func toFloat(v gson.JSON) (float64, bool) {
	switch val := v.Val().(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(val, ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func matchesAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
