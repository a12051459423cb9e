package kafkapool

import (
	"encoding/json"
	"math"
	"time"
)

// timeoutKeys is the allow-list of user-configurable Kafka timeouts, all in
// milliseconds.
var timeoutKeys = map[string]struct{}{
	"connectionTimeout":         {},
	"requestTimeout":            {},
	"sessionTimeout":            {},
	"heartbeatInterval":         {},
	"transactionTimeout":        {},
	"authenticationTimeout":     {},
	"reauthenticationThreshold": {},
}

// strippedKeys are meta fields that must never reach the client config.
var strippedKeys = map[string]struct{}{
	"timeout":   {},
	"createdAt": {},
	"updatedAt": {},
	"timestamp": {},
}

// SanitizeConfig filters a free-form endpoint Kafka config down to the
// allow-listed timeout keys with valid values. Negative, non-finite or
// non-numeric values are dropped so the client falls back to its defaults.
func SanitizeConfig(cfg map[string]any) map[string]time.Duration {
	out := make(map[string]time.Duration)

	for key, raw := range cfg {
		if _, stripped := strippedKeys[key]; stripped {
			continue
		}
		if _, allowed := timeoutKeys[key]; !allowed {
			continue
		}

		ms, valid := asMillis(raw)
		if !valid {
			continue
		}
		out[key] = time.Duration(ms) * time.Millisecond
	}

	return out
}

func asMillis(v any) (int64, bool) {
	var f float64

	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}

	return int64(f), true
}
