package kafkapool

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeConfig_AllowListedTimeouts(t *testing.T) {
	out := SanitizeConfig(map[string]any{
		"connectionTimeout": 5000.0,
		"requestTimeout":    2500,
		"sessionTimeout":    int64(30000),
	})

	assert.Equal(t, 5*time.Second, out["connectionTimeout"])
	assert.Equal(t, 2500*time.Millisecond, out["requestTimeout"])
	assert.Equal(t, 30*time.Second, out["sessionTimeout"])
}

func TestSanitizeConfig_DropsNegativeAndNonFinite(t *testing.T) {
	out := SanitizeConfig(map[string]any{
		"connectionTimeout": -1.0,
		"requestTimeout":    math.NaN(),
		"sessionTimeout":    math.Inf(1),
	})

	assert.Empty(t, out)
}

func TestSanitizeConfig_StripsMetaKeys(t *testing.T) {
	out := SanitizeConfig(map[string]any{
		"timeout":   1000.0,
		"createdAt": "2025-07-01T00:00:00Z",
		"timestamp": 1719792000.0,
	})

	assert.Empty(t, out)
}

func TestSanitizeConfig_IgnoresUnknownAndNonNumeric(t *testing.T) {
	out := SanitizeConfig(map[string]any{
		"brokers":           "should-not-pass",
		"connectionTimeout": "1000",
		"heartbeatInterval": 3000.0,
	})

	assert.Len(t, out, 1)
	assert.Equal(t, 3*time.Second, out["heartbeatInterval"])
}

func TestGroupID_Fixed(t *testing.T) {
	assert.Equal(t, "monitor-app-42", GroupID(42))
}
