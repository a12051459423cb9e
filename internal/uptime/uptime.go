package uptime

import (
	"math"
	"sort"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// Windows are the supported report ranges, keyed by their API name.
var Windows = map[string]time.Duration{
	"3h":   3 * time.Hour,
	"6h":   6 * time.Hour,
	"1d":   24 * time.Hour,
	"7d":   7 * 24 * time.Hour,
	"30d":  30 * 24 * time.Hour,
	"365d": 365 * 24 * time.Hour,
}

// sessionGapFactor splits the outcome stream into sessions wherever the gap
// between adjacent outcomes exceeds this multiple of the probe interval.
const sessionGapFactor = 2.5

// Stats is the gap-aware uptime report for one endpoint and window.
type Stats struct {
	Window             string  `json:"window"`
	UptimePercent      float64 `json:"uptimePercent"`
	MonitoringCoverage float64 `json:"monitoringCoverage"`
	AvgResponseTime    float64 `json:"avgResponseTime"`
	P50                float64 `json:"p50"`
	P90                float64 `json:"p90"`
	P95                float64 `json:"p95"`
	P99                float64 `json:"p99"`
	StdDev             float64 `json:"stdDev"`
	MAD                float64 `json:"mad"`
	TotalChecks        int     `json:"totalChecks"`
	UpChecks           int     `json:"upChecks"`
}

// session is a run of outcomes with no monitoring gap inside it.
type session struct {
	outcomes []domain.Outcome
}

func (s *session) duration(interval time.Duration) time.Duration {
	if len(s.outcomes) < 2 {
		return interval
	}
	span := s.outcomes[len(s.outcomes)-1].Timestamp.Sub(s.outcomes[0].Timestamp)
	return span + interval
}

func (s *session) upRatio() float64 {
	if len(s.outcomes) == 0 {
		return 0
	}
	up := 0
	for _, o := range s.outcomes {
		if o.IsOK {
			up++
		}
	}
	return float64(up) / float64(len(s.outcomes))
}

// Compute derives the uptime report from outcomes ordered by timestamp.
// Gaps longer than 2.5 probe intervals are treated as monitoring downtime
// and excluded from the uptime denominator.
func Compute(outcomes []domain.Outcome, interval time.Duration, windowName string, window time.Duration) Stats {
	stats := Stats{Window: windowName}
	if len(outcomes) == 0 {
		return stats
	}
	if interval <= 0 {
		interval = time.Duration(domain.MinHeartbeatIntervalSeconds) * time.Second
	}

	sessions := partition(outcomes, interval)

	var totalDur, upDur float64
	for _, s := range sessions {
		dur := s.duration(interval).Seconds()
		totalDur += dur
		upDur += dur * s.upRatio()
	}

	if totalDur > 0 {
		stats.UptimePercent = clampPercent(upDur / totalDur * 100)
	}
	if window > 0 {
		stats.MonitoringCoverage = clampPercent(totalDur / window.Seconds() * 100)
	}

	rts := make([]float64, 0, len(outcomes))
	var sum float64
	for _, o := range outcomes {
		stats.TotalChecks++
		if o.IsOK {
			stats.UpChecks++
		}
		rts = append(rts, o.ResponseTime)
		sum += o.ResponseTime
	}

	stats.AvgResponseTime = sum / float64(len(rts))

	sort.Float64s(rts)
	stats.P50 = percentile(rts, 50)
	stats.P90 = percentile(rts, 90)
	stats.P95 = percentile(rts, 95)
	stats.P99 = percentile(rts, 99)
	stats.StdDev = sampleStdDev(rts, stats.AvgResponseTime)
	stats.MAD = medianAbsoluteDeviation(rts)

	return stats
}

func partition(outcomes []domain.Outcome, interval time.Duration) []session {
	maxGap := time.Duration(float64(interval) * sessionGapFactor)

	sessions := []session{{outcomes: []domain.Outcome{outcomes[0]}}}
	for _, o := range outcomes[1:] {
		current := &sessions[len(sessions)-1]
		last := current.outcomes[len(current.outcomes)-1]

		if o.Timestamp.Sub(last.Timestamp) > maxGap {
			sessions = append(sessions, session{outcomes: []domain.Outcome{o}})
			continue
		}
		current.outcomes = append(current.outcomes, o)
	}

	return sessions
}

// percentile interpolates linearly on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// sampleStdDev uses the n-1 denominator.
func sampleStdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func medianAbsoluteDeviation(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	med := median(sorted)

	devs := make([]float64, len(sorted))
	for i, v := range sorted {
		devs[i] = math.Abs(v - med)
	}
	sort.Float64s(devs)
	return median(devs)
}

// median expects a sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
