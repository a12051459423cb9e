package domain

import "time"

// Consensus is the across-locations status of an endpoint.
type Consensus string

const (
	ConsensusUp      Consensus = "UP"
	ConsensusPartial Consensus = "PARTIAL"
	ConsensusDown    Consensus = "DOWN"
)

// LocationResult is the latest outcome reported by one instance for one
// endpoint.
type LocationResult struct {
	InstanceID    string    `json:"instanceId"`
	Location      string    `json:"location,omitempty"`
	Status        Status    `json:"status"`
	ResponseTime  float64   `json:"responseTime"`
	Timestamp     time.Time `json:"timestamp"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// AggregatedResult folds the latest per-instance outcomes for an endpoint
// into a single consensus view.
type AggregatedResult struct {
	EndpointID          int64            `json:"endpointId"`
	TotalLocations      int              `json:"totalLocations"`
	SuccessfulLocations int              `json:"successfulLocations"`
	AvgResponseTime     float64          `json:"avgResponseTime"`
	MinResponseTime     float64          `json:"minResponseTime"`
	MaxResponseTime     float64          `json:"maxResponseTime"`
	Consensus           Consensus        `json:"consensus"`
	Locations           []LocationResult `json:"locations"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// Apply replaces or appends the entry for the outcome's instance and
// recomputes the derived fields.
func (a *AggregatedResult) Apply(o Outcome) {
	entry := LocationResult{
		InstanceID:    o.InstanceID,
		Location:      o.Location,
		Status:        o.Status,
		ResponseTime:  o.ResponseTime,
		Timestamp:     o.Timestamp,
		FailureReason: o.FailureReason,
	}

	replaced := false
	for i := range a.Locations {
		if a.Locations[i].InstanceID == o.InstanceID {
			a.Locations[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		a.Locations = append(a.Locations, entry)
	}

	a.Recompute()
	a.UpdatedAt = o.Timestamp
}

// Recompute rebuilds totals, response-time stats and the consensus from the
// current location entries.
func (a *AggregatedResult) Recompute() {
	a.TotalLocations = len(a.Locations)
	a.SuccessfulLocations = 0

	var sum float64
	for i, loc := range a.Locations {
		if loc.Status == StatusUp {
			a.SuccessfulLocations++
		}
		sum += loc.ResponseTime
		if i == 0 || loc.ResponseTime < a.MinResponseTime {
			a.MinResponseTime = loc.ResponseTime
		}
		if i == 0 || loc.ResponseTime > a.MaxResponseTime {
			a.MaxResponseTime = loc.ResponseTime
		}
	}

	if a.TotalLocations == 0 {
		a.AvgResponseTime = 0
		a.Consensus = ConsensusDown
		return
	}
	a.AvgResponseTime = sum / float64(a.TotalLocations)

	switch a.SuccessfulLocations {
	case a.TotalLocations:
		a.Consensus = ConsensusUp
	case 0:
		a.Consensus = ConsensusDown
	default:
		a.Consensus = ConsensusPartial
	}
}
