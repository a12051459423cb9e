package domain

import "time"

// Outcome records the result of one probe execution. The wire form (JSON
// tags) is shared between the heartbeat payload and local persistence.
type Outcome struct {
	EndpointID    int64          `json:"endpointId"`
	InstanceID    string         `json:"instanceId"`
	Timestamp     time.Time      `json:"timestamp"`
	IsOK          bool           `json:"isOk"`
	ResponseTime  float64        `json:"responseTime"`
	Status        Status         `json:"status"`
	FailureReason string         `json:"failureReason,omitempty"`
	Location      string         `json:"location"`
	CheckType     CheckType      `json:"checkType"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Normalize coerces the status into the UP/DOWN pair and keeps IsOK
// consistent with it.
func (o *Outcome) Normalize() {
	o.Status = NormalizeStatus(string(o.Status))
	o.IsOK = o.Status == StatusUp
}
