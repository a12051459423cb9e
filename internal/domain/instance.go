package domain

import "time"

// InstanceStatus is the lifecycle state of a registered monitoring instance.
type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstancePromoting InstanceStatus = "promoting"
	InstanceInactive  InstanceStatus = "inactive"
	InstanceFailed    InstanceStatus = "failed"
)

// DefaultFailoverOrder places unconfigured instances at the back of the
// promotion queue.
const DefaultFailoverOrder = 99

// StaleHeartbeatAfter is how long an instance may go without a heartbeat
// before the reaper marks it inactive.
const StaleHeartbeatAfter = 5 * time.Minute

// Instance is one registered monitoring process, as seen by the primary.
type Instance struct {
	InstanceID     string         `json:"instanceId"`
	Name           string         `json:"instanceName"`
	Location       string         `json:"location,omitempty"`
	SyncURL        string         `json:"syncUrl,omitempty"`
	PublicEndpoint string         `json:"publicEndpoint,omitempty"`
	Version        string         `json:"version,omitempty"`
	FailoverOrder  int            `json:"failoverOrder"`
	LastHeartbeat  *time.Time     `json:"lastHeartbeat,omitempty"`
	Status         InstanceStatus `json:"status"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	SystemInfo     map[string]any `json:"systemInfo,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// HeartbeatFresh reports whether the instance heartbeated within the window.
func (i *Instance) HeartbeatFresh(now time.Time, window time.Duration) bool {
	return i.LastHeartbeat != nil && now.Sub(*i.LastHeartbeat) <= window
}

// InstanceToken is the stored hash of a bearer token issued at registration.
// Only one token is active per instance; re-registration replaces it.
type InstanceToken struct {
	TokenHash   string    `json:"-"`
	InstanceID  string    `json:"instanceId"`
	Permissions []string  `json:"permissions,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}
