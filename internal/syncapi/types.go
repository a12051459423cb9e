package syncapi

import (
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/sysinfo"
)

// RegisterRequest is the body of POST /api/sync/register.
type RegisterRequest struct {
	InstanceID     string         `json:"instanceId" validate:"required,uuid"`
	InstanceName   string         `json:"instanceName" validate:"required"`
	Location       string         `json:"location"`
	Version        string         `json:"version"`
	Capabilities   []string       `json:"capabilities"`
	FailoverOrder  int            `json:"failoverOrder"`
	PublicEndpoint string         `json:"publicEndpoint"`
	SharedSecret   string         `json:"sharedSecret" validate:"required"`
	SyncURL        string         `json:"syncUrl"`
	SystemInfo     map[string]any `json:"systemInfo"`
}

// RegisterResponse carries the issued bearer token back to the dependent.
type RegisterResponse struct {
	Token      string `json:"token"`
	InstanceID string `json:"instanceId"`
}

// ConnectionStatus is the dependent's view of its link to the primary.
type ConnectionStatus struct {
	PrimaryReachable bool       `json:"primaryReachable"`
	LastSyncSuccess  *time.Time `json:"lastSyncSuccess,omitempty"`
	SyncErrors       int        `json:"syncErrors"`
	LatencyMS        float64    `json:"latency,omitempty"`
}

// HeartbeatPayload is the body of PUT /api/sync/heartbeat. The dependent
// batches all probe outcomes collected since the last send.
type HeartbeatPayload struct {
	InstanceID        string           `json:"instanceId"`
	Timestamp         time.Time        `json:"timestamp"`
	Status            string           `json:"status"`
	Uptime            float64          `json:"uptime"`
	MonitoringResults []domain.Outcome `json:"monitoringResults"`
	SystemMetrics     sysinfo.Metrics  `json:"systemMetrics"`
	ConnectionStatus  ConnectionStatus `json:"connectionStatus"`
}

// HeartbeatAck is the server's response to a heartbeat.
type HeartbeatAck struct {
	Timestamp time.Time `json:"timestamp"`
}

// InstanceOrder is one entry of a failover-order update.
type InstanceOrder struct {
	InstanceID string `json:"instanceId" validate:"required,uuid"`
	Order      int    `json:"order" validate:"gte=0"`
}

// FailoverOrderRequest is the body of PUT /api/sync/failover-order.
type FailoverOrderRequest struct {
	InstanceOrders []InstanceOrder `json:"instanceOrders" validate:"required,min=1,dive"`
}

// InstanceHealth is one row of GET /api/sync/instances/health.
type InstanceHealth struct {
	InstanceID    string                `json:"instanceId"`
	Name          string                `json:"instanceName"`
	Location      string                `json:"location,omitempty"`
	Status        domain.InstanceStatus `json:"status"`
	FailoverOrder int                   `json:"failoverOrder"`
	LastHeartbeat *time.Time            `json:"lastHeartbeat,omitempty"`
	Stale         bool                  `json:"stale"`
}
