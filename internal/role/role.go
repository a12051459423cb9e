package role

// Role is the coordination role of this instance.
type Role string

const (
	Primary    Role = "primary"
	Dependent  Role = "dependent"
	Standalone Role = "standalone"
)

// Gates lists which subsystems run under a role.
type Gates struct {
	Scheduler  bool
	Notifier   bool
	SyncServer bool
	SyncClient bool
	Aggregator bool
	Failover   bool
	Reaper     bool
}

// Gates returns the subsystem gating for the role. A dependent schedules only
// synced endpoints and suppresses notifications.
func (r Role) Gates() Gates {
	switch r {
	case Primary:
		return Gates{Scheduler: true, Notifier: true, SyncServer: true, Aggregator: true, Reaper: true}
	case Dependent:
		return Gates{Scheduler: true, SyncClient: true, Failover: true}
	default:
		return Gates{Scheduler: true, Notifier: true}
	}
}

// Compute derives the effective role. A configured primary sync URL always
// means dependent; the explicit primary flag only applies without one.
func Compute(primarySyncURL string, primaryFlag bool) Role {
	switch {
	case primarySyncURL != "":
		return Dependent
	case primaryFlag:
		return Primary
	default:
		return Standalone
	}
}
