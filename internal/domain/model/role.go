package model

// Role is the local process's view of who may trade. Exactly one live
// process holds RolePrimary at a time; the lock in the shared store is
// the arbiter, the role is only the cached outcome of the last tick.
type Role string

const (
	// RoleAcquiring is the start state: the process is attempting to
	// claim the primary lock.
	RoleAcquiring Role = "ACQUIRING"
	// RolePrimary means this process holds a live lease and may place
	// orders.
	RolePrimary Role = "PRIMARY"
	// RoleStandby means another process holds the lease; this one only
	// watches the heartbeat.
	RoleStandby Role = "STANDBY"
	// RoleShuttingDown is terminal; no further trading decisions are
	// made once it is entered.
	RoleShuttingDown Role = "SHUTTING_DOWN"
)

// Roles lists every role, in no particular order. Used by metrics to
// publish one labeled series per role.
var Roles = []Role{RoleAcquiring, RolePrimary, RoleStandby, RoleShuttingDown}

func (r Role) String() string { return string(r) }

// Transition records a single role change for the failover journal.
type Transition struct {
	Bot      string `json:"bot"`
	Holder   string `json:"holder"`
	FromRole Role   `json:"from_role"`
	ToRole   Role   `json:"to_role"`
	Reason   string `json:"reason"`
	TsMs     int64  `json:"ts_ms"`
}
