package service

import (
	"time"

	"hotspare/internal/domain/model"
)

// Instrumentation is an optional set of observation hooks the wiring
// layer can point at metrics. All hooks are nil-safe so the controller
// calls them unconditionally.
type Instrumentation struct {
	RoleChanged   func(from, to model.Role, reason string)
	RenewFailed   func()
	HeartbeatAge  func(age time.Duration)
	SnapshotError func()
}

func (i *Instrumentation) onRoleChanged(from, to model.Role, reason string) {
	if i == nil || i.RoleChanged == nil {
		return
	}
	i.RoleChanged(from, to, reason)
}

func (i *Instrumentation) onRenewFailed() {
	if i == nil || i.RenewFailed == nil {
		return
	}
	i.RenewFailed()
}

func (i *Instrumentation) onHeartbeatAge(age time.Duration) {
	if i == nil || i.HeartbeatAge == nil {
		return
	}
	i.HeartbeatAge(age)
}

func (i *Instrumentation) onSnapshotError() {
	if i == nil || i.SnapshotError == nil {
		return
	}
	i.SnapshotError()
}
