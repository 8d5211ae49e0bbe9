package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hotspare/internal/domain/model"
)

// Metrics publishes the coordination layer's observable surface:
//   - hotspare_role{role}: 1 for the current role, 0 otherwise
//   - hotspare_role_transitions_total{to}: transitions by target role
//   - hotspare_renew_failures_total: lost or unrenewable leases
//   - hotspare_heartbeat_age_seconds: peer heartbeat age seen by the standby
//   - hotspare_snapshot_errors_total: failed snapshot writes
type Metrics struct {
	registry *prometheus.Registry

	role           *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	renewFailures  prometheus.Counter
	heartbeatAge   prometheus.Gauge
	snapshotErrors prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		role: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hotspare_role",
				Help: "Current role (1 for the active role, 0 for the rest)",
			},
			[]string{"role"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspare_role_transitions_total",
				Help: "Role transitions by target role",
			},
			[]string{"to"},
		),
		renewFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hotspare_renew_failures_total",
				Help: "Lease renewals that failed or found the lock gone",
			},
		),
		heartbeatAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotspare_heartbeat_age_seconds",
				Help: "Age of the primary's heartbeat as observed by the standby",
			},
		),
		snapshotErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hotspare_snapshot_errors_total",
				Help: "Snapshot writes that failed",
			},
		),
	}
	m.registry.MustRegister(m.role, m.transitions, m.renewFailures, m.heartbeatAge, m.snapshotErrors)
	m.SetRole(model.RoleAcquiring)
	return m
}

func (m *Metrics) SetRole(r model.Role) {
	for _, role := range model.Roles {
		v := 0.0
		if role == r {
			v = 1.0
		}
		m.role.WithLabelValues(role.String()).Set(v)
	}
}

func (m *Metrics) ObserveTransition(to model.Role) {
	m.transitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) ObserveRenewFailure() { m.renewFailures.Inc() }

func (m *Metrics) SetHeartbeatAge(seconds float64) { m.heartbeatAge.Set(seconds) }

func (m *Metrics) ObserveSnapshotError() { m.snapshotErrors.Inc() }

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
