package rbac

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts authorization decisions by resource, action and outcome.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivcare_authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"resource", "action", "decision"},
	)

	// UnauthenticatedTotal counts checks made without a session.
	UnauthenticatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivcare_authz_unauthenticated_total",
			Help: "Total number of authorization checks without a session",
		},
	)
)

func recordDecision(resource Resource, action Action, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	DecisionsTotal.WithLabelValues(string(resource), string(action), decision).Inc()
}
