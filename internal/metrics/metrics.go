package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	LabelBackend = "backend"
	LabelOutcome = "outcome"
)

// Auth holds the login metrics.
type Auth struct {
	logins   *prometheus.CounterVec
	logouts  prometheus.Counter
	gatherer prometheus.Gatherer
}

// NewAuth creates and registers login metrics on reg.
// A nil reg creates unregistered metrics, which tests use.
func NewAuth(reg *prometheus.Registry) *Auth {
	m := &Auth{
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "frontend",
				Subsystem: "auth",
				Name:      "logins_total",
				Help:      "Completed login attempts by backend and outcome",
			},
			[]string{LabelBackend, LabelOutcome},
		),
		logouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "frontend",
				Subsystem: "auth",
				Name:      "logouts_total",
				Help:      "Logout requests",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.logouts)
		m.gatherer = reg
	}
	return m
}

// RecordLogin counts one completed login attempt.
func (m *Auth) RecordLogin(backend, outcome string) {
	m.logins.WithLabelValues(backend, outcome).Inc()
}

func (m *Auth) RecordLogout() {
	m.logouts.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Auth) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
