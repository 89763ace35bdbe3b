package walletsdk

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "walletsdk"

// Metric result labels.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultNoToken = "no_token"
)

// metrics are the client's counters. With a nil registerer they are live
// but not exported. Clients sharing a registerer share the counters.
type metrics struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	retries   prometheus.Counter
	logouts   *prometheus.CounterVec
	actions   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refreshes_total",
			Help:      "Refresh calls to the service by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unauthorized_retries_total",
			Help:      "Requests replayed after a 401 and a successful refresh.",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logouts_total",
			Help:      "Logout attempts by result.",
		}, []string{"result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "actions_total",
			Help:      "Out-of-band actions by kind and result.",
		}, []string{"action", "result"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.logins, err = register(reg, m.logins); err != nil {
		return nil, err
	}
	if m.refreshes, err = register(reg, m.refreshes); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	if m.logouts, err = register(reg, m.logouts); err != nil {
		return nil, err
	}
	if m.actions, err = register(reg, m.actions); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, or returns the collector registered before it.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}
