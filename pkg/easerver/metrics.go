package easerver

import (
	"github.com/function61/edgeauth/pkg/eabackend/edgeauthbackend"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	allRouteKey = "_all"
)

type metricsStore struct {
	requestsOk      *prometheus.CounterVec
	requestsFail    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authOutcomes    *prometheus.CounterVec
}

func incRouteCodeMethodCounter(
	counter *prometheus.CounterVec,
	route string,
	code string,
	method string,
) {
	counter.WithLabelValues(route, code, method).Inc()
	counter.WithLabelValues(allRouteKey, code, method).Inc()
}

func (m *metricsStore) observeAuthOutcome(outcome edgeauthbackend.Outcome) {
	m.authOutcomes.WithLabelValues(string(outcome)).Inc()
}

func initMetrics(registerer prometheus.Registerer) *metricsStore {
	// from 0.25ms to 8 seconds
	timeBuckets := prometheus.ExponentialBuckets(0.00025, 2, 16)

	m := &metricsStore{
		requestsOk: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ea_requests_ok",
		}, []string{"route", "code", "method"}),
		requestsFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ea_requests_fail",
		}, []string{"route", "code", "method"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ea_request_duration_seconds",
			Buckets: timeBuckets,
			Help:    "Histogram of the time (in seconds) each request took.",
		}, []string{"route"}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ea_auth_outcomes",
			Help: "What the authenticator decided: pass, respond or error.",
		}, []string{"outcome"}),
	}

	registerer.MustRegister(m.requestsOk)
	registerer.MustRegister(m.requestsFail)
	registerer.MustRegister(m.requestDuration)
	registerer.MustRegister(m.authOutcomes)

	return m
}
