package web

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeStarted   = "started"
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

var loginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_login_attempts_total",
		Help: "Login attempts by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

func init() {
	prometheus.MustRegister(loginAttempts)
}
