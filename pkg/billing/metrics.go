package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reportOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aigateway_billing_reports_total",
	Help: "Per-customer billing report outcomes",
}, []string{"result"})
