// Package metrics provides budget-related Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MonthlyBudgetSpend tracks routing spend against the monthly budget.
	MonthlyBudgetSpend = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monthly_budget_spend_usd",
			Help:      "Spend against the monthly routing budget in USD",
		},
	)

	// MonthlyBudgetLimit tracks the configured monthly routing budget.
	MonthlyBudgetLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monthly_budget_limit_usd",
			Help:      "Configured monthly routing budget in USD",
		},
	)

	// AdmissionDenials counts requests denied by admission control.
	AdmissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denials_total",
			Help:      "Requests denied by admission control",
		},
		[]string{"tier", "reason"}, // reason: requests, tokens, budget
	)
)
