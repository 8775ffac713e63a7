package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensUsedTotal counts tokens billed by provider and mode
	TokensUsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_tokens_used_total",
			Help: "Tokens billed by provider and analysis mode",
		},
		[]string{"provider", "mode"},
	)

	// EstimatedCostUSD accumulates estimated spend
	EstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_estimated_cost_usd_total",
			Help: "Estimated spend in USD by provider",
		},
		[]string{"provider"},
	)

	// CapDegradationsTotal counts pre-emptive mode downgrades from a cost cap
	CapDegradationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_cap_degradations_total",
			Help: "Mode downgrades forced by a cost cap",
		},
		[]string{"cap"},
	)

	// DailySpendUSD is today's running spend across all buckets
	DailySpendUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_daily_spend_usd",
			Help: "Estimated spend for the current UTC day",
		},
	)
)

func RecordTokens(provider, mode string, tokens int) {
	TokensUsedTotal.WithLabelValues(provider, mode).Add(float64(tokens))
}

func RecordCost(provider string, usd float64) {
	EstimatedCostUSD.WithLabelValues(provider).Add(usd)
}

func RecordCapDegradation(cap string) {
	CapDegradationsTotal.WithLabelValues(cap).Inc()
}

func SetDailySpend(usd float64) {
	DailySpendUSD.Set(usd)
}
