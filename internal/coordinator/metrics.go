package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	generateOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zord",
			Name:      "generate_outcomes_total",
			Help:      "Generation requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zord",
			Name:      "generation_duration_seconds",
			Help:      "Time spent in the generation capability",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	tokensGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zord",
			Name:      "tokens_generated_total",
			Help:      "Tokens counted against client quotas",
		},
	)

	quotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zord",
			Name:      "quota_denials_total",
			Help:      "Requests denied at admission by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(generateOutcomes, generationDuration, tokensGenerated, quotaDenials)
}
