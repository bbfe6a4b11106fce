package convoy

import "github.com/prometheus/client_golang/prometheus"

// metrics are registered against prometheus.DefaultRegisterer so a
// squadctl binary exporting /metrics gets convoy visibility for free,
// mirroring the per-convoy/agent/resource metric surface the original
// metrics collector exposed to its own reporting layer.
var (
	convoysStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "squadcore_convoys_started_total",
		Help: "Total convoys started, by auto-tuning mode.",
	}, []string{"auto_tuning"})

	convoysCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "squadcore_convoys_completed_total",
		Help: "Total convoys finished, by final status.",
	}, []string{"status"})

	convoyMembersCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "squadcore_convoy_members_completed_total",
		Help: "Total convoy members finished, by agent type and outcome.",
	}, []string{"agent_type", "outcome"})

	convoyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "squadcore_convoy_duration_seconds",
		Help:    "Convoy execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	convoyParallelism = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "squadcore_convoy_parallelism",
		Help: "Effective parallelism used by the most recent convoy.",
	}, []string{"convoy_id"})
)

func init() {
	prometheus.MustRegister(convoysStarted, convoysCompleted, convoyMembersCompleted, convoyDuration, convoyParallelism)
}
