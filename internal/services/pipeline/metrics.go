package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	guardrailEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stinger_guardrail_evaluations_total",
			Help: "Total number of guardrail evaluations by decision",
		},
		[]string{"guardrail", "decision"},
	)

	pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stinger_pipeline_duration_seconds",
			Help:    "Pipeline evaluation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	pipelineBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stinger_pipeline_blocked_total",
			Help: "Total number of blocked pipeline calls",
		},
		[]string{"stage"},
	)
)
