package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backendOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectra_backend_ops_total",
		Help: "Total number of array operations issued per backend",
	}, []string{"backend", "op"})

	fftPlanHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_fft_plan_pool_hits_total",
		Help: "Total number of FFT plans reused from the pool",
	})

	fftPlanMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_fft_plan_pool_misses_total",
		Help: "Total number of FFT plans created",
	})

	graphNodesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_graph_nodes_created_total",
		Help: "Total number of deferred graph nodes created",
	})

	sessionNodesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_session_nodes_evaluated_total",
		Help: "Total number of graph nodes evaluated by sessions",
	})

	sessionRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spectra_session_run_duration_seconds",
		Help:    "Time spent executing deferred graphs",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	})
)
