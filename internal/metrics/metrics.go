package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts transfers reaching a terminal state by bridge
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transfers_total",
			Help: "Total number of transfers reaching a terminal state",
		},
		[]string{"bridge", "state"},
	)

	// StateTransitions counts every applied state transition
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_state_transitions_total",
			Help: "Total number of transfer state transitions",
		},
		[]string{"bridge", "from", "to"},
	)

	// PhaseDuration tracks how long each lifecycle phase takes
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_phase_duration_seconds",
			Help:    "Duration of transfer lifecycle phases in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"bridge", "phase"},
	)

	// PollTicks counts status polls against bridge backends
	PollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_poll_ticks_total",
			Help: "Total number of cross-chain status polls",
		},
		[]string{"bridge", "status"},
	)

	// AdapterErrors counts adapter failures by error code
	AdapterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_adapter_errors_total",
			Help: "Total number of adapter call failures",
		},
		[]string{"bridge", "phase", "code"},
	)

	// RetryCount counts phase retries scheduled after transient failures
	RetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_retries_total",
			Help: "Total number of phase retries",
		},
		[]string{"bridge", "phase"},
	)

	// ActiveTransfers tracks currently non-terminal transfers
	ActiveTransfers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_active_transfers",
			Help: "Number of transfers currently in flight",
		},
		[]string{"bridge"},
	)

	// EventsDropped counts event bus deliveries discarded for lagging subscribers
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_events_dropped_total",
			Help: "Total number of event bus deliveries dropped",
		},
	)
)
