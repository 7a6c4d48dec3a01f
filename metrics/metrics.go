package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	SeatsReserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "course_seats_reserved_total",
			Help: "Seats granted by the capacity ledger",
		},
	)

	SeatsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "course_seats_released_total",
			Help: "Seats returned to the capacity ledger",
		},
	)

	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Payment reconciliations by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	RecoveryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_recovery_runs_total",
			Help: "Payment recovery runs by result",
		},
		[]string{"result"},
	)

	RecoveryRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "payment_recovery_run_duration_seconds",
			Help: "Time taken by a payment recovery run",
		},
	)

	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_gateway_breaker_state",
			Help: "Gateway circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications by event and result",
		},
		[]string{"event", "result"},
	)
)

func Register() {
	prometheus.MustRegister(
		BookingsTotal,
		SeatsReserved,
		SeatsReleased,
		ReconciliationsTotal,
		RecoveryRunsTotal,
		RecoveryRunDuration,
		BreakerState,
		NotificationsTotal,
	)
}
