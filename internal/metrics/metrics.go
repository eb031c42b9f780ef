package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservationCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casitas",
			Name:      "reservation_created_total",
			Help:      "Count of reservations created by status.",
		},
		[]string{"status"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "casitas",
			Name:      "slot_conflict_total",
			Help:      "Count of reserve attempts that lost the slot race.",
		},
	)

	verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casitas",
			Name:      "verdict_total",
			Help:      "Count of operator verdicts over pending bookings.",
		},
		[]string{"verdict"},
	)

	sweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "casitas",
			Name:      "sweep_runs_total",
			Help:      "Count of expiration sweep runs.",
		},
	)

	bookingsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "casitas",
			Name:      "bookings_expired_total",
			Help:      "Count of pending bookings expired by the sweeper.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(reservationCreated, slotConflicts, verdicts, sweepRuns, bookingsExpired)
	})
}

func IncReservationCreated(status string) {
	reservationCreated.WithLabelValues(status).Inc()
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

func IncVerdict(verdict string) {
	verdicts.WithLabelValues(verdict).Inc()
}

func IncSweepRun() {
	sweepRuns.Inc()
}

func AddBookingsExpired(n int) {
	bookingsExpired.Add(float64(n))
}
