package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CacheRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "motoshop_cache_records",
		Help: "Records currently held per cache category.",
	}, []string{"category"})

	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motoshop_fetch_total",
		Help: "Category fetches by result (ok, error).",
	}, []string{"category", "result"})

	RealtimeDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motoshop_realtime_delivered_total",
		Help: "Realtime events handed to application handlers.",
	}, []string{"channel", "event"})
	RealtimeDuplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motoshop_realtime_duplicates_total",
		Help: "Realtime events dropped as already processed.",
	}, []string{"channel", "event"})

	TransportErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motoshop_transport_errors_total",
		Help: "Transport read/decode errors (approx).",
	}, []string{"transport"})

	Notifications = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "motoshop_notifications_unread",
		Help: "Unread notifications in the inbox.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CacheRecords,
		FetchTotal,
		RealtimeDelivered, RealtimeDuplicates,
		TransportErrors,
		Notifications,
	)
}
