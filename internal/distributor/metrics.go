// internal/distributor/metrics.go
package distributor

import "github.com/prometheus/client_golang/prometheus"

var (
	updatesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsegrid_updates_published_total",
		Help: "Updates accepted by the publish endpoint.",
	})
	framesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsegrid_frames_delivered_total",
		Help: "Update frames placed on subscriber queues.",
	})
	framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsegrid_frames_dropped_total",
		Help: "Update frames dropped because a subscriber queue was full.",
	})
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulsegrid_subscribers",
		Help: "Currently connected subscribers.",
	})
)

func init() {
	prometheus.MustRegister(updatesPublished, framesDelivered, framesDropped, subscribersGauge)
}
