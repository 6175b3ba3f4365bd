package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	countStartAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wgsession_start_attempts_total",
		Help: "Number of tunnel start attempts.",
	})
	countFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wgsession_failures_total",
		Help: "Number of failed or interrupted sessions, by cause.",
	}, []string{"reason"})
	gaugeTunnelActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wgsession_tunnel_active",
		Help: "1 while a tunnel is confirmed up.",
	})
	histTimeToUp = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wgsession_time_to_up_seconds",
		Help:    "Time from start request to confirmed activation.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(
		countStartAttempts,
		countFailures,
		gaugeTunnelActive,
		histTimeToUp,
	)
}
