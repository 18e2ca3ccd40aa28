package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metricas operacionales del nucleo de identidad y presencia.
var (
	LoginsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inmo_auth_logins_total",
		Help: "Successful logins.",
	})

	RefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inmo_auth_refreshes_total",
		Help: "Successful token refreshes.",
	})

	WSConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inmo_presence_connections_open",
		Help: "Currently open realtime connections.",
	})

	OnlineIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inmo_presence_identities_online",
		Help: "Identities with at least one open realtime connection.",
	})
)
