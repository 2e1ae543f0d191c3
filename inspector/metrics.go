package inspector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtile_inspector_clients",
		Help: "The number of connected inspector clients.",
	})

	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quadtile_inspector_frames",
		Help: "The number of state frames sent to inspector clients.",
	})
)

func instrumentClientConnected() {
	connectedClients.Inc()
}

func instrumentClientDisconnected() {
	connectedClients.Dec()
}

func instrumentFrameSent() {
	framesSent.Inc()
}
