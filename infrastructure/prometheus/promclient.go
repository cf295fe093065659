package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spooky-finn/go-streambridge/logger"
)

var OpenOrderBooksGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "streambridge_open_order_books",
		Help: "number of live local order book mirrors",
	},
	[]string{"provider"},
)

var EmulationLoopsGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "streambridge_emulation_loops",
		Help: "number of running rest polling loops",
	},
	[]string{"provider", "entity"},
)

var TransportReconnectsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "streambridge_transport_reconnects_total",
		Help: "transport connections established, including reconnects",
	},
	[]string{"provider"},
)

var DecodeErrorsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "streambridge_decode_errors_total",
		Help: "inbound frames dropped at the decode boundary",
	},
	[]string{"provider"},
)

var EmittedEventsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "streambridge_emitted_events_total",
		Help: "normalized events delivered to the feed",
	},
	[]string{"provider", "entity"},
)

func StartPromClientServer(addr string) {
	log := logger.WithComponent("prometheus")

	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(OpenOrderBooksGauge)
	reg.MustRegister(EmulationLoopsGauge)
	reg.MustRegister(TransportReconnectsCounter)
	reg.MustRegister(DecodeErrorsCounter)
	reg.MustRegister(EmittedEventsCounter)
	reg.MustRegister(collectors.NewGoCollector())

	http.Handle("/metrics", promHandler)
	log.Infof("prometheus server listening at %s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
