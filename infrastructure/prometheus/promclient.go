// Package promclient exposes the headline telemetry counters on a
// Prometheus scrape endpoint for operators; the full snapshot still
// travels to subscribers over the egress stream.
package promclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spooky-finn/go-orderbook-aggregator/telemetry"
)

var (
	messagesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_messages_total",
		Help: "total venue frames received",
	})
	tradesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_trades_total",
		Help: "total trades normalized",
	})
	bookUpdatesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_book_updates_total",
		Help: "total order book mutations",
	})
	bytesReceivedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_bytes_received_total",
		Help: "total bytes received from venues",
	})
	reconnectsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_ws_reconnects_total",
		Help: "venue websocket reconnects",
	})
	activeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_active_subscribers",
		Help: "connected egress subscribers",
	})
	latencyP99 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_latency_p99_us",
		Help: "p99 end-to-end processing latency in microseconds",
	})
)

// Serve publishes /metrics on addr until ctx is done, refreshing the
// gauges from the collector's snapshot once a second.
func Serve(ctx context.Context, addr string, tel *telemetry.Collector, log *zap.Logger) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		messagesTotal, tradesTotal, bookUpdatesTotal, bytesReceivedTotal,
		reconnectsTotal, activeSubscribers, latencyP99,
		collectors.NewGoCollector(),
	)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := tel.Snapshot()
				messagesTotal.Set(float64(snap.TotalMessages))
				tradesTotal.Set(float64(snap.TotalTrades))
				bookUpdatesTotal.Set(float64(snap.TotalUpdates))
				bytesReceivedTotal.Set(float64(snap.BytesReceived))
				reconnectsTotal.Set(float64(snap.WebsocketReconnects))
				activeSubscribers.Set(float64(snap.ActiveConnections))
				latencyP99.Set(float64(snap.LatencyP99Us))
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info("prometheus endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("prometheus endpoint failed", zap.Error(err))
	}
}
