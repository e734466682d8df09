// Package metrics defines the Prometheus metrics exported by the delay engine.
//
// Every metric carries a "duct" label naming the adapter ("induct" or
// "outduct") so one process can run both without collisions.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// summaryObjectives returns the objectives for the latency summaries.
func summaryObjectives() map[float64]float64 {
	return map[float64]float64{
		0.5:  0.010,
		0.9:  0.010,
		0.99: 0.001,
	}
}

var (
	// ItemsAdmitted counts items accepted into the timed queue.
	ItemsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delaycla_items_admitted_total",
		Help: "Total number of items admitted into the timed queue",
	}, []string{"duct"})

	// ItemsRejected counts items refused at admission.
	ItemsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delaycla_items_rejected_total",
		Help: "Total number of items refused at admission",
	}, []string{"duct", "reason"})

	// ItemsDelivered counts items handed to the core or sent to the peer.
	ItemsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delaycla_items_delivered_total",
		Help: "Total number of items delivered after their delay",
	}, []string{"duct"})

	// ItemsDropped counts items discarded by the loss model.
	ItemsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delaycla_items_dropped_total",
		Help: "Total number of items dropped by simulated link loss",
	}, []string{"duct"})

	// DeliveryFailures counts per-item transport or core failures.
	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delaycla_delivery_failures_total",
		Help: "Total number of items whose delivery failed",
	}, []string{"duct", "op"})

	// ItemsDrained counts items discarded at shutdown.
	ItemsDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delaycla_items_drained_total",
		Help: "Total number of undelivered items discarded at shutdown",
	}, []string{"duct"})

	// BytesDelivered counts payload bytes delivered.
	BytesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delaycla_bytes_delivered_total",
		Help: "Total payload bytes delivered",
	}, []string{"duct"})

	// QueueDepth gauges the pending plus dispatched items.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delaycla_queue_depth",
		Help: "Number of items currently held by the timed queue",
	}, []string{"duct"})

	// DeliveryTasksInflight gauges running dispatch delivery tasks.
	DeliveryTasksInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delaycla_delivery_tasks_inflight",
		Help: "Number of delivery tasks currently waiting or delivering",
	}, []string{"duct"})

	// DelaySeconds summarizes the propagation delay assigned at admission.
	DelaySeconds = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "delaycla_delay_seconds",
		Help:       "Summarizes the propagation delay assigned to admitted items (in seconds)",
		Objectives: summaryObjectives(),
	}, []string{"duct"})

	// LatenessSeconds summarizes how long after its release time an item was
	// delivered.
	LatenessSeconds = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "delaycla_lateness_seconds",
		Help:       "Summarizes delivery time minus release time (in seconds)",
		Objectives: summaryObjectives(),
	}, []string{"duct"})

	// PacingSeconds summarizes the rate limiter sleep per send.
	PacingSeconds = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "delaycla_pacing_seconds",
		Help:       "Summarizes the egress pacing delay per send (in seconds)",
		Objectives: summaryObjectives(),
	}, []string{"duct"})
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, listener)
}

// ServeListener exposes /metrics on listener until ctx is done.
func ServeListener(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logrus.WithFields(logrus.Fields{
		"function": "ServeListener",
		"addr":     listener.Addr().String(),
	}).Info("Serving prometheus metrics")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
