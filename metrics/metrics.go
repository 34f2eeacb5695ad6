// Package metrics exposes prometheus collectors for the protocol core.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts accepted connections per protocol.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_connections_total",
			Help: "Total number of accepted connections.",
		},
		[]string{"protocol"},
	)

	// OpenConnections tracks currently open connections per protocol.
	OpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailroom_open_connections",
			Help: "Number of currently open connections.",
		},
		[]string{"protocol"},
	)

	// MessagesReceivedTotal counts completed SMTP DATA transactions.
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_messages_received_total",
			Help: "Total number of messages accepted over SMTP.",
		},
	)

	// DeliveriesTotal counts per-recipient delivery outcomes.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_deliveries_total",
			Help: "Per-recipient delivery outcomes.",
		},
		[]string{"result"},
	)

	// IMAPCommandsTotal counts dispatched IMAP commands.
	IMAPCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_imap_commands_total",
			Help: "Dispatched IMAP commands by verb and result.",
		},
		[]string{"verb", "result"},
	)
)

// Serve exposes /metrics on addr. Blocks; intended to run in its own
// goroutine. A listen failure is logged, not fatal.
func Serve(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("metrics listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", slog.Any("error", err))
	}
}
