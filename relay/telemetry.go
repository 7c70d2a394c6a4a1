// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	replayFull    = "full"
	replayPartial = "partial"
)

var (
	metricConnectionsAttached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porthole_relay_connections_attached_total",
			Help: "Connections accepted into a session, by role and protocol version.",
		},
		[]string{"role", "version"},
	)

	metricConnectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porthole_relay_connections_closed_total",
			Help: "Connections closed by the relay, by role and close reason.",
		},
		[]string{"role", "reason"},
	)

	metricForwardedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "porthole_relay_forwarded_bytes_total",
			Help: "Payload bytes accepted for forwarding.",
		},
	)

	metricForwardedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "porthole_relay_forwarded_messages_total",
			Help: "Messages enqueued to peer connections, counting each fan-out target.",
		},
	)

	metricReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porthole_relay_replays_total",
			Help: "Stream replays served to resuming clients, by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerMetricsOnce sync.Once

// RegisterMetrics registers the relay's collectors with the default
// Prometheus registry. Safe to call more than once.
func RegisterMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(
			metricConnectionsAttached,
			metricConnectionsClosed,
			metricForwardedBytes,
			metricForwardedMessages,
			metricReplays,
		)
	})
}

func recordAttach(a Attachment) {
	metricConnectionsAttached.WithLabelValues(a.Role.String(), a.Version.String()).Inc()
}

func recordClose(a Attachment, reason CloseReason) {
	metricConnectionsClosed.WithLabelValues(a.Role.String(), reason.String()).Inc()
}

func recordForward(payloadBytes, targets int) {
	metricForwardedBytes.Add(float64(payloadBytes))
	metricForwardedMessages.Add(float64(targets))
}

func recordReplay(outcome string) {
	metricReplays.WithLabelValues(outcome).Inc()
}
