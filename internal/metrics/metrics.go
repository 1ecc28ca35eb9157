// Package metrics provides Prometheus instrumentation for the HearMe relay
// server: gauges for connection, queue, and session counts, and counters for
// relay throughput and moderation activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hearme_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// MatchQueueSize tracks the number of waiting searchers per mode.
	MatchQueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hearme_match_queue_size",
		Help: "Current number of connections waiting in each mode's queue",
	}, []string{"mode"})

	// ActiveSessions tracks the current number of active pairings.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hearme_active_sessions",
		Help: "Current number of active chat sessions",
	})

	// GhostsDiscarded counts queued connections found dead during pairing.
	GhostsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearme_ghosts_discarded_total",
		Help: "Queued connections discarded because their transport had closed",
	})

	// RelayedFrames counts relayed frames by kind: "text", "signal", or
	// "dropped" for frames addressed to a closed partner.
	RelayedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hearme_relayed_frames_total",
		Help: "Frames relayed between session partners",
	}, []string{"kind"}) // kind = "text", "signal", "dropped"

	// ReportsFiled counts report_user requests that resolved to a partner.
	ReportsFiled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearme_reports_filed_total",
		Help: "Abuse reports filed against session partners",
	})

	// BansIssued counts threshold crossings that produced a ban.
	BansIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearme_bans_issued_total",
		Help: "Bans issued by the moderation gate",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchQueueSize,
		ActiveSessions,
		GhostsDiscarded,
		RelayedFrames,
		ReportsFiled,
		BansIssued,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
