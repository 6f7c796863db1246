package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_sent_total",
			Help: "Total number of messages sent through the optimistic pipeline",
		},
		[]string{"kind", "status"},
	)

	realtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_realtime_events_total",
			Help: "Realtime insert events by routing outcome",
		},
		[]string{"table", "outcome"},
	)

	historyLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_history_loads_total",
			Help: "Full history loads by conversation kind and status",
		},
		[]string{"kind", "status"},
	)

	listRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_list_refresh_total",
			Help: "Conversation list refreshes",
		},
		[]string{"status"},
	)

	historyLoadSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "chatsync_history_load_seconds",
			Help: "Time to assemble one conversation's full history",
		},
	)
)

// Routing outcomes for realtimeEventsTotal
const (
	outcomeApplied    = "applied"
	outcomeDuplicate  = "duplicate"
	outcomeSelf       = "self"
	outcomeIrrelevant = "irrelevant"
	outcomeMalformed  = "malformed"
)
