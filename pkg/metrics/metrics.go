// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts inbound conversational turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total conversational turns by outcome",
		},
		[]string{"outcome"},
	)

	TokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "agent",
			Name:      "tokens_total",
			Help:      "Total completion tokens charged to users",
		},
	)

	// DialogResetsTotal counts session rollovers by reason: timeout, command
	// or mode.
	DialogResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "session",
			Name:      "dialog_resets_total",
			Help:      "Total dialog rollovers by reason",
		},
		[]string{"reason"},
	)

	TruncatedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "agent",
			Name:      "truncated_messages_total",
			Help:      "Total history turns dropped to fit the model context",
		},
	)

	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dotchat",
			Subsystem: "provider",
			Name:      "completion_duration_seconds",
			Help:      "Completion call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "agent",
			Name:      "commands_total",
			Help:      "Total bot commands handled",
		},
		[]string{"command"},
	)

	// DeliveryFallbacksTotal counts plain redeliveries after a format
	// rejection, by result.
	DeliveryFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "channels",
			Name:      "delivery_fallbacks_total",
			Help:      "Plain-text redeliveries after format rejection",
		},
		[]string{"result"},
	)

	PanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "agent",
			Name:      "recovered_panics_total",
			Help:      "Panics recovered while processing messages",
		},
	)

	RetentionSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotchat",
			Subsystem: "store",
			Name:      "retention_swept_dialogs_total",
			Help:      "Inactive dialogs deleted by the retention sweep",
		},
	)
)

// RegisterQueueGauges exposes inbound queue depth and drops.
func RegisterQueueGauges(reg prometheus.Registerer, pending func() int, dropped func() uint64) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "dotchat",
		Subsystem: "bus",
		Name:      "inbound_pending",
		Help:      "Inbound messages waiting for dispatch",
	}, func() float64 { return float64(pending()) })
	drops := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "dotchat",
		Subsystem: "bus",
		Name:      "inbound_dropped_total",
		Help:      "Inbound messages dropped because the queue was full",
	}, func() float64 { return float64(dropped()) })
	if err := reg.Register(depth); err != nil {
		return err
	}
	return reg.Register(drops)
}
