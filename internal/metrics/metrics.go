// Package metrics provides Prometheus instrumentation for the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DepositsSeen counts unconfirmed deposit outputs matched to a device.
	DepositsSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stakebot",
		Name:      "deposits_seen_total",
		Help:      "Unconfirmed deposit outputs matched to a known address.",
	})

	// EscrowContractsCreated counts shared addresses communicated to users.
	EscrowContractsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stakebot",
		Name:      "escrow_contracts_created_total",
		Help:      "Escrow contracts whose shared address was sent to a device.",
	})

	// PayoutsSent counts forwarded-deposit outputs dispatched by chunk.
	PayoutsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stakebot",
		Name:      "payouts_sent_total",
		Help:      "Forwarded payout outputs submitted to the ledger.",
	})

	// PayoutFailures counts failed payment submissions by kind.
	PayoutFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stakebot",
		Name:      "payout_failures_total",
		Help:      "Failed payment submissions by kind.",
	}, []string{"kind"})

	// RewardsSent counts stake rewards dispatched from the treasury.
	RewardsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stakebot",
		Name:      "rewards_sent_total",
		Help:      "Stake rewards dispatched to linked addresses.",
	})

	// MessagesSent counts outbound chat messages.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stakebot",
		Name:      "messages_sent_total",
		Help:      "Chat messages sent to paired devices.",
	})

	// NodeConnected reports hub connectivity (1 connected, 0 not).
	NodeConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stakebot",
		Name:      "node_connected",
		Help:      "Whether the websocket session to the wallet node is up.",
	})
)

// Register registers all metrics with the default registry.
func Register() {
	prometheus.MustRegister(
		DepositsSeen,
		EscrowContractsCreated,
		PayoutsSent,
		PayoutFailures,
		RewardsSent,
		MessagesSent,
		NodeConnected,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
