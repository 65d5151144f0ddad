package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Methods are
// nil-safe so services may run without metrics.
type Metrics struct {
	WebhooksReceived       *prometheus.CounterVec
	AdminDecisions         *prometheus.CounterVec
	InvitationsIssued      prometheus.Counter
	SubscriptionsCompleted prometheus.Counter
	CompletionConflicts    prometheus.Counter
	TokensIssued           prometheus.Counter
	DistributionsRecorded  *prometheus.CounterVec
	ProvisioningFailures   prometheus.Counter
	UpstreamCallDuration   *prometheus.HistogramVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capstack_verification_webhooks_total",
			Help: "Verification webhooks received, by outcome",
		}, []string{"outcome"}),
		AdminDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capstack_admin_decisions_total",
			Help: "Admin review decisions, by review type and decision",
		}, []string{"review_type", "decision"}),
		InvitationsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "capstack_invitations_issued_total",
			Help: "Invitations created or extended",
		}),
		SubscriptionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "capstack_subscriptions_completed_total",
			Help: "Subscriptions moved to completed",
		}),
		CompletionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "capstack_subscription_completion_conflicts_total",
			Help: "Completion attempts that lost the claim race",
		}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "capstack_tokens_issued_total",
			Help: "Tokens credited to cap tables through subscription completion",
		}),
		DistributionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capstack_distributions_recorded_total",
			Help: "Distributions recorded, by type",
		}, []string{"type"}),
		ProvisioningFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "capstack_token_contract_provisioning_failures_total",
			Help: "Best-effort token contract provisioning failures after SPV approval",
		}),
		UpstreamCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capstack_upstream_call_duration_seconds",
			Help:    "Latency of verification provider and token ledger calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "operation", "outcome"}),
	}
}

func (m *Metrics) IncWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhooksReceived.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAdminDecision(reviewType, decision string) {
	if m == nil {
		return
	}
	m.AdminDecisions.WithLabelValues(reviewType, decision).Inc()
}

func (m *Metrics) AddInvitationsIssued(n int) {
	if m == nil {
		return
	}
	m.InvitationsIssued.Add(float64(n))
}

func (m *Metrics) IncSubscriptionCompleted(tokens float64) {
	if m == nil {
		return
	}
	m.SubscriptionsCompleted.Inc()
	m.TokensIssued.Add(tokens)
}

func (m *Metrics) IncCompletionConflict() {
	if m == nil {
		return
	}
	m.CompletionConflicts.Inc()
}

func (m *Metrics) IncDistribution(kind string) {
	if m == nil {
		return
	}
	m.DistributionsRecorded.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncProvisioningFailure() {
	if m == nil {
		return
	}
	m.ProvisioningFailures.Inc()
}

// ObserveUpstream records the latency of a call that started at start.
func (m *Metrics) ObserveUpstream(upstream, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamCallDuration.WithLabelValues(upstream, operation, outcome).Observe(time.Since(start).Seconds())
}
