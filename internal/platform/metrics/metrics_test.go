package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncWebhook("processed")
	m.IncWebhook("processed")
	m.IncSubscriptionCompleted(250)
	m.ObserveUpstream("ledger", "mint", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhooksReceived.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriptionsCompleted))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.TokensIssued))
	assert.Equal(t, 1, testutil.CollectAndCount(m.UpstreamCallDuration))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncWebhook("ignored")
		m.IncCompletionConflict()
		m.ObserveUpstream("ledger", "mint", time.Now(), nil)
	})
}
