package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter/internal/domain"
	"github.com/ignite/newsletter/internal/pkg/logger"
	"github.com/ignite/newsletter/internal/service/subscription"
)

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "", FailureReason(nil))
	assert.Equal(t, "validation_email", FailureReason(&domain.ValidationError{Field: "email", Reason: "x"}))
	assert.Equal(t, "store_conflict", FailureReason(subscription.NewConflictError("op", errors.New("dup"))))
	assert.Equal(t, "store_transient", FailureReason(subscription.NewTransientError("op", errors.New("io"))))
	assert.Equal(t, "notify", FailureReason(&subscription.NotifyError{SubscriberID: "1", Err: errors.New("down")}))
	assert.Equal(t, "other", FailureReason(errors.New("boom")))
}

func TestMetrics_CountsTransitionsAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.Observe(subscription.Event{State: subscription.StateReceived})
	m.Observe(subscription.Event{State: subscription.StateReceived})
	m.Observe(subscription.Event{
		State: subscription.StateFailed,
		From:  subscription.StatePersisted,
		Err:   &subscription.NotifyError{Err: errors.New("timeout")},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("persisted", "notify")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration must fail")
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/subscriptions/confirm", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1, testutil.CollectAndCount(m.httpLatency))

	families, err := reg.Gather()
	require.NoError(t, err)
	labels := map[string]string{}
	for _, mf := range families {
		if mf.GetName() != "newsletter_http_request_duration_seconds" {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		assert.EqualValues(t, 1, mf.GetMetric()[0].GetHistogram().GetSampleCount())
	}
	assert.Equal(t, map[string]string{
		"route":  "/subscriptions/confirm",
		"method": "GET",
		"status": "401",
	}, labels)
}

func TestLogObserver_RedactsEmail(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(logger.New(&buf, logger.DEBUG))

	obs.Observe(subscription.Event{
		State:        subscription.StateCompleted,
		SubscriberID: "abc",
		Email:        "ursula@example.com",
	})
	obs.Observe(subscription.Event{
		State: subscription.StateFailed,
		From:  subscription.StateValidated,
		Email: "ursula@example.com",
		Err:   subscription.NewTransientError("create", errors.New("conn refused")),
	})

	out := buf.String()
	assert.NotContains(t, out, "ursula@example.com")
	assert.Contains(t, out, "ur***@example.com")
	assert.Contains(t, out, `"reason":"store_transient"`)
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestMulti(t *testing.T) {
	var a, b int
	obs := Multi(
		subscription.ObserverFunc(func(subscription.Event) { a++ }),
		subscription.ObserverFunc(func(subscription.Event) { b++ }),
	)
	obs.Observe(subscription.Event{State: subscription.StateReceived})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
