package tests

// User story tests for the newsletter service. Each story drives the HTTP
// router with the production components wired together: the PostgreSQL
// repository over sqlmock, the email API client against an httptest
// provider, and the Redis resend queue over miniredis.

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter/internal/api"
	"github.com/ignite/newsletter/internal/email"
	"github.com/ignite/newsletter/internal/observability"
	"github.com/ignite/newsletter/internal/pkg/distlock"
	"github.com/ignite/newsletter/internal/pkg/logger"
	"github.com/ignite/newsletter/internal/pkg/secret"
	"github.com/ignite/newsletter/internal/repository/postgres"
	"github.com/ignite/newsletter/internal/service/subscription"
	"github.com/ignite/newsletter/internal/worker"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

const providerToken = "provider-token"

// capture is a sqlmock argument matcher that remembers the value it saw.
type capture struct {
	mu  sync.Mutex
	val string
}

func (c *capture) Match(v driver.Value) bool {
	s, ok := v.(string)
	c.mu.Lock()
	c.val = s
	c.mu.Unlock()
	return ok
}

func (c *capture) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

// provider is a fake email API that records accepted messages.
type provider struct {
	mu     sync.Mutex
	down   bool
	emails []map[string]string
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/email" || r.Header.Get(email.AuthHeader) != providerToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.emails = append(p.emails, body)
	w.WriteHeader(http.StatusOK)
}

func (p *provider) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *provider) sent() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]string(nil), p.emails...)
}

// TestContext holds shared test infrastructure
type TestContext struct {
	DB       *sql.DB
	Mock     sqlmock.Sqlmock
	Redis    *redis.Client
	Provider *provider
	Registry *prometheus.Registry
	Queue    *worker.RedisResendQueue
	Service  *subscription.Service
	App      *httptest.Server
}

func setupTestContext(t *testing.T) *TestContext {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	prov := &provider{}
	provSrv := httptest.NewServer(prov)
	t.Cleanup(provSrv.Close)

	log := logger.New(io.Discard, logger.ERROR)
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	tc := &TestContext{
		DB:       db,
		Mock:     mock,
		Redis:    redisClient,
		Provider: prov,
		Registry: reg,
		Queue:    worker.NewRedisResendQueue(redisClient),
	}

	var handler http.Handler
	tc.App = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(tc.App.Close)

	notifier := email.NewAPIClient(email.APIConfig{
		BaseURL:    provSrv.URL,
		Sender:     "newsletter@example.com",
		Token:      secret.New(providerToken),
		Timeout:    2 * time.Second,
		MaxRetries: -1,
	}, nil)

	tc.Service, err = subscription.NewService(postgres.NewSubscriptionRepo(db), notifier, subscription.Options{
		BaseURL:  tc.App.URL,
		Observer: observability.Multi(observability.NewLogObserver(log), metrics),
		Resend:   tc.Queue,
	})
	require.NoError(t, err)

	handler = api.SetupRoutes(api.Deps{
		Subscriptions:  tc.Service,
		Health:         api.NewHealthChecker(db, redisClient, "test"),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         log,
	})
	return tc
}

// expectCreatePending queues the insert transaction and returns captures for
// the generated subscriber id and token.
func (tc *TestContext) expectCreatePending(emailAddr string) (id, token *capture) {
	id, token = &capture{}, &capture{}
	tc.Mock.ExpectBegin()
	tc.Mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs(id, emailAddr, sqlmock.AnyArg(), sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	tc.Mock.ExpectExec("INSERT INTO subscription_tokens").
		WithArgs(token, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	tc.Mock.ExpectCommit()
	return id, token
}

func (tc *TestContext) subscribe(t *testing.T, name, emailAddr string) int {
	t.Helper()
	form := url.Values{"name": {name}, "email": {emailAddr}}
	resp, err := tc.App.Client().Post(tc.App.URL+"/subscriptions",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func (tc *TestContext) get(t *testing.T, rawURL string) (int, string) {
	t.Helper()
	resp, err := tc.App.Client().Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func linkIn(t *testing.T, body string) string {
	t.Helper()
	for _, field := range strings.Fields(body) {
		if strings.Contains(field, "/subscriptions/confirm?token=") {
			return field
		}
	}
	t.Fatalf("no confirmation link in %q", body)
	return ""
}

// =============================================================================
// USER STORY 1: A visitor subscribes and confirms from their inbox
// =============================================================================

func TestUserStory_SubscribeAndConfirm(t *testing.T) {
	tc := setupTestContext(t)

	id, token := tc.expectCreatePending("ursula@example.com")
	require.Equal(t, http.StatusOK, tc.subscribe(t, "Ursula Le Guin", "ursula@example.com"))

	sent := tc.Provider.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ursula@example.com", sent[0]["To"])
	assert.Equal(t, "newsletter@example.com", sent[0]["From"])
	assert.Equal(t, "Welcome!", sent[0]["Subject"])

	link := linkIn(t, sent[0]["TextBody"])
	assert.Equal(t, tc.App.URL+"/subscriptions/confirm?token="+token.get(), link)
	assert.Contains(t, sent[0]["HtmlBody"], link)

	tc.Mock.ExpectQuery("SELECT subscriber_id FROM subscription_tokens").
		WithArgs(token.get()).
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id"}).AddRow(id.get()))
	tc.Mock.ExpectExec("UPDATE subscriptions SET status").
		WithArgs("confirmed", id.get()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	status, body := tc.get(t, link)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"confirmed"}`, body)
	assert.NoError(t, tc.Mock.ExpectationsWereMet())
}

// =============================================================================
// USER STORY 2: An unknown or missing token is refused
// =============================================================================

func TestUserStory_UnknownTokenIsRefused(t *testing.T) {
	tc := setupTestContext(t)

	tc.Mock.ExpectQuery("SELECT subscriber_id FROM subscription_tokens").
		WithArgs("AAAAAAAAAAAAAAAAAAAAAAAAA").
		WillReturnError(sql.ErrNoRows)

	status, _ := tc.get(t, tc.App.URL+"/subscriptions/confirm?token=AAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = tc.get(t, tc.App.URL+"/subscriptions/confirm")
	assert.Equal(t, http.StatusBadRequest, status)

	assert.NoError(t, tc.Mock.ExpectationsWereMet(), "no UPDATE issued")
}

// =============================================================================
// USER STORY 3: Signing up twice with one address fails without an email
// =============================================================================

func TestUserStory_DuplicateEmail(t *testing.T) {
	tc := setupTestContext(t)

	tc.Mock.ExpectBegin()
	tc.Mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	tc.Mock.ExpectRollback()

	assert.Equal(t, http.StatusInternalServerError, tc.subscribe(t, "Ursula", "ursula@example.com"))
	assert.Empty(t, tc.Provider.sent())
	assert.NoError(t, tc.Mock.ExpectationsWereMet())

	status, body := tc.get(t, tc.App.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `newsletter_subscription_failures_total{from="validated",reason="store_conflict"} 1`)
}

// =============================================================================
// USER STORY 4: The provider is down; the resend worker delivers later
// =============================================================================

func TestUserStory_ProviderOutageRecoveredByResend(t *testing.T) {
	tc := setupTestContext(t)
	ctx := context.Background()

	tc.Provider.setDown(true)
	id, token := tc.expectCreatePending("octavia@example.com")
	assert.Equal(t, http.StatusInternalServerError, tc.subscribe(t, "Octavia", "octavia@example.com"))
	assert.Empty(t, tc.Provider.sent())

	queued, err := tc.Queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), queued, "failed notification is queued for resend")

	tc.Mock.ExpectQuery("SELECT id, email, name, status, subscribed_at").
		WithArgs(id.get()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "status", "subscribed_at"}).
			AddRow(id.get(), "octavia@example.com", "Octavia", "pending", time.Now()))
	tc.Mock.ExpectQuery("SELECT subscription_token FROM subscription_tokens").
		WithArgs(id.get()).
		WillReturnRows(sqlmock.NewRows([]string{"subscription_token"}).AddRow(token.get()))

	tc.Provider.setDown(false)

	lock, err := distlock.NewLock(tc.Redis, nil, "resend", time.Minute)
	require.NoError(t, err)
	w := worker.NewResendWorker(tc.Queue, tc.Service, lock, worker.ResendConfig{
		Interval: 10 * time.Millisecond,
	}, logger.New(io.Discard, logger.ERROR))
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.Eventually(t, func() bool { return len(tc.Provider.sent()) == 1 }, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	sent := tc.Provider.sent()
	assert.Equal(t, "octavia@example.com", sent[0]["To"])
	assert.Contains(t, sent[0]["TextBody"], "token="+token.get())
	assert.Equal(t, int64(1), w.Stats().Delivered)
	assert.NoError(t, tc.Mock.ExpectationsWereMet())
}

// =============================================================================
// USER STORY 5: An operator checks service health
// =============================================================================

func TestUserStory_HealthChecks(t *testing.T) {
	tc := setupTestContext(t)

	status, body := tc.get(t, tc.App.URL+"/health_check")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	status, _ = tc.get(t, tc.App.URL+"/health/ready")
	assert.Equal(t, http.StatusOK, status)
}
