package subscription_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfylabs/billing/svc/subscription"
)

// fakeGateway issues sequential invoices in memory and verifies a fixed
// callback token. It stands in for Xendit in full-journey tests.
type fakeGateway struct {
	token   string
	created int
	expired []string
}

func (g *fakeGateway) CreateInvoice(_ context.Context, spec subscription.InvoiceSpec) (*subscription.GatewayInvoice, error) {
	g.created++
	return &subscription.GatewayInvoice{
		InvoiceID: fmt.Sprintf("inv_%d", g.created),
		URL:       fmt.Sprintf("https://checkout.test/inv_%d", g.created),
		ExpiresAt: time.Now().UTC().Add(spec.Duration),
	}, nil
}

func (g *fakeGateway) ExpireInvoice(_ context.Context, invoiceID string) error {
	g.expired = append(g.expired, invoiceID)
	return nil
}

func (g *fakeGateway) VerifyCallbackToken(presented string) bool {
	return presented == g.token
}

type fixture struct {
	store      *subscription.MemoryStore
	gateway    *fakeGateway
	reconciler *subscription.Reconciler
	server     *httptest.Server
	user       subscription.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := subscription.NewMemoryStore()
	gateway := &fakeGateway{token: "secret"}
	svc := subscription.NewService(testConfig(), store, gateway, nil, nil)
	proc := subscription.NewEventProcessor(gateway, store, nil, nil)
	rec := subscription.NewReconciler(subscription.ReconcilerConfig{}, store, nil, nil)

	user := testUser()
	router := subscription.Router(svc, proc, nil)

	// Stands in for the chat application's session middleware.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook" && r.Header.Get("X-Test-Anonymous") == "" {
			r = r.WithContext(subscription.WithUser(r.Context(), user))
		}
		router.ServeHTTP(w, r)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &fixture{store: store, gateway: gateway, reconciler: rec, server: server, user: user}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *fixture) create(t *testing.T, plan string) (*http.Response, map[string]any) {
	t.Helper()
	return f.do(t, http.MethodPost, "/create", fmt.Appendf(nil, `{"type":%q}`, plan), nil)
}

func (f *fixture) webhook(t *testing.T, token string, payload []byte) (*http.Response, map[string]any) {
	t.Helper()
	return f.do(t, http.MethodPost, "/webhook", payload, map[string]string{"X-Callback-Token": token})
}

func (f *fixture) status(t *testing.T) (*http.Response, map[string]any) {
	t.Helper()
	return f.do(t, http.MethodGet, "/status", nil, nil)
}

func TestRouter_CreateRequiresUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/create", []byte(`{"type":"daily"}`),
		map[string]string{"X-Test-Anonymous": "1"})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized", body["error"])
}

func TestRouter_CreateRejectsUnknownPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, body := f.create(t, "monthly")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "Invalid subscription type")
	assert.Zero(t, f.gateway.created)
}

func TestRouter_DailyLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// Create: 99 PHP daily invoice, pending subscription.
	resp, body := f.create(t, "daily")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	invoice := body["invoice"].(map[string]any)
	assert.Equal(t, float64(99), invoice["amount"])
	assert.Equal(t, "PHP", invoice["currency"])
	assert.Equal(t, "https://checkout.test/inv_1", invoice["invoice_url"])

	sub := body["subscription"].(map[string]any)
	assert.Equal(t, "pending", sub["status"])
	assert.Equal(t, "daily", sub["type"])
	assert.Equal(t, false, sub["isActive"])

	// Status before payment: no entitlement yet.
	_, body = f.status(t)
	assert.Equal(t, false, body["hasActiveSubscription"])

	// Gateway reports payment.
	resp, _ = f.webhook(t, "secret", paidEvent("inv_1", "pay_1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.status(t)
	assert.Equal(t, true, body["hasActiveSubscription"])
	active := body["activeSubscription"].(map[string]any)
	assert.Equal(t, "active", active["status"])
	assert.Equal(t, true, active["isActive"])

	// A day later the reconciler sweeps and the entitlement decays.
	f.reconciler.Sweep(context.Background(), time.Now().UTC().Add(25*time.Hour))

	_, body = f.status(t)
	assert.Equal(t, false, body["hasActiveSubscription"])
	history := body["subscriptionHistory"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "expired", history[0].(map[string]any)["status"])
}

func TestRouter_WeeklyExpiresUnpaid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, body := f.create(t, "weekly")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	invoice := body["invoice"].(map[string]any)
	assert.Equal(t, float64(499), invoice["amount"])

	// The invoice dies unpaid.
	resp, _ = f.webhook(t, "secret", expiredEvent("inv_1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Duplicate expiry is acked.
	resp, _ = f.webhook(t, "secret", expiredEvent("inv_1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A late paid delivery is acked but never grants the entitlement.
	resp, _ = f.webhook(t, "secret", paidEvent("inv_1", "pay_late"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.status(t)
	assert.Equal(t, false, body["hasActiveSubscription"])
	history := body["subscriptionHistory"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "expired", history[0].(map[string]any)["status"])

	// The expired record no longer blocks a fresh purchase.
	resp, _ = f.create(t, "weekly")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, f.gateway.created)
}

func TestRouter_SecondCreateWhilePending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, _ := f.create(t, "daily")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.create(t, "daily")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "User already has an active subscription", body["error"])
	existing := body["subscription"].(map[string]any)
	assert.Equal(t, "pending", existing["status"])

	// No second invoice was issued.
	assert.Equal(t, 1, f.gateway.created)
}

func TestRouter_WebhookRejectsBadToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, body := f.webhook(t, "not-the-secret", paidEvent("inv_1", "pay_1"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid signature", body["error"])
}

func TestRouter_CancelLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, body := f.create(t, "daily")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subID := body["subscription"].(map[string]any)["id"].(string)

	// Pending subscriptions cannot be cancelled.
	resp, _ = f.do(t, http.MethodPost, "/cancel/"+subID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.webhook(t, "secret", paidEvent("inv_1", "pay_1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/cancel/"+subID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := body["subscription"].(map[string]any)
	assert.Equal(t, "cancelled", cancelled["status"])
	assert.NotNil(t, cancelled["cancelledAt"])

	// Cancelling twice reports not active.
	resp, _ = f.do(t, http.MethodPost, "/cancel/"+subID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/cancel/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
