package checkoutclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlyusedtesla/checkout/internal/di"
	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
	"github.com/onlyusedtesla/checkout/internal/payments"
	"github.com/onlyusedtesla/checkout/internal/platform/config"
	"github.com/onlyusedtesla/checkout/internal/services"
	"github.com/onlyusedtesla/checkout/internal/wizard"
)

const testVIN = "5YJ3E1EB4KF123456"

type capturingDispatcher struct {
	mu    sync.Mutex
	codes map[string]string
}

func (d *capturingDispatcher) DispatchCode(_ context.Context, msg services.VerificationCodeMessage) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.codes == nil {
		d.codes = make(map[string]string)
	}
	d.codes[msg.PendingID] = msg.Code
	return "msg-" + msg.PendingID, nil
}

func (d *capturingDispatcher) code(pendingID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[pendingID]
}

type apiServer struct {
	url        string
	dispatcher *capturingDispatcher
}

func newAPIServer(t *testing.T, outcome payments.Status) apiServer {
	t.Helper()
	ctx := context.Background()
	cfg := config.Config{}
	repos, err := di.BuildRepositories(ctx, cfg)
	require.NoError(t, err)
	manager, err := payments.NewManager(map[string]payments.Provider{"sandbox": payments.NewSandboxProvider(outcome)})
	require.NoError(t, err)
	dispatcher := &capturingDispatcher{}
	container, err := di.NewContainer(ctx, cfg, repos,
		di.WithPaymentManager(manager),
		di.WithCodeDispatcher(dispatcher),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(container.Router())
	t.Cleanup(func() {
		srv.Close()
		_ = container.Close(context.Background())
	})
	return apiServer{url: srv.URL, dispatcher: dispatcher}
}

func newWizard(t *testing.T, client *Client) *wizard.Controller {
	t.Helper()
	c := wizard.New(wizard.Deps{
		Pricing:  services.MustDefaultPricingEngine(),
		Payments: client,
		Verifier: client,
	})
	c.Start(context.Background(), wizard.Resume{})
	return c
}

func set(t *testing.T, c *wizard.Controller, id fields.FieldID, raw string) {
	t.Helper()
	_, err := c.SetField(context.Background(), id, raw)
	require.NoError(t, err, "set %s", id)
}

func next(t *testing.T, c *wizard.Controller) wizard.View {
	t.Helper()
	view, err := c.Next(context.Background())
	require.NoError(t, err)
	return view
}

func walkToPayment(t *testing.T, c *wizard.Controller) {
	t.Helper()
	next(t, c)
	set(t, c, fields.VIN, testVIN)
	set(t, c, fields.Model, "Model Y")
	set(t, c, fields.Year, "2021")
	set(t, c, fields.Price, "41,000")
	set(t, c, fields.ZIP, "78701")
	set(t, c, fields.State, "TX")
	set(t, c, fields.Summary, strings.Repeat("Garage kept, FSD included. ", 3))
	next(t, c)
	set(t, c, fields.HistoryReport, "autocheck")
	set(t, c, fields.Video, "yes")
	set(t, c, fields.MarketplacePosting, "yes")
	view := next(t, c)
	require.Equal(t, domain.StepPayment, view.Step)
}

func TestWizardPaysThroughAPI(t *testing.T) {
	api := newAPIServer(t, payments.StatusSucceeded)
	client, err := New(api.url)
	require.NoError(t, err)
	c := newWizard(t, client)

	walkToPayment(t, c)
	set(t, c, fields.Email, "seller@example.com")
	require.NoError(t, c.EnterPayment(context.Background()))

	charge := c.Configuration().Charge
	require.NotNil(t, charge)
	assert.Equal(t, c.View().Quote.TotalMinor, charge.AmountMinor, "server price matches the displayed total")
	assert.Equal(t, int64(8200), charge.AmountMinor)

	res, err := c.Pay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wizard.ResolutionConfirmed, res.Kind)
	assert.True(t, strings.HasPrefix(res.Reference, services.ReferencePrefix), res.Reference)
	assert.NotContains(t, res.Reference, "DEMO")

	view := c.View()
	assert.Equal(t, domain.StepSubmitted, view.Step)
	assert.Equal(t, res.Reference, view.Configuration.Reference)
}

func TestWizardVerifiesPhoneThroughAPI(t *testing.T) {
	api := newAPIServer(t, payments.StatusSucceeded)
	client, err := New(api.url)
	require.NoError(t, err)
	c := newWizard(t, client)

	walkToPayment(t, c)
	set(t, c, fields.Email, "seller@example.com")
	set(t, c, fields.Phone, "(512) 555-0142")
	set(t, c, fields.NotificationChannel, "text")

	pending, err := c.SendCode(context.Background())
	require.NoError(t, err)
	code := api.dispatcher.code(pending.ID)
	require.Len(t, code, 6)

	ok, err := c.VerifyCode(context.Background(), code)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := c.Pay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wizard.ResolutionConfirmed, res.Kind)
}

func TestWizardStaysOnPaymentWhenChargeFails(t *testing.T) {
	api := newAPIServer(t, payments.StatusFailed)
	client, err := New(api.url)
	require.NoError(t, err)
	c := newWizard(t, client)

	walkToPayment(t, c)
	set(t, c, fields.Email, "seller@example.com")

	res, err := c.Pay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wizard.ResolutionFailed, res.Kind)
	assert.Equal(t, domain.StepPayment, c.View().Step)
	assert.Empty(t, c.View().Configuration.Reference)
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"verification_required","message":"verify the phone first","status":409}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = client.CreateCharge(context.Background(), domain.NewConfiguration(), "seller@example.com")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr, "attempt %d", i)
		assert.Equal(t, http.StatusConflict, apiErr.Status)
		assert.Equal(t, "verification_required", apiErr.Code)
		assert.Equal(t, "verify the phone first", apiErr.Message)
		assert.False(t, apiErr.Temporary())
	}
}

func TestClientBreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := client.Quote(context.Background(), domain.NewConfiguration())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.Temporary())
		assert.Equal(t, "boom", apiErr.Message)
	}

	_, err = client.Quote(context.Background(), domain.NewConfiguration())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), hits.Load(), "open breaker skips the request")
}

func TestConfirmFallsBackToSecretPrefix(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"succeeded","reference":"OUT-01HX"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL)
	require.NoError(t, err)

	outcome, err := client.ConfirmCharge(context.Background(), "pi_abc_secret_xyz")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/checkout/charges/pi_abc/confirm", path.Load())
	assert.Equal(t, domain.ChargeStatusSucceeded, outcome.Status)
	assert.Equal(t, "OUT-01HX", outcome.Reference)

	_, err = client.ConfirmCharge(context.Background(), "not-a-handle")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New("not a url")
	assert.Error(t, err)
}

func TestIdempotencyKeysAreFreshPerCall(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"currency":"usd","total_minor":2700}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		q, err := client.Quote(context.Background(), domain.NewConfiguration())
		require.NoError(t, err)
		assert.Equal(t, int64(2700), q.TotalMinor)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
	assert.True(t, strings.HasPrefix(keys[0], "wiz_"))
}
