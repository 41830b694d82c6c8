package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntentAPI struct {
	newParams    *stripe.PaymentIntentParams
	updateID     string
	updateParams *stripe.PaymentIntentParams
	getID        string
	intent       *stripe.PaymentIntent
	err          error
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.newParams = params
	return f.intent, f.err
}

func (f *fakeIntentAPI) Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.updateID = id
	f.updateParams = params
	return f.intent, f.err
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.getID = id
	return f.intent, f.err
}

func newTestStripeProvider(t *testing.T, api *fakeIntentAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		AccountID: "acct_123",
		Clients:   &stripeClients{intents: api},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestStripeProviderCreateIntent(t *testing.T) {
	api := &fakeIntentAPI{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret_abc",
		Amount:       9200,
		Currency:     stripe.CurrencyUSD,
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}}
	provider := newTestStripeProvider(t, api)

	var events []string
	provider.logger = func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{
		Amount:         9200,
		Currency:       "USD",
		ReceiptEmail:   "seller@example.com",
		Metadata:       map[string]string{"listing_vin": "5YJ3E1EB4KF123456"},
		IdempotencyKey: "charge-key",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret_abc" || intent.Status != StatusPending {
		t.Fatalf("unexpected intent %+v", intent)
	}

	params := api.newParams
	if params == nil {
		t.Fatalf("expected New to be called")
	}
	if *params.Amount != 9200 || *params.Currency != "usd" {
		t.Fatalf("unexpected amount params %d %s", *params.Amount, *params.Currency)
	}
	if params.AutomaticPaymentMethods == nil || !*params.AutomaticPaymentMethods.Enabled {
		t.Fatalf("expected automatic payment methods enabled")
	}
	if *params.ReceiptEmail != "seller@example.com" {
		t.Fatalf("unexpected receipt email %v", params.ReceiptEmail)
	}
	if params.Metadata["listing_vin"] != "5YJ3E1EB4KF123456" {
		t.Fatalf("expected metadata forwarded, got %v", params.Metadata)
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "charge-key" {
		t.Fatalf("expected idempotency key forwarded")
	}
	if params.StripeAccount == nil || *params.StripeAccount != "acct_123" {
		t.Fatalf("expected connected account forwarded")
	}
	if len(events) != 1 || events[0] != "payments.stripe.intent.created" {
		t.Fatalf("unexpected log events %v", events)
	}
}

func TestStripeProviderRejectsNonPositiveAmount(t *testing.T) {
	api := &fakeIntentAPI{}
	provider := newTestStripeProvider(t, api)
	if _, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 0, Currency: "usd"}); err == nil {
		t.Fatalf("expected error")
	}
	if api.newParams != nil {
		t.Fatalf("stripe must not be called")
	}
}

func TestStripeProviderUpdateIntent(t *testing.T) {
	api := &fakeIntentAPI{intent: &stripe.PaymentIntent{ID: "pi_123", Amount: 4700, Currency: stripe.CurrencyUSD}}
	provider := newTestStripeProvider(t, api)

	details, err := provider.UpdateIntent(context.Background(), UpdateIntentRequest{IntentID: "pi_123", Amount: 4700})
	if err != nil {
		t.Fatalf("UpdateIntent: %v", err)
	}
	if api.updateID != "pi_123" || *api.updateParams.Amount != 4700 {
		t.Fatalf("unexpected update call %s %+v", api.updateID, api.updateParams)
	}
	if details.Amount != 4700 || details.Currency != "USD" {
		t.Fatalf("unexpected details %+v", details)
	}
}

func TestStripeProviderMapsNotFound(t *testing.T) {
	api := &fakeIntentAPI{err: &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}}
	provider := newTestStripeProvider(t, api)

	_, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "pi_missing"})
	if !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestStripePaymentDetailsStatusMapping(t *testing.T) {
	cases := []struct {
		intent *stripe.PaymentIntent
		want   Status
	}{
		{&stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded}, StatusSucceeded},
		{&stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}, StatusProcessing},
		{&stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresAction}, StatusRequiresAction},
		{&stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}, StatusFailed},
		{&stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, StatusPending},
		{&stripe.PaymentIntent{
			Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
			LastPaymentError: &stripe.Error{Msg: "Your card was declined."},
		}, StatusFailed},
		{&stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresConfirmation}, StatusPending},
	}
	for _, tc := range cases {
		details := stripePaymentDetails(tc.intent)
		if details.Status != tc.want {
			t.Fatalf("status %s: expected %s, got %s", tc.intent.Status, tc.want, details.Status)
		}
	}

	declined := stripePaymentDetails(cases[5].intent)
	if declined.FailureMessage != "Your card was declined." {
		t.Fatalf("expected failure message, got %q", declined.FailureMessage)
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
