package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SandboxProvider keeps intents in memory for local runs without PSP credentials.
// Every confirmed lookup resolves to the configured outcome.
type SandboxProvider struct {
	mu      sync.Mutex
	intents map[string]PaymentDetails
	outcome Status
}

// NewSandboxProvider returns a provider whose intents resolve to outcome once looked up.
// An empty outcome resolves to StatusSucceeded.
func NewSandboxProvider(outcome Status) *SandboxProvider {
	if outcome == "" {
		outcome = StatusSucceeded
	}
	return &SandboxProvider{
		intents: make(map[string]PaymentDetails),
		outcome: outcome,
	}
}

func (s *SandboxProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("sandbox: create payment intent: amount must be positive, got %d", req.Amount)
	}
	id := randomID("pi")
	details := PaymentDetails{
		Provider: "sandbox",
		IntentID: id,
		Status:   StatusPending,
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
	}
	s.mu.Lock()
	s.intents[id] = details
	s.mu.Unlock()
	return Intent{
		ID:           id,
		Provider:     "sandbox",
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, randomID("key")),
		Amount:       req.Amount,
		Currency:     details.Currency,
		Status:       StatusPending,
	}, nil
}

func (s *SandboxProvider) UpdateIntent(_ context.Context, req UpdateIntentRequest) (PaymentDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	details, ok := s.intents[req.IntentID]
	if !ok {
		return PaymentDetails{}, fmt.Errorf("sandbox: update payment intent: %w", ErrIntentNotFound)
	}
	details.Amount = req.Amount
	s.intents[req.IntentID] = details
	return details, nil
}

func (s *SandboxProvider) LookupPayment(_ context.Context, req LookupRequest) (PaymentDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	details, ok := s.intents[req.IntentID]
	if !ok {
		return PaymentDetails{}, fmt.Errorf("sandbox: lookup payment intent: %w", ErrIntentNotFound)
	}
	details.Status = s.outcome
	if s.outcome == StatusFailed {
		details.FailureMessage = "Your card was declined."
	}
	s.intents[req.IntentID] = details
	return details, nil
}

func randomID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err == nil {
		return fmt.Sprintf("%s_%s", strings.TrimSpace(prefix), hex.EncodeToString(b))
	}
	return fmt.Sprintf("%s_%d", strings.TrimSpace(prefix), time.Now().UnixNano())
}
