// Package checkoutclient talks to the checkout API on behalf of the wizard.
package checkoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/wizard"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxResponseBytes  = 1 << 20
	secretSeparator   = "_secret_"
)

var (
	// ErrNotConfigured is returned by New when no base URL is given.
	ErrNotConfigured = errors.New("checkoutclient: base url is empty")
	// ErrUnknownHandle is returned when a client handle cannot be mapped to a charge.
	ErrUnknownHandle = errors.New("checkoutclient: unknown client handle")
)

// APIError is a non-2xx response from the checkout API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("checkout api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("checkout api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether the request may succeed when retried later.
func (e *APIError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// Client implements the wizard's payment collaborator and verifier over HTTP. Calls go
// through a circuit breaker so a failing API is skipped quickly.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
	newKey  func() string

	mu      sync.Mutex
	handles map[string]string
}

var (
	_ wizard.PaymentCollaborator = (*Client)(nil)
	_ wizard.Verifier            = (*Client)(nil)
)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger for breaker state changes.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIdempotencyKeys overrides how request keys are generated.
func WithIdempotencyKeys(gen func() string) Option {
	return func(c *Client) {
		if gen != nil {
			c.newKey = gen
		}
	}
}

// New builds a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("checkoutclient: invalid base url: %w", err)
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
		newKey:  func() string { return "wiz_" + strings.ToLower(ulid.Make().String()) },
		handles: make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "checkout-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && !apiErr.Temporary()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("checkoutclient: breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// CreateCharge asks the API to price cfg and open a charge for it.
func (c *Client) CreateCharge(ctx context.Context, cfg domain.Configuration, email string) (domain.ChargeHandle, error) {
	var resp chargePayload
	err := c.post(ctx, "/api/v1/checkout/charges", createChargeRequest{Configuration: cfg, Email: strings.TrimSpace(email)}, &resp)
	if err != nil {
		return domain.ChargeHandle{}, err
	}
	handle := resp.handle()
	c.remember(handle)
	return handle, nil
}

// UpdateCharge re-prices an open charge after cfg changed.
func (c *Client) UpdateCharge(ctx context.Context, token string, cfg domain.Configuration) (domain.ChargeHandle, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ChargeHandle{}, errors.New("checkoutclient: charge token is required")
	}
	var resp chargePayload
	if err := c.post(ctx, "/api/v1/checkout/charges/"+url.PathEscape(token), updateChargeRequest{Configuration: cfg}, &resp); err != nil {
		return domain.ChargeHandle{}, err
	}
	return resp.handle(), nil
}

// ConfirmCharge reads back the charge status once the payer finished.
func (c *Client) ConfirmCharge(ctx context.Context, clientHandle string) (wizard.ChargeOutcome, error) {
	chargeID, err := c.chargeFor(clientHandle)
	if err != nil {
		return wizard.ChargeOutcome{}, err
	}
	var resp confirmPayload
	if err := c.post(ctx, "/api/v1/checkout/charges/"+url.PathEscape(chargeID)+"/confirm", struct{}{}, &resp); err != nil {
		return wizard.ChargeOutcome{}, err
	}
	return wizard.ChargeOutcome{
		Status:    domain.ChargeStatus(strings.TrimSpace(resp.Status)),
		Reason:    strings.TrimSpace(resp.Reason),
		Reference: strings.TrimSpace(resp.Reference),
	}, nil
}

// Quote returns the server's price for cfg.
func (c *Client) Quote(ctx context.Context, cfg domain.Configuration) (domain.Quote, error) {
	var resp quotePayload
	if err := c.post(ctx, "/api/v1/checkout/quote", updateChargeRequest{Configuration: cfg}, &resp); err != nil {
		return domain.Quote{}, err
	}
	return resp.quote(), nil
}

// Send requests a verification code for phone.
func (c *Client) Send(ctx context.Context, phone string) (wizard.Pending, error) {
	var resp pendingPayload
	if err := c.post(ctx, "/api/v1/verification/send", sendCodeRequest{Phone: phone}, &resp); err != nil {
		return wizard.Pending{}, err
	}
	return wizard.Pending{ID: resp.PendingID, ExpiresAt: resp.ExpiresAt}, nil
}

// Verify checks code for the pending verification.
func (c *Client) Verify(ctx context.Context, pendingID, phone, code string) (bool, error) {
	var resp verifyPayload
	err := c.post(ctx, "/api/v1/verification/verify", verifyCodeRequest{PendingID: pendingID, Phone: phone, Code: code}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Verified, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("checkoutclient: encode request: %w", err)
	}
	key := c.newKey()
	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, http.MethodPost, c.baseURL+path, payload, key)
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("checkoutclient: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, payload []byte, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) remember(handle domain.ChargeHandle) {
	if handle.ClientHandle == "" || handle.Token == "" {
		return
	}
	c.mu.Lock()
	c.handles[handle.ClientHandle] = handle.Token
	c.mu.Unlock()
}

// chargeFor maps a client handle to its charge id. Handles from an earlier process are
// PaymentIntent client secrets, which start with the intent id.
func (c *Client) chargeFor(clientHandle string) (string, error) {
	clientHandle = strings.TrimSpace(clientHandle)
	c.mu.Lock()
	id, ok := c.handles[clientHandle]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	if id, _, found := strings.Cut(clientHandle, secretSeparator); found && id != "" {
		return id, nil
	}
	return "", ErrUnknownHandle
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{Status: status}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		if len(apiErr.Message) > 256 {
			apiErr.Message = apiErr.Message[:256]
		}
	}
	return apiErr
}
