package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/onlyusedtesla/checkout/internal/platform/httpx"
	"github.com/onlyusedtesla/checkout/internal/services"
)

const (
	maxCheckoutRequestBody = 16 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"
)

// CheckoutHandlers exposes quote and charge endpoints. Amounts are always priced on the
// server from the submitted configuration.
type CheckoutHandlers struct {
	checkout          services.CheckoutService
	chargeMiddlewares []func(http.Handler) http.Handler
}

// CheckoutHandlersOption customises checkout handler wiring.
type CheckoutHandlersOption func(*CheckoutHandlers)

// WithChargeMiddlewares wraps the charge endpoints only. Quotes are read-only and stay bare.
func WithChargeMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutHandlersOption {
	return func(h *CheckoutHandlers) {
		for _, m := range mw {
			if m != nil {
				h.chargeMiddlewares = append(h.chargeMiddlewares, m)
			}
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers backed by the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutHandlersOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
	r.Group(func(charges chi.Router) {
		charges.Use(h.chargeMiddlewares...)
		charges.Post("/charges", h.createCharge)
		charges.Post("/charges/{chargeID}", h.updateCharge)
		charges.Post("/charges/{chargeID}/confirm", h.confirmCharge)
	})
}

// LegacyRoutes registers the unversioned payment-intent aliases at the router root.
func (h *CheckoutHandlers) LegacyRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/api/create-payment-intent", h.legacyCreate)
	r.Post("/api/update-payment-intent", h.legacyUpdate)
}

type configurationRequest struct {
	Configuration *services.Configuration `json:"configuration"`
	Email         string                  `json:"email,omitempty"`
}

type lineItemResponse struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	Quantity    int64  `json:"quantity"`
	UnitMinor   int64  `json:"unit_minor"`
	AmountMinor int64  `json:"amount_minor"`
}

type quoteResponse struct {
	Currency     string             `json:"currency"`
	TotalMinor   int64              `json:"total_minor"`
	TotalDisplay string             `json:"total_display"`
	LineItems    []lineItemResponse `json:"line_items"`
}

type chargeResponse struct {
	ChargeToken  string             `json:"charge_token"`
	ClientHandle string             `json:"client_handle"`
	Provider     string             `json:"provider,omitempty"`
	AmountMinor  int64              `json:"amount_minor"`
	Currency     string             `json:"currency"`
	Reference    string             `json:"reference"`
	Status       string             `json:"status"`
	LineItems    []lineItemResponse `json:"line_items"`
}

type confirmResponse struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
}

type legacyCreateResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Reference       string `json:"reference"`
}

type legacyUpdateRequest struct {
	PaymentIntentID string                  `json:"paymentIntentId"`
	Configuration   *services.Configuration `json:"configuration"`
}

type legacyUpdateResponse struct {
	OK     bool  `json:"ok"`
	Amount int64 `json:"amount"`
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req configurationRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}
	if req.Configuration == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "configuration is required", http.StatusBadRequest))
		return
	}

	q := h.checkout.Quote(ctx, *req.Configuration)
	httpx.WriteJSON(w, http.StatusOK, quoteResponse{
		Currency:     q.Currency,
		TotalMinor:   q.TotalMinor,
		TotalDisplay: services.FormatMinor(q.TotalMinor, q.Currency),
		LineItems:    lineItemsResponse(q.LineItems),
	})
}

func (h *CheckoutHandlers) createCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req configurationRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}
	if req.Configuration == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "configuration is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.CreateCharge(ctx, services.CreateChargeCommand{
		Configuration:  *req.Configuration,
		Email:          strings.TrimSpace(req.Email),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newChargeResponse(result))
}

func (h *CheckoutHandlers) updateCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	chargeID := strings.TrimSpace(chi.URLParam(r, "chargeID"))
	if chargeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "charge id is required", http.StatusBadRequest))
		return
	}
	var req configurationRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}
	if req.Configuration == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "configuration is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.UpdateCharge(ctx, services.UpdateChargeCommand{
		ChargeID:       chargeID,
		Configuration:  *req.Configuration,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newChargeResponse(result))
}

func (h *CheckoutHandlers) confirmCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	chargeID := strings.TrimSpace(chi.URLParam(r, "chargeID"))
	if chargeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "charge id is required", http.StatusBadRequest))
		return
	}
	if _, err := httpx.ReadLimitedBody(r, maxCheckoutRequestBody); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.checkout.ConfirmCharge(ctx, services.ConfirmChargeCommand{ChargeID: chargeID})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, confirmResponse{
		Status:    string(result.Status),
		Reason:    strings.TrimSpace(result.Reason),
		Reference: result.Reference,
	})
}

func (h *CheckoutHandlers) legacyCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req configurationRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}
	if req.Configuration == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "configuration is required", http.StatusBadRequest))
		return
	}
	result, err := h.checkout.CreateCharge(ctx, services.CreateChargeCommand{
		Configuration:  *req.Configuration,
		Email:          strings.TrimSpace(req.Email),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, legacyCreateResponse{
		ClientSecret:    result.ClientSecret,
		PaymentIntentID: result.ChargeID,
		Amount:          result.AmountMinor,
		Reference:       result.Reference,
	})
}

func (h *CheckoutHandlers) legacyUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req legacyUpdateRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Missing paymentIntentId", http.StatusBadRequest))
		return
	}
	if req.Configuration == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "configuration is required", http.StatusBadRequest))
		return
	}
	result, err := h.checkout.UpdateCharge(ctx, services.UpdateChargeCommand{
		ChargeID:       strings.TrimSpace(req.PaymentIntentID),
		Configuration:  *req.Configuration,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, legacyUpdateResponse{OK: true, Amount: result.AmountMinor})
}

// decodeCheckoutBody writes the error response itself and reports whether dst was filled.
func decodeCheckoutBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := httpx.ReadLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(r.Context(), w, err)
		return false
	}
	if strings.TrimSpace(string(body)) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var validation *services.CheckoutValidationError
	switch {
	case errors.As(err, &validation):
		fieldErrors := make(map[string]string, len(validation.Fields))
		for id, msg := range validation.Fields {
			fieldErrors[string(id)] = msg
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "configuration failed validation", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": fieldErrors}))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutVerificationRequired):
		httpx.WriteError(ctx, w, httpx.NewError("verification_required", "verify the phone number before enabling text notifications", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutChargeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("charge_not_found", "charge not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutChargeClosed):
		httpx.WriteError(ctx, w, httpx.NewError("charge_closed", "charge is already settled", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be completed", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func newChargeResponse(result services.ChargeResult) chargeResponse {
	return chargeResponse{
		ChargeToken:  result.ChargeID,
		ClientHandle: result.ClientSecret,
		Provider:     result.Provider,
		AmountMinor:  result.AmountMinor,
		Currency:     result.Currency,
		Reference:    result.Reference,
		Status:       string(result.Status),
		LineItems:    lineItemsResponse(result.LineItems),
	}
}

func lineItemsResponse(items []services.LineItem) []lineItemResponse {
	out := make([]lineItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, lineItemResponse{
			Code:        item.Code,
			Label:       item.Label,
			Quantity:    item.Quantity,
			UnitMinor:   item.UnitMinor,
			AmountMinor: item.AmountMinor,
		})
	}
	return out
}
