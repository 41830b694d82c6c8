package checkoutclient

import (
	"strings"
	"time"

	"github.com/onlyusedtesla/checkout/internal/domain"
)

type createChargeRequest struct {
	Configuration domain.Configuration `json:"configuration"`
	Email         string               `json:"email,omitempty"`
}

type updateChargeRequest struct {
	Configuration domain.Configuration `json:"configuration"`
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

type verifyCodeRequest struct {
	PendingID string `json:"pending_id"`
	Phone     string `json:"phone"`
	Code      string `json:"code"`
}

type lineItemPayload struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	Quantity    int64  `json:"quantity"`
	UnitMinor   int64  `json:"unit_minor"`
	AmountMinor int64  `json:"amount_minor"`
}

type chargePayload struct {
	ChargeToken  string            `json:"charge_token"`
	ClientHandle string            `json:"client_handle"`
	AmountMinor  int64             `json:"amount_minor"`
	Currency     string            `json:"currency"`
	Reference    string            `json:"reference"`
	Status       string            `json:"status"`
	LineItems    []lineItemPayload `json:"line_items"`
}

func (p chargePayload) handle() domain.ChargeHandle {
	return domain.ChargeHandle{
		Token:        strings.TrimSpace(p.ChargeToken),
		ClientHandle: strings.TrimSpace(p.ClientHandle),
		AmountMinor:  p.AmountMinor,
		Currency:     strings.ToLower(strings.TrimSpace(p.Currency)),
		Reference:    strings.TrimSpace(p.Reference),
	}
}

type confirmPayload struct {
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

type quotePayload struct {
	Currency   string            `json:"currency"`
	TotalMinor int64             `json:"total_minor"`
	LineItems  []lineItemPayload `json:"line_items"`
}

func (p quotePayload) quote() domain.Quote {
	q := domain.Quote{
		Currency:   strings.ToLower(p.Currency),
		TotalMinor: p.TotalMinor,
		LineItems:  make([]domain.LineItem, 0, len(p.LineItems)),
	}
	for _, item := range p.LineItems {
		q.LineItems = append(q.LineItems, domain.LineItem{
			Code:        item.Code,
			Label:       item.Label,
			Quantity:    item.Quantity,
			UnitMinor:   item.UnitMinor,
			AmountMinor: item.AmountMinor,
		})
	}
	return q
}

type pendingPayload struct {
	PendingID string    `json:"pending_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyPayload struct {
	Verified bool `json:"verified"`
}
