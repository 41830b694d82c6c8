package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/onlyusedtesla/checkout/internal/domain"
	pfirestore "github.com/onlyusedtesla/checkout/internal/platform/firestore"
	"github.com/onlyusedtesla/checkout/internal/repositories"
)

const chargesCollection = "checkoutCharges"

// ChargeRepository persists charge audit records in Firestore keyed by PaymentIntent id.
type ChargeRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.ChargeRepository = (*ChargeRepository)(nil)

// NewChargeRepository constructs a Firestore-backed charge repository.
func NewChargeRepository(provider *pfirestore.Provider) (*ChargeRepository, error) {
	if provider == nil {
		return nil, errors.New("charge repository requires firestore provider")
	}
	return &ChargeRepository{provider: provider, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *ChargeRepository) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	return r.provider.Doc(ctx, chargesCollection, strings.TrimSpace(id))
}

// Insert creates the record. Firestore rejects an existing document with AlreadyExists,
// which surfaces as a conflict.
func (r *ChargeRepository) Insert(ctx context.Context, record domain.ChargeRecord) error {
	ref, err := r.doc(ctx, record.ID)
	if err != nil {
		return err
	}
	doc := encodeCharge(record)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("charges.insert", err)
	}
	return nil
}

// Update replaces the record inside a transaction, keeping the original creation time.
func (r *ChargeRepository) Update(ctx context.Context, record domain.ChargeRecord) error {
	ref, err := r.doc(ctx, record.ID)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var existing chargeDocument
		if err := snap.DataTo(&existing); err != nil {
			return err
		}
		doc := encodeCharge(record)
		doc.CreatedAt = existing.CreatedAt
		doc.UpdatedAt = r.now()
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("charges.update", err)
	}
	return nil
}

func (r *ChargeRepository) FindByID(ctx context.Context, chargeID string) (domain.ChargeRecord, error) {
	ref, err := r.doc(ctx, chargeID)
	if err != nil {
		return domain.ChargeRecord{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.ChargeRecord{}, pfirestore.WrapError("charges.get", err)
	}
	var doc chargeDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ChargeRecord{}, fmt.Errorf("charges: decode %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type chargeDocument struct {
	Reference   string               `firestore:"reference"`
	Provider    string               `firestore:"provider"`
	AmountMinor int64                `firestore:"amountMinor"`
	Currency    string               `firestore:"currency"`
	LineItems   []chargeLineDocument `firestore:"lineItems"`
	Email       string               `firestore:"email"`
	Listing     listingDocument      `firestore:"listing"`
	Addons      addonsDocument       `firestore:"addons"`
	Status      string               `firestore:"status"`
	FailureNote string               `firestore:"failureNote,omitempty"`
	CreatedAt   time.Time            `firestore:"createdAt"`
	UpdatedAt   time.Time            `firestore:"updatedAt"`
}

type chargeLineDocument struct {
	Code        string `firestore:"code"`
	Label       string `firestore:"label"`
	Quantity    int64  `firestore:"quantity"`
	UnitMinor   int64  `firestore:"unitMinor"`
	AmountMinor int64  `firestore:"amountMinor"`
}

type listingDocument struct {
	VIN   string `firestore:"vin"`
	Model string `firestore:"model"`
	Year  string `firestore:"year"`
	ZIP   string `firestore:"zip"`
	State string `firestore:"state"`
}

type addonsDocument struct {
	HistoryReport      string `firestore:"historyReport"`
	Video              bool   `firestore:"video"`
	MarketplacePosting bool   `firestore:"marketplacePosting"`
	GroupPostingCount  int    `firestore:"groupPostingCount"`
	SMSNotifications   bool   `firestore:"smsNotifications"`
	CashOffer          bool   `firestore:"cashOffer"`
}

func encodeCharge(record domain.ChargeRecord) chargeDocument {
	lines := make([]chargeLineDocument, 0, len(record.LineItems))
	for _, item := range record.LineItems {
		lines = append(lines, chargeLineDocument{
			Code:        item.Code,
			Label:       item.Label,
			Quantity:    item.Quantity,
			UnitMinor:   item.UnitMinor,
			AmountMinor: item.AmountMinor,
		})
	}
	return chargeDocument{
		Reference:   record.Reference,
		Provider:    record.Provider,
		AmountMinor: record.AmountMinor,
		Currency:    record.Currency,
		LineItems:   lines,
		Email:       record.Email,
		Listing: listingDocument{
			VIN:   record.Listing.VIN,
			Model: record.Listing.Model,
			Year:  record.Listing.Year,
			ZIP:   record.Listing.ZIP,
			State: record.Listing.State,
		},
		Addons: addonsDocument{
			HistoryReport:      string(record.Addons.HistoryReport),
			Video:              record.Addons.Video,
			MarketplacePosting: record.Addons.MarketplacePosting,
			GroupPostingCount:  record.Addons.GroupPostingCount,
			SMSNotifications:   record.Addons.SMSNotifications,
			CashOffer:          record.Addons.CashOffer,
		},
		Status:      string(record.Status),
		FailureNote: record.FailureNote,
		CreatedAt:   record.CreatedAt.UTC(),
		UpdatedAt:   record.UpdatedAt.UTC(),
	}
}

func (d chargeDocument) toDomain(id string) domain.ChargeRecord {
	lines := make([]domain.LineItem, 0, len(d.LineItems))
	for _, item := range d.LineItems {
		lines = append(lines, domain.LineItem{
			Code:        item.Code,
			Label:       item.Label,
			Quantity:    item.Quantity,
			UnitMinor:   item.UnitMinor,
			AmountMinor: item.AmountMinor,
		})
	}
	return domain.ChargeRecord{
		ID:          id,
		Reference:   d.Reference,
		Provider:    d.Provider,
		AmountMinor: d.AmountMinor,
		Currency:    d.Currency,
		LineItems:   lines,
		Email:       d.Email,
		Listing: domain.ListingSnapshot{
			VIN:   d.Listing.VIN,
			Model: d.Listing.Model,
			Year:  d.Listing.Year,
			ZIP:   d.Listing.ZIP,
			State: d.Listing.State,
		},
		Addons: domain.Addons{
			HistoryReport:      domain.HistoryReport(d.Addons.HistoryReport),
			Video:              d.Addons.Video,
			MarketplacePosting: d.Addons.MarketplacePosting,
			GroupPostingCount:  d.Addons.GroupPostingCount,
			SMSNotifications:   d.Addons.SMSNotifications,
			CashOffer:          d.Addons.CashOffer,
		},
		Status:      domain.ChargeStatus(d.Status),
		FailureNote: d.FailureNote,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
