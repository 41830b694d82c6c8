package domain

import "time"

// ChargeStatus is the normalized state of a charge held by the payment provider.
type ChargeStatus string

const (
	ChargeStatusPending        ChargeStatus = "pending"
	ChargeStatusProcessing     ChargeStatus = "processing"
	ChargeStatusRequiresAction ChargeStatus = "requires_action"
	ChargeStatusSucceeded      ChargeStatus = "succeeded"
	ChargeStatusFailed         ChargeStatus = "failed"
)

// Terminal reports whether the charge can no longer change amount.
func (s ChargeStatus) Terminal() bool {
	return s == ChargeStatusSucceeded || s == ChargeStatusProcessing
}

// ChargeRecord is the server-side audit record of a charge intent.
type ChargeRecord struct {
	ID          string
	Reference   string
	Provider    string
	AmountMinor int64
	Currency    string
	LineItems   []LineItem
	Email       string
	Listing     ListingSnapshot
	Addons      Addons
	Status      ChargeStatus
	FailureNote string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListingSnapshot is the subset of listing fields kept for fulfilment and support.
type ListingSnapshot struct {
	VIN   string
	Model string
	Year  string
	ZIP   string
	State string
}

// SnapshotListing extracts the fulfilment snapshot from a listing.
func SnapshotListing(l Listing) ListingSnapshot {
	return ListingSnapshot{
		VIN:   l.VIN,
		Model: l.Model,
		Year:  l.Year,
		ZIP:   l.ZIP,
		State: l.State,
	}
}

// VerificationCode is a stored one-time passcode challenge. Only the hash of the code is kept.
type VerificationCode struct {
	ID        string
	Phone     string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}
