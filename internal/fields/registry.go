package fields

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/onlyusedtesla/checkout/internal/domain"
)

var (
	// ErrUnknownField is returned when a field name or id is not registered.
	ErrUnknownField = errors.New("fields: unknown field")
	// ErrInvalidValue is returned when a value cannot be applied to a field.
	ErrInvalidValue = errors.New("fields: invalid value")
)

// FieldID identifies an editable configuration field.
type FieldID string

const (
	ListingType         FieldID = "listing_type"
	VIN                 FieldID = "vin"
	Model               FieldID = "model"
	Year                FieldID = "year"
	Price               FieldID = "price"
	Miles               FieldID = "miles"
	ZIP                 FieldID = "zip"
	State               FieldID = "state"
	Autopilot           FieldID = "autopilot"
	Summary             FieldID = "summary"
	HistoryReport       FieldID = "history_report"
	Video               FieldID = "video"
	MarketplacePosting  FieldID = "marketplace_posting"
	GroupPostingCount   FieldID = "group_posting_count"
	SMSNotifications    FieldID = "sms_notifications"
	CashOffer           FieldID = "cash_offer"
	Email               FieldID = "email"
	Phone               FieldID = "phone"
	NotificationChannel FieldID = "notification_channel"
	MagicLink           FieldID = "magic_link"
	PhotoCount          FieldID = "photo_count"
	HasVideoFile        FieldID = "has_video_file"
)

// Effect flags the follow-up work a change to a field requires.
type Effect uint8

const (
	// EffectEligibility re-runs the cross-field eligibility rules.
	EffectEligibility Effect = 1 << iota
	// EffectResetVerification clears phone verification when the value actually changes.
	EffectResetVerification
	// EffectReprice recomputes the displayed quote.
	EffectReprice
)

// Has reports whether e includes flag.
func (e Effect) Has(flag Effect) bool {
	return e&flag != 0
}

// LiveState is the inline indicator shown next to a field while typing.
type LiveState int

const (
	LiveNeutral LiveState = iota
	LiveValid
	LiveInvalid
)

func (s LiveState) String() string {
	switch s {
	case LiveValid:
		return "valid"
	case LiveInvalid:
		return "invalid"
	default:
		return "neutral"
	}
}

// Descriptor binds a field to its normalizer, live validator and change effects.
type Descriptor struct {
	ID        FieldID
	Label     string
	Normalize func(raw string) string
	Apply     func(cfg *domain.Configuration, value string) error
	Read      func(cfg domain.Configuration) string
	Live      func(cfg domain.Configuration) (LiveState, string)
	Effects   Effect
}

// Registry resolves field ids to descriptors. It is built once and read-only afterwards.
type Registry struct {
	byID map[FieldID]Descriptor
}

// NewRegistry builds the registry of every editable field.
func NewRegistry() *Registry {
	descriptors := []Descriptor{
		{
			ID:        ListingType,
			Label:     "Listing type",
			Normalize: lowerTrim,
			Apply: func(cfg *domain.Configuration, v string) error {
				if domain.ListingType(v) != domain.ListingTypeSell {
					return fmt.Errorf("%w: listing type %q", ErrInvalidValue, v)
				}
				cfg.ListingType = domain.ListingType(v)
				return nil
			},
			Read: func(cfg domain.Configuration) string { return string(cfg.ListingType) },
		},
		{
			ID:        VIN,
			Label:     "VIN",
			Normalize: func(raw string) string { return truncate(NormalizeVIN(raw), VINLength) },
			Apply:     func(cfg *domain.Configuration, v string) error { cfg.Listing.VIN = v; return nil },
			Read:      func(cfg domain.Configuration) string { return cfg.Listing.VIN },
			Live:      liveVIN,
			Effects:   EffectEligibility | EffectReprice,
		},
		textField(Model, "Model", func(cfg *domain.Configuration) *string { return &cfg.Listing.Model }),
		textField(Year, "Year", func(cfg *domain.Configuration) *string { return &cfg.Listing.Year }),
		textField(Price, "Price", func(cfg *domain.Configuration) *string { return &cfg.Listing.Price }),
		{
			ID:        Miles,
			Label:     "Miles",
			Normalize: strings.TrimSpace,
			Apply:     func(cfg *domain.Configuration, v string) error { cfg.Listing.Miles = v; return nil },
			Read:      func(cfg domain.Configuration) string { return cfg.Listing.Miles },
		},
		textField(ZIP, "ZIP", func(cfg *domain.Configuration) *string { return &cfg.Listing.ZIP }),
		textField(State, "State", func(cfg *domain.Configuration) *string { return &cfg.Listing.State }),
		boolField(Autopilot, "Autopilot", 0, func(cfg *domain.Configuration) *bool { return &cfg.Listing.Autopilot }),
		{
			ID:        Summary,
			Label:     "Summary",
			Normalize: func(raw string) string { return TruncateRunes(raw, domain.MaxSummaryLength) },
			Apply:     func(cfg *domain.Configuration, v string) error { cfg.Listing.Summary = v; return nil },
			Read:      func(cfg domain.Configuration) string { return cfg.Listing.Summary },
			Live:      liveSummary,
		},
		{
			ID:        HistoryReport,
			Label:     "History report",
			Normalize: lowerTrim,
			Apply: func(cfg *domain.Configuration, v string) error {
				if v == "" {
					v = string(domain.HistoryReportNone)
				}
				report := domain.HistoryReport(v)
				if !report.Valid() {
					return fmt.Errorf("%w: history report %q", ErrInvalidValue, v)
				}
				cfg.Addons.HistoryReport = report
				return nil
			},
			Read:    func(cfg domain.Configuration) string { return string(cfg.Addons.HistoryReport) },
			Effects: EffectEligibility | EffectReprice,
		},
		boolField(Video, "Video", EffectReprice, func(cfg *domain.Configuration) *bool { return &cfg.Addons.Video }),
		boolField(MarketplacePosting, "Marketplace posting", EffectReprice, func(cfg *domain.Configuration) *bool { return &cfg.Addons.MarketplacePosting }),
		{
			ID:        GroupPostingCount,
			Label:     "Group postings",
			Normalize: strings.TrimSpace,
			Apply: func(cfg *domain.Configuration, v string) error {
				n, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("%w: group posting count %q", ErrInvalidValue, v)
				}
				cfg.Addons.GroupPostingCount = ClampGroupPostings(n)
				return nil
			},
			Read:    func(cfg domain.Configuration) string { return strconv.Itoa(cfg.Addons.GroupPostingCount) },
			Effects: EffectEligibility | EffectReprice,
		},
		boolField(SMSNotifications, "SMS notifications", EffectReprice, func(cfg *domain.Configuration) *bool { return &cfg.Addons.SMSNotifications }),
		boolField(CashOffer, "Cash offer", 0, func(cfg *domain.Configuration) *bool { return &cfg.Addons.CashOffer }),
		{
			ID:        Email,
			Label:     "Email",
			Normalize: strings.TrimSpace,
			Apply:     func(cfg *domain.Configuration, v string) error { cfg.Contact.Email = v; return nil },
			Read:      func(cfg domain.Configuration) string { return cfg.Contact.Email },
			Live:      liveEmail,
		},
		{
			ID:        Phone,
			Label:     "Mobile number",
			Normalize: NormalizePhone,
			Apply:     func(cfg *domain.Configuration, v string) error { cfg.Contact.Phone = v; return nil },
			Read:      func(cfg domain.Configuration) string { return cfg.Contact.Phone },
			Live:      livePhone,
			Effects:   EffectResetVerification,
		},
		{
			ID:        NotificationChannel,
			Label:     "Notifications",
			Normalize: lowerTrim,
			Apply: func(cfg *domain.Configuration, v string) error {
				channel := domain.NotificationChannel(v)
				if !channel.Valid() {
					return fmt.Errorf("%w: notification channel %q", ErrInvalidValue, v)
				}
				cfg.Contact.NotificationChannel = channel
				return nil
			},
			Read: func(cfg domain.Configuration) string { return string(cfg.Contact.NotificationChannel) },
		},
		boolField(MagicLink, "Magic link", 0, func(cfg *domain.Configuration) *bool { return &cfg.Contact.MagicLink }),
		{
			ID:        PhotoCount,
			Label:     "Photos",
			Normalize: strings.TrimSpace,
			Apply: func(cfg *domain.Configuration, v string) error {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return fmt.Errorf("%w: photo count %q", ErrInvalidValue, v)
				}
				cfg.Media.PhotoCount = n
				return nil
			},
			Read: func(cfg domain.Configuration) string { return strconv.Itoa(cfg.Media.PhotoCount) },
		},
		boolField(HasVideoFile, "Video file", 0, func(cfg *domain.Configuration) *bool { return &cfg.Media.HasVideoFile }),
	}

	byID := make(map[FieldID]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}
	return &Registry{byID: byID}
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id FieldID) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	return d, nil
}

// Parse maps a wire or command line name to a FieldID. Dashes and case are ignored.
func (r *Registry) Parse(name string) (FieldID, error) {
	id := FieldID(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	if _, ok := r.byID[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return id, nil
}

// IDs lists every registered field in lexical order.
func (r *Registry) IDs() []FieldID {
	ids := make([]FieldID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClampGroupPostings constrains a group posting count to [0, MaxGroupPostings].
func ClampGroupPostings(n int) int {
	if n < 0 {
		return 0
	}
	if n > domain.MaxGroupPostings {
		return domain.MaxGroupPostings
	}
	return n
}

func textField(id FieldID, label string, target func(*domain.Configuration) *string) Descriptor {
	return Descriptor{
		ID:        id,
		Label:     label,
		Normalize: func(raw string) string { return raw },
		Apply: func(cfg *domain.Configuration, v string) error {
			*target(cfg) = v
			return nil
		},
		Read: func(cfg domain.Configuration) string { return *target(&cfg) },
		Live: func(cfg domain.Configuration) (LiveState, string) {
			if strings.TrimSpace(*target(&cfg)) == "" {
				return LiveNeutral, ""
			}
			return LiveValid, ""
		},
	}
}

func boolField(id FieldID, label string, effects Effect, target func(*domain.Configuration) *bool) Descriptor {
	return Descriptor{
		ID:        id,
		Label:     label,
		Normalize: lowerTrim,
		Apply: func(cfg *domain.Configuration, v string) error {
			parsed, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s expects yes or no, got %q", ErrInvalidValue, id, v)
			}
			*target(cfg) = parsed
			return nil
		},
		Read:    func(cfg domain.Configuration) string { return strconv.FormatBool(*target(&cfg)) },
		Effects: effects,
	}
}

func parseBool(v string) (bool, error) {
	switch v {
	case "on", "yes", "y":
		return true, nil
	case "off", "no", "n":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func liveVIN(cfg domain.Configuration) (LiveState, string) {
	vin := cfg.Listing.VIN
	switch {
	case len(vin) < VINLength:
		return LiveNeutral, ""
	case IsVINValid(vin):
		return LiveValid, ""
	default:
		return LiveInvalid, "That VIN doesn't look right. VINs don't use I, O, or Q."
	}
}

func liveSummary(cfg domain.Configuration) (LiveState, string) {
	summary := cfg.Listing.Summary
	if Length(strings.TrimSpace(summary)) >= domain.MinSummaryLength && Length(summary) <= domain.MaxSummaryLength {
		return LiveValid, ""
	}
	return LiveInvalid, "Add at least 50 characters."
}

func liveEmail(cfg domain.Configuration) (LiveState, string) {
	if strings.TrimSpace(cfg.Contact.Email) == "" {
		return LiveNeutral, ""
	}
	if IsEmailValid(cfg.Contact.Email) {
		return LiveValid, ""
	}
	return LiveInvalid, "That email doesn't look right — please double-check."
}

func livePhone(cfg domain.Configuration) (LiveState, string) {
	if IsPhoneValid(cfg.Contact.Phone) {
		return LiveValid, ""
	}
	return LiveNeutral, ""
}

func lowerTrim(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
