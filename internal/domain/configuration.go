package domain

// Step identifies a wizard screen. Steps are numbered 1..5 and StepSubmitted is terminal.
type Step int

const (
	// StepListingType asks what kind of listing the user is creating.
	StepListingType Step = 1
	// StepListingDetails collects VIN and vehicle details.
	StepListingDetails Step = 2
	// StepAddons previews the ad and offers paid add-ons.
	StepAddons Step = 3
	// StepPayment collects contact details and payment.
	StepPayment Step = 4
	// StepSubmitted is reached once payment resolves successfully.
	StepSubmitted Step = 5
)

// MinStep and MaxStep bound Configuration.Step.
const (
	MinStep = StepListingType
	MaxStep = StepSubmitted
)

// Clamp returns the step constrained to [MinStep, MaxStep].
func (s Step) Clamp() Step {
	if s < MinStep {
		return MinStep
	}
	if s > MaxStep {
		return MaxStep
	}
	return s
}

// ListingType describes the kind of listing being purchased.
type ListingType string

// ListingTypeSell is the only listing type offered today.
const ListingTypeSell ListingType = "sell"

// HistoryReport selects the optional vehicle history report add-on.
type HistoryReport string

const (
	HistoryReportNone      HistoryReport = "none"
	HistoryReportAutoCheck HistoryReport = "autocheck"
	HistoryReportCarfax    HistoryReport = "carfax"
)

// Valid reports whether the value is one of the known report kinds.
func (h HistoryReport) Valid() bool {
	switch h {
	case HistoryReportNone, HistoryReportAutoCheck, HistoryReportCarfax:
		return true
	}
	return false
}

// Selected reports whether a paid report is chosen.
func (h HistoryReport) Selected() bool {
	return h == HistoryReportAutoCheck || h == HistoryReportCarfax
}

// NotificationChannel selects how the seller hears about buyer activity.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelText  NotificationChannel = "text"
	ChannelBoth  NotificationChannel = "both"
)

// Valid reports whether the value is one of the known channels.
func (c NotificationChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelText, ChannelBoth:
		return true
	}
	return false
}

// UsesText reports whether the channel sends text messages to the seller's phone.
func (c NotificationChannel) UsesText() bool {
	return c == ChannelText || c == ChannelBoth
}

const (
	// MaxGroupPostings caps Addons.GroupPostingCount.
	MaxGroupPostings = 5
	// MaxSummaryLength caps the raw listing summary length in characters.
	MaxSummaryLength = 500
	// MinSummaryLength is the trimmed summary length required to leave the details step.
	MinSummaryLength = 50
)

// Configuration is the single source of truth for one in-progress order.
type Configuration struct {
	Step         Step         `json:"step"`
	ListingType  ListingType  `json:"listingType"`
	Listing      Listing      `json:"listing"`
	Addons       Addons       `json:"addons"`
	Contact      Contact      `json:"contact"`
	Verification Verification `json:"verification"`
	Media        Media        `json:"media"`

	// LastQuote is the last total shown to the user. It is never used to charge.
	LastQuote *Quote `json:"lastQuote,omitempty"`
	// Charge holds the collaborator handles once a charge intent exists.
	Charge *ChargeHandle `json:"charge,omitempty"`
	// Reference is stamped when the order reaches StepSubmitted.
	Reference string `json:"reference,omitempty"`
}

// Listing holds the vehicle details shown in the ad.
type Listing struct {
	VIN       string `json:"vin"`
	Model     string `json:"model"`
	Year      string `json:"year"`
	Price     string `json:"price"`
	Miles     string `json:"miles"`
	ZIP       string `json:"zip"`
	State     string `json:"state"`
	Autopilot bool   `json:"autopilot"`
	Summary   string `json:"summary"`
}

// Addons holds the optional paid extras.
type Addons struct {
	HistoryReport      HistoryReport `json:"historyReport"`
	Video              bool          `json:"video"`
	MarketplacePosting bool          `json:"marketplacePosting"`
	GroupPostingCount  int           `json:"groupPostingCount"`
	SMSNotifications   bool          `json:"smsNotifications"`
	CashOffer          bool          `json:"cashOffer"`
}

// Contact holds how the seller can be reached.
type Contact struct {
	Email               string              `json:"email"`
	Phone               string              `json:"phone"`
	NotificationChannel NotificationChannel `json:"notificationChannel"`
	MagicLink           bool                `json:"magicLink"`
}

// Verification tracks phone ownership checks. PendingCode is the opaque handle
// returned when a code is sent, never the code itself.
type Verification struct {
	OTPSent     bool   `json:"otpSent"`
	OTPVerified bool   `json:"otpVerified"`
	PendingCode string `json:"pendingCode,omitempty"`
}

// Media summarises attached photos and video.
type Media struct {
	PhotoCount   int        `json:"photoCount"`
	HasVideoFile bool       `json:"hasVideoFile"`
	VideoMeta    *VideoMeta `json:"videoMeta,omitempty"`
}

// VideoMeta describes an attached video file.
type VideoMeta struct {
	Name            string  `json:"name"`
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// ChargeHandle references a pending charge held by the payment collaborator.
type ChargeHandle struct {
	Token        string `json:"token"`
	ClientHandle string `json:"clientHandle"`
	AmountMinor  int64  `json:"amountMinor"`
	Currency     string `json:"currency"`
	Reference    string `json:"reference,omitempty"`
}

// NewConfiguration returns the default step-1 configuration.
func NewConfiguration() Configuration {
	return Configuration{
		Step:        StepListingType,
		ListingType: ListingTypeSell,
		Addons: Addons{
			HistoryReport: HistoryReportNone,
		},
		Contact: Contact{
			NotificationChannel: ChannelEmail,
			MagicLink:           true,
		},
	}
}

// RequiresVerifiedPhone reports whether submission needs a verified phone.
func (c Configuration) RequiresVerifiedPhone() bool {
	return c.Addons.SMSNotifications || c.Contact.NotificationChannel.UsesText()
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (c Configuration) Clone() Configuration {
	out := c
	if c.Media.VideoMeta != nil {
		meta := *c.Media.VideoMeta
		out.Media.VideoMeta = &meta
	}
	if c.LastQuote != nil {
		q := c.LastQuote.Clone()
		out.LastQuote = &q
	}
	if c.Charge != nil {
		ch := *c.Charge
		out.Charge = &ch
	}
	return out
}
