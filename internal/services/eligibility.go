package services

import (
	"github.com/onlyusedtesla/checkout/internal/domain"
	"github.com/onlyusedtesla/checkout/internal/fields"
)

// HasValidVIN gates add-ons that need a decodable vehicle.
func HasValidVIN(cfg domain.Configuration) bool {
	return fields.IsVINValid(cfg.Listing.VIN)
}

// ApplyEligibility enforces the cross-field constraints that are corrected automatically:
// a history report is dropped when the VIN is not valid and the group posting count is
// clamped. Verification gating is left to ValidateStep. Applying it twice equals applying it once.
func ApplyEligibility(cfg domain.Configuration) domain.Configuration {
	out := cfg
	if !out.Addons.HistoryReport.Valid() {
		out.Addons.HistoryReport = domain.HistoryReportNone
	}
	if out.Addons.HistoryReport.Selected() && !HasValidVIN(out) {
		out.Addons.HistoryReport = domain.HistoryReportNone
	}
	out.Addons.GroupPostingCount = fields.ClampGroupPostings(out.Addons.GroupPostingCount)
	return out
}

// EligibilityChanges lists the line codes ApplyEligibility would revert for cfg.
func EligibilityChanges(cfg domain.Configuration) []string {
	applied := ApplyEligibility(cfg)
	var changed []string
	if applied.Addons.HistoryReport != cfg.Addons.HistoryReport {
		changed = append(changed, LineHistoryReport)
	}
	if applied.Addons.GroupPostingCount != cfg.Addons.GroupPostingCount {
		changed = append(changed, LineGroupPosting)
	}
	return changed
}
