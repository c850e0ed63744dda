package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"streamwatcher/internal/stream"
)

// Classifier evaluates streams against the four risk rules. It holds no mutable state and is
// safe for concurrent use.
type Classifier struct {
	policy Policy
}

// NewClassifier builds a classifier for the given thresholds.
func NewClassifier(policy Policy) *Classifier {
	return &Classifier{policy: policy}
}

// Policy returns the thresholds in use.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Classify returns every alert the stream triggers at now. Rules are independent and may co-fire.
func (c *Classifier) Classify(s stream.Snapshot, now time.Time) []Alert {
	var alerts []Alert

	if runway, ok := c.LowRunway(s); ok {
		alerts = append(alerts, c.lowRunwayAlert(s, runway))
	}
	if hours, ok := c.Inactive(s, now); ok {
		alerts = append(alerts, inactivityAlert(s, hours))
	}
	if s.Status == stream.StatusSuspended {
		alerts = append(alerts, suspendedAlert(s))
	}
	if s.IsActive() && s.VaultBalance.IsZero() {
		alerts = append(alerts, emptyVaultAlert(s))
	}

	return alerts
}

// ClassifyAll flattens the alerts of every snapshot, in snapshot order then rule order.
func (c *Classifier) ClassifyAll(snapshots []stream.Snapshot, now time.Time) []Alert {
	alerts := make([]Alert, 0, len(snapshots))
	for _, s := range snapshots {
		alerts = append(alerts, c.Classify(s, now)...)
	}
	return alerts
}

// LowRunway reports the runway hours of an active, funded-rate stream whose runway is positive
// and within the low-runway window.
func (c *Classifier) LowRunway(s stream.Snapshot) (decimal.Decimal, bool) {
	if !s.IsActive() {
		return decimal.Zero, false
	}
	runway, ok := s.RunwayHours()
	if !ok || runway.Sign() <= 0 || runway.GreaterThan(c.policy.LowRunwayHours) {
		return decimal.Zero, false
	}
	return runway, true
}

// Inactive reports whole hours since the last employee activity of an active stream when they reach
// the inactivity alert threshold.
func (c *Classifier) Inactive(s stream.Snapshot, now time.Time) (int64, bool) {
	if !s.IsActive() || s.LastActivityAt == nil {
		return 0, false
	}
	hours := int64(now.Sub(*s.LastActivityAt) / time.Hour)
	if hours < int64(c.policy.InactivityAlertDays)*24 {
		return 0, false
	}
	return hours, true
}

// RunwaySeverity grades a runway inside the low-runway window.
func (c *Classifier) RunwaySeverity(runway decimal.Decimal) Severity {
	switch {
	case runway.LessThanOrEqual(c.policy.CriticalRunwayHours):
		return SeverityCritical
	case runway.LessThanOrEqual(c.policy.HighRunwayHours):
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func (c *Classifier) lowRunwayAlert(s stream.Snapshot, runway decimal.Decimal) Alert {
	return Alert{
		StreamID:       s.ID,
		OrganizationID: s.OrganizationID,
		EmployeeID:     s.EmployeeID,
		Type:           TypeLowRunway,
		Severity:       c.RunwaySeverity(runway),
		Title:          "Low runway warning",
		Description:    fmt.Sprintf("Stream for %s has only %s hours of funding remaining.", s.DisplayName(), runway.Round(0).String()),
		Metadata: map[string]any{
			"runwayHours":   runway.InexactFloat64(),
			"vaultBalance":  s.VaultBalance.String(),
			"hourlyRate":    s.HourlyRate.String(),
			"streamAddress": s.StreamAddress,
		},
	}
}

func inactivityAlert(s stream.Snapshot, hours int64) Alert {
	days := decimal.NewFromInt(hours).Div(decimal.NewFromInt(24)).Round(0)
	return Alert{
		StreamID:       s.ID,
		OrganizationID: s.OrganizationID,
		EmployeeID:     s.EmployeeID,
		Type:           TypeInactivity,
		Severity:       SeverityHigh,
		Title:          "Stream inactive",
		Description:    fmt.Sprintf("Stream for %s has been inactive for %s days.", s.DisplayName(), days.String()),
		Metadata: map[string]any{
			"hoursSinceActivity": hours,
			"lastActivityAt":     s.LastActivityAt.UTC().Format(time.RFC3339),
			"streamAddress":      s.StreamAddress,
		},
	}
}

func suspendedAlert(s stream.Snapshot) Alert {
	meta := map[string]any{
		"streamAddress": s.StreamAddress,
	}
	if s.DeactivatedAt != nil {
		meta["suspendedAt"] = s.DeactivatedAt.UTC().Format(time.RFC3339)
	}
	return Alert{
		StreamID:       s.ID,
		OrganizationID: s.OrganizationID,
		EmployeeID:     s.EmployeeID,
		Type:           TypeSuspendedStream,
		Severity:       SeverityMedium,
		Title:          "Stream suspended",
		Description:    fmt.Sprintf("Payment stream for %s is currently suspended.", s.DisplayName()),
		Metadata:       meta,
	}
}

func emptyVaultAlert(s stream.Snapshot) Alert {
	return Alert{
		StreamID:       s.ID,
		OrganizationID: s.OrganizationID,
		EmployeeID:     s.EmployeeID,
		Type:           TypeTokenAccount,
		Severity:       SeverityCritical,
		Title:          "Empty vault",
		Description:    fmt.Sprintf("Stream for %s has zero balance. Top up immediately.", s.DisplayName()),
		Metadata: map[string]any{
			"streamAddress": s.StreamAddress,
			"vaultAddress":  s.VaultAddress,
		},
	}
}
