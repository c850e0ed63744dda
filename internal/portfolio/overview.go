package portfolio

import (
	"fmt"
	"strconv"
	"time"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

// Card is a display-ready overview figure.
type Card struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Value   string `json:"value"`
	Tooltip string `json:"tooltip"`
}

// Cards renders the metrics for dashboards and the CLI.
func (m Metrics) Cards() []Card {
	coverage := "N/A"
	if m.VaultCoverageDays != nil {
		coverage = m.VaultCoverageDays.StringFixed(1) + " days"
	}
	return []Card{
		{ID: "active-streams", Label: "Active Streams", Value: strconv.Itoa(m.ActiveStreams), Tooltip: "Count of streams with status set to active."},
		{ID: "monthly-burn", Label: "Monthly Burn", Value: m.MonthlyBurn.StringFixed(2), Tooltip: "Σ(hourly_rate × 24 × 30) across active streams."},
		{ID: "total-deposited", Label: "Total Deposited", Value: m.TotalDeposited.StringFixed(2), Tooltip: "Total tokens deposited into stream vaults."},
		{ID: "vault-coverage", Label: "Vault Coverage", Value: coverage, Tooltip: "Vault balance divided by aggregate hourly rate, expressed in days."},
		{ID: "pending-actions", Label: "Pending Actions", Value: strconv.Itoa(m.PendingActions), Tooltip: "Low-runway and suspended streams."},
		{ID: "inactivity-risk", Label: "Inactivity Risk", Value: strconv.Itoa(m.InactivityRiskCount), Tooltip: "Streams past the inactivity alert threshold."},
		{ID: "clawbacks", Label: "Clawbacks (30d)", Value: strconv.Itoa(m.ClawbackCount), Tooltip: "Emergency withdrawals in the last 30 days."},
		{ID: "token-health", Label: "Token Health", Value: strconv.Itoa(m.TokenHealthPercentage) + "%", Tooltip: "Active streams with more than 72 hours of runway."},
	}
}

// Rollup is a portfolio-level banner summarising how many streams share a risk condition.
type Rollup struct {
	ID          string        `json:"id"`
	Level       risk.Severity `json:"level"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Count       int           `json:"count"`
}

// Rollups summarises low runway, inactivity and suspension across the portfolio.
func Rollups(snapshots []stream.Snapshot, now time.Time, classifier *risk.Classifier) []Rollup {
	var lowRunway, inactive, suspended int
	for _, s := range snapshots {
		if _, ok := classifier.LowRunway(s); ok {
			lowRunway++
		}
		if _, ok := classifier.Inactive(s, now); ok {
			inactive++
		}
		if s.Status == stream.StatusSuspended {
			suspended++
		}
	}

	policy := classifier.Policy()
	var out []Rollup
	if lowRunway > 0 {
		out = append(out, Rollup{
			ID:          "low-runway",
			Level:       risk.SeverityCritical,
			Title:       "Critical runway",
			Description: fmt.Sprintf("%s below %s hours of funding.", streamsPhrase(lowRunway, "falls", "fall"), policy.LowRunwayHours.String()),
			Count:       lowRunway,
		})
	}
	if inactive > 0 {
		out = append(out, Rollup{
			ID:          "inactive-streams",
			Level:       risk.SeverityHigh,
			Title:       "Streams inactive",
			Description: fmt.Sprintf("%s no activity for %d+ days.", streamsPhrase(inactive, "shows", "show"), policy.InactivityAlertDays),
			Count:       inactive,
		})
	}
	if suspended > 0 {
		out = append(out, Rollup{
			ID:          "suspended-streams",
			Level:       risk.SeverityMedium,
			Title:       "Suspended streams",
			Description: fmt.Sprintf("%s currently suspended.", streamsPhrase(suspended, "is", "are")),
			Count:       suspended,
		})
	}
	return out
}

func streamsPhrase(n int, singularVerb, pluralVerb string) string {
	if n == 1 {
		return "1 stream " + singularVerb
	}
	return fmt.Sprintf("%d streams %s", n, pluralVerb)
}
