package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

// StreamView is a stream with its derived figures at a point in time.
type StreamView struct {
	ID             string               `json:"id"`
	OrganizationID string               `json:"organizationId"`
	EmployeeID     string               `json:"employeeId,omitempty"`
	EmployeeName   string               `json:"employeeName"`
	StreamAddress  string               `json:"streamAddress"`
	Status         stream.Status        `json:"status"`
	HourlyRate     decimal.Decimal      `json:"hourlyRate"`
	TotalDeposited decimal.Decimal      `json:"totalDeposited"`
	VaultBalance   decimal.Decimal      `json:"vaultBalance"`
	Accrual        stream.AccrualResult `json:"accrual"`
	RunwayHours    *decimal.Decimal     `json:"runwayHours"`
	LastActivityAt *time.Time           `json:"lastActivityAt"`
	Alerts         []risk.Alert         `json:"alerts,omitempty"`
}

// NewStreamView derives accrual, runway and current risk for one snapshot.
func NewStreamView(s stream.Snapshot, now time.Time, classifier *risk.Classifier) StreamView {
	v := StreamView{
		ID:             s.ID,
		OrganizationID: s.OrganizationID,
		EmployeeID:     s.EmployeeID,
		EmployeeName:   s.DisplayName(),
		StreamAddress:  s.StreamAddress,
		Status:         s.Status,
		HourlyRate:     s.HourlyRate,
		TotalDeposited: s.TotalDeposited,
		VaultBalance:   s.VaultBalance,
		Accrual:        stream.ComputeAccrual(s, now),
		LastActivityAt: s.LastActivityAt,
	}
	if runway, ok := s.RunwayHours(); ok {
		r := runway.Round(2)
		v.RunwayHours = &r
	}
	if classifier != nil {
		v.Alerts = classifier.Classify(s, now)
	}
	return v
}

// EmployeeOverview is what an employee sees: accrual per stream and one withdrawal countdown.
type EmployeeOverview struct {
	EmployeeID   string          `json:"employeeId"`
	EmployeeName string          `json:"employeeName"`
	Streams      []StreamView    `json:"streams"`
	TotalEarned  decimal.Decimal `json:"totalEarned"`
	// TotalAvailable sums the withdrawable balance across streams.
	TotalAvailable decimal.Decimal `json:"totalAvailable"`
	// LastActivityAt is the most recent activity across the employee's streams.
	LastActivityAt *time.Time `json:"lastActivityAt"`
	// DaysUntilEmployerWithdrawal is nil when no stream recorded activity.
	DaysUntilEmployerWithdrawal *int      `json:"daysUntilEmployerWithdrawal"`
	GeneratedAt                 time.Time `json:"generatedAt"`
}

// BuildEmployeeOverview assembles an employee overview from that employee's streams.
func BuildEmployeeOverview(employeeID string, snapshots []stream.Snapshot, now time.Time, eligibilityDays int, loc *time.Location) EmployeeOverview {
	o := EmployeeOverview{
		EmployeeID:     employeeID,
		EmployeeName:   "Unknown Employee",
		Streams:        make([]StreamView, 0, len(snapshots)),
		TotalEarned:    decimal.Zero,
		TotalAvailable: decimal.Zero,
		GeneratedAt:    now,
	}
	for _, s := range snapshots {
		v := NewStreamView(s, now, nil)
		o.Streams = append(o.Streams, v)
		o.TotalEarned = o.TotalEarned.Add(v.Accrual.Earned)
		o.TotalAvailable = o.TotalAvailable.Add(v.Accrual.Available)
		if s.EmployeeName != "" {
			o.EmployeeName = s.EmployeeName
		}
	}
	o.LastActivityAt = stream.LatestActivity(snapshots)
	o.DaysUntilEmployerWithdrawal = stream.DaysUntilEmployerWithdrawal(o.LastActivityAt, now, eligibilityDays, loc)
	return o
}

// OrganizationOverview is the employer dashboard read model.
type OrganizationOverview struct {
	OrganizationID string    `json:"organizationId"`
	Metrics        Metrics   `json:"metrics"`
	Cards          []Card    `json:"cards"`
	Rollups        []Rollup  `json:"rollups"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// BuildOrganizationOverview aggregates an organization's streams and recent events.
func BuildOrganizationOverview(organizationID string, snapshots []stream.Snapshot, events []Event, now time.Time, classifier *risk.Classifier) OrganizationOverview {
	m := Aggregate(snapshots, events, now, classifier)
	rollups := Rollups(snapshots, now, classifier)
	if rollups == nil {
		rollups = []Rollup{}
	}
	return OrganizationOverview{
		OrganizationID: organizationID,
		Metrics:        m,
		Cards:          m.Cards(),
		Rollups:        rollups,
		GeneratedAt:    now,
	}
}
