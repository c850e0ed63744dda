package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payroll stream.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusClosed    Status = "closed"
	StatusDraft     Status = "draft"
)

// ParseStatus maps a stored status string onto a Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusActive, StatusSuspended, StatusClosed, StatusDraft:
		return s, nil
	default:
		return "", fmt.Errorf("unknown stream status %q", raw)
	}
}

// Snapshot is one payroll stream as observed at a point in time.
// Amounts are token base units.
type Snapshot struct {
	ID             string
	OrganizationID string
	EmployeeID     string
	EmployeeName   string
	StreamAddress  string
	VaultAddress   string
	MintAddress    string

	HourlyRate      decimal.Decimal
	TotalDeposited  decimal.Decimal
	WithdrawnAmount decimal.Decimal
	// VaultBalance is supplied by the snapshot source and mirrors the on-chain vault.
	VaultBalance decimal.Decimal

	// CreatedAt starts the accrual clock; the zero value means absent.
	CreatedAt      time.Time
	LastActivityAt *time.Time
	DeactivatedAt  *time.Time
	Status         Status
}

// IsActive reports whether the stream is currently accruing.
func (s Snapshot) IsActive() bool {
	return s.Status == StatusActive
}

// RunwayHours returns vault balance divided by hourly rate. ok is false when the rate is not positive.
func (s Snapshot) RunwayHours() (hours decimal.Decimal, ok bool) {
	if s.HourlyRate.Sign() <= 0 {
		return decimal.Zero, false
	}
	return s.VaultBalance.Div(s.HourlyRate), true
}

// DisplayName returns the employee name used in alert copy.
func (s Snapshot) DisplayName() string {
	if name := strings.TrimSpace(s.EmployeeName); name != "" {
		return name
	}
	return "Unknown Employee"
}
