package risk

import (
	"fmt"
	"sort"
)

// Type identifies the risk rule that produced an alert.
type Type string

const (
	TypeLowRunway       Type = "low_runway"
	TypeInactivity      Type = "inactivity"
	TypeSuspendedStream Type = "suspended_stream"
	TypeTokenAccount    Type = "token_account"
)

// Severity ranks how urgently an alert needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Rank orders severities; higher is more urgent. Unknown severities rank zero.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as urgent as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity validates a configured severity name.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(raw)
	if s.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// Alert is a candidate risk alert for one stream. It is persisted by an alert sink,
// which de-duplicates on Key.
type Alert struct {
	StreamID       string         `json:"streamId"`
	OrganizationID string         `json:"organizationId,omitempty"`
	EmployeeID     string         `json:"employeeId,omitempty"`
	Type           Type           `json:"type"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Key is the de-duplication identity of a candidate.
type Key struct {
	StreamID string
	Type     Type
}

// Key returns the (stream, type) identity of the alert.
func (a Alert) Key() Key {
	return Key{StreamID: a.StreamID, Type: a.Type}
}

// SortBySeverity orders alerts most urgent first, keeping input order among equals.
func SortBySeverity(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
	})
}
