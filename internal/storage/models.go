package storage

import (
	"errors"
	"fmt"
	"time"

	"streamwatcher/internal/risk"
)

var (
	// ErrNotFound indicates the requested alert does not exist.
	ErrNotFound = errors.New("storage: alert not found")
	// ErrStreamNotFound indicates the requested stream does not exist.
	ErrStreamNotFound = errors.New("storage: stream not found")
	// ErrInvalidTransition indicates an alert lifecycle move that is not allowed from its current status.
	ErrInvalidTransition = errors.New("storage: invalid alert status transition")
)

// AlertStatus is the lifecycle state of a persisted alert.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusDismissed    AlertStatus = "dismissed"
)

// ActiveStatuses are the statuses listed when no filter is given.
var ActiveStatuses = []AlertStatus{AlertStatusOpen, AlertStatusAcknowledged}

// ParseAlertStatus validates a status name.
func ParseAlertStatus(raw string) (AlertStatus, error) {
	switch s := AlertStatus(raw); s {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusDismissed:
		return s, nil
	}
	return "", fmt.Errorf("unknown alert status %q", raw)
}

// Transition names an operator action on an alert.
type Transition string

const (
	TransitionAcknowledge Transition = "acknowledge"
	TransitionResolve     Transition = "resolve"
	TransitionDismiss     Transition = "dismiss"
)

// Target returns the status the transition moves to.
func (t Transition) Target() AlertStatus {
	switch t {
	case TransitionAcknowledge:
		return AlertStatusAcknowledged
	case TransitionResolve:
		return AlertStatusResolved
	case TransitionDismiss:
		return AlertStatusDismissed
	}
	return ""
}

// Allowed reports whether the transition may be applied to an alert in status from.
// open -> acknowledged -> resolved, open -> resolved and open -> dismissed.
func (t Transition) Allowed(from AlertStatus) bool {
	switch t {
	case TransitionAcknowledge, TransitionDismiss:
		return from == AlertStatusOpen
	case TransitionResolve:
		return from == AlertStatusOpen || from == AlertStatusAcknowledged
	}
	return false
}

// AlertRecord is a persisted risk alert.
type AlertRecord struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	StreamID       string         `json:"streamId"`
	EmployeeID     string         `json:"employeeId,omitempty"`
	Type           risk.Type      `json:"type"`
	Severity       risk.Severity  `json:"severity"`
	Status         AlertStatus    `json:"status"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TriggeredAt    time.Time      `json:"triggeredAt"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// UpsertResult reports the outcome of an idempotent alert insert.
type UpsertResult struct {
	AlertID   string
	Created   bool
	Duplicate bool
	Alert     risk.Alert
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	OrganizationID string
	Statuses       []AlertStatus
	Limit          int
}

func (f AlertFilter) statuses() []AlertStatus {
	if len(f.Statuses) == 0 {
		return ActiveStatuses
	}
	return f.Statuses
}

func newRecord(alert risk.Alert, id string, now time.Time) AlertRecord {
	return AlertRecord{
		ID:             id,
		OrganizationID: alert.OrganizationID,
		StreamID:       alert.StreamID,
		EmployeeID:     alert.EmployeeID,
		Type:           alert.Type,
		Severity:       alert.Severity,
		Status:         AlertStatusOpen,
		Title:          alert.Title,
		Description:    alert.Description,
		Metadata:       alert.Metadata,
		TriggeredAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// apply moves the record through a transition, stamping lifecycle timestamps.
func (r *AlertRecord) apply(t Transition, now time.Time) error {
	if !t.Allowed(r.Status) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, r.Status)
	}
	r.Status = t.Target()
	r.UpdatedAt = now
	switch t {
	case TransitionAcknowledge:
		r.AcknowledgedAt = &now
	case TransitionResolve:
		r.ResolvedAt = &now
	}
	return nil
}
