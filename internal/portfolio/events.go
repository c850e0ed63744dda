package portfolio

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a stream lifecycle event recorded by the indexer.
type EventType string

const (
	EventStreamCreated           EventType = "stream_created"
	EventStreamTopUp             EventType = "stream_top_up"
	EventStreamWithdrawn         EventType = "stream_withdrawn"
	EventStreamRefreshActivity   EventType = "stream_refresh_activity"
	EventStreamEmergencyWithdraw EventType = "stream_emergency_withdraw"
	EventStreamClosed            EventType = "stream_closed"
	EventStreamReactivated       EventType = "stream_reactivated"
)

// ClawbackWindow is the trailing window of the clawback metric.
const ClawbackWindow = 30 * 24 * time.Hour

// Event is one entry of the external stream event log.
type Event struct {
	ID         string
	StreamID   string
	Type       EventType
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// EventLog reads the stream event log.
type EventLog interface {
	ListEventsSince(ctx context.Context, organizationID string, since time.Time) ([]Event, error)
}

// CountClawbacks counts emergency withdrawals that occurred within the trailing window ending at now.
func CountClawbacks(events []Event, now time.Time) int {
	cutoff := now.Add(-ClawbackWindow)
	count := 0
	for _, e := range events {
		if e.Type == EventStreamEmergencyWithdraw && !e.OccurredAt.Before(cutoff) {
			count++
		}
	}
	return count
}
