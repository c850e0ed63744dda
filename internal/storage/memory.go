package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamwatcher/internal/portfolio"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

// MemoryStore is an in-process Store used by simulate and tests. It applies the same
// de-duplication and lifecycle rules as the PostgreSQL store.
type MemoryStore struct {
	mu      sync.RWMutex
	streams []stream.Snapshot
	events  []portfolio.Event
	alerts  map[string]*AlertRecord
	order   []string
	now     func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock uses the wall clock.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{alerts: make(map[string]*AlertRecord), now: now}
}

// PutStream inserts or replaces a stream snapshot by id.
func (m *MemoryStore) PutStream(s stream.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.streams {
		if m.streams[i].ID == s.ID {
			m.streams[i] = s
			return
		}
	}
	m.streams = append(m.streams, s)
}

// AppendEvent records a stream event.
func (m *MemoryStore) AppendEvent(e portfolio.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.events = append(m.events, e)
}

// ListStreams returns every stream snapshot.
func (m *MemoryStore) ListStreams(_ context.Context) ([]stream.Snapshot, error) {
	return m.filterStreams(func(stream.Snapshot) bool { return true }), nil
}

// ListStreamsByOrganization returns the streams of one organization.
func (m *MemoryStore) ListStreamsByOrganization(_ context.Context, organizationID string) ([]stream.Snapshot, error) {
	return m.filterStreams(func(s stream.Snapshot) bool { return s.OrganizationID == organizationID }), nil
}

// ListStreamsByEmployee returns the streams paying one employee.
func (m *MemoryStore) ListStreamsByEmployee(_ context.Context, employeeID string) ([]stream.Snapshot, error) {
	return m.filterStreams(func(s stream.Snapshot) bool { return s.EmployeeID == employeeID }), nil
}

// GetStream returns a single stream snapshot.
func (m *MemoryStore) GetStream(_ context.Context, streamID string) (stream.Snapshot, error) {
	found := m.filterStreams(func(s stream.Snapshot) bool { return s.ID == streamID })
	if len(found) == 0 {
		return stream.Snapshot{}, ErrStreamNotFound
	}
	return found[0], nil
}

func (m *MemoryStore) filterStreams(keep func(stream.Snapshot) bool) []stream.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]stream.Snapshot, 0, len(m.streams))
	for _, s := range m.streams {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// UpsertAlert inserts an open alert unless one is already open for the same organization,
// stream and type.
func (m *MemoryStore) UpsertAlert(ctx context.Context, alert risk.Alert) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		rec := m.alerts[id]
		if rec.Status == AlertStatusOpen &&
			rec.OrganizationID == alert.OrganizationID &&
			rec.StreamID == alert.StreamID &&
			rec.Type == alert.Type {
			return UpsertResult{AlertID: id, Duplicate: true, Alert: alert}, nil
		}
	}

	id := uuid.NewString()
	rec := newRecord(alert, id, m.now())
	rec.Metadata = maps.Clone(alert.Metadata)
	m.alerts[id] = &rec
	m.order = append(m.order, id)
	return UpsertResult{AlertID: id, Created: true, Alert: alert}, nil
}

// ListAlerts lists alerts newest first. Without a status filter open and acknowledged alerts are returned.
func (m *MemoryStore) ListAlerts(_ context.Context, filter AlertFilter) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := filter.statuses()
	out := make([]AlertRecord, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.alerts[m.order[i]]
		if filter.OrganizationID != "" && rec.OrganizationID != filter.OrganizationID {
			continue
		}
		if !slices.Contains(statuses, rec.Status) {
			continue
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out, nil
}

// Acknowledge marks an open alert as acknowledged.
func (m *MemoryStore) Acknowledge(_ context.Context, alertID string) (AlertRecord, error) {
	return m.transition(alertID, TransitionAcknowledge)
}

// Resolve marks an open or acknowledged alert as resolved.
func (m *MemoryStore) Resolve(_ context.Context, alertID string) (AlertRecord, error) {
	return m.transition(alertID, TransitionResolve)
}

// Dismiss marks an open alert as dismissed.
func (m *MemoryStore) Dismiss(_ context.Context, alertID string) (AlertRecord, error) {
	return m.transition(alertID, TransitionDismiss)
}

func (m *MemoryStore) transition(alertID string, t Transition) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.alerts[alertID]
	if !ok {
		return AlertRecord{}, ErrNotFound
	}
	if err := rec.apply(t, m.now()); err != nil {
		return AlertRecord{}, err
	}
	return *rec, nil
}

// AutoResolve resolves open and acknowledged alerts of the given types for a stream.
func (m *MemoryStore) AutoResolve(_ context.Context, organizationID, streamID string, types []risk.Type) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := m.now()
	for _, rec := range m.alerts {
		if rec.OrganizationID != organizationID || rec.StreamID != streamID || !slices.Contains(types, rec.Type) {
			continue
		}
		if rec.apply(TransitionResolve, now) != nil {
			continue
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		rec.Metadata["autoResolved"] = true
		n++
	}
	return n, nil
}

// ListEventsSince returns stream events at or after since. An empty organization id lists all.
func (m *MemoryStore) ListEventsSince(_ context.Context, organizationID string, since time.Time) ([]portfolio.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orgOf := make(map[string]string, len(m.streams))
	for _, s := range m.streams {
		orgOf[s.ID] = s.OrganizationID
	}
	out := make([]portfolio.Event, 0)
	for _, e := range m.events {
		if organizationID != "" && orgOf[e.StreamID] != organizationID {
			continue
		}
		if e.OccurredAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}
