package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func snap(id string, status stream.Status, rate, vault string) stream.Snapshot {
	return stream.Snapshot{
		ID:             id,
		OrganizationID: "org-1",
		HourlyRate:     decimal.RequireFromString(rate),
		TotalDeposited: decimal.RequireFromString(vault),
		VaultBalance:   decimal.RequireFromString(vault),
		CreatedAt:      now.Add(-48 * time.Hour),
		Status:         status,
	}
}

func TestAggregateMonthlyBurnUsesActiveStreamsOnly(t *testing.T) {
	snapshots := []stream.Snapshot{
		snap("a", stream.StatusActive, "10", "10000"),
		snap("b", stream.StatusActive, "20", "20000"),
		snap("c", stream.StatusClosed, "5", "500"),
	}
	m := Aggregate(snapshots, nil, now, risk.NewClassifier(risk.DefaultPolicy()))

	if m.ActiveStreams != 2 {
		t.Fatalf("ActiveStreams = %d, want 2", m.ActiveStreams)
	}
	if !m.MonthlyBurn.Equal(decimal.NewFromInt(21600)) {
		t.Fatalf("MonthlyBurn = %s, want 21600", m.MonthlyBurn)
	}
	if !m.TotalDeposited.Equal(decimal.NewFromInt(30500)) {
		t.Fatalf("TotalDeposited = %s, want 30500", m.TotalDeposited)
	}
	if m.VaultCoverageDays == nil {
		t.Fatal("VaultCoverageDays should be set")
	}
	// 30000 / 30 / 24
	want := decimal.RequireFromString("41.6666666666666667")
	if !m.VaultCoverageDays.Round(4).Equal(want.Round(4)) {
		t.Fatalf("VaultCoverageDays = %s", m.VaultCoverageDays)
	}
	if m.TokenHealthPercentage != 100 {
		t.Fatalf("TokenHealthPercentage = %d, want 100", m.TokenHealthPercentage)
	}
}

func TestAggregateEmptyPortfolio(t *testing.T) {
	m := Aggregate(nil, nil, now, risk.NewClassifier(risk.DefaultPolicy()))
	if m.ActiveStreams != 0 || !m.MonthlyBurn.IsZero() {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.VaultCoverageDays != nil {
		t.Fatalf("VaultCoverageDays = %s, want nil", m.VaultCoverageDays)
	}
	if m.TokenHealthPercentage != 100 {
		t.Fatalf("TokenHealthPercentage = %d, want 100", m.TokenHealthPercentage)
	}
}

func TestAggregateZeroRateHasNoCoverage(t *testing.T) {
	m := Aggregate([]stream.Snapshot{snap("a", stream.StatusActive, "0", "100")}, nil, now, risk.NewClassifier(risk.DefaultPolicy()))
	if m.VaultCoverageDays != nil {
		t.Fatalf("VaultCoverageDays = %s, want nil", m.VaultCoverageDays)
	}
	if m.TokenHealthPercentage != 100 {
		t.Fatalf("zero-rate stream should count as healthy, got %d", m.TokenHealthPercentage)
	}
}

func TestAggregateRiskCounts(t *testing.T) {
	stale := now.Add(-26 * 24 * time.Hour)
	inactive := snap("inactive", stream.StatusActive, "1", "1000")
	inactive.LastActivityAt = &stale

	snapshots := []stream.Snapshot{
		snap("low", stream.StatusActive, "1", "10"),
		snap("suspended", stream.StatusSuspended, "1", "10"),
		inactive,
		snap("healthy", stream.StatusActive, "1", "500"),
	}
	events := []Event{
		{StreamID: "low", Type: EventStreamEmergencyWithdraw, OccurredAt: now.Add(-time.Hour)},
		{StreamID: "low", Type: EventStreamEmergencyWithdraw, OccurredAt: now.Add(-31 * 24 * time.Hour)},
		{StreamID: "low", Type: EventStreamTopUp, OccurredAt: now.Add(-time.Hour)},
	}
	m := Aggregate(snapshots, events, now, risk.NewClassifier(risk.DefaultPolicy()))

	if m.PendingActions != 2 {
		t.Fatalf("PendingActions = %d, want 2", m.PendingActions)
	}
	if m.InactivityRiskCount != 1 {
		t.Fatalf("InactivityRiskCount = %d, want 1", m.InactivityRiskCount)
	}
	if m.ClawbackCount != 1 {
		t.Fatalf("ClawbackCount = %d, want 1", m.ClawbackCount)
	}
	// 2 of 3 active streams have more than 72h of runway.
	if m.TokenHealthPercentage != 67 {
		t.Fatalf("TokenHealthPercentage = %d, want 67", m.TokenHealthPercentage)
	}
}

func TestHealthPercentageRoundsHalfUp(t *testing.T) {
	cases := []struct {
		healthy, active, want int
	}{
		{0, 0, 100},
		{1, 2, 50},
		{1, 8, 13},
		{1, 3, 33},
		{7, 8, 88},
		{0, 5, 0},
	}
	for _, tc := range cases {
		if got := healthPercentage(tc.healthy, tc.active); got != tc.want {
			t.Fatalf("healthPercentage(%d, %d) = %d, want %d", tc.healthy, tc.active, got, tc.want)
		}
	}
}

func TestCountClawbacksWindowBoundary(t *testing.T) {
	events := []Event{
		{Type: EventStreamEmergencyWithdraw, OccurredAt: now.Add(-ClawbackWindow)},
		{Type: EventStreamEmergencyWithdraw, OccurredAt: now.Add(-ClawbackWindow - time.Second)},
	}
	if got := CountClawbacks(events, now); got != 1 {
		t.Fatalf("CountClawbacks = %d, want 1", got)
	}
}

func TestCardsRenderCoverage(t *testing.T) {
	m := Aggregate(nil, nil, now, risk.NewClassifier(risk.DefaultPolicy()))
	cards := m.Cards()
	var coverage string
	for _, c := range cards {
		if c.ID == "vault-coverage" {
			coverage = c.Value
		}
	}
	if coverage != "N/A" {
		t.Fatalf("coverage card = %q, want N/A", coverage)
	}

	days := decimal.RequireFromString("12.345")
	m.VaultCoverageDays = &days
	for _, c := range m.Cards() {
		if c.ID == "vault-coverage" && c.Value != "12.3 days" {
			t.Fatalf("coverage card = %q", c.Value)
		}
	}
}

func TestRollups(t *testing.T) {
	stale := now.Add(-30 * 24 * time.Hour)
	a := snap("a", stream.StatusActive, "1", "10")
	a.LastActivityAt = &stale
	b := snap("b", stream.StatusActive, "1", "20")

	rollups := Rollups([]stream.Snapshot{a, b}, now, risk.NewClassifier(risk.DefaultPolicy()))
	if len(rollups) != 2 {
		t.Fatalf("expected 2 rollups, got %+v", rollups)
	}
	if rollups[0].ID != "low-runway" || rollups[0].Count != 2 || rollups[0].Level != risk.SeverityCritical {
		t.Fatalf("unexpected low runway rollup %+v", rollups[0])
	}
	if rollups[0].Description != "2 streams fall below 72 hours of funding." {
		t.Fatalf("description = %q", rollups[0].Description)
	}
	if rollups[1].Description != "1 stream shows no activity for 25+ days." {
		t.Fatalf("description = %q", rollups[1].Description)
	}
}
