package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"streamwatcher/internal/risk"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Interval != time.Hour {
		t.Fatalf("interval = %s, want 1h", cfg.Scheduler.Interval)
	}
	policy := cfg.RiskPolicy()
	if !policy.LowRunwayHours.Equal(decimal.NewFromInt(72)) || policy.InactivityAlertDays != 25 {
		t.Fatalf("policy = %+v", policy)
	}
	if cfg.Policy.WithdrawalEligibilityDays != 30 {
		t.Fatalf("eligibility days = %d, want 30", cfg.Policy.WithdrawalEligibilityDays)
	}
	if cfg.MinSeverity() != risk.SeverityHigh {
		t.Fatalf("min severity = %s", cfg.MinSeverity())
	}
	if cfg.Workflow.Concurrency != 32 || cfg.HTTP.Addr != ":8080" {
		t.Fatalf("workflow/http defaults = %+v %+v", cfg.Workflow, cfg.HTTP)
	}
}

func TestLoadDecimalsFromNumbersAndStrings(t *testing.T) {
	path := writeConfig(t, `
policy:
  low_runway_hours: 96
  high_runway_hours: 36.5
  critical_runway_hours: "12"
  timezone: Europe/Berlin
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.RiskPolicy()
	if !p.LowRunwayHours.Equal(decimal.NewFromInt(96)) ||
		!p.HighRunwayHours.Equal(decimal.RequireFromString("36.5")) ||
		!p.CriticalRunwayHours.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("policy = %+v", p)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Fatalf("location = %v, %v", loc, err)
	}
}

func TestLoadNonFiniteDecimalsFailValidation(t *testing.T) {
	cases := map[string]string{
		"critical runway hours must be positive": "policy:\n  critical_runway_hours: .nan\n",
		"low runway hours must be >= high":       "policy:\n  low_runway_hours: .inf\n",
	}
	for want, body := range cases {
		_, err := Load(writeConfig(t, body))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("Load(%q) error = %v, want %q", body, err, want)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STREAMWATCHER_POLICY_INACTIVITY_ALERT_DAYS", "20")
	t.Setenv("STREAMWATCHER_WORKFLOW_CONCURRENCY", "4")

	cfg, err := Load(writeConfig(t, "workflow:\n  concurrency: 16\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.InactivityAlertDays != 20 || cfg.Workflow.Concurrency != 4 {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Policy, cfg.Workflow)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"policy: low":        "policy:\n  low_runway_hours: 10\n",
		"telegram":           "alerting:\n  telegram:\n    enabled: true\n    chat_id: \"1\"\n",
		"alerting.min":       "alerting:\n  min_severity: urgent\n",
		"chain.rpc_url":      "chain:\n  enabled: true\n",
		"policy.timezone":    "policy:\n  timezone: Mars/Olympus\n",
		"scheduler.interval": "scheduler:\n  interval: 0s\n",
	}
	for want, body := range cases {
		_, err := Load(writeConfig(t, body))
		if err == nil {
			t.Fatalf("expected error containing %q", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestResolveMaxRows(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxRows: 500}}
	if cfg.ResolveMaxRows(0) != 500 || cfg.ResolveMaxRows(20) != 20 {
		t.Fatal("ResolveMaxRows should prefer a positive override")
	}
}
