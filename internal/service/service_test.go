package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamwatcher/internal/alerting"
	"streamwatcher/internal/config"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/workflow"
)

type stubRunner struct {
	res   workflow.Result
	err   error
	calls int
}

func (s *stubRunner) Run(context.Context) (workflow.Result, error) {
	s.calls++
	return s.res, s.err
}

type recordingNotifier struct{ notes []alerting.Notification }

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

type recordingCache struct{ invalidated []string }

func (r *recordingCache) Invalidate(_ context.Context, ids ...string) {
	r.invalidated = append(r.invalidated, ids...)
}

type stubLocker struct {
	acquired bool
	released bool
	err      error
}

func (s *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	if !s.acquired {
		return nil, false, nil
	}
	return func() { s.released = true }, true, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.MinSeverity = string(risk.SeverityHigh)
	cfg.Scheduler.AdvisoryLockKey = 42
	cfg.App.Environment = "test"
	return cfg
}

func created(id, org string, sev risk.Severity) storage.UpsertResult {
	return storage.UpsertResult{
		AlertID: id,
		Created: true,
		Alert:   risk.Alert{StreamID: id, OrganizationID: org, Type: risk.TypeLowRunway, Severity: sev},
	}
}

func TestGenerateAlertsNotifiesAndInvalidates(t *testing.T) {
	runner := &stubRunner{res: workflow.Result{
		AlertsChecked: 2,
		AlertsCreated: 2,
		Created: []storage.UpsertResult{
			created("a", "org-1", risk.SeverityCritical),
			created("b", "org-1", risk.SeverityMedium),
		},
	}}
	notifier := &recordingNotifier{}
	cache := &recordingCache{}
	svc := New(testConfig(), nil, runner, nil, notifier, cache, zerolog.Nop())

	res, err := svc.GenerateAlerts(context.Background())
	if err != nil {
		t.Fatalf("GenerateAlerts: %v", err)
	}
	if res.AlertsCreated != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(notifier.notes) != 1 || notifier.notes[0].AlertID != "a" || notifier.notes[0].Environment != "test" {
		t.Fatalf("notifications = %+v, want only the critical alert", notifier.notes)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "org-1" {
		t.Fatalf("invalidated = %v", cache.invalidated)
	}
}

func TestGenerateAlertsPropagatesFetchError(t *testing.T) {
	runner := &stubRunner{err: workflow.ErrSnapshotFetch}
	notifier := &recordingNotifier{}
	svc := New(testConfig(), nil, runner, nil, notifier, nil, zerolog.Nop())

	if _, err := svc.GenerateAlerts(context.Background()); !errors.Is(err, workflow.ErrSnapshotFetch) {
		t.Fatalf("err = %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("no notifications on a failed run")
	}
}

func TestProcessTickSkipsWhenLockHeld(t *testing.T) {
	runner := &stubRunner{}
	locker := &stubLocker{acquired: false}
	svc := New(testConfig(), nil, runner, locker, nil, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if runner.calls != 0 {
		t.Fatal("workflow should not run without the lock")
	}

	locker.acquired = true
	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if runner.calls != 1 || !locker.released {
		t.Fatalf("calls = %d, released = %v", runner.calls, locker.released)
	}
}

func TestTriggerAlertsSharesTickLock(t *testing.T) {
	runner := &stubRunner{res: workflow.Result{AlertsChecked: 1}}
	locker := &stubLocker{acquired: false}
	svc := New(testConfig(), nil, runner, locker, nil, nil, zerolog.Nop())

	if _, err := svc.TriggerAlerts(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy while a tick holds the lock", err)
	}
	if runner.calls != 0 {
		t.Fatal("workflow ran without the lock")
	}

	locker.acquired = true
	res, err := svc.TriggerAlerts(context.Background())
	if err != nil {
		t.Fatalf("TriggerAlerts: %v", err)
	}
	if res.AlertsChecked != 1 || runner.calls != 1 || !locker.released {
		t.Fatalf("res = %+v, calls = %d, released = %v", res, runner.calls, locker.released)
	}

	locker.err = errors.New("connection reset")
	if _, err := svc.TriggerAlerts(context.Background()); err == nil || errors.Is(err, ErrBusy) {
		t.Fatalf("lock error = %v", err)
	}
	if err := svc.ProcessTick(context.Background(), time.Now()); err == nil {
		t.Fatal("tick should surface lock errors")
	}
}

func TestAlertingDisabledSuppressesNotifications(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = false
	runner := &stubRunner{res: workflow.Result{Created: []storage.UpsertResult{created("a", "org-1", risk.SeverityCritical)}}}
	notifier := &recordingNotifier{}

	if _, err := New(cfg, nil, runner, nil, notifier, nil, zerolog.Nop()).GenerateAlerts(context.Background()); err != nil {
		t.Fatalf("GenerateAlerts: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("notifications = %+v", notifier.notes)
	}
}
