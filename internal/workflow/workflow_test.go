package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/stream"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	snapshots []stream.Snapshot
	err       error
	byOrg     string
}

func (f *fakeSource) ListStreams(context.Context) ([]stream.Snapshot, error) {
	return f.snapshots, f.err
}

func (f *fakeSource) ListStreamsByOrganization(_ context.Context, orgID string) ([]stream.Snapshot, error) {
	f.byOrg = orgID
	var out []stream.Snapshot
	for _, s := range f.snapshots {
		if s.OrganizationID == orgID {
			out = append(out, s)
		}
	}
	return out, f.err
}

type fakeSink struct {
	mu       sync.Mutex
	calls    int
	fail     map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	seen     map[risk.Key]bool
}

func (f *fakeSink) UpsertAlert(ctx context.Context, alert risk.Alert) (storage.UpsertResult, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return storage.UpsertResult{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[alert.StreamID] {
		return storage.UpsertResult{}, errors.New("sink unavailable")
	}
	if f.seen == nil {
		f.seen = make(map[risk.Key]bool)
	}
	if f.seen[alert.Key()] {
		return storage.UpsertResult{AlertID: "dup", Duplicate: true, Alert: alert}, nil
	}
	f.seen[alert.Key()] = true
	return storage.UpsertResult{AlertID: alert.StreamID + ":" + string(alert.Type), Created: true, Alert: alert}, nil
}

func suspended(id string) stream.Snapshot {
	return stream.Snapshot{
		ID:             id,
		OrganizationID: "org-1",
		HourlyRate:     decimal.NewFromInt(1),
		TotalDeposited: decimal.NewFromInt(100),
		VaultBalance:   decimal.NewFromInt(100),
		CreatedAt:      now.Add(-time.Hour),
		Status:         stream.StatusSuspended,
	}
}

func newWorkflow(src SnapshotSource, sink AlertSink, opts Options, metrics *Metrics) *Workflow {
	opts.Now = func() time.Time { return now }
	return New(src, sink, risk.NewClassifier(risk.DefaultPolicy()), opts, metrics, zerolog.Nop())
}

func TestRunCreatesThenDeduplicates(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{snapshots: []stream.Snapshot{suspended("a"), suspended("b")}}
	sink := &fakeSink{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	wf := newWorkflow(src, sink, Options{}, metrics)

	res, err := wf.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlertsChecked != 2 || res.AlertsCreated != 2 || len(res.Created) != 2 {
		t.Fatalf("first run = %+v", res)
	}

	res, err = wf.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlertsChecked != 2 || res.AlertsCreated != 0 || res.Duplicates != 2 {
		t.Fatalf("second run = %+v", res)
	}

	if got := testutil.ToFloat64(metrics.alertsCreated); got != 2 {
		t.Fatalf("alerts created metric = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok runs metric = %v, want 2", got)
	}
}

func TestRunEmptySnapshotSet(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &fakeSink{}
	res, err := newWorkflow(&fakeSource{}, sink, Options{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlertsChecked != 0 || res.AlertsCreated != 0 {
		t.Fatalf("result = %+v, want zero", res)
	}
	if sink.calls != 0 {
		t.Fatalf("sink called %d times", sink.calls)
	}
}

func TestRunSnapshotFetchErrorIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{snapshots: []stream.Snapshot{suspended("a")}, err: errors.New("db down")}
	sink := &fakeSink{}
	_, err := newWorkflow(src, sink, Options{}, nil).Run(context.Background())
	if !errors.Is(err, ErrSnapshotFetch) {
		t.Fatalf("err = %v, want ErrSnapshotFetch", err)
	}
	if sink.calls != 0 {
		t.Fatal("no candidate should be persisted after a fetch failure")
	}
}

func TestRunIsolatesSinkFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{snapshots: []stream.Snapshot{suspended("a"), suspended("b"), suspended("c")}}
	sink := &fakeSink{fail: map[string]bool{"b": true}}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	res, err := newWorkflow(src, sink, Options{}, metrics).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlertsChecked != 3 || res.AlertsCreated != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("partial")); got != 1 {
		t.Fatalf("partial runs metric = %v, want 1", got)
	}
}

func TestRunTimesOutSlowSinkCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{snapshots: []stream.Snapshot{suspended("a"), suspended("b")}}
	sink := &fakeSink{delay: time.Second}

	started := time.Now()
	res, err := newWorkflow(src, sink, Options{UpsertTimeout: 20 * time.Millisecond}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 2 || res.AlertsCreated != 0 {
		t.Fatalf("result = %+v", res)
	}
	if time.Since(started) > 500*time.Millisecond {
		t.Fatalf("run took %s; slow calls were not bounded", time.Since(started))
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	snapshots := make([]stream.Snapshot, 12)
	for i := range snapshots {
		snapshots[i] = suspended(string(rune('a' + i)))
	}
	sink := &fakeSink{delay: 5 * time.Millisecond}

	res, err := newWorkflow(&fakeSource{snapshots: snapshots}, sink, Options{Concurrency: 3}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlertsCreated != 12 {
		t.Fatalf("created = %d, want 12", res.AlertsCreated)
	}
	if peak := sink.peak.Load(); peak > 3 {
		t.Fatalf("peak in-flight = %d, want <= 3", peak)
	}
}

func TestRunScopedToOrganization(t *testing.T) {
	other := suspended("z")
	other.OrganizationID = "org-2"
	src := &fakeSource{snapshots: []stream.Snapshot{suspended("a"), other}}

	res, err := newWorkflow(src, &fakeSink{}, Options{OrganizationID: "org-2"}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.byOrg != "org-2" || res.AlertsChecked != 1 {
		t.Fatalf("scoped run = %+v (org %q)", res, src.byOrg)
	}
}

func TestRunAgainstMemoryStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := storage.NewMemoryStore(func() time.Time { return now })
	empty := suspended("a")
	empty.Status = stream.StatusActive
	empty.VaultBalance = decimal.Zero
	store.PutStream(empty)

	wf := newWorkflow(store, store, Options{}, nil)
	res, err := wf.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlertsCreated != 1 || res.Created[0].Alert.Type != risk.TypeTokenAccount {
		t.Fatalf("result = %+v", res)
	}
	alerts, _ := store.ListAlerts(context.Background(), storage.AlertFilter{})
	if len(alerts) != 1 || alerts[0].Severity != risk.SeverityCritical {
		t.Fatalf("stored alerts = %+v", alerts)
	}
}
