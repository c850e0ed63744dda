package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"streamwatcher/internal/alerting"
	"streamwatcher/internal/portfolio"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/service"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/stream"
	"streamwatcher/internal/workflow"
)

// fixture 描述一次离线模拟所需的流与事件。
type fixture struct {
	Now     *time.Time      `yaml:"now"`
	Streams []fixtureStream `yaml:"streams"`
	Events  []fixtureEvent  `yaml:"events"`
}

type fixtureStream struct {
	ID              string     `yaml:"id"`
	OrganizationID  string     `yaml:"organization_id"`
	EmployeeID      string     `yaml:"employee_id"`
	EmployeeName    string     `yaml:"employee_name"`
	StreamAddress   string     `yaml:"stream_address"`
	VaultAddress    string     `yaml:"vault_address"`
	HourlyRate      string     `yaml:"hourly_rate"`
	TotalDeposited  string     `yaml:"total_deposited"`
	WithdrawnAmount string     `yaml:"withdrawn_amount"`
	VaultBalance    string     `yaml:"vault_balance"`
	CreatedAt       time.Time  `yaml:"created_at"`
	LastActivityAt  *time.Time `yaml:"last_activity_at"`
	DeactivatedAt   *time.Time `yaml:"deactivated_at"`
	Status          string     `yaml:"status"`
}

type fixtureEvent struct {
	StreamID   string    `yaml:"stream_id"`
	Type       string    `yaml:"type"`
	Amount     string    `yaml:"amount"`
	OccurredAt time.Time `yaml:"occurred_at"`
}

// loadFixture decodes a simulation fixture. When the fixture omits vault_balance it is derived
// as total_deposited - withdrawn_amount.
func loadFixture(r io.Reader) (fixture, []stream.Snapshot, []portfolio.Event, error) {
	var fx fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return fx, nil, nil, fmt.Errorf("decode fixture: %w", err)
	}

	snapshots := make([]stream.Snapshot, 0, len(fx.Streams))
	for i, fs := range fx.Streams {
		if fs.ID == "" {
			return fx, nil, nil, fmt.Errorf("streams[%d]: id is required", i)
		}
		status, err := stream.ParseStatus(fs.Status)
		if err != nil {
			return fx, nil, nil, fmt.Errorf("stream %s: %w", fs.ID, err)
		}
		rate, _ := stream.ParseAmount(fs.HourlyRate)
		deposited, _ := stream.ParseAmount(fs.TotalDeposited)
		withdrawn, _ := stream.ParseAmount(fs.WithdrawnAmount)
		vault, ok := stream.ParseAmount(fs.VaultBalance)
		if !ok {
			vault = stream.NonNegative(deposited.Sub(withdrawn))
		}
		snapshots = append(snapshots, stream.Snapshot{
			ID:              fs.ID,
			OrganizationID:  fs.OrganizationID,
			EmployeeID:      fs.EmployeeID,
			EmployeeName:    fs.EmployeeName,
			StreamAddress:   fs.StreamAddress,
			VaultAddress:    fs.VaultAddress,
			HourlyRate:      rate,
			TotalDeposited:  deposited,
			WithdrawnAmount: withdrawn,
			VaultBalance:    vault,
			CreatedAt:       fs.CreatedAt,
			LastActivityAt:  fs.LastActivityAt,
			DeactivatedAt:   fs.DeactivatedAt,
			Status:          status,
		})
	}

	events := make([]portfolio.Event, 0, len(fx.Events))
	for _, fe := range fx.Events {
		amount, _ := stream.ParseAmount(fe.Amount)
		events = append(events, portfolio.Event{
			StreamID:   fe.StreamID,
			Type:       portfolio.EventType(fe.Type),
			Amount:     amount,
			OccurredAt: fe.OccurredAt,
		})
	}
	return fx, snapshots, events, nil
}

// simulation is the outcome of running the workflow against an in-memory fixture.
type simulation struct {
	Now       time.Time
	Result    workflow.Result
	Alerts    []storage.AlertRecord
	Overviews []portfolio.OrganizationOverview
}

func (a *App) simulate(ctx context.Context, r io.Reader, notify bool, wall func() time.Time) (simulation, error) {
	fx, snapshots, events, err := loadFixture(r)
	if err != nil {
		return simulation{}, err
	}
	now := wall().UTC()
	if fx.Now != nil {
		now = fx.Now.UTC()
	}
	clock := func() time.Time { return now }

	store := storage.NewMemoryStore(clock)
	for _, s := range snapshots {
		store.PutStream(s)
	}
	for _, e := range events {
		store.AppendEvent(e)
	}

	classifier := a.newClassifier()
	wf := workflow.New(store, store, classifier, workflow.Options{
		Concurrency:    a.Config.Workflow.Concurrency,
		UpsertTimeout:  a.Config.Workflow.UpsertTimeout,
		OrganizationID: a.Config.Workflow.OrganizationID,
		Now:            clock,
	}, nil, a.Logger)

	var notifier alerting.Notifier
	if notify {
		notifier = a.newNotifier()
	}
	res, err := service.New(a.Config, nil, wf, nil, notifier, nil, a.Logger).GenerateAlerts(ctx)
	if err != nil {
		return simulation{}, err
	}

	alerts, err := store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil {
		return simulation{}, err
	}

	orgs := make(map[string]struct{})
	for _, s := range snapshots {
		orgs[s.OrganizationID] = struct{}{}
	}
	ids := make([]string, 0, len(orgs))
	for id := range orgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sim := simulation{Now: now, Result: res, Alerts: alerts}
	for _, id := range ids {
		orgSnapshots, _ := store.ListStreamsByOrganization(ctx, id)
		orgEvents, _ := store.ListEventsSince(ctx, id, now.Add(-portfolio.ClawbackWindow))
		sim.Overviews = append(sim.Overviews, portfolio.BuildOrganizationOverview(id, orgSnapshots, orgEvents, now, classifier))
	}
	return sim, nil
}

// Simulate 读取 YAML 夹具，在内存中跑一遍告警流程并打印概览。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.FixturePath == "" {
		return errors.New("--fixture 必须提供")
	}
	if opts.Notify {
		if !a.Config.Alerting.Enabled {
			return errors.New("alerting 未启用")
		}
		if a.newNotifier() == nil {
			return errors.New("未配置任何告警通道")
		}
	}

	file, err := os.Open(opts.FixturePath)
	if err != nil {
		return err
	}
	defer file.Close()

	sim, err := a.simulate(ctx, file, opts.Notify, time.Now)
	if err != nil {
		return err
	}
	return writeSimulation(os.Stdout, sim)
}

func writeSimulation(w io.Writer, sim simulation) error {
	fmt.Fprintf(w, "simulated at %s\nalerts checked: %d, created: %d, duplicates: %d, failed: %d\n\n",
		sim.Now.Format(time.RFC3339), sim.Result.AlertsChecked, sim.Result.AlertsCreated, sim.Result.Duplicates, sim.Result.Failed)

	candidates := make([]risk.Alert, 0, len(sim.Alerts))
	for _, rec := range sim.Alerts {
		candidates = append(candidates, risk.Alert{
			StreamID:       rec.StreamID,
			OrganizationID: rec.OrganizationID,
			Type:           rec.Type,
			Severity:       rec.Severity,
			Description:    rec.Description,
		})
	}
	risk.SortBySeverity(candidates)
	if err := writeAlertCandidates(w, candidates); err != nil {
		return err
	}

	for _, o := range sim.Overviews {
		fmt.Fprintln(w)
		if err := writeOrganizationOverview(w, o); err != nil {
			return err
		}
	}
	return nil
}
