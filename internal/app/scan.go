package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/service"
	"streamwatcher/internal/stream"
	"streamwatcher/internal/workflow"
)

// Scan runs the alert workflow once. A dry run classifies without writing alerts.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	store, closeStore, err := a.requireStore(ctx, "扫描告警")
	if err != nil {
		return err
	}
	defer closeStore()

	source, closeSource := a.snapshotSource(store, nil)
	defer closeSource()

	if opts.DryRun {
		var snapshots []stream.Snapshot
		if opts.OrganizationID != "" {
			snapshots, err = source.ListStreamsByOrganization(ctx, opts.OrganizationID)
		} else {
			snapshots, err = source.ListStreams(ctx)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", workflow.ErrSnapshotFetch, err)
		}
		alerts := a.newClassifier().ClassifyAll(snapshots, time.Now().UTC())
		risk.SortBySeverity(alerts)
		return writeAlertCandidates(os.Stdout, alerts)
	}

	wf := a.newWorkflow(source, store, nil, opts.OrganizationID)

	var invalidator service.CacheInvalidator
	if overviewCache := a.openCache(ctx); overviewCache != nil {
		invalidator = overviewCache
		defer overviewCache.Close()
	}
	svc := service.New(a.Config, nil, wf, store, a.newNotifier(), invalidator, a.Logger)

	res, err := svc.TriggerAlerts(ctx)
	if errors.Is(err, service.ErrBusy) {
		return fmt.Errorf("另一个告警任务正在运行: %w", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "alerts checked: %d\nalerts created: %d\nduplicates: %d\nfailed: %d\n",
		res.AlertsChecked, res.AlertsCreated, res.Duplicates, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d alert upserts failed", res.Failed)
	}
	return nil
}

func writeAlertCandidates(w io.Writer, alerts []risk.Alert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no alerts")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Severity\tType\tStream\tOrganization\tDescription")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			alert.Severity, alert.Type, alert.StreamID, alert.OrganizationID, sanitizeInline(alert.Description))
	}
	return writer.Flush()
}
