package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/storage"
)

// ListAlerts prints persisted alerts. Without a status filter open and acknowledged alerts are shown.
func (a *App) ListAlerts(ctx context.Context, opts AlertsOptions) error {
	filter := storage.AlertFilter{OrganizationID: opts.OrganizationID, Limit: opts.Limit}
	if opts.Status != "" {
		status, err := storage.ParseAlertStatus(opts.Status)
		if err != nil {
			return err
		}
		filter.Statuses = []storage.AlertStatus{status}
	}

	store, closeStore, err := a.requireStore(ctx, "查询告警")
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.ListAlerts(ctx, filter)
	if err != nil {
		return err
	}
	return writeAlertRecords(os.Stdout, alerts)
}

// TransitionAlert acknowledges, resolves or dismisses one alert.
func (a *App) TransitionAlert(ctx context.Context, alertID string, t storage.Transition) error {
	store, closeStore, err := a.requireStore(ctx, "更新告警状态")
	if err != nil {
		return err
	}
	defer closeStore()

	var rec storage.AlertRecord
	switch t {
	case storage.TransitionAcknowledge:
		rec, err = store.Acknowledge(ctx, alertID)
	case storage.TransitionResolve:
		rec, err = store.Resolve(ctx, alertID)
	case storage.TransitionDismiss:
		rec, err = store.Dismiss(ctx, alertID)
	default:
		return fmt.Errorf("unknown transition %q", t)
	}
	if err != nil {
		return fmt.Errorf("%s alert %s: %w", t, alertID, err)
	}
	a.Logger.Info().Str("alert_id", rec.ID).Str("status", string(rec.Status)).Msg("alert updated")
	fmt.Fprintf(os.Stdout, "alert %s is now %s\n", rec.ID, rec.Status)
	return nil
}

// AutoResolveAlerts resolves the stream's open and acknowledged alerts of the given types.
func (a *App) AutoResolveAlerts(ctx context.Context, organizationID, streamID string, types []risk.Type) error {
	store, closeStore, err := a.requireStore(ctx, "自动关闭告警")
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := store.AutoResolve(ctx, organizationID, streamID, types)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("stream_id", streamID).Int64("resolved", n).Msg("alerts auto-resolved")
	fmt.Fprintf(os.Stdout, "resolved %d alerts\n", n)
	return nil
}

func writeAlertRecords(w io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no alerts found")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTriggered (UTC)\tSeverity\tType\tStatus\tStream\tTitle")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID,
			alert.TriggeredAt.UTC().Format(time.RFC3339),
			alert.Severity,
			alert.Type,
			alert.Status,
			alert.StreamID,
			sanitizeInline(alert.Title),
		)
	}
	return writer.Flush()
}
