package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"streamwatcher/internal/portfolio"
	"streamwatcher/internal/stream"
)

// Overview prints the organization dashboard: metric cards and risk rollups.
func (a *App) Overview(ctx context.Context, opts ReportOptions) error {
	if opts.OrganizationID == "" {
		return errors.New("organization id is required")
	}
	store, closeStore, err := a.requireStore(ctx, "生成概览")
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now().UTC()
	snapshots, err := store.ListStreamsByOrganization(ctx, opts.OrganizationID)
	if err != nil {
		return err
	}
	events, err := store.ListEventsSince(ctx, opts.OrganizationID, now.Add(-portfolio.ClawbackWindow))
	if err != nil {
		return err
	}
	overview := portfolio.BuildOrganizationOverview(opts.OrganizationID, snapshots, events, now, a.newClassifier())
	if opts.JSON {
		return writeJSON(os.Stdout, overview)
	}
	return writeOrganizationOverview(os.Stdout, overview)
}

// Accrual prints earned and available amounts for a stream, or for all streams of an employee.
func (a *App) Accrual(ctx context.Context, opts ReportOptions) error {
	store, closeStore, err := a.requireStore(ctx, "计算应计金额")
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now().UTC()
	if opts.EmployeeID != "" {
		loc, err := a.Config.Location()
		if err != nil {
			return err
		}
		snapshots, err := store.ListStreamsByEmployee(ctx, opts.EmployeeID)
		if err != nil {
			return err
		}
		overview := portfolio.BuildEmployeeOverview(opts.EmployeeID, snapshots, now, a.Config.Policy.WithdrawalEligibilityDays, loc)
		if opts.JSON {
			return writeJSON(os.Stdout, overview)
		}
		return writeEmployeeOverview(os.Stdout, overview)
	}

	if opts.StreamID == "" {
		return errors.New("either a stream id or --employee is required")
	}
	snapshot, err := store.GetStream(ctx, opts.StreamID)
	if err != nil {
		return err
	}
	view := portfolio.NewStreamView(snapshot, now, a.newClassifier())
	if opts.JSON {
		return writeJSON(os.Stdout, view)
	}
	return writeStreamViews(os.Stdout, []portfolio.StreamView{view})
}

// Countdown prints the days left before the employer may emergency-withdraw a stream.
func (a *App) Countdown(ctx context.Context, opts ReportOptions) error {
	if opts.StreamID == "" {
		return errors.New("stream id is required")
	}
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	store, closeStore, err := a.requireStore(ctx, "计算倒计时")
	if err != nil {
		return err
	}
	defer closeStore()

	snapshot, err := store.GetStream(ctx, opts.StreamID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	threshold := a.Config.Policy.WithdrawalEligibilityDays
	c := countdownReport{
		StreamID:       snapshot.ID,
		LastActivityAt: snapshot.LastActivityAt,
		ThresholdDays:  threshold,
		DaysRemaining:  stream.DaysUntilEmployerWithdrawal(snapshot.LastActivityAt, now, threshold, loc),
		Eligible:       stream.EmergencyWithdrawEligible(snapshot.LastActivityAt, now, threshold),
	}
	if opts.JSON {
		return writeJSON(os.Stdout, c)
	}
	fmt.Fprintf(os.Stdout, "stream: %s\nlast activity: %s\ndays until employer withdrawal: %s\nemergency withdraw eligible: %t\n",
		c.StreamID, formatTime(c.LastActivityAt), formatDays(c.DaysRemaining), c.Eligible)
	return nil
}

type countdownReport struct {
	StreamID       string     `json:"streamId"`
	LastActivityAt *time.Time `json:"lastActivityAt"`
	ThresholdDays  int        `json:"thresholdDays"`
	DaysRemaining  *int       `json:"daysUntilEmployerWithdrawal"`
	Eligible       bool       `json:"emergencyWithdrawEligible"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOrganizationOverview(w io.Writer, o portfolio.OrganizationOverview) error {
	fmt.Fprintf(w, "organization: %s (as of %s)\n\n", o.OrganizationID, o.GeneratedAt.Format(time.RFC3339))
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Metric\tValue")
	for _, card := range o.Cards {
		fmt.Fprintf(writer, "%s\t%s\n", card.Label, card.Value)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	if len(o.Rollups) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	for _, r := range o.Rollups {
		fmt.Fprintf(w, "[%s] %s: %s\n", strings.ToUpper(string(r.Level)), r.Title, r.Description)
	}
	return nil
}

func writeEmployeeOverview(w io.Writer, o portfolio.EmployeeOverview) error {
	fmt.Fprintf(w, "employee: %s (%s)\ntotal earned: %s\ntotal available: %s\nlast activity: %s\ndays until employer withdrawal: %s\n\n",
		o.EmployeeName, o.EmployeeID,
		formatDecimal(o.TotalEarned, stream.DefaultPrecision),
		formatDecimal(o.TotalAvailable, stream.DefaultPrecision),
		formatTime(o.LastActivityAt), formatDays(o.DaysUntilEmployerWithdrawal))
	return writeStreamViews(w, o.Streams)
}

func writeStreamViews(w io.Writer, views []portfolio.StreamView) error {
	if len(views) == 0 {
		fmt.Fprintln(w, "no streams found")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Stream\tEmployee\tStatus\tRate/h\tEarned\tAvailable\tVault\tRunway(h)\tAlerts")
	for _, v := range views {
		runway := "-"
		if v.RunwayHours != nil {
			runway = v.RunwayHours.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			v.ID,
			v.EmployeeName,
			v.Status,
			v.HourlyRate.String(),
			formatDecimal(v.Accrual.Earned, stream.DefaultPrecision),
			formatDecimal(v.Accrual.Available, stream.DefaultPrecision),
			v.VaultBalance.String(),
			runway,
			len(v.Alerts),
		)
	}
	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDays(days *int) string {
	if days == nil {
		return "N/A"
	}
	return strconv.Itoa(*days)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
