package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"streamwatcher/internal/portfolio"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

// Export renders stream accrual and runway as CSV and/or a PNG runway chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	maxRows := a.Config.ResolveMaxRows(opts.MaxRows)
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	store, closeStore, err := a.requireStore(ctx, "导出")
	if err != nil {
		return err
	}
	defer closeStore()

	var snapshots []stream.Snapshot
	if opts.OrganizationID != "" {
		snapshots, err = store.ListStreamsByOrganization(ctx, opts.OrganizationID)
	} else {
		snapshots, err = store.ListStreams(ctx)
	}
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no streams found for export")
		return nil
	}
	if len(snapshots) > maxRows {
		a.Logger.Warn().Int("total", len(snapshots)).Int("max_rows", maxRows).Msg("export truncated")
		snapshots = snapshots[:maxRows]
	}

	now := time.Now().UTC()
	rows := buildExportRows(snapshots, now, a.Config.Policy.WithdrawalEligibilityDays, loc, a.newClassifier())
	a.Logger.Info().Int("exported", len(rows)).Msg("exporting streams")

	if opts.CSVPath != "" {
		if err := writeStreamsCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		bars := runwayBars(rows)
		if len(bars) == 0 {
			a.Logger.Warn().Msg("no active streams with runway; skipping chart")
			return nil
		}
		if err := writeRunwayPNG(opts.PNGPath, bars); err != nil {
			return err
		}
	}

	return nil
}

type exportRow struct {
	portfolio.StreamView
	DaysUntilEmployerWithdrawal *int
}

func buildExportRows(snapshots []stream.Snapshot, now time.Time, eligibilityDays int, loc *time.Location, classifier *risk.Classifier) []exportRow {
	rows := make([]exportRow, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, exportRow{
			StreamView:                  portfolio.NewStreamView(s, now, classifier),
			DaysUntilEmployerWithdrawal: stream.DaysUntilEmployerWithdrawal(s.LastActivityAt, now, eligibilityDays, loc),
		})
	}
	return rows
}

func writeStreamsCSV(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return encodeStreamsCSV(file, rows)
}

func encodeStreamsCSV(w io.Writer, rows []exportRow) error {
	writer := csv.NewWriter(w)

	header := []string{"stream_id", "organization_id", "employee_id", "employee_name", "status", "hourly_rate", "total_deposited", "vault_balance", "earned", "available", "runway_hours", "last_activity_at", "days_until_employer_withdrawal", "alerts"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		runway := ""
		if row.RunwayHours != nil {
			runway = row.RunwayHours.String()
		}
		lastActivity := ""
		if row.LastActivityAt != nil {
			lastActivity = row.LastActivityAt.UTC().Format(time.RFC3339)
		}
		countdown := ""
		if row.DaysUntilEmployerWithdrawal != nil {
			countdown = strconv.Itoa(*row.DaysUntilEmployerWithdrawal)
		}
		record := []string{
			row.ID,
			row.OrganizationID,
			row.EmployeeID,
			row.EmployeeName,
			string(row.Status),
			row.HourlyRate.String(),
			row.TotalDeposited.String(),
			row.VaultBalance.String(),
			row.Accrual.Earned.StringFixed(stream.DefaultPrecision),
			row.Accrual.Available.StringFixed(stream.DefaultPrecision),
			runway,
			lastActivity,
			countdown,
			strconv.Itoa(len(row.Alerts)),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// runwayBars charts active streams that have a runway. A chart needs a non-zero range, so an
// all-zero set yields no bars.
func runwayBars(rows []exportRow) []chart.Value {
	bars := make([]chart.Value, 0, len(rows))
	nonZero := false
	for _, row := range rows {
		if row.Status != stream.StatusActive || row.RunwayHours == nil {
			continue
		}
		v := row.RunwayHours.InexactFloat64()
		if v > 0 {
			nonZero = true
		}
		bars = append(bars, chart.Value{Label: row.EmployeeName, Value: v})
	}
	if !nonZero {
		return nil
	}
	return bars
}

func writeRunwayPNG(path string, bars []chart.Value) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.BarChart{
		Title:    "Runway per stream (hours)",
		Width:    1280,
		Height:   720,
		BarWidth: 40,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
