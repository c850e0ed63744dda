package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"streamwatcher/internal/stream"
)

// maxProjectionRows 防止误用极小步长输出海量行。
const maxProjectionRows = 10000

// projectionRow is the accrual state of a stream at one instant.
type projectionRow struct {
	At        time.Time
	Hours     int64
	Earned    decimal.Decimal
	Available decimal.Decimal
	Capped    bool
}

// Project prints the stepwise accrual of a stream over a time range.
func (a *App) Project(ctx context.Context, opts ProjectOptions) error {
	if opts.StreamID == "" {
		return errors.New("stream id is required")
	}
	store, closeStore, err := a.requireStore(ctx, "预测应计")
	if err != nil {
		return err
	}
	defer closeStore()

	snapshot, err := store.GetStream(ctx, opts.StreamID)
	if err != nil {
		return err
	}

	rows, err := projectAccrual(snapshot, opts.From, opts.To, opts.Step)
	if err != nil {
		return err
	}
	a.Logger.Debug().Str("stream_id", snapshot.ID).Int("rows", len(rows)).Msg("accrual projected")
	return writeProjection(os.Stdout, rows)
}

// projectAccrual evaluates the accrual at every step-aligned instant in [from, to].
func projectAccrual(s stream.Snapshot, from, to time.Time, step time.Duration) ([]projectionRow, error) {
	if step <= 0 {
		step = time.Hour
	}
	start := alignForward(from.UTC(), step)
	end := to.UTC()
	if start.After(end) {
		return nil, errors.New("预测范围为空，请检查 --from/--to")
	}
	if n := end.Sub(start) / step; n >= maxProjectionRows {
		return nil, fmt.Errorf("projection would produce %d rows; use a larger --step", n+1)
	}

	var rows []projectionRow
	for at := start; !at.After(end); at = at.Add(step) {
		res := stream.ComputeAccrual(s, at)
		rows = append(rows, projectionRow{
			At:        at,
			Hours:     stream.HoursElapsed(s.CreatedAt, at),
			Earned:    res.Earned,
			Available: res.Available,
			Capped:    s.TotalDeposited.Sign() > 0 && res.Earned.Equal(s.TotalDeposited),
		})
	}
	return rows, nil
}

func writeProjection(w io.Writer, rows []projectionRow) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tHours\tEarned\tAvailable\tCapped")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%t\n",
			row.At.Format(time.RFC3339),
			row.Hours,
			formatDecimal(row.Earned, stream.DefaultPrecision),
			formatDecimal(row.Available, stream.DefaultPrecision),
			row.Capped,
		)
	}
	return writer.Flush()
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
