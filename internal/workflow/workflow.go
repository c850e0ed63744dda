package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/stream"
)

// ErrSnapshotFetch wraps failures to load stream snapshots. The run is aborted before any
// classification.
var ErrSnapshotFetch = errors.New("workflow: fetch stream snapshots")

// DefaultConcurrency bounds simultaneous alert sink calls.
const DefaultConcurrency = 32

// SnapshotSource provides the current stream set.
type SnapshotSource interface {
	ListStreams(ctx context.Context) ([]stream.Snapshot, error)
	ListStreamsByOrganization(ctx context.Context, organizationID string) ([]stream.Snapshot, error)
}

// AlertSink persists candidate alerts idempotently.
type AlertSink interface {
	UpsertAlert(ctx context.Context, alert risk.Alert) (storage.UpsertResult, error)
}

// Options tune a workflow.
type Options struct {
	// Concurrency caps in-flight sink calls; zero uses DefaultConcurrency.
	Concurrency int
	// UpsertTimeout bounds each sink call; zero disables the per-call deadline.
	UpsertTimeout time.Duration
	// OrganizationID scopes the run to one organization when set.
	OrganizationID string
	Now            func() time.Time
}

// Result summarises one run.
type Result struct {
	AlertsChecked int                    `json:"alertsChecked"`
	AlertsCreated int                    `json:"alertsCreated"`
	Duplicates    int                    `json:"duplicates"`
	Failed        int                    `json:"failed"`
	Created       []storage.UpsertResult `json:"-"`
}

// Workflow fetches snapshots, classifies them and persists the resulting alerts.
type Workflow struct {
	source     SnapshotSource
	sink       AlertSink
	classifier *risk.Classifier
	opts       Options
	metrics    *Metrics
	logger     zerolog.Logger
}

// New constructs a workflow. metrics may be nil.
func New(source SnapshotSource, sink AlertSink, classifier *risk.Classifier, opts Options, metrics *Metrics, logger zerolog.Logger) *Workflow {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Workflow{
		source:     source,
		sink:       sink,
		classifier: classifier,
		opts:       opts,
		metrics:    metrics,
		logger:     logger.With().Str("component", "workflow").Logger(),
	}
}

// Run executes one pass. Sink failures are logged and counted in the result; only a snapshot
// fetch failure or cancellation of ctx is returned as an error.
func (w *Workflow) Run(ctx context.Context) (Result, error) {
	started := time.Now()

	snapshots, err := w.fetch(ctx)
	if err != nil {
		w.metrics.observe(Result{}, "fetch_error", time.Since(started))
		return Result{}, fmt.Errorf("%w: %w", ErrSnapshotFetch, err)
	}

	candidates := w.classifier.ClassifyAll(snapshots, w.opts.Now())
	res := w.persist(ctx, candidates)

	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	w.metrics.observe(res, outcome, time.Since(started))

	w.logger.Info().
		Int("streams", len(snapshots)).
		Int("alerts_checked", res.AlertsChecked).
		Int("alerts_created", res.AlertsCreated).
		Int("duplicates", res.Duplicates).
		Int("failed", res.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("alert workflow finished")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (w *Workflow) fetch(ctx context.Context) ([]stream.Snapshot, error) {
	if w.opts.OrganizationID != "" {
		return w.source.ListStreamsByOrganization(ctx, w.opts.OrganizationID)
	}
	return w.source.ListStreams(ctx)
}

func (w *Workflow) persist(ctx context.Context, candidates []risk.Alert) Result {
	res := Result{AlertsChecked: len(candidates)}
	if len(candidates) == 0 {
		return res
	}

	outcomes := make([]*storage.UpsertResult, len(candidates))
	var (
		mu     sync.Mutex
		failed int
	)

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			out, err := w.upsert(ctx, candidate)
			if err != nil {
				w.logger.Error().Err(err).
					Str("stream_id", candidate.StreamID).
					Str("type", string(candidate.Type)).
					Msg("failed to persist alert")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			outcomes[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	res.Failed = failed
	for _, out := range outcomes {
		switch {
		case out == nil:
		case out.Created:
			res.AlertsCreated++
			res.Created = append(res.Created, *out)
		case out.Duplicate:
			res.Duplicates++
		}
	}
	return res
}

func (w *Workflow) upsert(ctx context.Context, alert risk.Alert) (storage.UpsertResult, error) {
	if w.opts.UpsertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.UpsertTimeout)
		defer cancel()
	}
	return w.sink.UpsertAlert(ctx, alert)
}
