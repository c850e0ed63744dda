package chain

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"streamwatcher/internal/stream"
)

// SnapshotSource is the stream listing decorated by VerifyingSource.
type SnapshotSource interface {
	ListStreams(ctx context.Context) ([]stream.Snapshot, error)
	ListStreamsByOrganization(ctx context.Context, organizationID string) ([]stream.Snapshot, error)
}

// VerifyOptions tune the vault cross-check.
type VerifyOptions struct {
	Concurrency int
	// Tolerance is the absolute difference, in base units, accepted between stored and on-chain balances.
	Tolerance decimal.Decimal
}

// VerifyingSource compares stored vault balances of active streams with the chain. Mismatches are
// logged and counted; snapshots are returned unchanged.
type VerifyingSource struct {
	inner  SnapshotSource
	reader VaultReader
	opts   VerifyOptions
	logger zerolog.Logger

	checked    prometheus.Counter
	mismatches prometheus.Counter
	failures   prometheus.Counter
	lastRun    atomic.Int64
}

// NewVerifyingSource decorates inner. reg may be nil.
func NewVerifyingSource(inner SnapshotSource, reader VaultReader, opts VerifyOptions, reg prometheus.Registerer, logger zerolog.Logger) *VerifyingSource {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	factory := promauto.With(reg)
	return &VerifyingSource{
		inner:  inner,
		reader: reader,
		opts:   opts,
		logger: logger.With().Str("component", "vault_verifier").Logger(),
		checked: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamwatcher_chain_vault_checks_total",
			Help: "Vault balances compared against the chain",
		}),
		mismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamwatcher_chain_vault_mismatch_total",
			Help: "Stored vault balances that disagree with the chain",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamwatcher_chain_vault_errors_total",
			Help: "Vault balance lookups that failed",
		}),
	}
}

// ListStreams lists and verifies every stream.
func (v *VerifyingSource) ListStreams(ctx context.Context) ([]stream.Snapshot, error) {
	snapshots, err := v.inner.ListStreams(ctx)
	if err != nil {
		return nil, err
	}
	v.Verify(ctx, snapshots)
	return snapshots, nil
}

// ListStreamsByOrganization lists and verifies one organization's streams.
func (v *VerifyingSource) ListStreamsByOrganization(ctx context.Context, organizationID string) ([]stream.Snapshot, error) {
	snapshots, err := v.inner.ListStreamsByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	v.Verify(ctx, snapshots)
	return snapshots, nil
}

// Verify checks active streams with a vault address and returns the number of mismatches.
func (v *VerifyingSource) Verify(ctx context.Context, snapshots []stream.Snapshot) int {
	var (
		g        errgroup.Group
		mismatch atomic.Int64
	)
	g.SetLimit(v.opts.Concurrency)
	for _, s := range snapshots {
		if err := stream.CheckInvariants(s); err != nil {
			v.logger.Warn().Err(err).Str("stream_id", s.ID).Msg("stream snapshot violates balance invariants")
		}
		if !s.IsActive() || s.VaultAddress == "" {
			continue
		}
		s := s
		g.Go(func() error {
			onChain, err := v.reader.VaultBalance(ctx, s.VaultAddress)
			v.checked.Inc()
			if err != nil {
				v.failures.Inc()
				v.logger.Warn().Err(err).Str("stream_id", s.ID).Str("vault", s.VaultAddress).Msg("vault balance lookup failed")
				return nil
			}
			if onChain.Sub(s.VaultBalance).Abs().GreaterThan(v.opts.Tolerance) {
				mismatch.Add(1)
				v.mismatches.Inc()
				v.logger.Warn().
					Str("stream_id", s.ID).
					Str("vault", s.VaultAddress).
					Str("stored", s.VaultBalance.String()).
					Str("on_chain", onChain.String()).
					Msg("vault balance mismatch")
			}
			return nil
		})
	}
	_ = g.Wait()
	v.lastRun.Store(mismatch.Load())
	return int(mismatch.Load())
}

// LastMismatches reports the mismatch count of the most recent verification.
func (v *VerifyingSource) LastMismatches() int {
	return int(v.lastRun.Load())
}
