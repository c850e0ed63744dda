package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"streamwatcher/internal/alerting"
	"streamwatcher/internal/config"
	"streamwatcher/internal/scheduler"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/workflow"
)

// ErrBusy reports that another runner holds the workflow advisory lock.
var ErrBusy = errors.New("alert workflow already running")

// Runner executes one alert workflow pass.
type Runner interface {
	Run(ctx context.Context) (workflow.Result, error)
}

// CacheInvalidator drops cached organization overviews.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, organizationIDs ...string)
}

// Service orchestrates scheduled alert generation, notification and cache invalidation.
type Service struct {
	scheduler *scheduler.Scheduler
	workflow  Runner
	notifier  alerting.Notifier
	cache     CacheInvalidator
	locker    storage.AdvisoryLocker
	lockKey   int64
	env       string
	logger    zerolog.Logger
}

// New constructs the monitoring service. notifier, cache and locker may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, wf Runner, locker storage.AdvisoryLocker, notifier alerting.Notifier, cache CacheInvalidator, logger zerolog.Logger) *Service {
	if notifier != nil && cfg.Alerting.Enabled {
		notifier = alerting.SeverityFilter{Min: cfg.MinSeverity(), Next: notifier}
	} else {
		notifier = nil
	}
	return &Service{
		scheduler: sched,
		workflow:  wf,
		notifier:  notifier,
		cache:     cache,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		env:       cfg.App.Environment,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled alert loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one workflow pass under the advisory lock, if configured.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	_, err := s.TriggerAlerts(ctx)
	if errors.Is(err, ErrBusy) {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	return err
}

// TriggerAlerts runs one pass under the same advisory lock as scheduled ticks. It returns ErrBusy
// without running the workflow when the lock is held elsewhere.
func (s *Service) TriggerAlerts(ctx context.Context) (workflow.Result, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return workflow.Result{}, err
	}
	if !proceed {
		return workflow.Result{}, ErrBusy
	}
	if unlock != nil {
		defer unlock()
	}
	return s.GenerateAlerts(ctx)
}

// GenerateAlerts runs the workflow once and fans newly created alerts out to notifications and
// cache invalidation. It takes no lock; callers sharing a database go through TriggerAlerts.
func (s *Service) GenerateAlerts(ctx context.Context) (workflow.Result, error) {
	res, err := s.workflow.Run(ctx)
	if err != nil {
		return res, err
	}

	orgs := make(map[string]struct{})
	for _, created := range res.Created {
		orgs[created.Alert.OrganizationID] = struct{}{}
		s.notify(ctx, created)
	}

	if s.cache != nil && len(orgs) > 0 {
		ids := make([]string, 0, len(orgs))
		for id := range orgs {
			ids = append(ids, id)
		}
		s.cache.Invalidate(ctx, ids...)
	}
	return res, nil
}

func (s *Service) notify(ctx context.Context, created storage.UpsertResult) {
	if s.notifier == nil {
		return
	}
	note := alerting.Notification{
		AlertID:     created.AlertID,
		Alert:       created.Alert,
		TriggeredAt: time.Now().UTC(),
		Environment: s.env,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("alert_id", created.AlertID).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
