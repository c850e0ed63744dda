package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"streamwatcher/internal/portfolio"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/stream"
	"streamwatcher/internal/workflow"
)

// Store is the read and alert-lifecycle surface the API needs.
type Store interface {
	GetStream(ctx context.Context, streamID string) (stream.Snapshot, error)
	ListStreamsByEmployee(ctx context.Context, employeeID string) ([]stream.Snapshot, error)
	ListStreamsByOrganization(ctx context.Context, organizationID string) ([]stream.Snapshot, error)
	ListEventsSince(ctx context.Context, organizationID string, since time.Time) ([]portfolio.Event, error)
	ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.AlertRecord, error)
	Acknowledge(ctx context.Context, alertID string) (storage.AlertRecord, error)
	Resolve(ctx context.Context, alertID string) (storage.AlertRecord, error)
	Dismiss(ctx context.Context, alertID string) (storage.AlertRecord, error)
}

// OverviewCache caches organization overviews.
type OverviewCache interface {
	Get(ctx context.Context, organizationID string, dest any) bool
	Set(ctx context.Context, organizationID string, value any)
}

// AlertGenerator triggers an alert workflow pass under the scheduler's advisory lock.
type AlertGenerator interface {
	TriggerAlerts(ctx context.Context) (workflow.Result, error)
}

// Pinger checks a dependency for health reporting.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wire optional collaborators into the API.
type Options struct {
	Classifier      *risk.Classifier
	EligibilityDays int
	Location        *time.Location
	Cache           OverviewCache
	Generator       AlertGenerator
	Gatherer        prometheus.Gatherer
	Database        Pinger
	Now             func() time.Time
}

// Server serves the stream read model and alert actions over HTTP.
type Server struct {
	store  Store
	opts   Options
	logger zerolog.Logger
	engine *gin.Engine
}

// New builds the API router.
func New(store Store, opts Options, logger zerolog.Logger) *Server {
	if opts.Classifier == nil {
		opts.Classifier = risk.NewClassifier(risk.DefaultPolicy())
	}
	if opts.EligibilityDays <= 0 {
		opts.EligibilityDays = stream.DefaultWithdrawalEligibilityDays
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	s := &Server{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "httpapi").Logger(),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	if s.opts.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	api.GET("/streams/:id/accrual", s.streamAccrual)
	api.GET("/employees/:id/overview", s.employeeOverview)
	api.GET("/organizations/:id/overview", s.organizationOverview)
	api.GET("/organizations/:id/alerts", s.listAlerts)
	api.POST("/alerts/:id/acknowledge", s.transition(storage.TransitionAcknowledge))
	api.POST("/alerts/:id/resolve", s.transition(storage.TransitionResolve))
	api.POST("/alerts/:id/dismiss", s.transition(storage.TransitionDismiss))
	api.POST("/workflows/generate-alerts", s.generateAlerts)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request served")
	}
}

// ListenAndServe runs srv until ctx is cancelled, then shuts it down within shutdownTimeout.
func ListenAndServe(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
