package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"streamwatcher/internal/portfolio"
	"streamwatcher/internal/service"
	"streamwatcher/internal/storage"
	"streamwatcher/internal/stream"
	"streamwatcher/internal/version"
)

func (s *Server) health(c *gin.Context) {
	if s.opts.Database != nil {
		if err := s.opts.Database.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.String()})
}

type accrualResponse struct {
	StreamID                    string        `json:"streamId"`
	Status                      stream.Status `json:"status"`
	Earned                      string        `json:"earned"`
	Available                   string        `json:"available"`
	DaysUntilEmployerWithdrawal *int          `json:"daysUntilEmployerWithdrawal"`
	ComputedAt                  time.Time     `json:"computedAt"`
}

func (s *Server) streamAccrual(c *gin.Context) {
	snapshot, err := s.store.GetStream(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	now := s.opts.Now()
	res := stream.ComputeAccrual(snapshot, now)
	c.JSON(http.StatusOK, accrualResponse{
		StreamID:                    snapshot.ID,
		Status:                      snapshot.Status,
		Earned:                      res.Earned.StringFixed(stream.DefaultPrecision),
		Available:                   res.Available.StringFixed(stream.DefaultPrecision),
		DaysUntilEmployerWithdrawal: stream.DaysUntilEmployerWithdrawal(snapshot.LastActivityAt, now, s.opts.EligibilityDays, s.opts.Location),
		ComputedAt:                  now,
	})
}

func (s *Server) employeeOverview(c *gin.Context) {
	employeeID := c.Param("id")
	snapshots, err := s.store.ListStreamsByEmployee(c.Request.Context(), employeeID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, portfolio.BuildEmployeeOverview(employeeID, snapshots, s.opts.Now(), s.opts.EligibilityDays, s.opts.Location))
}

func (s *Server) organizationOverview(c *gin.Context) {
	ctx := c.Request.Context()
	orgID := c.Param("id")

	if s.opts.Cache != nil {
		var cached portfolio.OrganizationOverview
		if s.opts.Cache.Get(ctx, orgID, &cached) {
			c.Header("X-Cache", "hit")
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	now := s.opts.Now()
	snapshots, err := s.store.ListStreamsByOrganization(ctx, orgID)
	if err != nil {
		s.fail(c, err)
		return
	}
	events, err := s.store.ListEventsSince(ctx, orgID, now.Add(-portfolio.ClawbackWindow))
	if err != nil {
		s.fail(c, err)
		return
	}
	overview := portfolio.BuildOrganizationOverview(orgID, snapshots, events, now, s.opts.Classifier)
	if s.opts.Cache != nil {
		s.opts.Cache.Set(ctx, orgID, overview)
		c.Header("X-Cache", "miss")
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) listAlerts(c *gin.Context) {
	filter := storage.AlertFilter{OrganizationID: c.Param("id")}
	switch raw := strings.TrimSpace(c.Query("status")); raw {
	case "":
	case "all":
		filter.Statuses = []storage.AlertStatus{
			storage.AlertStatusOpen,
			storage.AlertStatusAcknowledged,
			storage.AlertStatusResolved,
			storage.AlertStatusDismissed,
		}
	default:
		status, err := storage.ParseAlertStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Statuses = []storage.AlertStatus{status}
	}

	alerts, err := s.store.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) transition(t storage.Transition) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := uuid.Parse(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "alert id must be a uuid"})
			return
		}

		var (
			rec storage.AlertRecord
			err error
		)
		ctx := c.Request.Context()
		switch t {
		case storage.TransitionAcknowledge:
			rec, err = s.store.Acknowledge(ctx, id)
		case storage.TransitionResolve:
			rec, err = s.store.Resolve(ctx, id)
		case storage.TransitionDismiss:
			rec, err = s.store.Dismiss(ctx, id)
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		s.logger.Info().Str("alert_id", id).Str("transition", string(t)).Msg("alert updated")
		c.JSON(http.StatusOK, gin.H{"ok": true, "alert": rec})
	}
}

func (s *Server) generateAlerts(c *gin.Context) {
	if s.opts.Generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "alert workflow not configured"})
		return
	}
	res, err := s.opts.Generator.TriggerAlerts(c.Request.Context())
	if errors.Is(err, service.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("alert workflow failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"alertsChecked": res.AlertsChecked,
		"alertsCreated": res.AlertsCreated,
		"duplicates":    res.Duplicates,
		"failed":        res.Failed,
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrStreamNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, storage.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
	}
}
