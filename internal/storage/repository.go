package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"streamwatcher/internal/portfolio"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	selectStreamsSQL = `SELECT
        s.id::text,
        s.organization_id::text,
        COALESCE(s.employee_id::text, ''),
        COALESCE(e.full_name, ''),
        s.stream_address,
        COALESCE(s.vault_address, ''),
        COALESCE(s.mint_address, ''),
        s.hourly_rate::text,
        s.total_deposited::text,
        s.withdrawn_amount::text,
        GREATEST(s.total_deposited - s.withdrawn_amount, 0)::text,
        s.status::text,
        s.created_at,
        s.last_activity_at,
        s.deactivated_at
    FROM streams s
    LEFT JOIN employees e ON e.id = s.employee_id`

	listStreamsSQL               = selectStreamsSQL + ` ORDER BY s.created_at, s.id;`
	listStreamsByOrganizationSQL = selectStreamsSQL + ` WHERE s.organization_id::text = $1 ORDER BY s.created_at, s.id;`
	listStreamsByEmployeeSQL     = selectStreamsSQL + ` WHERE s.employee_id::text = $1 ORDER BY s.created_at, s.id;`
	getStreamSQL                 = selectStreamsSQL + ` WHERE s.id::text = $1;`

	findOpenAlertSQL = `SELECT id::text
    FROM alerts
    WHERE organization_id::text = $1
      AND stream_id::text = $2
      AND type = $3
      AND status = 'open'
    LIMIT 1;`

	insertAlertSQL = `INSERT INTO alerts (
        organization_id,
        stream_id,
        employee_id,
        type,
        severity,
        status,
        title,
        description,
        metadata,
        triggered_at
    ) VALUES (
        $1, $2, NULLIF($3, ''), $4, $5, 'open', $6, $7, $8, $9
    )
    RETURNING id::text;`

	selectAlertsSQL = `SELECT
        id::text,
        organization_id::text,
        COALESCE(stream_id::text, ''),
        COALESCE(employee_id::text, ''),
        type::text,
        severity::text,
        status::text,
        title,
        COALESCE(description, ''),
        metadata,
        triggered_at,
        acknowledged_at,
        resolved_at,
        created_at,
        updated_at
    FROM alerts`

	listAlertsSQL = selectAlertsSQL + `
    WHERE ($1 = '' OR organization_id::text = $1)
      AND status::text = ANY($2)
    ORDER BY triggered_at DESC, created_at DESC
    LIMIT $3;`

	getAlertForUpdateSQL = selectAlertsSQL + ` WHERE id::text = $1 FOR UPDATE;`

	updateAlertStatusSQL = `UPDATE alerts
    SET status = $2,
        acknowledged_at = $3,
        resolved_at = $4,
        updated_at = $5
    WHERE id::text = $1;`

	autoResolveAlertsSQL = `UPDATE alerts
    SET status = 'resolved',
        resolved_at = $4,
        updated_at = $4,
        metadata = metadata || jsonb_build_object('autoResolved', true)
    WHERE organization_id::text = $1
      AND stream_id::text = $2
      AND type::text = ANY($3)
      AND status IN ('open', 'acknowledged');`

	listEventsSinceSQL = `SELECT
        id::text,
        stream_id::text,
        event_type::text,
        COALESCE(amount::text, '0'),
        occurred_at
    FROM stream_events
    WHERE ($1 = '' OR organization_id::text = $1)
      AND occurred_at >= $2
    ORDER BY occurred_at;`

	alertKeyLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2 || ':' || $3));`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store reads stream snapshots and events and persists alerts in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "storage").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListStreams returns every stream snapshot.
func (s *Store) ListStreams(ctx context.Context) ([]stream.Snapshot, error) {
	return s.queryStreams(ctx, "list streams", listStreamsSQL)
}

// ListStreamsByOrganization returns the streams of one organization.
func (s *Store) ListStreamsByOrganization(ctx context.Context, organizationID string) ([]stream.Snapshot, error) {
	return s.queryStreams(ctx, "list organization streams", listStreamsByOrganizationSQL, organizationID)
}

// ListStreamsByEmployee returns the streams paying one employee.
func (s *Store) ListStreamsByEmployee(ctx context.Context, employeeID string) ([]stream.Snapshot, error) {
	return s.queryStreams(ctx, "list employee streams", listStreamsByEmployeeSQL, employeeID)
}

// GetStream returns a single stream snapshot.
func (s *Store) GetStream(ctx context.Context, streamID string) (stream.Snapshot, error) {
	snapshots, err := s.queryStreams(ctx, "get stream", getStreamSQL, streamID)
	if err != nil {
		return stream.Snapshot{}, err
	}
	if len(snapshots) == 0 {
		return stream.Snapshot{}, ErrStreamNotFound
	}
	return snapshots[0], nil
}

func (s *Store) queryStreams(ctx context.Context, op, query string, args ...any) ([]stream.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	snapshots := make([]stream.Snapshot, 0)
	for rows.Next() {
		snapshot, scanErr := s.scanStream(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// UpsertAlert inserts an open alert unless one is already open for the same organization,
// stream and type, in which case the existing id is reported as a duplicate. The lookup and the
// insert share a transaction holding a per-key advisory lock, so concurrent writers for the same
// key serialize.
func (s *Store) UpsertAlert(ctx context.Context, alert risk.Alert) (UpsertResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return UpsertResult{}, err
	}

	metadata, err := json.Marshal(nonNilMetadata(alert.Metadata))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("marshal alert metadata: %w", err)
	}

	var result UpsertResult
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, alertKeyLockSQL, alert.OrganizationID, alert.StreamID, string(alert.Type)); err != nil {
			return fmt.Errorf("lock alert key: %w", err)
		}

		var existing string
		err := tx.QueryRow(ctx, findOpenAlertSQL, alert.OrganizationID, alert.StreamID, string(alert.Type)).Scan(&existing)
		switch {
		case err == nil:
			result = UpsertResult{AlertID: existing, Duplicate: true, Alert: alert}
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("find open alert: %w", err)
		}

		var id string
		if err := tx.QueryRow(ctx, insertAlertSQL,
			alert.OrganizationID,
			alert.StreamID,
			alert.EmployeeID,
			string(alert.Type),
			string(alert.Severity),
			alert.Title,
			alert.Description,
			metadata,
			s.now(),
		).Scan(&id); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		result = UpsertResult{AlertID: id, Created: true, Alert: alert}
		return nil
	})
	if txErr != nil {
		return UpsertResult{}, txErr
	}
	return result, nil
}

// ListAlerts lists alerts newest first. Without a status filter open and acknowledged alerts are returned.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	statuses := make([]string, 0, len(filter.statuses()))
	for _, st := range filter.statuses() {
		statuses = append(statuses, string(st))
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL, filter.OrganizationID, statuses, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// Acknowledge marks an open alert as acknowledged.
func (s *Store) Acknowledge(ctx context.Context, alertID string) (AlertRecord, error) {
	return s.transition(ctx, alertID, TransitionAcknowledge)
}

// Resolve marks an open or acknowledged alert as resolved.
func (s *Store) Resolve(ctx context.Context, alertID string) (AlertRecord, error) {
	return s.transition(ctx, alertID, TransitionResolve)
}

// Dismiss marks an open alert as dismissed.
func (s *Store) Dismiss(ctx context.Context, alertID string) (AlertRecord, error) {
	return s.transition(ctx, alertID, TransitionDismiss)
}

func (s *Store) transition(ctx context.Context, alertID string, t Transition) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var rec AlertRecord
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		row, err := tx.Query(ctx, getAlertForUpdateSQL, alertID)
		if err != nil {
			return fmt.Errorf("load alert: %w", err)
		}
		found := row.Next()
		if found {
			rec, err = scanAlert(row)
		}
		row.Close()
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}

		if err := rec.apply(t, s.now()); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateAlertStatusSQL, rec.ID, string(rec.Status), rec.AcknowledgedAt, rec.ResolvedAt, rec.UpdatedAt); err != nil {
			return fmt.Errorf("update alert status: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return AlertRecord{}, txErr
	}
	return rec, nil
}

// AutoResolve resolves open and acknowledged alerts of the given types for a stream whose
// condition has cleared. It returns the number of alerts resolved.
func (s *Store) AutoResolve(ctx context.Context, organizationID, streamID string, types []risk.Type) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(types) == 0 {
		return 0, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	tag, err := pool.Exec(ctx, autoResolveAlertsSQL, organizationID, streamID, names, s.now())
	if err != nil {
		return 0, fmt.Errorf("auto resolve alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListEventsSince returns stream events at or after since. An empty organization id lists all.
func (s *Store) ListEventsSince(ctx context.Context, organizationID string, since time.Time) ([]portfolio.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsSinceSQL, organizationID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list events since: %w", queryErr)
	}
	defer rows.Close()

	events := make([]portfolio.Event, 0)
	for rows.Next() {
		var (
			ev        portfolio.Event
			eventType string
			amountStr string
		)
		if err := rows.Scan(&ev.ID, &ev.StreamID, &eventType, &amountStr, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Type = portfolio.EventType(eventType)
		ev.Amount = s.amount(ev.StreamID, "amount", amountStr)
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func (s *Store) scanStream(rows pgx.Rows) (stream.Snapshot, error) {
	var (
		snapshot     stream.Snapshot
		rateStr      string
		depositedStr string
		withdrawnStr string
		vaultStr     string
		statusStr    string
	)
	if err := rows.Scan(
		&snapshot.ID,
		&snapshot.OrganizationID,
		&snapshot.EmployeeID,
		&snapshot.EmployeeName,
		&snapshot.StreamAddress,
		&snapshot.VaultAddress,
		&snapshot.MintAddress,
		&rateStr,
		&depositedStr,
		&withdrawnStr,
		&vaultStr,
		&statusStr,
		&snapshot.CreatedAt,
		&snapshot.LastActivityAt,
		&snapshot.DeactivatedAt,
	); err != nil {
		return stream.Snapshot{}, err
	}

	snapshot.HourlyRate = s.amount(snapshot.ID, "hourly_rate", rateStr)
	snapshot.TotalDeposited = s.amount(snapshot.ID, "total_deposited", depositedStr)
	snapshot.WithdrawnAmount = s.amount(snapshot.ID, "withdrawn_amount", withdrawnStr)
	snapshot.VaultBalance = s.amount(snapshot.ID, "vault_balance", vaultStr)

	status, err := stream.ParseStatus(statusStr)
	if err != nil {
		s.logger.Warn().Str("stream_id", snapshot.ID).Str("status", statusStr).Msg("unknown stream status; treating as draft")
		status = stream.StatusDraft
	}
	snapshot.Status = status

	return snapshot, nil
}

// amount parses a numeric column, logging and zeroing malformed values.
func (s *Store) amount(id, column, raw string) decimal.Decimal {
	value, ok := stream.ParseAmount(raw)
	if !ok {
		s.logger.Warn().Str("id", id).Str("column", column).Str("raw", raw).Msg("malformed numeric column coerced to zero")
	}
	return value
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec      AlertRecord
		typ      string
		severity string
		status   string
		metadata []byte
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.OrganizationID,
		&rec.StreamID,
		&rec.EmployeeID,
		&typ,
		&severity,
		&status,
		&rec.Title,
		&rec.Description,
		&metadata,
		&rec.TriggeredAt,
		&rec.AcknowledgedAt,
		&rec.ResolvedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return AlertRecord{}, fmt.Errorf("scan alert: %w", err)
	}
	rec.Type = risk.Type(typ)
	rec.Severity = risk.Severity(severity)
	rec.Status = AlertStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return AlertRecord{}, fmt.Errorf("decode alert metadata: %w", err)
		}
	}
	return rec, nil
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
