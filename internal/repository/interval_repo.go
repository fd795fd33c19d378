package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"machine_monitor/internal/models"
)

// IntervalSQLite persists StateIntervals in machine_states.
// An open interval has end_ms NULL and duration_ms 0.
type IntervalSQLite struct {
	db *sql.DB
}

func NewIntervalSQLite(db *sql.DB) *IntervalSQLite { return &IntervalSQLite{db: db} }

var _ IntervalRepo = (*IntervalSQLite)(nil)

const intervalColumns = `id, machine_id, state, execution, controller, program, tool, metrics,
	alarm_code, alarm_message, start_ms, end_ms, duration_ms`

const (
	selectOpenByMachineSQL = `SELECT ` + intervalColumns + ` FROM machine_states WHERE machine_id = ? AND end_ms IS NULL ORDER BY start_ms ASC`
	selectOpenSQL          = `SELECT id, machine_id, start_ms FROM machine_states WHERE end_ms IS NULL`
	closeIntervalSQL       = `UPDATE machine_states SET end_ms = ?, duration_ms = ? WHERE id = ?`
	insertIntervalSQL      = `
		INSERT INTO machine_states (` + intervalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)
	`
)

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// closedDuration never goes negative, even if the clock stepped back.
func closedDuration(startMs, endMs int64) int64 {
	if endMs < startMs {
		return 0
	}
	return endMs - startMs
}

func scanInterval(s rowScanner) (models.StateInterval, error) {
	var (
		iv      models.StateInterval
		st      string
		metrics sql.NullString
		startMs int64
		endMs   sql.NullInt64
	)
	if err := s.Scan(&iv.ID, &iv.MachineID, &st, &iv.Execution, &iv.Controller, &iv.Program, &iv.Tool,
		&metrics, &iv.AlarmCode, &iv.AlarmMessage, &startMs, &endMs, &iv.DurationMs); err != nil {
		return models.StateInterval{}, err
	}
	iv.State = models.MachineState(st)
	iv.StartTime = fromMillis(startMs)
	if endMs.Valid {
		end := fromMillis(endMs.Int64)
		iv.EndTime = &end
	}
	if metrics.Valid && metrics.String != "" {
		// a malformed blob leaves zero metrics rather than hiding the row
		_ = json.Unmarshal([]byte(metrics.String), &iv.Metrics)
	}
	return iv, nil
}

// OpenIntervals returns every open interval of a machine. More than one means
// an earlier transition was interrupted; the next transition repairs it.
func (r *IntervalSQLite) OpenIntervals(ctx context.Context, machineID string) ([]models.StateInterval, error) {
	rows, err := r.db.QueryContext(ctx, selectOpenByMachineSQL, machineID)
	if err != nil {
		return nil, fmt.Errorf("select open intervals for %q: %w", machineID, err)
	}
	defer rows.Close()

	var out []models.StateInterval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// RecordTransition closes all open intervals of the machine at now and opens
// a new one for st, atomically.
func (r *IntervalSQLite) RecordTransition(ctx context.Context, machineID string, t *models.Telemetry, st models.MachineState, now time.Time) (models.StateInterval, error) {
	if t == nil {
		t = models.OfflineTelemetry(now)
	}
	metrics, err := json.Marshal(t.Metrics)
	if err != nil {
		return models.StateInterval{}, fmt.Errorf("encode metrics: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.StateInterval{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMs := toMillis(now)

	open, err := selectOpenIDs(ctx, tx, selectOpenSQL+` AND machine_id = ?`, machineID)
	if err != nil {
		return models.StateInterval{}, err
	}
	if err := closeIntervals(ctx, tx, open, nowMs); err != nil {
		return models.StateInterval{}, err
	}

	iv := models.StateInterval{
		ID:         uuid.NewString(),
		MachineID:  machineID,
		State:      st,
		Execution:  t.Execution,
		Controller: t.Controller,
		Program:    t.Program,
		Tool:       t.Tool,
		Metrics:    t.Metrics,
		AlarmCode:  t.Alarm,
		StartTime:  fromMillis(nowMs),
	}
	if _, err := tx.ExecContext(ctx, insertIntervalSQL,
		iv.ID, iv.MachineID, string(iv.State), iv.Execution, iv.Controller, iv.Program, iv.Tool,
		string(metrics), iv.AlarmCode, iv.AlarmMessage, nowMs,
	); err != nil {
		return models.StateInterval{}, fmt.Errorf("insert interval for %q: %w", machineID, err)
	}

	if err := tx.Commit(); err != nil {
		return models.StateInterval{}, fmt.Errorf("commit transition: %w", err)
	}
	return iv, nil
}

// CloseAll closes every open interval of every machine and returns the
// distinct machine ids that had one.
func (r *IntervalSQLite) CloseAll(ctx context.Context, now time.Time) ([]string, error) {
	return r.closeWhere(ctx, selectOpenSQL, now)
}

// CloseMachine closes the open intervals of one machine.
func (r *IntervalSQLite) CloseMachine(ctx context.Context, machineID string, now time.Time) (int, error) {
	ids, err := r.closeWhere(ctx, selectOpenSQL+` AND machine_id = ?`, now, machineID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *IntervalSQLite) closeWhere(ctx context.Context, query string, now time.Time, args ...any) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin close: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	open, err := selectOpenIDs(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := closeIntervals(ctx, tx, open, toMillis(now)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit close: %w", err)
	}

	seen := make(map[string]struct{}, len(open))
	machines := make([]string, 0, len(open))
	for _, o := range open {
		if _, ok := seen[o.machineID]; ok {
			continue
		}
		seen[o.machineID] = struct{}{}
		machines = append(machines, o.machineID)
	}
	return machines, nil
}

type openRow struct {
	id        string
	machineID string
	startMs   int64
}

func selectOpenIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]openRow, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select open intervals: %w", err)
	}
	defer rows.Close()

	var out []openRow
	for rows.Next() {
		var o openRow
		if err := rows.Scan(&o.id, &o.machineID, &o.startMs); err != nil {
			return nil, fmt.Errorf("scan open interval: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func closeIntervals(ctx context.Context, tx *sql.Tx, open []openRow, nowMs int64) error {
	for _, o := range open {
		if _, err := tx.ExecContext(ctx, closeIntervalSQL, nowMs, closedDuration(o.startMs, nowMs), o.id); err != nil {
			return fmt.Errorf("close interval %s: %w", o.id, err)
		}
	}
	return nil
}

// IntervalFilter narrows ListOverlapping. Zero fields do not filter.
type IntervalFilter struct {
	MachineID string
	State     models.MachineState
	From      time.Time
	To        time.Time
}

// ListOverlapping returns intervals intersecting [From, To), open ones
// included, ordered by start.
func (r *IntervalSQLite) ListOverlapping(ctx context.Context, f IntervalFilter) ([]models.StateInterval, error) {
	var (
		conds []string
		args  []any
	)
	if !f.To.IsZero() {
		conds = append(conds, "start_ms < ?")
		args = append(args, toMillis(f.To))
	}
	if !f.From.IsZero() {
		conds = append(conds, "(end_ms IS NULL OR end_ms > ?)")
		args = append(args, toMillis(f.From))
	}
	if f.MachineID != "" {
		conds = append(conds, "machine_id = ?")
		args = append(args, f.MachineID)
	}
	if f.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(f.State))
	}

	q := `SELECT ` + intervalColumns + ` FROM machine_states`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY start_ms ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select intervals: %w", err)
	}
	defer rows.Close()

	out := make([]models.StateInterval, 0, 64)
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
