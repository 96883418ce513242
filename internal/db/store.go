package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edflow/backend/internal/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("db: not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          UUID PRIMARY KEY,
	status      TEXT NOT NULL,
	policy      TEXT NOT NULL,
	seed        BIGINT NOT NULL,
	config      JSONB NOT NULL DEFAULT '{}',
	summary     JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_events (
	run_id        UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	virtual_time  DOUBLE PRECISION NOT NULL,
	real_time     TIMESTAMPTZ NOT NULL,
	event_type    TEXT NOT NULL,
	patient_name  TEXT NOT NULL,
	resource_name TEXT,
	priority      TEXT,
	details       JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS run_events_type_idx ON run_events (run_id, event_type);
`

const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

type Run struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Policy     string          `json:"policy"`
	Seed       int64           `json:"seed"`
	Config     json.RawMessage `json:"config"`
	Summary    json.RawMessage `json:"summary"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateRun(ctx context.Context, id, policy string, seed int64, config []byte) error {
	if len(config) == 0 {
		config = []byte("{}")
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO runs (id, status, policy, seed, config, started_at) VALUES ($1, $2, $3, $4, $5, NOW())`,
		id, RunRunning, policy, seed, config)
	return err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CompleteRun stores the event log and marks the run finished in one
// transaction. On error nothing is written and the run keeps its status.
func (s *Store) CompleteRun(ctx context.Context, runID string, events []models.Event, summary []byte) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		copied, err := copyEvents(ctx, tx, runID, events)
		if err != nil {
			return fmt.Errorf("copy events: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, RunFinished, summary, runID)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		n = copied
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// copyEvents copies the log of a run; seq is the position in the log.
func copyEvents(ctx context.Context, c copier, runID string, events []models.Event) (int64, error) {
	rows := make([][]any, 0, len(events))
	for i, e := range events {
		details := e.Details
		if details == nil {
			details = map[string]any{}
		}
		raw, err := json.Marshal(details)
		if err != nil {
			return 0, fmt.Errorf("event %d details: %w", i, err)
		}
		var resource, priority *string
		if e.ResourceName != "" {
			name := e.ResourceName
			resource = &name
		}
		if e.Acuity != nil {
			label := e.Acuity.Label()
			priority = &label
		}
		rows = append(rows, []any{runID, i, e.Time, e.RealTime.UTC(), string(e.Type), e.PatientName, resource, priority, raw})
	}
	return c.CopyFrom(ctx, pgx.Identifier{"run_events"},
		[]string{"run_id", "seq", "virtual_time", "real_time", "event_type", "patient_name", "resource_name", "priority", "details"},
		pgx.CopyFromRows(rows))
}

const runColumns = `id::text, status, policy, seed, config, summary, started_at, finished_at`

func scanRun(row pgx.Row) (Run, error) {
	var (
		r       Run
		config  []byte
		summary []byte
	)
	if err := row.Scan(&r.ID, &r.Status, &r.Policy, &r.Seed, &config, &summary, &r.StartedAt, &r.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	r.Config = config
	r.Summary = summary
	return r, nil
}

func (s *Store) GetLatestRun(ctx context.Context) (Run, error) {
	return scanRun(s.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`))
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	return scanRun(s.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID))
}

// ListRunEvents returns the events of a run in log order, optionally
// restricted to one event type.
func (s *Store) ListRunEvents(ctx context.Context, runID string, eventType string, limit, offset int) ([]models.Event, error) {
	query := `SELECT virtual_time, real_time, event_type, patient_name, resource_name, priority, details FROM run_events`
	args := []any{runID}
	wheres := []string{"run_id = $1"}
	if eventType != "" {
		args = append(args, strings.ToUpper(eventType))
		wheres = append(wheres, fmt.Sprintf("event_type = $%d", len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ") + " ORDER BY seq ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Event{}
	for rows.Next() {
		var (
			e        models.Event
			typ      string
			resource *string
			priority *string
			details  []byte
		)
		if err := rows.Scan(&e.Time, &e.RealTime, &typ, &e.PatientName, &resource, &priority, &details); err != nil {
			return nil, err
		}
		e.Type = models.EventType(typ)
		e.ResourceName = derefString(resource)
		if priority != nil {
			a, err := models.ParseAcuity(*priority)
			if err != nil {
				return nil, err
			}
			e.Acuity = &a
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
