package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// defaultListLimit caps ListRuns when the filter gives no limit.
const defaultListLimit = 100

// Repository stores runs.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, f Filter) ([]Run, error)
}

const runColumns = `id, script, script_index, state, config, duration_est,
			checkpoints, error, started_at, completed_at, elapsed_ms`

// SQLiteRepository implements Repository on the script_runs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRun inserts run. A zero StartedAt is set to now.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	checkpoints, err := marshalCheckpoints(run.Checkpoints)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO script_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Script,
		run.Index,
		run.State,
		nullableString(run.Config),
		run.DurationEstimate,
		checkpoints,
		nullableStringPtr(run.Error),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(run.CompletedAt),
		nullableInt(run.ElapsedMS),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRunExists
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun writes the mutable fields of run.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *Run) error {
	checkpoints, err := marshalCheckpoints(run.Checkpoints)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE script_runs
		SET state = ?, duration_est = ?, checkpoints = ?, error = ?, completed_at = ?, elapsed_ms = ?
		WHERE id = ?`,
		run.State,
		run.DurationEstimate,
		checkpoints,
		nullableStringPtr(run.Error),
		nullableTime(run.CompletedAt),
		nullableInt(run.ElapsedMS),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns the run with id.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM script_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Script != "" {
		where = append(where, "script = ?")
		args = append(args, f.Script)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	query := `SELECT ` + runColumns + ` FROM script_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ─── Scanning ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*Run, error) {
	var (
		run                  Run
		config, checkpoints  sql.NullString
		errText, completedAt sql.NullString
		startedAt            string
		elapsed              sql.NullInt64
	)
	err := scanner.Scan(
		&run.ID,
		&run.Script,
		&run.Index,
		&run.State,
		&config,
		&run.DurationEstimate,
		&checkpoints,
		&errText,
		&startedAt,
		&completedAt,
		&elapsed,
	)
	if err != nil {
		return nil, err
	}

	run.Config = config.String
	if errText.Valid {
		run.Error = &errText.String
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, completedAt.String); parseErr == nil {
			run.CompletedAt = &t
		}
	}
	if elapsed.Valid {
		ms := int(elapsed.Int64)
		run.ElapsedMS = &ms
	}
	run.Checkpoints = []string{}
	if checkpoints.Valid && checkpoints.String != "" {
		if err := json.Unmarshal([]byte(checkpoints.String), &run.Checkpoints); err != nil {
			return nil, fmt.Errorf("unmarshalling checkpoints: %w", err)
		}
	}
	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func marshalCheckpoints(cps []string) (sql.NullString, error) {
	if len(cps) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(cps)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling checkpoints: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
