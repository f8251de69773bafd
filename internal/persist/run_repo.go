package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type RunRow struct {
	ID          int64
	Name        string
	InputDigest string
	StartedAt   time.Time
	StoppedAt   *time.Time
	Frames      int64
}

// RunRepo records one row per engine process that journals frames.
type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Start registers a run and returns its id. digest identifies the input
// script, empty for an idle window.
func (r *RunRepo) Start(ctx context.Context, name, digest string) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO engine_runs (name, input_digest) VALUES ($1, $2) RETURNING id`,
		name, digest,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// Stop stamps the run with its end time and frame count.
func (r *RunRepo) Stop(ctx context.Context, id int64, frames uint64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE engine_runs SET stopped_at = now(), frames = $2 WHERE id = $1`,
		id, int64(frames),
	)
	if err != nil {
		return fmt.Errorf("stop run %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stop run %d: no such run", id)
	}
	return nil
}

// Load returns one run, or nil when it does not exist.
func (r *RunRepo) Load(ctx context.Context, id int64) (*RunRow, error) {
	row := &RunRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, input_digest, started_at, stopped_at, frames
		 FROM engine_runs WHERE id = $1`, id,
	).Scan(&row.ID, &row.Name, &row.InputDigest, &row.StartedAt, &row.StoppedAt, &row.Frames)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// List returns up to limit runs, newest first.
func (r *RunRepo) List(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, name, input_digest, started_at, stopped_at, frames
		 FROM engine_runs ORDER BY id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var row RunRow
		if err := rows.Scan(&row.ID, &row.Name, &row.InputDigest, &row.StartedAt, &row.StoppedAt, &row.Frames); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
