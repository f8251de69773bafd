package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FrameRecord is the journal row for one engine frame.
type FrameRecord struct {
	Frame      uint64
	Events     int
	Deliveries int
	Carried    int
	MemoryLive int64
	RecordedAt time.Time
}

// FrameRepo writes the frame journal of a single run.
type FrameRepo struct {
	db    *DB
	runID int64
}

func NewFrameRepo(db *DB, runID int64) *FrameRepo {
	return &FrameRepo{db: db, runID: runID}
}

func (r *FrameRepo) RunID() int64 { return r.runID }

// Append atomically writes a batch of frame records in a single transaction.
func (r *FrameRepo) Append(ctx context.Context, recs []FrameRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"frame_journal"},
		[]string{"run_id", "frame", "events", "deliveries", "carried", "memory_live", "recorded_at"},
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			rec := recs[i]
			return []any{
				r.runID, int64(rec.Frame), int32(rec.Events), int32(rec.Deliveries),
				int32(rec.Carried), rec.MemoryLive, rec.RecordedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("journal copy: %w", err)
	}
	if int(n) != len(recs) {
		return fmt.Errorf("journal copy: wrote %d of %d rows", n, len(recs))
	}

	return tx.Commit(ctx)
}

// Recent returns up to limit records of this run, newest first.
func (r *FrameRepo) Recent(ctx context.Context, limit int) ([]FrameRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT frame, events, deliveries, carried, memory_live, recorded_at
		 FROM frame_journal WHERE run_id = $1
		 ORDER BY frame DESC LIMIT $2`,
		r.runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var frame int64
		var events, deliveries, carried int32
		if err := rows.Scan(&frame, &events, &deliveries, &carried, &rec.MemoryLive, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		rec.Frame = uint64(frame)
		rec.Events, rec.Deliveries, rec.Carried = int(events), int(deliveries), int(carried)
		out = append(out, rec)
	}
	return out, rows.Err()
}
