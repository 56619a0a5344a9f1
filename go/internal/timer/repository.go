package timer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

var _ EventLocker = (*Repository)(nil)

// querier is the part of pgxpool.Pool and pgxpool.Conn the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type lockedConnKey struct{}

// Repository is the timer store. One active_timers row per event, one
// sub_cue_timers row per (event, item).
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

// db returns the connection holding the event lock when ctx carries one.
func (r *Repository) db(ctx context.Context) querier {
	if conn, ok := ctx.Value(lockedConnKey{}).(*pgxpool.Conn); ok {
		return conn
	}
	return r.pool
}

const timerColumns = `event_id, item_id, state, duration_seconds, started_at,
	accumulated_seconds, version, last_modified_by, last_modified_at`

func (r *Repository) GetTimer(ctx context.Context, eventID uuid.UUID) (*models.ActiveTimer, error) {
	row := r.db(ctx).QueryRow(ctx,
		`SELECT `+timerColumns+` FROM active_timers WHERE event_id = $1`,
		eventID,
	)

	var (
		t     models.ActiveTimer
		state string
	)
	err := row.Scan(
		&t.EventID, &t.ItemID, &state, &t.DurationSeconds, &t.StartedAt,
		&t.AccumulatedSeconds, &t.Version, &t.LastModifiedBy, &t.LastModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimerNotFound
		}
		return nil, fmt.Errorf("failed to get timer: %w", err)
	}
	t.State = models.TimerState(state)
	return &t, nil
}

// UpsertTimer writes t only over the version it was computed from
// (t.Version-1). Anything else is ErrVersionConflict.
func (r *Repository) UpsertTimer(ctx context.Context, t models.ActiveTimer) error {
	tag, err := r.db(ctx).Exec(ctx, `
		INSERT INTO active_timers (`+timerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO UPDATE SET
		  item_id             = EXCLUDED.item_id,
		  state               = EXCLUDED.state,
		  duration_seconds    = EXCLUDED.duration_seconds,
		  started_at          = EXCLUDED.started_at,
		  accumulated_seconds = EXCLUDED.accumulated_seconds,
		  version             = EXCLUDED.version,
		  last_modified_by    = EXCLUDED.last_modified_by,
		  last_modified_at    = EXCLUDED.last_modified_at
		WHERE active_timers.version = EXCLUDED.version - 1
	`,
		t.EventID, t.ItemID, string(t.State), t.DurationSeconds, t.StartedAt,
		t.AccumulatedSeconds, t.Version, t.LastModifiedBy, t.LastModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s at version %d: %w", t.EventID, t.Version-1, ErrVersionConflict)
	}
	return nil
}

// LockEvent takes a session advisory lock for the event on a dedicated
// connection. The returned context routes this repository's queries through
// that connection. Other instances block in LockEvent until release runs;
// the lock also goes away if the connection dies.
func (r *Repository) LockEvent(ctx context.Context, eventID uuid.UUID) (context.Context, func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}
	key := advisoryKey(eventID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("failed to lock event %s: %w", eventID, err)
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			log.Warn().Err(err).Str("event_id", eventID.String()).Msg("failed to unlock event, closing connection")
			conn.Conn().Close(ctx)
		}
		conn.Release()
	}
	return context.WithValue(ctx, lockedConnKey{}, conn), release, nil
}

// advisoryKey folds the event id into the bigint advisory lock space.
func advisoryKey(eventID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(eventID[:8]) ^ binary.BigEndian.Uint64(eventID[8:]))
}

const subTimerColumns = `event_id, item_id, duration_seconds, is_running, is_active,
	started_at, last_modified_by, updated_at`

func (r *Repository) GetSubTimer(ctx context.Context, eventID uuid.UUID, itemID int64) (*models.SubCueTimer, error) {
	row := r.db(ctx).QueryRow(ctx,
		`SELECT `+subTimerColumns+` FROM sub_cue_timers WHERE event_id = $1 AND item_id = $2`,
		eventID, itemID,
	)
	sub, err := scanSubTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimerNotFound
		}
		return nil, fmt.Errorf("failed to get sub-timer: %w", err)
	}
	return sub, nil
}

func (r *Repository) UpsertSubTimer(ctx context.Context, s models.SubCueTimer) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO sub_cue_timers (`+subTimerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id, item_id) DO UPDATE SET
		  duration_seconds = EXCLUDED.duration_seconds,
		  is_running       = EXCLUDED.is_running,
		  is_active        = EXCLUDED.is_active,
		  started_at       = EXCLUDED.started_at,
		  last_modified_by = EXCLUDED.last_modified_by,
		  updated_at       = EXCLUDED.updated_at
	`,
		s.EventID, s.ItemID, s.DurationSeconds, s.IsRunning, s.IsActive,
		s.StartedAt, s.LastModifiedBy, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sub-timer: %w", err)
	}
	return nil
}

func (r *Repository) ListSubTimers(ctx context.Context, eventID uuid.UUID) ([]models.SubCueTimer, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+subTimerColumns+` FROM sub_cue_timers WHERE event_id = $1 ORDER BY item_id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-timers: %w", err)
	}
	defer rows.Close()

	var subs []models.SubCueTimer
	for rows.Next() {
		sub, err := scanSubTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-timer: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sub-timers: %w", err)
	}
	return subs, nil
}

func scanSubTimer(row pgx.Row) (*models.SubCueTimer, error) {
	var s models.SubCueTimer
	err := row.Scan(
		&s.EventID, &s.ItemID, &s.DurationSeconds, &s.IsRunning, &s.IsActive,
		&s.StartedAt, &s.LastModifiedBy, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
