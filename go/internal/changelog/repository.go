package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/mcdev12/showclock/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// Repository is the change log sink. Rows are never updated or deleted.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// queries binds the insert statements to one transaction.
type queries struct {
	tx *sql.Tx
}

func (q *queries) insertEntry(ctx context.Context, e models.ChangeLogEntry) error {
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO change_log (
		  id, event_id, user_id, user_name, user_role, action, table_name,
		  record_id, field_name, old_value, new_value, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`,
		e.ID, e.EventID, e.ActorID, sqlutil.ToNullString(e.ActorName), sqlutil.ToNullString(e.ActorRole),
		string(e.Action), e.SubjectTable, e.SubjectID, sqlutil.ToNullString(e.FieldName),
		sqlutil.ToNullRawMessage(e.OldValue), sqlutil.ToNullRawMessage(e.NewValue),
		sqlutil.ToNullString(e.Description), e.CreatedAt,
	)
	return err
}

// InsertEntries writes single rows in one transaction. Entries already
// present are skipped.
func (r *Repository) InsertEntries(ctx context.Context, entries []models.ChangeLogEntry) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *queries { return &queries{tx: tx} }, func(q *queries) error {
		for _, e := range entries {
			if err := q.insertEntry(ctx, e); err != nil {
				return fmt.Errorf("entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert change log entries: %w", err)
	}
	return nil
}

// InsertBatch writes entries of one event as a single batch row holding the
// ordered JSON array.
func (r *Repository) InsertBatch(ctx context.Context, batchID, eventID uuid.UUID, entries []models.ChangeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	changes, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal change log batch: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO change_log_batches (id, event_id, changes, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`,
		batchID, eventID, pqtype.NullRawMessage{RawMessage: changes, Valid: true},
		entries[len(entries)-1].CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert change log batch: %w", err)
	}
	return nil
}

// List returns the newest entries of an event, batches flattened.
func (r *Repository) List(ctx context.Context, eventID uuid.UUID, limit int) ([]models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	singles, err := r.listSingles(ctx, eventID, limit)
	if err != nil {
		return nil, err
	}
	batches, err := r.listBatches(ctx, eventID, limit)
	if err != nil {
		return nil, err
	}
	return mergeEntries(singles, batches, limit), nil
}

func (r *Repository) listSingles(ctx context.Context, eventID uuid.UUID, limit int) ([]models.ChangeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, user_id, user_name, user_role, action, table_name,
		       record_id, field_name, old_value, new_value, description, created_at
		FROM change_log
		WHERE event_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	defer rows.Close()

	var entries []models.ChangeLogEntry
	for rows.Next() {
		var (
			e                              models.ChangeLogEntry
			action                         string
			name, role, field, description sql.NullString
			oldValue, newValue             pqtype.NullRawMessage
		)
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.ActorID, &name, &role, &action, &e.SubjectTable,
			&e.SubjectID, &field, &oldValue, &newValue, &description, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change log row: %w", err)
		}
		e.Action = models.ChangeAction(action)
		e.ActorName = sqlutil.FromNullString(name)
		e.ActorRole = sqlutil.FromNullString(role)
		e.FieldName = sqlutil.FromNullString(field)
		e.Description = sqlutil.FromNullString(description)
		e.OldValue = sqlutil.FromNullRawMessage(oldValue)
		e.NewValue = sqlutil.FromNullRawMessage(newValue)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	return entries, nil
}

func (r *Repository) listBatches(ctx context.Context, eventID uuid.UUID, limit int) ([]models.ChangeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, changes
		FROM change_log_batches
		WHERE event_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change log batches: %w", err)
	}
	defer rows.Close()

	var entries []models.ChangeLogEntry
	for rows.Next() {
		var (
			batchID uuid.UUID
			changes pqtype.NullRawMessage
		)
		if err := rows.Scan(&batchID, &changes); err != nil {
			return nil, fmt.Errorf("failed to scan change log batch: %w", err)
		}
		flat, err := flattenBatch(batchID, sqlutil.FromNullRawMessage(changes))
		if err != nil {
			return nil, err
		}
		entries = append(entries, flat...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list change log batches: %w", err)
	}
	return entries, nil
}

func flattenBatch(batchID uuid.UUID, changes json.RawMessage) ([]models.ChangeLogEntry, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	var entries []models.ChangeLogEntry
	if err := json.Unmarshal(changes, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode batch %s: %w", batchID, err)
	}
	for i := range entries {
		id := batchID
		entries[i].BatchID = &id
	}
	return entries, nil
}

// mergeEntries combines single rows and flattened batches newest first,
// dropping duplicate entry ids.
func mergeEntries(singles, batched []models.ChangeLogEntry, limit int) []models.ChangeLogEntry {
	seen := make(map[uuid.UUID]bool, len(singles)+len(batched))
	out := make([]models.ChangeLogEntry, 0, len(singles)+len(batched))
	for _, group := range [][]models.ChangeLogEntry{singles, batched} {
		for _, e := range group {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
