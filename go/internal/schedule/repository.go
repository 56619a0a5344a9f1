package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/models"
)

var (
	// ErrItemNotFound is returned when the event or the item does not exist
	ErrItemNotFound = errors.New("schedule item not found")
	// ErrUnsupportedPayload is returned by LoadPayload for message types the
	// schedule store does not own
	ErrUnsupportedPayload = errors.New("unsupported payload type")
)

// Repository reads schedule items out of run_of_show_data. It never writes.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// GetItem returns a single item by id.
func (r *Repository) GetItem(ctx context.Context, eventID uuid.UUID, itemID int64) (*models.ScheduleItem, error) {
	items, err := r.loadItems(ctx, eventID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("item %d in event %s: %w", itemID, eventID, ErrItemNotFound)
}

// FindItemByCue resolves a cue label (e.g. "1", "1.1", "1A") within one day.
func (r *Repository) FindItemByCue(ctx context.Context, eventID uuid.UUID, day int, cue string) (*models.ScheduleItem, error) {
	items, err := r.loadItems(ctx, eventID)
	if err != nil {
		return nil, err
	}
	item, ok := findByCue(items, day, cue)
	if !ok {
		return nil, fmt.Errorf("cue %q on day %d in event %s: %w", cue, day, eventID, ErrItemNotFound)
	}
	return item, nil
}

// ListItems returns the items of one schedule day in schedule order.
func (r *Repository) ListItems(ctx context.Context, eventID uuid.UUID, day int) ([]models.ScheduleItem, error) {
	items, err := r.loadItems(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return filterDay(items, day), nil
}

// LoadPayload returns the broadcast payload for a schedule change
// notification: every item of the event, all days.
func (r *Repository) LoadPayload(ctx context.Context, eventID uuid.UUID, messageType models.MessageType) (any, error) {
	if messageType != models.MessageRunOfShowDataUpdated {
		return nil, fmt.Errorf("%s: %w", messageType, ErrUnsupportedPayload)
	}
	items, err := r.loadItems(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"eventId": eventID, "items": items}, nil
}

func (r *Repository) loadItems(ctx context.Context, eventID uuid.UUID) ([]models.ScheduleItem, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT schedule_items FROM run_of_show_data WHERE event_id = $1`,
		eventID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", eventID, ErrItemNotFound)
		}
		return nil, fmt.Errorf("failed to load schedule items: %w", err)
	}

	items, err := parseScheduleItems(eventID, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule items: %w", err)
	}
	return items, nil
}

// rawItem mirrors the JSON written by the schedule editor. Ids are sometimes
// numbers and sometimes strings.
type rawItem struct {
	ID              json.RawMessage `json:"id"`
	SegmentName     string          `json:"segmentName"`
	DurationHours   int             `json:"durationHours"`
	DurationMinutes int             `json:"durationMinutes"`
	DurationSeconds int             `json:"durationSeconds"`
	IsIndented      bool            `json:"isIndented"`
	Day             int             `json:"day"`
	CustomFields    map[string]any  `json:"customFields"`
}

func parseScheduleItems(eventID uuid.UUID, raw []byte) ([]models.ScheduleItem, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	// Some rows hold the array JSON-encoded a second time as a string.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = []byte(inner)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var rows []rawItem
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	items := make([]models.ScheduleItem, 0, len(rows))
	for _, row := range rows {
		id, err := strconv.ParseInt(strings.Trim(string(row.ID), `" `), 10, 64)
		if err != nil {
			// Rows without a numeric id cannot be addressed by the timer
			continue
		}
		day := row.Day
		if day <= 0 {
			day = 1
		}
		items = append(items, models.ScheduleItem{
			ID:              id,
			EventID:         eventID,
			Cue:             cueLabel(row.CustomFields),
			Segment:         row.SegmentName,
			DurationHours:   row.DurationHours,
			DurationMinutes: row.DurationMinutes,
			DurationSeconds: row.DurationSeconds,
			Indented:        row.IsIndented,
			Day:             day,
		})
	}
	return items, nil
}

func cueLabel(fields map[string]any) string {
	if fields == nil {
		return ""
	}
	switch v := fields["cue"].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func filterDay(items []models.ScheduleItem, day int) []models.ScheduleItem {
	if day <= 0 {
		return items
	}
	out := make([]models.ScheduleItem, 0, len(items))
	for _, item := range items {
		if item.Day == day {
			out = append(out, item)
		}
	}
	return out
}

func findByCue(items []models.ScheduleItem, day int, cue string) (*models.ScheduleItem, bool) {
	want := normalizeCue(cue)
	for _, item := range filterDay(items, day) {
		if normalizeCue(item.Cue) == want {
			found := item
			return &found, true
		}
	}
	return nil, false
}

// normalizeCue makes "CUE 1.1", "cue1.1" and "1.1" compare equal.
func normalizeCue(cue string) string {
	c := strings.ToUpper(strings.TrimSpace(cue))
	c = strings.TrimPrefix(c, "CUE")
	return strings.TrimSpace(c)
}
