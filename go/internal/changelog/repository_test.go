package changelog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/models"
)

func TestMergeEntriesNewestFirstWithoutDuplicates(t *testing.T) {
	eventID := uuid.New()
	base := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	mk := func(sec int) models.ChangeLogEntry {
		e := testEntry(eventID)
		e.ID = uuid.New()
		e.CreatedAt = base.Add(time.Duration(sec) * time.Second)
		return e
	}

	a, b, c, d := mk(1), mk(2), mk(3), mk(4)
	batchID := uuid.New()
	raw, err := json.Marshal([]models.ChangeLogEntry{b, d})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	batched, err := flattenBatch(batchID, raw)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	for _, e := range batched {
		if e.BatchID == nil || *e.BatchID != batchID {
			t.Fatalf("batch id not set on %s", e.ID)
		}
	}

	// b was also written as a single row by an earlier retried attempt.
	got := mergeEntries([]models.ChangeLogEntry{c, b, a}, batched, 10)
	want := []uuid.UUID{d.ID, c.ID, b.ID, a.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, got[i].ID, want[i])
		}
	}

	if limited := mergeEntries([]models.ChangeLogEntry{c, b, a}, batched, 2); len(limited) != 2 || limited[0].ID != d.ID {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

type fakeLister struct {
	eventID uuid.UUID
	limit   int
	entries []models.ChangeLogEntry
}

func (l *fakeLister) List(_ context.Context, eventID uuid.UUID, limit int) ([]models.ChangeLogEntry, error) {
	l.eventID = eventID
	l.limit = limit
	return l.entries, nil
}

func TestHandlerList(t *testing.T) {
	eventID := uuid.New()
	lister := &fakeLister{entries: []models.ChangeLogEntry{testEntry(eventID)}}
	mux := http.NewServeMux()
	NewHandler(lister).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/"+eventID.String()+"/changes?limit=5000", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if lister.eventID != eventID || lister.limit != maxListLimit {
		t.Fatalf("lister called with %s/%d", lister.eventID, lister.limit)
	}

	var body struct {
		Changes []models.ChangeLogEntry `json:"changes"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Changes) != 1 {
		t.Fatalf("changes = %+v", body.Changes)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/not-a-uuid/changes", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}
