package changelog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/models"
)

type fakeSink struct {
	mu        sync.Mutex
	singles   []models.ChangeLogEntry
	batches   map[uuid.UUID][]models.ChangeLogEntry
	failNext  int
	attempts  int
	batchCall int
}

func newFakeSink() *fakeSink {
	return &fakeSink{batches: make(map[uuid.UUID][]models.ChangeLogEntry)}
}

func (s *fakeSink) fail() error {
	s.attempts++
	if s.failNext > 0 {
		s.failNext--
		return errors.New("connection refused")
	}
	return nil
}

func (s *fakeSink) InsertEntries(_ context.Context, entries []models.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.singles = append(s.singles, entries...)
	return nil
}

func (s *fakeSink) InsertBatch(_ context.Context, batchID, _ uuid.UUID, entries []models.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.batchCall++
	s.batches[batchID] = append([]models.ChangeLogEntry(nil), entries...)
	return nil
}

func (s *fakeSink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.singles)
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testEntry(eventID uuid.UUID) models.ChangeLogEntry {
	return models.ChangeLogEntry{
		EventID:      eventID,
		ActorID:      "op-1",
		Action:       models.ChangeActionUpdate,
		SubjectTable: "active_timers",
		SubjectID:    eventID.String(),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	return cfg
}

func TestAppendStampsMonotonicPerEvent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC))
	sink := newFakeSink()
	rec := NewRecorder(sink, testConfig(), clock)
	eventID := uuid.New()

	for i := 0; i < 5; i++ {
		if err := rec.Append(context.Background(), testEntry(eventID)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var prev time.Time
	ids := make(map[uuid.UUID]bool)
	for i, e := range sink.singles {
		if i > 0 && !e.CreatedAt.After(prev) {
			t.Fatalf("entry %d created_at %v not after %v", i, e.CreatedAt, prev)
		}
		if e.ID == uuid.Nil || ids[e.ID] {
			t.Fatalf("entry %d has missing or duplicate id", i)
		}
		ids[e.ID] = true
		prev = e.CreatedAt
	}
}

func TestAppendRejectsInvalidEntries(t *testing.T) {
	rec := NewRecorder(newFakeSink(), testConfig(), clockwork.NewFakeClock())

	bad := testEntry(uuid.New())
	bad.Action = "RENAME"
	if err := rec.Append(context.Background(), bad); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("err = %v, want ErrInvalidEntry", err)
	}
	if err := rec.Append(context.Background(), testEntry(uuid.Nil)); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("err = %v, want ErrInvalidEntry", err)
	}
	if rec.Pending() != 0 {
		t.Fatalf("invalid entries were queued")
	}
}

func TestFlushBatchesAboveThreshold(t *testing.T) {
	sink := newFakeSink()
	cfg := testConfig()
	cfg.BatchThreshold = 3
	cfg.MaxBatchSize = 4
	rec := NewRecorder(sink, cfg, clockwork.NewFakeClock())

	busy, quiet := uuid.New(), uuid.New()
	for i := 0; i < 6; i++ {
		_ = rec.Append(context.Background(), testEntry(busy))
	}
	_ = rec.Append(context.Background(), testEntry(quiet))

	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if sink.batchCall != 2 {
		t.Fatalf("batch writes = %d, want 2", sink.batchCall)
	}
	if len(sink.singles) != 1 || sink.singles[0].EventID != quiet {
		t.Fatalf("singles = %+v", sink.singles)
	}
	if sink.written() != 7 {
		t.Fatalf("written = %d, want 7", sink.written())
	}
}

func TestFlushRetriesThenRequeues(t *testing.T) {
	sink := newFakeSink()
	cfg := testConfig()
	cfg.MaxRetries = 2
	rec := NewRecorder(sink, cfg, clockwork.NewFakeClock())
	eventID := uuid.New()

	first, second := testEntry(eventID), testEntry(eventID)
	first.Description = "first"
	second.Description = "second"
	_ = rec.Append(context.Background(), first)
	_ = rec.Append(context.Background(), second)

	sink.failNext = 3
	if err := rec.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if sink.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", sink.attempts)
	}
	if rec.Pending() != 2 {
		t.Fatalf("pending = %d, want 2 re-queued", rec.Pending())
	}

	third := testEntry(eventID)
	third.Description = "third"
	_ = rec.Append(context.Background(), third)

	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	got := []string{sink.singles[0].Description, sink.singles[1].Description, sink.singles[2].Description}
	if got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Fatalf("order after requeue = %v", got)
	}
}

func TestFlushSucceedsAfterTransientFailure(t *testing.T) {
	sink := newFakeSink()
	rec := NewRecorder(sink, testConfig(), clockwork.NewFakeClock())
	_ = rec.Append(context.Background(), testEntry(uuid.New()))

	sink.failNext = 1
	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if sink.written() != 1 || rec.Pending() != 0 {
		t.Fatalf("written = %d pending = %d", sink.written(), rec.Pending())
	}
}

func TestBatchIDIsDeterministic(t *testing.T) {
	eventID := uuid.New()
	entries := []models.ChangeLogEntry{testEntry(eventID), testEntry(eventID)}
	entries[0].ID, entries[1].ID = uuid.New(), uuid.New()

	if batchIDFor(entries) != batchIDFor(entries) {
		t.Fatal("batch id changed between attempts")
	}
	if batchIDFor(entries) == batchIDFor(entries[:1]) {
		t.Fatal("different batches share an id")
	}
}

func TestRecorderWorkerDrainsQueue(t *testing.T) {
	sink := newFakeSink()
	rec := NewRecorder(sink, testConfig(), clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	eventID := uuid.New()
	for i := 0; i < 3; i++ {
		_ = rec.Append(ctx, testEntry(eventID))
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.written() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if sink.written() != 3 {
		t.Fatalf("written = %d, want 3", sink.written())
	}
}
