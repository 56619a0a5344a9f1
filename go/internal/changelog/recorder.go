package changelog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrInvalidEntry is returned by Append for entries that can never be written
var ErrInvalidEntry = errors.New("invalid change log entry")

// batchNamespace seeds deterministic batch ids so a retried batch collides
// with its earlier attempt instead of duplicating it.
var batchNamespace = uuid.MustParse("6c1f8a52-3f0e-4a55-9d1e-2b7c0e5f9a10")

// Sink is where the recorder writes. Writes must be idempotent per entry id.
type Sink interface {
	InsertEntries(ctx context.Context, entries []models.ChangeLogEntry) error
	InsertBatch(ctx context.Context, batchID, eventID uuid.UUID, entries []models.ChangeLogEntry) error
}

type Config struct {
	// BatchThreshold is the number of pending entries of one event above
	// which they are written as batch rows instead of single rows.
	BatchThreshold int           `yaml:"batch_threshold"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	// ShutdownTimeout bounds the final flush in Stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		BatchThreshold:  10,
		MaxBatchSize:    100,
		FlushInterval:   time.Second,
		MaxRetries:      3,
		RetryDelay:      500 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Recorder accepts entries without blocking and writes them in the
// background. Delivery is at-least-once.
type Recorder struct {
	sink   Sink
	config Config
	clock  clockwork.Clock

	mu        sync.Mutex
	pending   []models.ChangeLogEntry
	lastStamp map[uuid.UUID]time.Time

	flushMu  sync.Mutex
	wakeCh   chan struct{}
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewRecorder(sink Sink, cfg Config, clock clockwork.Clock) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Recorder{
		sink:      sink,
		config:    cfg,
		clock:     clock,
		lastStamp: make(map[uuid.UUID]time.Time),
		wakeCh:    make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
}

// Append stamps the entry and queues it. It returns before any I/O.
func (r *Recorder) Append(_ context.Context, entry models.ChangeLogEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	r.mu.Lock()
	// Postgres keeps microseconds; ties are pushed forward so created_at
	// never goes backwards within an event.
	now := r.clock.Now().UTC().Truncate(time.Microsecond)
	if last, ok := r.lastStamp[entry.EventID]; ok && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	r.lastStamp[entry.EventID] = now
	entry.CreatedAt = now
	r.pending = append(r.pending, entry)
	r.mu.Unlock()

	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of entries not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("change log recorder already running")
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	log.Info().
		Dur("flush_interval", r.config.FlushInterval).
		Int("batch_threshold", r.config.BatchThreshold).
		Msg("change log recorder started")
	return nil
}

// Stop halts the worker and makes a last attempt to write what is queued.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("change log recorder not running")
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	timeout := r.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		log.Error().Err(err).Int("pending", r.Pending()).Msg("change log entries left unwritten at shutdown")
		return err
	}

	log.Info().Msg("change log recorder stopped")
	return nil
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-r.wakeCh:
		case <-ticker.Chan():
		}
		if err := r.Flush(ctx); err != nil {
			log.Warn().Err(err).Int("pending", r.Pending()).Msg("change log flush incomplete, entries re-queued")
		}
	}
}

// Flush writes everything queued so far. Entries whose write still fails
// after the retries go back to the head of the queue.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	queued := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(queued) == 0 {
		return nil
	}

	var (
		failed []models.ChangeLogEntry
		errs   []error
	)
	for _, group := range groupByEvent(queued) {
		for _, w := range r.plan(group) {
			if err := r.writeWithRetry(ctx, w); err != nil {
				failed = append(failed, w.entries...)
				errs = append(errs, err)
			}
		}
	}

	if len(failed) > 0 {
		r.mu.Lock()
		r.pending = append(failed, r.pending...)
		r.mu.Unlock()
		return errors.Join(errs...)
	}

	log.Debug().Int("entries", len(queued)).Msg("change log flushed")
	return nil
}

// write is one unit of work: a set of single rows or one batch row.
type write struct {
	eventID uuid.UUID
	batchID uuid.UUID
	entries []models.ChangeLogEntry
}

func (w write) batched() bool { return w.batchID != uuid.Nil }

func (r *Recorder) plan(group []models.ChangeLogEntry) []write {
	eventID := group[0].EventID
	if r.config.BatchThreshold <= 0 || len(group) <= r.config.BatchThreshold {
		return []write{{eventID: eventID, entries: group}}
	}

	var writes []write
	for start := 0; start < len(group); start += r.config.MaxBatchSize {
		end := min(start+r.config.MaxBatchSize, len(group))
		chunk := group[start:end]
		writes = append(writes, write{eventID: eventID, batchID: batchIDFor(chunk), entries: chunk})
	}
	return writes
}

func (r *Recorder) writeWithRetry(ctx context.Context, w write) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 && r.config.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.config.RetryDelay * time.Duration(attempt)):
			}
		}

		var err error
		if w.batched() {
			err = r.sink.InsertBatch(ctx, w.batchID, w.eventID, w.entries)
		} else {
			err = r.sink.InsertEntries(ctx, w.entries)
		}
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("event_id", w.eventID.String()).
			Int("entries", len(w.entries)).
			Int("attempt", attempt+1).
			Msg("failed to write change log, retrying")
	}

	return fmt.Errorf("failed after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

// groupByEvent keeps the queue order inside each event and orders events by
// first appearance.
func groupByEvent(entries []models.ChangeLogEntry) [][]models.ChangeLogEntry {
	index := make(map[uuid.UUID]int)
	var groups [][]models.ChangeLogEntry
	for _, e := range entries {
		i, ok := index[e.EventID]
		if !ok {
			i = len(groups)
			index[e.EventID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

func batchIDFor(entries []models.ChangeLogEntry) uuid.UUID {
	seed := make([]byte, 0, len(entries)*16)
	for _, e := range entries {
		seed = append(seed, e.ID[:]...)
	}
	return uuid.NewSHA1(batchNamespace, seed)
}

func validateEntry(e models.ChangeLogEntry) error {
	switch {
	case e.EventID == uuid.Nil:
		return fmt.Errorf("event id is required: %w", ErrInvalidEntry)
	case !e.Action.Valid():
		return fmt.Errorf("unknown action %q: %w", e.Action, ErrInvalidEntry)
	case e.SubjectTable == "" || e.SubjectID == "":
		return fmt.Errorf("subject is required: %w", ErrInvalidEntry)
	case e.ActorID == "":
		return fmt.Errorf("actor is required: %w", ErrInvalidEntry)
	}
	return nil
}
