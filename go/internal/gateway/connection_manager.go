package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Transport is how a surface is attached to the fanout.
type Transport string

const (
	TransportSocket Transport = "socket"
	TransportStream Transport = "stream"
)

// SnapshotProvider returns the authoritative timer for catch-up on join.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, eventID uuid.UUID) (*models.TimerSnapshot, error)
}

// SnapshotFunc adapts a function to SnapshotProvider.
type SnapshotFunc func(ctx context.Context, eventID uuid.UUID) (*models.TimerSnapshot, error)

func (f SnapshotFunc) Snapshot(ctx context.Context, eventID uuid.UUID) (*models.TimerSnapshot, error) {
	return f(ctx, eventID)
}

// Config holds configuration for fanout connections
type Config struct {
	WriteTimeout    time.Duration              `yaml:"write_timeout"`
	ReadTimeout     time.Duration              `yaml:"read_timeout"`
	PingInterval    time.Duration              `yaml:"ping_interval"`
	CatchUpTimeout  time.Duration              `yaml:"catch_up_timeout"`
	MaxMessageSize  int64                      `yaml:"max_message_size"`
	ReadBufferSize  int                        `yaml:"read_buffer_size"`
	WriteBufferSize int                        `yaml:"write_buffer_size"`
	SendBufferSize  int                        `yaml:"send_buffer_size"`
	QueueSize       int                        `yaml:"queue_size"`
	CheckOrigin     func(r *http.Request) bool `yaml:"-"`
}

// DefaultConfig returns default fanout configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		CatchUpTimeout:  3 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		QueueSize:       4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Connection is one attached surface. Send is never closed; done signals
// the pumps to exit.
type Connection struct {
	ID          string
	Transport   Transport
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	eventID uuid.UUID

	// Last timer version written to send. Only the dispatcher touches these.
	sentEvent   uuid.UUID
	sentVersion int64
}

func (c *Connection) EventID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventID
}

func (c *Connection) setEventID(id uuid.UUID) {
	c.mu.Lock()
	c.eventID = id
	c.mu.Unlock()
}

// Done is closed once the connection has been dropped.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// trySend enqueues without blocking. False means the buffer is full or the
// connection is gone.
func (c *Connection) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

type outbound struct {
	eventID     uuid.UUID
	messageType models.MessageType
	payload     any
	timestamp   time.Time
	target      *Connection // only this connection when set
}

// ConnectionManager fans committed changes out to every surface of an event.
// A single dispatch goroutine drains one ordered queue, so per-event order is
// the order of Publish calls.
type ConnectionManager struct {
	rooms map[uuid.UUID]map[*Connection]struct{}
	mu    sync.RWMutex

	upgrader  websocket.Upgrader
	config    Config
	snapshots SnapshotProvider
	clock     clockwork.Clock

	queue chan outbound

	published atomic.Int64
	dropped   atomic.Int64
	pruned    atomic.Int64
	stale     atomic.Int64
}

// NewConnectionManager creates a new fanout. snapshots may be nil, which
// disables catch-up on join.
func NewConnectionManager(config Config, snapshots SnapshotProvider, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:    config,
		snapshots: snapshots,
		clock:     clock,
		queue:     make(chan outbound, config.QueueSize),
	}
}

// Start processes queued messages until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case msg := <-cm.queue:
			cm.dispatch(msg)
		}
	}
}

// Publish queues a message for every connection in the event's room. It
// never blocks; when the queue is full the message is dropped and surfaces
// recover through drift correction.
func (cm *ConnectionManager) Publish(eventID uuid.UUID, messageType models.MessageType, payload any) {
	cm.enqueue(outbound{
		eventID:     eventID,
		messageType: messageType,
		payload:     payload,
		timestamp:   cm.clock.Now(),
	})
}

func (cm *ConnectionManager) enqueue(msg outbound) {
	select {
	case cm.queue <- msg:
	default:
		cm.dropped.Add(1)
		log.Warn().
			Str("event_id", msg.eventID.String()).
			Str("type", string(msg.messageType)).
			Msg("broadcast queue full, dropping message")
	}
}

// NewConnection creates a detached connection. It must be joined to a room
// to receive messages.
func (cm *ConnectionManager) NewConnection(transport Transport) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		Transport:   transport,
		ConnectedAt: cm.clock.Now(),
		send:        make(chan []byte, cm.config.SendBufferSize),
		done:        make(chan struct{}),
	}
}

// Join moves conn into the event's room and queues a catch-up snapshot.
func (cm *ConnectionManager) Join(conn *Connection, eventID uuid.UUID) {
	cm.mu.Lock()
	if prev := conn.EventID(); prev != uuid.Nil && prev != eventID {
		cm.removeLocked(conn, prev)
	}
	if cm.rooms[eventID] == nil {
		cm.rooms[eventID] = make(map[*Connection]struct{})
	}
	cm.rooms[eventID][conn] = struct{}{}
	conn.setEventID(eventID)
	size := len(cm.rooms[eventID])
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("event_id", eventID.String()).
		Str("transport", string(conn.Transport)).
		Int("room_size", size).
		Msg("connection joined")

	cm.catchUp(conn, eventID)
}

// Leave detaches conn from its room. The connection stays open.
func (cm *ConnectionManager) Leave(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if eventID := conn.EventID(); eventID != uuid.Nil {
		cm.removeLocked(conn, eventID)
		conn.setEventID(uuid.Nil)
	}
}

// Drop detaches conn and signals its pumps to exit.
func (cm *ConnectionManager) Drop(conn *Connection) {
	cm.Leave(conn)
	conn.close()
}

func (cm *ConnectionManager) removeLocked(conn *Connection, eventID uuid.UUID) {
	members, ok := cm.rooms[eventID]
	if !ok {
		return
	}
	if _, ok := members[conn]; !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(cm.rooms, eventID)
	}
	log.Debug().
		Str("connection_id", conn.ID).
		Str("event_id", eventID.String()).
		Msg("connection left")
}

func (cm *ConnectionManager) catchUp(conn *Connection, eventID uuid.UUID) {
	if cm.snapshots == nil {
		return
	}
	timeout := cm.config.CatchUpTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snap, err := cm.snapshots.Snapshot(ctx, eventID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", eventID.String()).Msg("catch-up snapshot unavailable")
		return
	}
	cm.enqueue(outbound{
		eventID:     eventID,
		messageType: models.MessageTimerUpdated,
		payload:     snap,
		timestamp:   cm.clock.Now(),
		target:      conn,
	})
}

func (cm *ConnectionManager) dispatch(msg outbound) {
	var targets []*Connection
	if msg.target != nil {
		if msg.target.EventID() == msg.eventID {
			targets = []*Connection{msg.target}
		}
	} else {
		cm.mu.RLock()
		for conn := range cm.rooms[msg.eventID] {
			targets = append(targets, conn)
		}
		cm.mu.RUnlock()
	}
	if msg.messageType == models.MessageTimerUpdated {
		targets = cm.skipStale(targets, msg)
	}
	if len(targets) == 0 {
		return
	}

	data, err := encodeEnvelope(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.messageType)).Msg("failed to marshal broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.trySend(data) {
			cm.pruned.Add(1)
			log.Warn().
				Str("connection_id", conn.ID).
				Str("transport", string(conn.Transport)).
				Msg("connection send buffer full, dropping connection")
			cm.Drop(conn)
		}
	}
	cm.published.Add(1)

	log.Debug().
		Str("type", string(msg.messageType)).
		Str("event_id", msg.eventID.String()).
		Int("connections", len(targets)).
		Msg("message broadcast")
}

// skipStale drops targets that were already sent a newer timer for the
// event, so a catch-up read before a concurrent commit never rolls a
// surface back. A catch-up equal to what was sent is a duplicate.
func (cm *ConnectionManager) skipStale(targets []*Connection, msg outbound) []*Connection {
	version, ok := timerVersion(msg.payload)
	if !ok {
		return targets
	}
	kept := targets[:0]
	for _, conn := range targets {
		if conn.sentEvent == msg.eventID {
			if version < conn.sentVersion || (msg.target != nil && version == conn.sentVersion) {
				cm.stale.Add(1)
				log.Debug().
					Str("connection_id", conn.ID).
					Int64("version", version).
					Int64("sent_version", conn.sentVersion).
					Msg("skipping stale timer")
				continue
			}
		}
		conn.sentEvent = msg.eventID
		conn.sentVersion = version
		kept = append(kept, conn)
	}
	return kept
}

func timerVersion(payload any) (int64, bool) {
	switch p := payload.(type) {
	case models.TimerSnapshot:
		return p.Version, true
	case *models.TimerSnapshot:
		if p != nil {
			return p.Version, true
		}
	case models.ActiveTimer:
		return p.Version, true
	case json.RawMessage:
		var v struct {
			Version *int64 `json:"version"`
		}
		if json.Unmarshal(p, &v) == nil && v.Version != nil {
			return *v.Version, true
		}
	}
	return 0, false
}

func encodeEnvelope(msg outbound) ([]byte, error) {
	data, err := json.Marshal(msg.payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Envelope{
		Type:      msg.messageType,
		EventID:   msg.eventID,
		Data:      data,
		Timestamp: msg.timestamp,
	})
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	var all []*Connection
	for eventID, members := range cm.rooms {
		for conn := range members {
			all = append(all, conn)
		}
		delete(cm.rooms, eventID)
	}
	cm.mu.Unlock()

	for _, conn := range all {
		conn.setEventID(uuid.Nil)
		conn.close()
	}
}

// RoomStats counts the connections of one event by transport.
type RoomStats struct {
	Socket int `json:"socket"`
	Stream int `json:"stream"`
}

// Stats is a point-in-time view of the fanout.
type Stats struct {
	TotalConnections int                  `json:"total_connections"`
	ActiveEvents     int                  `json:"active_events"`
	Rooms            map[string]RoomStats `json:"rooms"`
	Published        int64                `json:"published"`
	Dropped          int64                `json:"dropped"`
	Pruned           int64                `json:"pruned"`
	Stale            int64                `json:"stale"`
}

// GetStats returns statistics about active connections
func (cm *ConnectionManager) GetStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		ActiveEvents: len(cm.rooms),
		Rooms:        make(map[string]RoomStats, len(cm.rooms)),
		Published:    cm.published.Load(),
		Dropped:      cm.dropped.Load(),
		Pruned:       cm.pruned.Load(),
		Stale:        cm.stale.Load(),
	}
	for eventID, members := range cm.rooms {
		var rs RoomStats
		for conn := range members {
			switch conn.Transport {
			case TransportSocket:
				rs.Socket++
			case TransportStream:
				rs.Stream++
			}
		}
		stats.TotalConnections += len(members)
		stats.Rooms[eventID.String()] = rs
	}
	return stats
}
