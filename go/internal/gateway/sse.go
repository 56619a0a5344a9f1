package gateway

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ServeStream attaches a Server-Sent Events surface to the event's room and
// blocks until the client goes away or the connection is dropped.
func (cm *ConnectionManager) ServeStream(w http.ResponseWriter, r *http.Request, eventID uuid.UUID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	conn := cm.NewConnection(TransportStream)
	cm.Join(conn, eventID)
	defer cm.Drop(conn)

	log.Info().
		Str("connection_id", conn.ID).
		Str("event_id", eventID.String()).
		Str("remote_addr", r.RemoteAddr).
		Msg("stream connection established")

	ticker := cm.clock.NewTicker(cm.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.done:
			return
		case message := <-conn.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", message); err != nil {
				log.Debug().Err(err).Str("connection_id", conn.ID).Msg("failed to write to stream")
				return
			}
			flusher.Flush()
		case <-ticker.Chan():
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
