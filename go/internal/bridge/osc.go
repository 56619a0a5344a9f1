package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/mcdev12/showclock/go/internal/schedule"
	"github.com/mcdev12/showclock/go/internal/timer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCommandTimeout bounds one OSC command end to end.
const DefaultCommandTimeout = 5 * time.Second

const maxDatagramSize = 65535

// OSCRouter turns OSC packets into commands. It is fire-and-forget: nothing
// is ever sent back to the originator.
type OSCRouter struct {
	executor *Executor
	timeout  time.Duration

	received atomic.Int64
	rejected atomic.Int64
}

var _ osc.Dispatcher = (*OSCRouter)(nil)

// NewOSCRouter creates a router over executor.
func NewOSCRouter(executor *Executor, timeout time.Duration) *OSCRouter {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &OSCRouter{executor: executor, timeout: timeout}
}

// Dispatch handles one packet. Bundles are flattened and their messages run
// in order.
func (r *OSCRouter) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		r.handleMessage(p)
	case *osc.Bundle:
		for _, msg := range p.Messages {
			r.handleMessage(msg)
		}
		for _, b := range p.Bundles {
			r.Dispatch(b)
		}
	}
}

func (r *OSCRouter) handleMessage(msg *osc.Message) {
	r.received.Add(1)

	cmd, err := ParseMessage(msg.Address, msg.Arguments)
	if err != nil {
		r.rejected.Add(1)
		log.Info().Err(err).Str("address", msg.Address).Msg("dropping osc message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.executor.Execute(ctx, cmd); err != nil {
		r.rejected.Add(1)
		log.WithLevel(levelFor(err)).
			Err(err).
			Str("address", msg.Address).
			Str("command", fmt.Sprintf("%T", cmd)).
			Msg("osc command rejected")
		return
	}

	log.Debug().
		Str("address", msg.Address).
		Str("command", fmt.Sprintf("%T", cmd)).
		Msg("osc command applied")
}

// levelFor keeps routine operator mistakes out of the error log.
func levelFor(err error) zerolog.Level {
	switch {
	case errors.Is(err, timer.ErrStoreFailure):
		return zerolog.ErrorLevel
	case errors.Is(err, ErrNoEvent),
		errors.Is(err, ErrValidation),
		errors.Is(err, timer.ErrValidation),
		errors.Is(err, timer.ErrNotFound),
		errors.Is(err, timer.ErrInvalidState),
		errors.Is(err, schedule.ErrItemNotFound):
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

// ListenAndServe listens for OSC datagrams on addr until ctx is done.
func (r *OSCRouter) ListenAndServe(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for osc on %s: %w", addr, err)
	}
	return r.Serve(ctx, conn)
}

// Serve reads datagrams from conn and dispatches them one at a time, so
// commands apply in arrival order. conn is closed when ctx is done.
func (r *OSCRouter) Serve(ctx context.Context, conn net.PacketConn) error {
	log.Info().Str("addr", conn.LocalAddr().String()).Msg("osc bridge listening")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("osc bridge stopped")
				return nil
			}
			return fmt.Errorf("osc read: %w", err)
		}

		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			r.rejected.Add(1)
			log.Debug().Err(err).Str("from", from.String()).Msg("malformed osc packet")
			continue
		}
		r.Dispatch(packet)
	}
}

// Counts returns how many messages were received and how many of them were
// dropped or rejected.
func (r *OSCRouter) Counts() (received, rejected int64) {
	return r.received.Load(), r.rejected.Load()
}
