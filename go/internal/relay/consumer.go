package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

var errOwnMessage = errors.New("message published by this instance")

// Consumer rebroadcasts messages published by other instances to the local
// sink. It reads with an ordered ephemeral consumer starting at new messages,
// so nothing is replayed after a restart; surfaces catch up on join instead.
type Consumer struct {
	sink   Sink
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	origin string

	relayed atomic.Int64
	skipped atomic.Int64
}

func NewJetStreamConsumer(cfg JetStreamConfig, origin string, sink Sink) (*Consumer, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{sink: sink, nc: nc, js: js, config: cfg, origin: origin}, nil
}

func newConsumer(origin string, sink Sink) *Consumer {
	return &Consumer{sink: sink, origin: origin}
}

// Start consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.js.OrderedConsumer(ctx, c.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{fmt.Sprintf("%s.>", c.config.SubjectPrefix)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", c.config.StreamName).
		Str("origin", c.origin).
		Msg("starting JetStream relay consumer")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay consumer shutting down")
			return nil
		case msg := <-messageCh:
			err := c.handle(msg.Headers(), msg.Data())
			switch {
			case errors.Is(err, errOwnMessage):
			case err != nil:
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to relay message")
			}
		}
	}
}

func (c *Consumer) handle(header nats.Header, data []byte) error {
	if header.Get(HeaderOrigin) == c.origin {
		c.skipped.Add(1)
		return errOwnMessage
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal relay message: %w", err)
	}
	if msg.Origin == c.origin {
		c.skipped.Add(1)
		return errOwnMessage
	}
	if err := msg.validate(); err != nil {
		return err
	}

	c.sink.Publish(msg.EventID, msg.Type, msg.Data)
	c.relayed.Add(1)

	log.Debug().
		Str("event_id", msg.EventID.String()).
		Str("type", string(msg.Type)).
		Str("origin", msg.Origin).
		Msg("relayed message from peer")
	return nil
}

// Counts returns relayed and skipped message totals.
func (c *Consumer) Counts() (relayed, skipped int64) {
	return c.relayed.Load(), c.skipped.Load()
}

func (c *Consumer) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}
