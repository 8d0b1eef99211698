package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	DefaultTopic      = "lottery.engine.events"
	defaultBufferSize = 1024
	kindMetadataKey   = "kind"
)

type BusConfig struct {
	Logger     *slog.Logger
	Topic      string
	BufferSize int64
}

func (cfg *BusConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return nil
}

// Bus is a Sink backed by an in-process watermill pub/sub.
type Bus struct {
	log    *slog.Logger
	cfg    BusConfig
	pubsub *gochannel.GoChannel
}

func NewBus(cfg BusConfig) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: cfg.BufferSize},
		watermill.NewSlogLogger(cfg.Logger),
	)
	return &Bus{log: cfg.Logger, cfg: cfg, pubsub: pubsub}, nil
}

func (b *Bus) Publish(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]*message.Message, 0, len(evs))
	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
		}
		msg := message.NewMessage(ev.ID.String(), payload)
		msg.Metadata.Set(kindMetadataKey, string(ev.Kind))
		msgs = append(msgs, msg)
	}
	if err := b.pubsub.Publish(b.cfg.Topic, msgs...); err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}
	b.log.Debug("events: published", "count", len(msgs))
	return nil
}

// Subscribe returns a channel of raw messages. Every message must be acked
// or nacked; a nacked message is redelivered.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, b.cfg.Topic)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode parses an event from a bus message.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return ev, nil
}
