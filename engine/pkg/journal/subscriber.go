package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lottery/engine/pkg/events"
)

type Source interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

type Appender interface {
	Append(ctx context.Context, evs ...events.Event) error
}

type SubscriberConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Source Source
	Store  Appender
	// NackDelay is waited before a failed message is handed back for
	// redelivery.
	NackDelay time.Duration
}

func (cfg *SubscriberConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NackDelay <= 0 {
		cfg.NackDelay = time.Second
	}
	return nil
}

// Subscriber copies events from the bus into the store.
type Subscriber struct {
	log *slog.Logger
	cfg SubscriberConfig
}

func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Subscriber{log: cfg.Logger, cfg: cfg}, nil
}

// Run blocks until ctx is done or the source closes.
func (s *Subscriber) Run(ctx context.Context) error {
	msgs, err := s.cfg.Source.Subscribe(ctx)
	if err != nil {
		return err
	}
	s.log.Info("journal: subscriber started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *message.Message) {
	ev, err := events.Decode(msg)
	if err != nil {
		// Undecodable messages would fail forever.
		s.log.Error("journal: dropping message", "message_id", msg.UUID, "error", err)
		msg.Ack()
		return
	}
	if err := s.cfg.Store.Append(ctx, ev); err != nil {
		s.log.Error("journal: failed to store event", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		select {
		case <-ctx.Done():
		case <-s.cfg.Clock.After(s.cfg.NackDelay):
		}
		msg.Nack()
		return
	}
	msg.Ack()
}
