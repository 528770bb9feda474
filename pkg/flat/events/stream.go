package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/redis"
)

// DefaultStream is the Redis stream carrying domain events.
const DefaultStream = "flatx:events"

// Stream entry fields.
const (
	FieldKind = "kind"
	FieldData = "data"
)

// Appender is the stream write side of redis.Client.
type Appender interface {
	XAdd(ctx context.Context, stream string, values map[string]any) (string, error)
}

// Publisher appends events to a Redis stream.
type Publisher struct {
	client Appender
	stream string
}

// NewPublisher writes to stream, or DefaultStream when empty.
func NewPublisher(client Appender, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream}
}

// Publish appends ev and returns the entry id.
func (p *Publisher) Publish(ctx context.Context, ev DomainEvent) (string, error) {
	data, err := Encode(ev)
	if err != nil {
		return "", err
	}
	return p.client.XAdd(ctx, p.stream, map[string]any{
		FieldKind: string(ev.Kind()),
		FieldData: string(data),
	})
}

// StreamHandler decodes stream entries and hands them to h. Entries that
// cannot be decoded are logged and acknowledged; handler failures leave the
// entry pending.
func StreamHandler(h Handler, logger *zap.Logger) redis.MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, msg redis.Message) error {
		kind := Kind(msg.GetString(FieldKind))
		ev, err := Decode(kind, msg.GetData())
		if errors.Is(err, ErrUnknownKind) {
			logger.Warn("skipping unknown event kind", zap.String("id", msg.ID), zap.String("kind", string(kind)))
			return nil
		}
		if err != nil {
			logger.Error("skipping undecodable event", zap.String("id", msg.ID), zap.Error(err))
			return nil
		}
		if err := h.Handle(ctx, ev); err != nil {
			return fmt.Errorf("handle %s %s: %w", kind, msg.ID, err)
		}
		return nil
	}
}
