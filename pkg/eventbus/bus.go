package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Handler processes a single event.
type Handler func(ctx context.Context, event *Event) error

// conn is the subset of *nats.Conn the bus uses.
type conn interface {
	Publish(subject string, data []byte) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// Bus publishes and consumes events over NATS.
type Bus struct {
	conn   conn
	logger *zap.Logger
}

// Connect dials NATS at url. The connection reconnects forever.
func Connect(url, name string, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("eventbus")

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to nats", zap.String("url", nc.ConnectedUrl()))
	return newBus(nc, logger), nil
}

func newBus(c conn, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{conn: c, logger: logger.Named("eventbus")}
}

// Publish sends event on subject.
func (b *Bus) Publish(ctx context.Context, subject string, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.logger.Debug("event published", zap.String("subject", subject), zap.String("type", event.Type))
	return nil
}

// Subscribe delivers events on subject to handler until ctx is done. A
// non-empty queue load-balances delivery across subscribers sharing it.
func (b *Bus) Subscribe(ctx context.Context, subject, queue string, handler Handler) error {
	cb := func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := handler(ctx, &event); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("subject", msg.Subject),
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = b.conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = b.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()
	return nil
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	return b.conn.Drain()
}
