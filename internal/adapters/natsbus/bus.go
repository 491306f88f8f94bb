package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

const (
	subscribeBuffer  = 512
	maxReconnectWait = 10 * time.Second
	flushTimeout     = 2 * time.Second
)

// Bus is the NATS-backed ports.Bus. The initial connect fails fast so
// callers own their startup retry policy; once connected, reconnection
// is handled by the client with unbounded attempts. Publishes while
// disconnected fail immediately instead of buffering.
type Bus struct {
	logger *slog.Logger
	conn   *nats.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

var _ ports.Bus = (*Bus)(nil)

func Connect(url string, logger *slog.Logger) (*Bus, error) {
	b := &Bus{
		logger: logger,
		closed: make(chan struct{}),
	}

	conn, err := nats.Connect(url,
		nats.Name("netpulse"),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(reconnectDelay),
		nats.ReconnectBufSize(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info("bus reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			b.logger.Error("bus async error", "subject", subject, "error", err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.logger.Info("bus connection closed")
			b.closeOnce.Do(func() { close(b.closed) })
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", domain.ErrBusUnavailable, url, err)
	}

	b.conn = conn
	b.logger.Info("bus connected", "url", conn.ConnectedUrl())
	return b, nil
}

// reconnectDelay doubles the wait per attempt, capped at maxReconnectWait.
func reconnectDelay(attempts int) time.Duration {
	wait := 500 * time.Millisecond
	for i := 0; i < attempts && wait < maxReconnectWait; i++ {
		wait *= 2
	}
	if wait > maxReconnectWait {
		wait = maxReconnectWait
	}
	return wait
}

// Publish hands the payload to the transport. While the connection is
// down the error wraps domain.ErrBusUnavailable rather than queueing the
// message.
func (b *Bus) Publish(subject string, payload []byte) error {
	if err := b.conn.Publish(subject, payload); err != nil {
		if isUnavailable(err) {
			return fmt.Errorf("%w: %v", domain.ErrBusUnavailable, err)
		}
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe starts delivering messages matching pattern on the returned
// channel. The channel closes when ctx is cancelled or the connection
// closes for good; it never reopens.
func (b *Bus) Subscribe(ctx context.Context, pattern string, opts ports.SubscribeOptions) (<-chan ports.Message, error) {
	inbox := make(chan *nats.Msg, subscribeBuffer)

	var (
		sub *nats.Subscription
		err error
	)
	if opts.QueueGroup != "" {
		sub, err = b.conn.ChanQueueSubscribe(pattern, opts.QueueGroup, inbox)
	} else {
		sub, err = b.conn.ChanSubscribe(pattern, inbox)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrBusUnavailable, pattern, err)
	}

	out := make(chan ports.Message, subscribeBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				b.logger.Warn("unsubscribe failed", "pattern", pattern, "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			case msg, ok := <-inbox:
				if !ok {
					return
				}
				select {
				case out <- ports.Message{Subject: msg.Subject, Data: msg.Data}:
				case <-ctx.Done():
					return
				case <-b.closed:
					return
				}
			}
		}
	}()

	return out, nil
}

// Connected reports whether the connection is currently up.
func (b *Bus) Connected() bool {
	return b.conn.IsConnected()
}

// Close flushes pending publishes and tears the connection down, ending
// every subscription channel.
func (b *Bus) Close() error {
	if err := b.conn.FlushTimeout(flushTimeout); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.logger.Warn("flush before close failed", "error", err)
	}
	b.conn.Close()
	return nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrReconnectBufExceeded) ||
		errors.Is(err, nats.ErrInvalidConnection)
}
