package node

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

const (
	redialMin = time.Second
	redialMax = 30 * time.Second
)

// EventHandler receives push events in arrival order.
type EventHandler func(types.PushEvent)

// Listener holds a connection to the daemon's push channel and hands
// events to a single handler. Dispatch is synchronous so per-key
// ordering survives all the way to the consumer.
type Listener struct {
	url     string
	handler EventHandler
	dialer  *websocket.Dialer
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewListener creates a push channel listener.
func NewListener(url string, handler EventHandler, metrics *monitoring.Metrics, logger *logging.Logger) *Listener {
	return &Listener{
		url:     url,
		handler: handler,
		dialer:  websocket.DefaultDialer,
		metrics: metrics,
		logger:  logger,
	}
}

// Run connects and consumes events until ctx is cancelled. Dropped
// connections are redialed with exponential backoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := redialMin
	for {
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("push channel dial failed",
				zap.String("url", l.url),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > redialMax {
				backoff = redialMax
			}
			l.metrics.IncPushReconnects()
			continue
		}

		backoff = redialMin
		l.logger.Info("push channel connected", zap.String("url", l.url))

		err = l.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("push channel dropped", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redialMin):
		}
		l.metrics.IncPushReconnects()
	}
}

// consume reads events until the connection fails or ctx ends.
func (l *Listener) consume(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var evt types.PushEvent
		if err := sonic.Unmarshal(payload, &evt); err != nil {
			l.logger.Warn("malformed push event", zap.Error(err))
			continue
		}

		switch evt.Kind {
		case types.KindProgress, types.KindComplete:
			l.metrics.RecordPushEvent(evt.Kind)
			l.handler(evt)
		default:
			l.logger.Debug("ignoring push event", zap.String("kind", evt.Kind))
		}
	}
}
