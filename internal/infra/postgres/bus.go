package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"
	"trivia-sync-service/internal/infra/memory"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the NOTIFY channel change events travel on.
const DefaultChannel = "quiz_changes"

const relistenDelay = time.Second

// Bus carries change events over Postgres LISTEN/NOTIFY. One pooled connection per
// instance listens on the channel and feeds a local memory.Bus that fans events out
// per session topic. NOTIFY payloads are capped at 8000 bytes, well above a row event.
type Bus struct {
	pool    *pgxpool.Pool
	channel string
	log     logrus.FieldLogger

	local  *memory.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

var _ app.Bus = (*Bus)(nil)

// NewBus starts listening and returns once the first LISTEN succeeded.
func NewBus(ctx context.Context, pool *pgxpool.Pool, channel string, log logrus.FieldLogger) (*Bus, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	b := &Bus{
		pool:    pool,
		channel: channel,
		log:     log,
		local:   memory.NewBus(),
		done:    make(chan struct{}),
	}
	conn, err := b.listen(ctx)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.receive(listenCtx, conn)
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload)); err != nil {
		return fmt.Errorf("%w: notify: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler func(domain.ChangeEvent)) (app.Subscription, error) {
	return b.local.Subscribe(ctx, topic, handler)
}

// Close stops listening and releases the connection.
func (b *Bus) Close() error {
	b.cancel()
	<-b.done
	return nil
}

func (b *Bus) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire listen connection: %v", domain.ErrStoreUnavailable, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: listen %s: %v", domain.ErrStoreUnavailable, b.channel, err)
	}
	return conn, nil
}

func (b *Bus) receive(ctx context.Context, conn *pgxpool.Conn) {
	defer close(b.done)
	defer func() {
		if conn != nil {
			b.release(conn)
		}
	}()

	for {
		if conn == nil {
			var err error
			if conn, err = b.listen(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.WithError(err).Warn("relisten failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(relistenDelay):
				}
				continue
			}
			b.log.WithField("channel", b.channel).Info("listening again")
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			// events notified until the next LISTEN are lost; caches catch up on refresh
			b.log.WithError(err).Warn("listen connection lost")
			b.release(conn)
			conn = nil
			continue
		}

		ev, err := domain.DecodeChangeEvent([]byte(n.Payload))
		if err != nil {
			b.log.WithError(err).WithField("channel", n.Channel).Warn("dropping malformed change event")
			continue
		}
		_ = b.local.Publish(ctx, ev)
	}
}

// release drops the LISTEN before handing the connection back to the pool.
func (b *Bus) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// a broken connection must not go back to the pool
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}
