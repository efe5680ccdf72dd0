// Package mirror keeps the latest display snapshot of every book in
// Redis, keyed orderbook:<venue>:<symbol>, so sidecar consumers can
// read top-of-book state without speaking the WebSocket protocol.
// It is an ordinary bus subscriber: if it lags, the dropped updates are
// skipped and later updates from the stream overwrite the keys; no
// bootstrap is replayed, and ingress is never slowed.
package mirror

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spooky-finn/go-orderbook-aggregator/bus"
	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/helpers"
)

type Mirror struct {
	rdb *redis.Client
	bus *bus.Bus[domain.Message]
	log *zap.Logger
}

func New(addr string, b *bus.Bus[domain.Message], log *zap.Logger) *Mirror {
	return &Mirror{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		bus: b,
		log: log,
	}
}

// Run mirrors book updates until ctx is done. Redis write failures are
// logged and skipped; market data flow never depends on the mirror.
func (m *Mirror) Run(ctx context.Context) {
	sub := m.bus.Subscribe()
	defer sub.Close()
	defer m.rdb.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.C:
			sub.TakeLag()
			update, ok := msg.Data.(*domain.BookUpdate)
			if !ok || msg.Type != domain.MessageTypeBookUpdate {
				continue
			}
			key := "orderbook:" + update.Exchange + ":" + update.Symbol
			if err := m.rdb.Set(ctx, key, helpers.ToJsonString(update), 0).Err(); err != nil {
				m.log.Debug("mirror write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
