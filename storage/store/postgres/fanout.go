package pgdb

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/storage/store"
)

const fanoutChannel = "chuo.store.changes"

// fanoutBridge relays collection-change notifications between instances over
// redis pub/sub. The payload is just the collection name; receivers re-query
// their own snapshots, so a duplicate or self-published message only costs a
// redundant (idempotent) snapshot delivery.
type fanoutBridge struct {
	client   *redis.Client
	sub      *redis.PubSub
	notifier *store.Notifier
	logger   core.Logger
	done     chan struct{}
}

func newFanoutBridge(conf core.RedisConfig, notifier *store.Notifier, logger core.Logger) *fanoutBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	return &fanoutBridge{
		client:   client,
		notifier: notifier,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (b *fanoutBridge) start() {
	b.sub = b.client.Subscribe(context.Background(), fanoutChannel)
	go func() {
		defer close(b.done)
		for msg := range b.sub.Channel() {
			b.notifier.Broadcast(b.logErr, msg.Payload)
		}
	}()
}

func (b *fanoutBridge) publish(collections ...string) {
	ctx := context.Background()
	for _, col := range collections {
		if err := b.client.Publish(ctx, fanoutChannel, col).Err(); err != nil {
			b.logErr(err)
		}
	}
}

func (b *fanoutBridge) stop() {
	if b.sub != nil {
		_ = b.sub.Close()
		<-b.done
	}
	_ = b.client.Close()
}

func (b *fanoutBridge) logErr(err error) {
	if b.logger != nil {
		b.logger.Error("store fanout", err)
	}
}
