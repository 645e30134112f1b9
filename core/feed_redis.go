package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFeed is a ChangeFeed shared by every process connected to the same Redis.
// Changes are published to "<prefix>:changes:<collection>" and fanned out
// locally once they come back from Redis, including to the publishing process.
type RedisFeed struct {
	client *redis.Client
	prefix string
	local  *LocalFeed
	logger *slog.Logger

	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisFeed connects to the Redis at url and verifies the connection.
func NewRedisFeed(url, prefix string, logger *slog.Logger) (*RedisFeed, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisFeedFromClient(client, prefix, logger), nil
}

func NewRedisFeedFromClient(client *redis.Client, prefix string, logger *slog.Logger) *RedisFeed {
	if prefix == "" {
		prefix = "roomchat"
	}
	return &RedisFeed{
		client: client,
		prefix: prefix,
		local:  NewLocalFeed(),
		logger: logger,
	}
}

func (f *RedisFeed) channel(collection string) string {
	return f.prefix + ":changes:" + collection
}

// Start subscribes to the change channels and relays them to local listeners
// until Close is called or ctx is done.
func (f *RedisFeed) Start(ctx context.Context) error {
	f.pubsub = f.client.PSubscribe(ctx, f.channel("*"))
	// wait for the subscription to be confirmed so no change is missed after Start returns
	if _, err := f.pubsub.Receive(ctx); err != nil {
		_ = f.pubsub.Close()
		return fmt.Errorf("redis: psubscribe: %w", err)
	}

	channelPrefix := f.channel("")
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for msg := range f.pubsub.Channel() {
			collection := strings.TrimPrefix(msg.Channel, channelPrefix)
			if err := f.local.Publish(ctx, collection); err != nil {
				f.logger.Error(fmt.Sprintf("relay change(%s): %v", collection, err))
			}
		}
		f.logger.Debug("redis feed relay stopped")
	}()
	return nil
}

func (f *RedisFeed) Publish(ctx context.Context, collection string) error {
	if err := f.client.Publish(ctx, f.channel(collection), collection).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

func (f *RedisFeed) Listen(collection string) (<-chan struct{}, func()) {
	return f.local.Listen(collection)
}

func (f *RedisFeed) Close() error {
	if f.pubsub != nil {
		if err := f.pubsub.Close(); err != nil {
			return err
		}
	}
	f.wg.Wait()
	return f.client.Close()
}
