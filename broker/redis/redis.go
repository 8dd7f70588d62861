// Package redis provides a Redis pub/sub implementation of broker.Broker
// for horizontally scaled deployments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/pushrpc/pushrpc/broker"
)

// Config contains configuration options for the Redis broker. Defaults can
// be loaded from the environment via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix is prepended to all Redis channels used by the broker.
	// ENV: BROKER_KEY_PREFIX
	KeyPrefix string `env:"BROKER_KEY_PREFIX,default=pushrpc:broker:"`

	// Client is an optional pre-built Redis client. When set, Addr is
	// ignored.
	Client redis.UniversalClient
}

// Broker is a Redis pub/sub-backed implementation of broker.Broker. Plain
// pub/sub (not streams) fits the contract: broadcast pushes are
// fire-and-forget and carry no resume cursor.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ broker.Broker = (*Broker)(nil)

// New creates a Redis-backed broker.
func New(cfg Config) *Broker {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pushrpc:broker:"
	}

	return &Broker{client: client, keyPrefix: prefix}
}

// NewFromEnv builds a Broker using envdecode to populate Config.
func NewFromEnv() *Broker {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (b *Broker) channelKey(channel string) string {
	return b.keyPrefix + channel
}

// Publish delivers data to every subscriber of channel across all nodes.
func (b *Broker) Publish(ctx context.Context, channel string, data []byte) error {
	if err := b.client.Publish(ctx, b.channelKey(channel), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe invokes handler for each message published to channel.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler broker.Handler) error {
	if handler == nil {
		return errors.New("redis broker: nil handler")
	}

	ps := b.client.Subscribe(ctx, b.channelKey(channel))
	// force the subscription to be established before returning
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = handler(ctx, []byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Close terminates all subscriptions and closes the Redis client.
func (b *Broker) Close() error {
	b.mu.Lock()
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	b.subs = nil
	b.mu.Unlock()
	return b.client.Close()
}
