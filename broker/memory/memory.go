// Package memory provides an in-process implementation of broker.Broker.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/pushrpc/pushrpc/broker"
)

// Broker is an in-memory broker suitable for single-process deployments
// and tests. Messages are delivered to subscribers that exist at publish
// time; there is no replay.
type Broker struct {
	mu       sync.RWMutex
	closed   bool
	channels map[string]map[*subscription]struct{}
}

type subscription struct {
	ctx     context.Context
	handler broker.Handler
	msgs    chan []byte
	stop    chan struct{}
}

var _ broker.Broker = (*Broker)(nil)

// New creates an in-memory broker.
func New() *Broker {
	return &Broker{
		channels: make(map[string]map[*subscription]struct{}),
	}
}

// Publish delivers data to every live subscriber of channel.
func (b *Broker) Publish(ctx context.Context, channel string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("memory broker: closed")
	}
	// snapshot subscribers so delivery happens outside the lock
	subs := make([]*subscription, 0, len(b.channels[channel]))
	for sub := range b.channels[channel] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	payload := append([]byte(nil), data...)
	for _, sub := range subs {
		select {
		case sub.msgs <- payload:
		case <-sub.stop:
		case <-sub.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Subscribe registers handler for channel and starts its delivery loop.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler broker.Handler) error {
	if handler == nil {
		return errors.New("memory broker: nil handler")
	}

	sub := &subscription{
		ctx:     ctx,
		handler: handler,
		msgs:    make(chan []byte, 32),
		stop:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("memory broker: closed")
	}
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[*subscription]struct{})
	}
	b.channels[channel][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.channels[channel], sub)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.stop:
				return
			case data := <-sub.msgs:
				// handler errors are per-message; the subscription stays up
				_ = sub.handler(ctx, data)
			}
		}
	}()

	return nil
}

// Close terminates all subscriptions.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.channels {
		for sub := range subs {
			close(sub.stop)
		}
	}
	b.channels = make(map[string]map[*subscription]struct{})
	return nil
}
