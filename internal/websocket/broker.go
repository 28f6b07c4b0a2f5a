package websocket

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker carries room messages between hub instances.
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
	// Subscribe registers deliver for every published message until ctx is
	// done. It returns once the subscription is active.
	Subscribe(ctx context.Context, deliver func(room string, payload []byte)) error
}

// LocalBroker delivers in-process only.
type LocalBroker struct {
	mu      sync.RWMutex
	deliver []func(room string, payload []byte)
}

// NewLocalBroker returns an in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

// Publish hands the message to every subscriber.
func (b *LocalBroker) Publish(ctx context.Context, room string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, d := range b.deliver {
		d(room, payload)
	}
	return nil
}

// Subscribe registers deliver.
func (b *LocalBroker) Subscribe(ctx context.Context, deliver func(room string, payload []byte)) error {
	b.mu.Lock()
	b.deliver = append(b.deliver, deliver)
	idx := len(b.deliver) - 1
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.deliver[idx] = func(string, []byte) {}
		b.mu.Unlock()
	}()
	return nil
}

const channelPrefix = "propcount:"

// RedisBroker fans room messages out over Redis pub/sub so several API
// instances serve the same rooms.
type RedisBroker struct {
	client redis.UniversalClient
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish publishes payload on the room's channel.
func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	return b.client.Publish(ctx, channelPrefix+room, payload).Err()
}

// Subscribe listens on every office room channel.
func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(room string, payload []byte)) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"office:*")
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver(strings.TrimPrefix(msg.Channel, channelPrefix), []byte(msg.Payload))
			}
		}
	}()
	return nil
}
