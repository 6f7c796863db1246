// internal/realtime/redis.go

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const channelPrefix = "realtime:"

// redisBus implements Bus over one Redis pub/sub channel per table
type redisBus struct {
	client *redis.Client
	buffer int
}

// NewRedisBus creates a Bus backed by Redis pub/sub. buffer is the
// per-subscription event channel depth; a subscriber that falls that far
// behind starts losing events, same as a slow websocket client.
func NewRedisBus(client *redis.Client, buffer int) Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &redisBus{client: client, buffer: buffer}
}

func (b *redisBus) Publish(ctx context.Context, table, rowID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal payload: %w", err)
	}

	event := Event{Table: table, RowID: rowID, Payload: raw}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}

	return b.client.Publish(ctx, channelPrefix+table, data).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channelPrefix+table)

	// Confirm the subscription before handing it out
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", table, err)
	}

	sub := &redisSubscription{
		id:     uuid.NewString(),
		pubsub: pubsub,
		events: make(chan Event, b.buffer),
		done:   make(chan struct{}),
	}

	go sub.pump(filter)
	return sub, nil
}

type redisSubscription struct {
	id        string
	pubsub    *redis.PubSub
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) ID() string           { return s.id }
func (s *redisSubscription) Events() <-chan Event { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) pump(filter Filter) {
	defer close(s.events)

	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("realtime: dropping malformed event on %s: %v", msg.Channel, err)
				continue
			}

			if !filter.Matches(event) {
				continue
			}

			select {
			case s.events <- event:
			default:
				log.Printf("realtime: subscription %s slow, dropping event %s", s.id, event.RowID)
			}

		case <-s.done:
			return
		}
	}
}
