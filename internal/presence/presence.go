// internal/presence/presence.go
// Pass-through to the external presence/typing service. The engine only
// forwards a conversation id and a content-changed flag; the service's own
// state machine is not consulted here.

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Notifier forwards typing signals for a conversation
type Notifier interface {
	TypingChanged(ctx context.Context, conversationKey string, typing bool) error
}

// TypingSignal is the wire form consumed by the presence service
type TypingSignal struct {
	ConversationKey string    `json:"conversation_key"`
	Typing          bool      `json:"typing"`
	At              time.Time `json:"at"`
}

const typingChannel = "presence:typing"

type redisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier publishes typing signals on the channel the presence
// service listens to
func NewRedisNotifier(client *redis.Client) Notifier {
	return &redisNotifier{client: client}
}

func (n *redisNotifier) TypingChanged(ctx context.Context, conversationKey string, typing bool) error {
	signal := TypingSignal{
		ConversationKey: conversationKey,
		Typing:          typing,
		At:              time.Now(),
	}

	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("presence: marshal typing signal: %w", err)
	}

	return n.client.Publish(ctx, typingChannel, data).Err()
}

// NopNotifier discards typing signals; used when presence is disabled
type NopNotifier struct{}

func (NopNotifier) TypingChanged(context.Context, string, bool) error { return nil }
