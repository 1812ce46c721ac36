package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisHost implements Host on a Redis server. State events are stored as
// JSON strings under per-event keys and fanned out over Pub/Sub; to-device
// messages are pure Pub/Sub with no persistence.
//
// The host is room-scoped: all keys and channels carry the room ID, so one
// Redis server can back many rooms. The client is safe for concurrent use.
type RedisHost struct {
	rdb    *redis.Client
	roomID string
}

// NewRedisHost creates a host client for one room.
// Returns an error if roomID is empty.
func NewRedisHost(redisOpts *redis.Options, roomID string) (*RedisHost, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room ID cannot be empty")
	}

	return &RedisHost{
		rdb:    redis.NewClient(redisOpts),
		roomID: roomID,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (h *RedisHost) Close() error {
	return h.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (h *RedisHost) Ping(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}

// PutState writes or replaces a state event and publishes it on the room's
// state feed. Writing the same event twice is safe.
func (h *RedisHost) PutState(ctx context.Context, event *StateEvent) error {
	if event.Type == "" {
		return fmt.Errorf("state event type cannot be empty")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize state event: %w", err)
	}

	key := StateKey(h.roomID, event.Type, event.StateKey)
	if err := h.rdb.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to write state event to Redis: %w", err)
	}

	channel := StateEventsChannel(h.roomID)
	if err := h.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish state event: %w", err)
	}

	return nil
}

// GetState retrieves the state event at (eventType, stateKey).
// Returns (nil, redis.Nil) if no such event exists; check with IsNotFound.
func (h *RedisHost) GetState(ctx context.Context, eventType, stateKey string) (*StateEvent, error) {
	key := StateKey(h.roomID, eventType, stateKey)

	payload, err := h.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read state event from Redis: %w", err)
	}

	var event StateEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to deserialize state event: %w", err)
	}

	return &event, nil
}

// ListState retrieves every current state event of one type via SCAN.
// Events deleted between the scan and the read are silently skipped.
func (h *RedisHost) ListState(ctx context.Context, eventType string) ([]*StateEvent, error) {
	pattern := StateTypePattern(h.roomID, eventType)

	events := []*StateEvent{}
	iter := h.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		payload, err := h.rdb.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read state event from Redis: %w", err)
		}

		var event StateEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to deserialize state event: %w", err)
		}
		events = append(events, &event)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan state events: %w", err)
	}

	return events, nil
}

// DeleteState removes a state event and publishes a retraction on the state
// feed. Subscribers see an event with the original type and key but nil
// content. Deleting an absent event is a no-op.
func (h *RedisHost) DeleteState(ctx context.Context, eventType, stateKey string) error {
	key := StateKey(h.roomID, eventType, stateKey)
	if err := h.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete state event from Redis: %w", err)
	}

	retraction, err := json.Marshal(&StateEvent{Type: eventType, StateKey: stateKey})
	if err != nil {
		return fmt.Errorf("failed to serialize state retraction: %w", err)
	}
	channel := StateEventsChannel(h.roomID)
	if err := h.rdb.Publish(ctx, channel, retraction).Err(); err != nil {
		return fmt.Errorf("failed to publish state retraction: %w", err)
	}

	return nil
}

// StateSubscription is an active Pub/Sub subscription to a room's state feed.
// Caller must call Close() when done to clean up resources.
type StateSubscription struct {
	events <-chan *StateEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of state events. The channel is closed when the
// subscription is closed or the context is cancelled.
func (s *StateSubscription) Events() <-chan *StateEvent {
	return s.events
}

// Errors returns the channel of subscription errors. Errors are non-fatal:
// malformed payloads are reported here and skipped.
func (s *StateSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer.
// Safe to call multiple times.
func (s *StateSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeState subscribes to the room's state event feed.
// Caller must call subscription.Close() when done; context cancellation also
// stops the subscription.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once, so a slow subscriber may miss events; callers that need the
// full picture re-list state after (re)subscribing.
func (h *RedisHost) SubscribeState(ctx context.Context) (*StateSubscription, error) {
	channel := StateEventsChannel(h.roomID)
	pubsub := h.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *StateEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event StateEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal state event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &StateSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// SendToDevice publishes a message to the recipient session's channel.
// If nobody is subscribed the message is dropped; that is the contract.
func (h *RedisHost) SendToDevice(ctx context.Context, msg *ToDeviceMessage) error {
	if msg.Recipient == "" {
		return fmt.Errorf("to-device recipient cannot be empty")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize to-device message: %w", err)
	}

	channel := ToDeviceChannel(h.roomID, msg.Recipient)
	if err := h.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to-device message: %w", err)
	}

	return nil
}

// ToDeviceSubscription is an active Pub/Sub subscription to one session's
// to-device channel. Caller must call Close() when done.
type ToDeviceSubscription struct {
	messages <-chan *ToDeviceMessage
	errors   <-chan error
	cancel   func()
	once     sync.Once
}

// Messages returns the channel of inbound to-device messages.
func (s *ToDeviceSubscription) Messages() <-chan *ToDeviceMessage {
	return s.messages
}

// Errors returns the channel of subscription errors.
func (s *ToDeviceSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer.
func (s *ToDeviceSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeToDevice subscribes to messages addressed to sessionID.
// Caller must call subscription.Close() when done.
func (h *RedisHost) SubscribeToDevice(ctx context.Context, sessionID string) (*ToDeviceSubscription, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}

	channel := ToDeviceChannel(h.roomID, sessionID)
	pubsub := h.rdb.Subscribe(ctx, channel)

	messagesChan := make(chan *ToDeviceMessage, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(messagesChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var out ToDeviceMessage
				if err := json.Unmarshal([]byte(msg.Payload), &out); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal to-device message: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case messagesChan <- &out:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &ToDeviceSubscription{
		messages: messagesChan,
		errors:   errorsChan,
		cancel:   cancelFunc,
	}, nil
}
