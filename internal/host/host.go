// Package host abstracts the collaboration backend a whiteboard client talks
// to: durable per-room state events and ephemeral to-device messages addressed
// to a single session. The Redis implementation in this package is the
// production backend; tests substitute in-memory fakes behind the same
// interfaces.
package host

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// StateEvent is a typed, keyed record scoped to a room. Writing a second
// event with the same type and key replaces the first; state is last-writer
// wins at the granularity of whole events.
type StateEvent struct {
	Type     string          `json:"type"`
	StateKey string          `json:"state_key"`
	Sender   string          `json:"sender"`
	OriginTS int64           `json:"origin_ts"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// Retracted reports whether the event announces the removal of its state key
// rather than a new value.
func (e *StateEvent) Retracted() bool {
	return len(e.Content) == 0
}

// ToDeviceMessage is a fire-and-forget message addressed to one session.
// Delivery is at-most-once; the signaling layer is built to tolerate loss.
type ToDeviceMessage struct {
	Type      string          `json:"type"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Content   json.RawMessage `json:"content"`
}

// StateStore is the durable half of a host: room-scoped state events with
// replace-on-write semantics and a change feed.
type StateStore interface {
	// PutState writes or replaces the event at (Type, StateKey) and
	// publishes it on the room's state feed.
	PutState(ctx context.Context, event *StateEvent) error

	// GetState returns the event at (eventType, stateKey). Use IsNotFound
	// to distinguish absence from transport failures.
	GetState(ctx context.Context, eventType, stateKey string) (*StateEvent, error)

	// ListState returns every current event of the given type in the room,
	// in unspecified order. An empty room yields an empty slice, not an error.
	ListState(ctx context.Context, eventType string) ([]*StateEvent, error)

	// DeleteState removes the event at (eventType, stateKey) and publishes a
	// retraction (an event of the same type and key with nil content) on the
	// state feed. Deleting an absent event is not an error.
	DeleteState(ctx context.Context, eventType, stateKey string) error

	// SubscribeState delivers every state event written to the room from the
	// moment of subscription onward. Caller must Close the subscription.
	SubscribeState(ctx context.Context) (*StateSubscription, error)
}

// Messenger is the ephemeral half of a host: to-device delivery between
// sessions in the same room.
type Messenger interface {
	// SendToDevice delivers msg to the recipient session, if it is listening.
	// Sending to an absent session is not an error.
	SendToDevice(ctx context.Context, msg *ToDeviceMessage) error

	// SubscribeToDevice delivers messages addressed to sessionID.
	// Caller must Close the subscription.
	SubscribeToDevice(ctx context.Context, sessionID string) (*ToDeviceSubscription, error)
}

// Host is the full backend surface the whiteboard needs.
type Host interface {
	StateStore
	Messenger
}

// TURNCredentials describe relay servers handed to the peer connection layer.
type TURNCredentials struct {
	URIs     []string `yaml:"uris" json:"uris"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
}

// TURNCredentialProvider hands out relay credentials on demand. Providers may
// return short-lived credentials; callers re-fetch per connection attempt.
type TURNCredentialProvider interface {
	TURNCredentials(ctx context.Context) (*TURNCredentials, error)
}

// IsNotFound returns true if the error means "no such state event" rather
// than a transport failure.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
