// Package signaling relays connection-negotiation payloads between sessions
// over the host's to-device messaging. The transport is at-most-once and
// unordered; consumers must tolerate duplicated, reordered and lost payloads.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/internal/observe"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

// Channel sends and receives signaling payloads for one local session.
type Channel struct {
	messenger host.Messenger
	sessionID string

	payloads *observe.Subject[*wire.SignalingPayload]
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewChannel opens a signaling channel for the local session and starts
// receiving payloads addressed to it. Caller must Close the channel.
func NewChannel(ctx context.Context, messenger host.Messenger, sessionID string) (*Channel, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	sub, err := messenger.SubscribeToDevice(recvCtx, sessionID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to signaling messages: %w", err)
	}

	c := &Channel{
		messenger: messenger,
		sessionID: sessionID,
		payloads:  observe.NewSubject[*wire.SignalingPayload](),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.receive(recvCtx, sub)

	return c, nil
}

// Send relays a payload to the given remote session. The payload's SessionID
// is overwritten with the local session id so the receiver knows the sender.
func (c *Channel) Send(ctx context.Context, toSessionID string, payload *wire.SignalingPayload) error {
	if toSessionID == "" {
		return fmt.Errorf("recipient session ID cannot be empty")
	}
	if payload.ConnectionID == "" {
		return fmt.Errorf("signaling payload must carry a connection ID")
	}

	out := *payload
	out.SessionID = c.sessionID
	content, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to serialize signaling payload: %w", err)
	}

	msg := &host.ToDeviceMessage{
		Type:      wire.EventConnectionSignaling,
		Sender:    c.sessionID,
		Recipient: toSessionID,
		Content:   content,
	}
	if err := c.messenger.SendToDevice(ctx, msg); err != nil {
		return fmt.Errorf("failed to send signaling payload: %w", err)
	}
	return nil
}

// Observe delivers every inbound signaling payload addressed to the local
// session. Filtering by connection id is the receiver's job.
func (c *Channel) Observe() *observe.Subscription[*wire.SignalingPayload] {
	return c.payloads.Subscribe()
}

// Close stops receiving and completes all observers. Safe to call twice.
func (c *Channel) Close() {
	c.cancel()
	<-c.done
	c.payloads.Close()
}

// receive pumps the to-device feed into the payload subject, dropping
// anything that does not parse as a signaling payload.
func (c *Channel) receive(ctx context.Context, sub *host.ToDeviceSubscription) {
	defer close(c.done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if msg.Type != wire.EventConnectionSignaling {
				continue
			}
			payload, err := wire.ParseSignalingPayload(msg.Content)
			if err != nil {
				slog.Warn("dropping malformed signaling payload", "sender", msg.Sender, "error", err)
				continue
			}
			c.payloads.Publish(payload)
		case err, ok := <-sub.Errors():
			if ok && err != nil {
				slog.Warn("signaling feed error", "error", err)
			}
		}
	}
}
