package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

func newTestMessenger(t *testing.T) *host.RedisHost {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	h, err := host.NewRedisHost(&redis.Options{Addr: mr.Addr()}, "test-room")
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func newTestChannel(t *testing.T, messenger host.Messenger, sessionID string) *Channel {
	c, err := NewChannel(context.Background(), messenger, sessionID)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	// Give the pub/sub subscription a moment to attach.
	time.Sleep(50 * time.Millisecond)
	return c
}

func offerPayload(connectionID string) *wire.SignalingPayload {
	return &wire.SignalingPayload{
		ConnectionID: connectionID,
		Description:  &wire.Description{Type: "offer", SDP: "v=0"},
	}
}

func waitForPayload(t *testing.T, events <-chan *wire.SignalingPayload) *wire.SignalingPayload {
	t.Helper()
	select {
	case payload := <-events:
		return payload
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for signaling payload")
		return nil
	}
}

func TestSendAndObserve(t *testing.T) {
	messenger := newTestMessenger(t)
	a := newTestChannel(t, messenger, "session-a")
	b := newTestChannel(t, messenger, "session-b")

	sub := b.Observe()
	t.Cleanup(sub.Close)

	require.NoError(t, a.Send(context.Background(), "session-b", offerPayload("conn-1")))

	got := waitForPayload(t, sub.Events())
	assert.Equal(t, "session-a", got.SessionID)
	assert.Equal(t, "conn-1", got.ConnectionID)
	require.NotNil(t, got.Description)
	assert.Equal(t, "offer", got.Description.Type)
}

func TestSenderIDOverridesPayload(t *testing.T) {
	messenger := newTestMessenger(t)
	a := newTestChannel(t, messenger, "session-a")
	b := newTestChannel(t, messenger, "session-b")

	sub := b.Observe()
	t.Cleanup(sub.Close)

	payload := offerPayload("conn-1")
	payload.SessionID = "spoofed"
	require.NoError(t, a.Send(context.Background(), "session-b", payload))

	got := waitForPayload(t, sub.Events())
	assert.Equal(t, "session-a", got.SessionID)
}

func TestPayloadsNotDeliveredToOtherSessions(t *testing.T) {
	messenger := newTestMessenger(t)
	a := newTestChannel(t, messenger, "session-a")
	c := newTestChannel(t, messenger, "session-c")

	sub := c.Observe()
	t.Cleanup(sub.Close)

	require.NoError(t, a.Send(context.Background(), "session-b", offerPayload("conn-1")))

	select {
	case payload := <-sub.Events():
		t.Fatalf("unexpected delivery: %+v", payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDuplicatesAreDeliveredVerbatim(t *testing.T) {
	messenger := newTestMessenger(t)
	a := newTestChannel(t, messenger, "session-a")
	b := newTestChannel(t, messenger, "session-b")

	sub := b.Observe()
	t.Cleanup(sub.Close)

	payload := offerPayload("conn-1")
	require.NoError(t, a.Send(context.Background(), "session-b", payload))
	require.NoError(t, a.Send(context.Background(), "session-b", payload))

	first := waitForPayload(t, sub.Events())
	second := waitForPayload(t, sub.Events())
	assert.Equal(t, first.ConnectionID, second.ConnectionID)
}

func TestMalformedPayloadIsDroppedWithoutKillingFeed(t *testing.T) {
	messenger := newTestMessenger(t)
	b := newTestChannel(t, messenger, "session-b")

	sub := b.Observe()
	t.Cleanup(sub.Close)

	// Bypass the channel and push garbage straight through the messenger.
	bad := &host.ToDeviceMessage{
		Type:      wire.EventConnectionSignaling,
		Sender:    "session-a",
		Recipient: "session-b",
		Content:   json.RawMessage(`{"sessionId":42}`),
	}
	require.NoError(t, messenger.SendToDevice(context.Background(), bad))

	a := newTestChannel(t, messenger, "session-a")
	require.NoError(t, a.Send(context.Background(), "session-b", offerPayload("conn-2")))

	got := waitForPayload(t, sub.Events())
	assert.Equal(t, "conn-2", got.ConnectionID)
}

func TestSendValidation(t *testing.T) {
	messenger := newTestMessenger(t)
	a := newTestChannel(t, messenger, "session-a")

	t.Run("empty recipient", func(t *testing.T) {
		err := a.Send(context.Background(), "", offerPayload("conn-1"))
		assert.Error(t, err)
	})

	t.Run("missing connection ID", func(t *testing.T) {
		err := a.Send(context.Background(), "session-b", &wire.SignalingPayload{})
		assert.Error(t, err)
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	messenger := newTestMessenger(t)
	c, err := NewChannel(context.Background(), messenger, "session-a")
	require.NoError(t, err)

	c.Close()
	c.Close()
}
