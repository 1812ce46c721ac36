package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidate(t *testing.T) {
	schema := &Schema{
		Name: "test",
		Fields: []Field{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "count", Kind: KindNumber},
			{Name: "kind", Kind: KindString, Enum: []string{"circle", "square"}},
		},
	}

	t.Run("accepts a conforming object", func(t *testing.T) {
		res := schema.Validate(map[string]any{"name": "a", "count": float64(3), "kind": "circle"})
		assert.True(t, res.Valid())
	})

	t.Run("reports missing required field", func(t *testing.T) {
		res := schema.Validate(map[string]any{"count": float64(3)})
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "test.name", res.Errors[0].Path)
	})

	t.Run("reports wrong types without panicking", func(t *testing.T) {
		res := schema.Validate(map[string]any{"name": 7, "count": "three"})
		assert.Len(t, res.Errors, 2)
	})

	t.Run("rejects non-objects", func(t *testing.T) {
		assert.False(t, schema.Validate("just a string").Valid())
		assert.False(t, schema.Validate(nil).Valid())
	})

	t.Run("rejects values outside the enum", func(t *testing.T) {
		res := schema.Validate(map[string]any{"name": "a", "kind": "triangle"})
		assert.False(t, res.Valid())
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		res := schema.Validate(map[string]any{"name": "a", "extra": true})
		assert.False(t, res.Valid())
	})
}

func TestParseMessage(t *testing.T) {
	t.Run("document update", func(t *testing.T) {
		content, err := ParseMessage(Message{
			Type:    MessageDocumentUpdate,
			Content: json.RawMessage(`{"documentId":"doc-0","data":"aGVsbG8="}`),
		})
		require.NoError(t, err)
		assert.Equal(t, DocumentUpdate{DocumentID: "doc-0", Data: "aGVsbG8="}, content)
	})

	t.Run("cursor update", func(t *testing.T) {
		content, err := ParseMessage(Message{
			Type:    MessageCursorUpdate,
			Content: json.RawMessage(`{"slideId":"s0","position":{"x":10,"y":20}}`),
		})
		require.NoError(t, err)
		assert.Equal(t, CursorUpdate{SlideID: "s0", Position: Point{X: 10, Y: 20}}, content)
	})

	t.Run("present slide without view", func(t *testing.T) {
		content, err := ParseMessage(Message{
			Type:    MessagePresentSlide,
			Content: json.RawMessage(`{}`),
		})
		require.NoError(t, err)
		assert.Nil(t, content.(PresentSlide).View)
	})

	t.Run("rejects unknown message type", func(t *testing.T) {
		_, err := ParseMessage(Message{Type: "net.example.bogus", Content: json.RawMessage(`{}`)})
		assert.Error(t, err)
	})

	t.Run("rejects malformed content", func(t *testing.T) {
		_, err := ParseMessage(Message{
			Type:    MessageCursorUpdate,
			Content: json.RawMessage(`{"slideId":"s0","position":"upper left"}`),
		})
		assert.Error(t, err)
	})

	t.Run("rejects smuggled extra fields", func(t *testing.T) {
		_, err := ParseMessage(Message{
			Type:    MessageFocusOn,
			Content: json.RawMessage(`{"slideId":"s0","payload":"x"}`),
		})
		assert.Error(t, err)
	})
}

func TestParseSessionRecord(t *testing.T) {
	record, err := ParseSessionRecord(json.RawMessage(
		`{"sessionId":"sess-1","userId":"@alice:example.com","whiteboardId":"wb-1","expiresTs":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", record.SessionID)
	assert.False(t, record.Expired(1699999999999))
	assert.True(t, record.Expired(1700000000000))

	_, err = ParseSessionRecord(json.RawMessage(`{"sessionId":"sess-1"}`))
	assert.Error(t, err)
}

func TestParseSignalingPayload(t *testing.T) {
	mid := "0"
	payload, err := ParseSignalingPayload(json.RawMessage(
		`{"sessionId":"a","connectionId":"c","description":{"type":"offer","sdp":"v=0"},` +
			`"candidates":[{"candidate":"candidate:1","sdpMid":"0"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "offer", payload.Description.Type)
	require.Len(t, payload.Candidates, 1)
	assert.Equal(t, &mid, payload.Candidates[0].SDPMid)

	_, err = ParseSignalingPayload(json.RawMessage(
		`{"sessionId":"a","connectionId":"c","description":{"type":"hangup"}}`))
	assert.Error(t, err, "description type outside the enum must be rejected")
}
