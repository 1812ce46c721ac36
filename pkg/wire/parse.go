package wire

import (
	"encoding/json"
	"fmt"
)

var positionSchema = &Schema{
	Fields: []Field{
		{Name: "x", Kind: KindNumber, Required: true},
		{Name: "y", Kind: KindNumber, Required: true},
	},
}

var documentUpdateSchema = &Schema{
	Name: "document_update",
	Fields: []Field{
		{Name: "documentId", Kind: KindString, Required: true},
		{Name: "data", Kind: KindString, Required: true},
	},
}

var cursorUpdateSchema = &Schema{
	Name: "cursor_update",
	Fields: []Field{
		{Name: "slideId", Kind: KindString, Required: true},
		{Name: "position", Kind: KindObject, Required: true, Nested: positionSchema},
	},
}

var focusOnSchema = &Schema{
	Name: "focus_on",
	Fields: []Field{
		{Name: "slideId", Kind: KindString, Required: true},
	},
}

var presentSlideSchema = &Schema{
	Name: "present_slide",
	Fields: []Field{
		{Name: "view", Kind: KindObject, Nested: &Schema{
			Fields: []Field{
				{Name: "isEditMode", Kind: KindBool, Required: true},
				{Name: "slideId", Kind: KindString, Required: true},
			},
		}},
	},
}

var sessionRecordSchema = &Schema{
	Name: "session",
	Fields: []Field{
		{Name: "sessionId", Kind: KindString, Required: true},
		{Name: "userId", Kind: KindString, Required: true},
		{Name: "whiteboardId", Kind: KindString, Required: true},
		{Name: "expiresTs", Kind: KindNumber, Required: true},
	},
}

var signalingSchema = &Schema{
	Name: "connection_signaling",
	Fields: []Field{
		{Name: "sessionId", Kind: KindString, Required: true},
		{Name: "connectionId", Kind: KindString, Required: true},
		{Name: "description", Kind: KindObject, Nested: &Schema{
			Fields: []Field{
				{Name: "type", Kind: KindString, Required: true, Enum: []string{"offer", "answer", "rollback"}},
				{Name: "sdp", Kind: KindString},
			},
		}},
		{Name: "candidates", Kind: KindArray, Element: &Schema{
			Fields: []Field{
				{Name: "candidate", Kind: KindString, Required: true},
				{Name: "sdpMid", Kind: KindString},
				{Name: "sdpMLineIndex", Kind: KindNumber},
			},
		}},
	},
}

var documentSnapshotSchema = &Schema{
	Name: "document_snapshot",
	Fields: []Field{
		{Name: "documentId", Kind: KindString, Required: true},
		{Name: "data", Kind: KindString, Required: true},
	},
}

// messageSchemas maps peer-to-peer message types to their content schema.
var messageSchemas = map[string]*Schema{
	MessageDocumentUpdate: documentUpdateSchema,
	MessageCursorUpdate:   cursorUpdateSchema,
	MessageFocusOn:        focusOnSchema,
	MessagePresentSlide:   presentSlideSchema,
}

// checkAgainst validates raw JSON against a schema and decodes it into out.
func checkAgainst(schema *Schema, raw json.RawMessage, out any) error {
	var untyped any
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if res := schema.Validate(untyped); !res.Valid() {
		return fmt.Errorf("invalid %s content: %v", schema.Name, res.Errors)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", schema.Name, err)
	}
	return nil
}

// ParseMessage validates and decodes a peer-to-peer message's content.
// Unknown message types and malformed content return an error; callers are
// expected to log and drop such messages, never to fail the channel.
func ParseMessage(msg Message) (any, error) {
	schema, ok := messageSchemas[msg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	switch msg.Type {
	case MessageDocumentUpdate:
		var content DocumentUpdate
		if err := checkAgainst(schema, msg.Content, &content); err != nil {
			return nil, err
		}
		return content, nil
	case MessageCursorUpdate:
		var content CursorUpdate
		if err := checkAgainst(schema, msg.Content, &content); err != nil {
			return nil, err
		}
		return content, nil
	case MessageFocusOn:
		var content FocusOn
		if err := checkAgainst(schema, msg.Content, &content); err != nil {
			return nil, err
		}
		return content, nil
	default: // MessagePresentSlide
		var content PresentSlide
		if err := checkAgainst(schema, msg.Content, &content); err != nil {
			return nil, err
		}
		return content, nil
	}
}

// ParseSessionRecord validates and decodes one session state event.
func ParseSessionRecord(raw json.RawMessage) (*SessionRecord, error) {
	var record SessionRecord
	if err := checkAgainst(sessionRecordSchema, raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ParseSignalingPayload validates and decodes one to-device signaling
// message.
func ParseSignalingPayload(raw json.RawMessage) (*SignalingPayload, error) {
	var payload SignalingPayload
	if err := checkAgainst(signalingSchema, raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ParseDocumentSnapshot validates and decodes one persisted snapshot event.
func ParseDocumentSnapshot(raw json.RawMessage) (*DocumentSnapshot, error) {
	var snapshot DocumentSnapshot
	if err := checkAgainst(documentSnapshotSchema, raw, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
