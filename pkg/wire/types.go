// Package wire defines the messages the whiteboard core exchanges with its
// peers and with the hosting chat client, together with a declarative
// validator applied to every message crossing a trust boundary. Inbound
// payloads are untyped JSON from remote participants; nothing here may
// assume well-formed input.
package wire

import "encoding/json"

// Peer-to-peer message types carried over the communication channel.
const (
	// MessageDocumentUpdate carries a base64-encoded CRDT delta.
	MessageDocumentUpdate = "net.nordeck.whiteboard.document_update"

	// MessageCursorUpdate carries a participant's cursor position on a slide.
	MessageCursorUpdate = "net.nordeck.whiteboard.cursor_update"

	// MessageFocusOn asks other participants to bring a slide into view.
	MessageFocusOn = "net.nordeck.whiteboard.focus_on"

	// MessagePresentSlide announces entering or leaving presentation mode.
	MessagePresentSlide = "net.nordeck.whiteboard.present_slide"
)

// Host-side event types consumed for discovery and signaling.
const (
	// EventSessions is the state event type holding one participant session
	// record per state key.
	EventSessions = "net.nordeck.whiteboard.sessions"

	// EventConnectionSignaling is the to-device message type for
	// connection-negotiation payloads.
	EventConnectionSignaling = "net.nordeck.whiteboard.connection_signaling"

	// EventDocumentSnapshot is the state event type the snapshot persister
	// writes full document snapshots to.
	EventDocumentSnapshot = "net.nordeck.whiteboard.document_snapshot"
)

// Message is the envelope for every peer-to-peer payload.
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	// Sender is filled in locally with the remote session id; it is never
	// trusted from the wire.
	Sender string `json:"-"`
}

// DocumentUpdate is the content of a MessageDocumentUpdate.
type DocumentUpdate struct {
	DocumentID string `json:"documentId"`
	Data       string `json:"data"` // base64-encoded CRDT delta
}

// Point is a position on a slide in whiteboard coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorUpdate is the content of a MessageCursorUpdate.
type CursorUpdate struct {
	SlideID  string `json:"slideId"`
	Position Point  `json:"position"`
}

// FocusOn is the content of a MessageFocusOn.
type FocusOn struct {
	SlideID string `json:"slideId"`
}

// PresentationView describes the presenter's current view.
type PresentationView struct {
	IsEditMode bool   `json:"isEditMode"`
	SlideID    string `json:"slideId"`
}

// PresentSlide is the content of a MessagePresentSlide. A nil View means
// presentation mode ended.
type PresentSlide struct {
	View *PresentationView `json:"view,omitempty"`
}

// SessionRecord is the state-event content announcing one participant
// session. A record is live until ExpiresTs (unix milliseconds) passes
// without a refresh.
type SessionRecord struct {
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
	WhiteboardID string `json:"whiteboardId"`
	ExpiresTs    int64  `json:"expiresTs"`
}

// Expired reports whether the record's TTL has passed at the given unix
// millisecond timestamp.
func (r *SessionRecord) Expired(nowMs int64) bool {
	return r.ExpiresTs <= nowMs
}

// Description is a connection-negotiation offer or answer.
type Description struct {
	Type string `json:"type"` // "offer", "answer" or "rollback"
	SDP  string `json:"sdp"`
}

// Candidate is one trickled connection candidate.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalingPayload relays negotiation state between two sessions. SessionID
// names the sender; ConnectionID pairs the payload with one peer connection
// attempt so stale messages from earlier attempts can be discarded.
type SignalingPayload struct {
	SessionID    string       `json:"sessionId"`
	ConnectionID string       `json:"connectionId"`
	Description  *Description `json:"description,omitempty"`
	Candidates   []Candidate  `json:"candidates,omitempty"`
}

// DocumentSnapshot is the state-event content the persister writes.
type DocumentSnapshot struct {
	DocumentID string `json:"documentId"`
	Data       string `json:"data"` // base64-encoded full snapshot
}
