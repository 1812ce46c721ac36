// Package peer manages one WebRTC connection to one remote session: a single
// reliable ordered data channel carrying JSON messages, trickled ICE over the
// signaling channel, and periodic statistics snapshots.
//
// Negotiation follows the perfect-negotiation pattern. The side whose session
// id compares lexicographically greater takes the impolite role; on glare the
// polite side rolls back its own offer and accepts the remote one, so exactly
// one offer survives without coordination.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/internal/observe"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

// dataChannelLabel is the negotiated channel both sides open without an
// in-band handshake.
const dataChannelLabel = "whiteboard"

// statsInterval is the statistics snapshot period.
const statsInterval = time.Second

// Signaler relays negotiation payloads to a remote session. Implemented by
// signaling.Channel.
type Signaler interface {
	Send(ctx context.Context, toSessionID string, payload *wire.SignalingPayload) error
}

// Statistics is a point-in-time snapshot of one peer connection.
type Statistics struct {
	RemoteSessionID     string `json:"remoteSessionId"`
	RemoteUserID        string `json:"remoteUserId"`
	Impolite            bool   `json:"impolite"`
	LocalCandidateType  string `json:"localCandidateType,omitempty"`
	RemoteCandidateType string `json:"remoteCandidateType,omitempty"`
	ConnectionState     string `json:"connectionState"`
	ICEConnectionState  string `json:"iceConnectionState"`
	ICEGatheringState   string `json:"iceGatheringState"`
	SignalingState      string `json:"signalingState"`
	DataChannelState    string `json:"dataChannelState"`
	BytesSent           uint64 `json:"bytesSent"`
	BytesReceived       uint64 `json:"bytesReceived"`
	PacketsSent         uint64 `json:"packetsSent"`
	PacketsReceived     uint64 `json:"packetsReceived"`
}

// Connection is one peer connection to one remote session. Create it on a
// session-joined event and Close it on session-left; a failed connection is
// not retried, the owner drops it and waits for a fresh join.
type Connection struct {
	signaler     Signaler
	localID      string
	remote       wire.SessionRecord
	impolite     bool
	connectionID string

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu           sync.Mutex
	makingOffer  bool
	remoteSet    bool
	pendingCands []wire.Candidate
	remoteConnID string
	bytesSent    uint64
	bytesRecv    uint64
	packetsSent  uint64
	packetsRecv  uint64
	closed       bool

	messages *observe.Subject[*wire.Message]
	stats    *observe.Subject[Statistics]

	stopStats context.CancelFunc
	statsDone chan struct{}
}

// Impolite reports which side backs off on glare: the one whose session id
// compares greater keeps its offer.
func Impolite(localSessionID, remoteSessionID string) bool {
	return localSessionID > remoteSessionID
}

// NewConnection opens a connection towards the remote session and starts
// negotiating. turn may be nil for direct-only connectivity.
func NewConnection(signaler Signaler, localSessionID string, remote *wire.SessionRecord, turn *host.TURNCredentials) (*Connection, error) {
	if localSessionID == "" || remote == nil || remote.SessionID == "" {
		return nil, fmt.Errorf("both session ids are required")
	}

	config := webrtc.Configuration{}
	if turn != nil && len(turn.URIs) > 0 {
		config.ICEServers = []webrtc.ICEServer{{
			URLs:       turn.URIs,
			Username:   turn.Username,
			Credential: turn.Password,
		}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &Connection{
		signaler:     signaler,
		localID:      localSessionID,
		remote:       *remote,
		impolite:     Impolite(localSessionID, remote.SessionID),
		connectionID: uuid.New().String(),
		pc:           pc,
		messages:     observe.NewSubject[*wire.Message](),
		stats:        observe.NewSubject[Statistics](),
		statsDone:    make(chan struct{}),
	}

	// A negotiated channel exists on both sides from the start, so channel
	// creation itself never triggers an offer race.
	negotiated := true
	ordered := true
	var channelID uint16
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &channelID,
		Ordered:    &ordered,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	c.dc = dc

	dc.OnMessage(c.onDataChannelMessage)
	dc.OnOpen(func() { c.publishStats() })
	dc.OnClose(func() { c.publishStats() })

	pc.OnNegotiationNeeded(c.onNegotiationNeeded)
	pc.OnICECandidate(c.onICECandidate)
	pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) { c.publishStats() })
	pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) { c.publishStats() })
	pc.OnSignalingStateChange(func(webrtc.SignalingState) { c.publishStats() })

	statsCtx, cancel := context.WithCancel(context.Background())
	c.stopStats = cancel
	go c.statsLoop(statsCtx)

	return c, nil
}

// RemoteSessionID returns the session this connection talks to.
func (c *Connection) RemoteSessionID() string {
	return c.remote.SessionID
}

// SendMessage serializes and sends one message over the data channel.
// Fails if the channel is not open yet.
func (c *Connection) SendMessage(msgType string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to serialize message content: %w", err)
	}
	payload, err := json.Marshal(&wire.Message{Type: msgType, Content: raw})
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel to %s is not open", c.remote.SessionID)
	}
	if err := c.dc.Send(payload); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.mu.Lock()
	c.bytesSent += uint64(len(payload))
	c.packetsSent++
	c.mu.Unlock()
	c.publishStats()

	return nil
}

// ObserveMessages delivers inbound messages. Sender is set to the remote
// session id. The stream completes when the connection closes.
func (c *Connection) ObserveMessages() *observe.Subscription[*wire.Message] {
	return c.messages.Subscribe()
}

// ObserveStatistics delivers a snapshot roughly every second and on every
// state edge. The stream completes when the connection closes, which is the
// owner's signal to clean up.
func (c *Connection) ObserveStatistics() *observe.Subscription[Statistics] {
	return c.stats.Subscribe()
}

// Statistics returns the current snapshot.
func (c *Connection) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// HandleSignaling feeds one inbound payload into the negotiation state
// machine. Payloads from a connection attempt other than the first one seen
// are stale and dropped; duplicated or reordered payloads are tolerated.
func (c *Connection) HandleSignaling(payload *wire.SignalingPayload) {
	if payload.SessionID != c.remote.SessionID {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.remoteConnID == "" {
		c.remoteConnID = payload.ConnectionID
	}
	stale := payload.ConnectionID != c.remoteConnID
	c.mu.Unlock()
	if stale {
		return
	}

	if payload.Description != nil {
		if err := c.handleDescription(payload.Description); err != nil {
			slog.Warn("failed to apply remote description",
				"remoteSession", c.remote.SessionID, "type", payload.Description.Type, "error", err)
		}
	}
	for _, cand := range payload.Candidates {
		if err := c.handleCandidate(cand); err != nil {
			slog.Warn("failed to apply remote candidate",
				"remoteSession", c.remote.SessionID, "error", err)
		}
	}
}

// Close tears the connection down and completes the message and statistics
// streams. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.stopStats()
	<-c.statsDone

	err := c.pc.Close()

	c.messages.Close()
	c.stats.Close()

	if err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

// onNegotiationNeeded creates and sends an offer, flagging the in-flight
// offer so glare can be detected.
func (c *Connection) onNegotiationNeeded() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.makingOffer = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.makingOffer = false
		c.mu.Unlock()
	}()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		slog.Warn("failed to create offer", "remoteSession", c.remote.SessionID, "error", err)
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		slog.Warn("failed to set local offer", "remoteSession", c.remote.SessionID, "error", err)
		return
	}
	c.sendDescription(c.pc.LocalDescription())
}

// onICECandidate trickles one local candidate to the remote side. A nil
// candidate marks the end of gathering and is not sent.
func (c *Connection) onICECandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		c.publishStats()
		return
	}
	init := candidate.ToJSON()
	payload := &wire.SignalingPayload{
		ConnectionID: c.connectionID,
		Candidates: []wire.Candidate{{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}},
	}
	if err := c.signaler.Send(context.Background(), c.remote.SessionID, payload); err != nil {
		slog.Warn("failed to send candidate", "remoteSession", c.remote.SessionID, "error", err)
	}
}

// handleDescription applies a remote offer or answer, resolving glare per
// the polite/impolite roles.
func (c *Connection) handleDescription(desc *wire.Description) error {
	sdpType := webrtc.NewSDPType(desc.Type)

	if sdpType == webrtc.SDPTypeOffer {
		collision := false
		c.mu.Lock()
		collision = c.makingOffer || c.pc.SignalingState() != webrtc.SignalingStateStable
		c.mu.Unlock()

		if collision {
			if c.impolite {
				// Our offer wins; the polite side will roll back.
				return nil
			}
			rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
			if err := c.pc.SetLocalDescription(rollback); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
		}

		remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}
		if err := c.pc.SetRemoteDescription(remote); err != nil {
			return fmt.Errorf("failed to set remote offer: %w", err)
		}
		c.flushPendingCandidates()

		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local answer: %w", err)
		}
		c.sendDescription(c.pc.LocalDescription())
		return nil
	}

	remote := webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to set remote %s: %w", desc.Type, err)
	}
	c.flushPendingCandidates()
	return nil
}

// handleCandidate applies one remote candidate, buffering it if the remote
// description has not arrived yet.
func (c *Connection) handleCandidate(cand wire.Candidate) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pendingCands = append(c.pendingCands, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.addCandidate(cand)
}

// flushPendingCandidates applies candidates that arrived before the remote
// description.
func (c *Connection) flushPendingCandidates() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingCands
	c.pendingCands = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.addCandidate(cand); err != nil {
			slog.Warn("failed to apply buffered candidate",
				"remoteSession", c.remote.SessionID, "error", err)
		}
	}
}

func (c *Connection) addCandidate(cand wire.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

// sendDescription relays the current local description.
func (c *Connection) sendDescription(desc *webrtc.SessionDescription) {
	if desc == nil {
		return
	}
	payload := &wire.SignalingPayload{
		ConnectionID: c.connectionID,
		Description:  &wire.Description{Type: desc.Type.String(), SDP: desc.SDP},
	}
	if err := c.signaler.Send(context.Background(), c.remote.SessionID, payload); err != nil {
		slog.Warn("failed to send description",
			"remoteSession", c.remote.SessionID, "type", desc.Type.String(), "error", err)
	}
}

// onDataChannelMessage decodes one inbound frame and publishes it. Frames
// that do not parse as a message envelope are dropped with a warning.
func (c *Connection) onDataChannelMessage(msg webrtc.DataChannelMessage) {
	c.mu.Lock()
	c.bytesRecv += uint64(len(msg.Data))
	c.packetsRecv++
	c.mu.Unlock()

	var out wire.Message
	if err := json.Unmarshal(msg.Data, &out); err != nil || out.Type == "" {
		slog.Warn("dropping malformed peer message", "remoteSession", c.remote.SessionID, "error", err)
		return
	}
	out.Sender = c.remote.SessionID
	c.messages.Publish(&out)
	c.publishStats()
}

// statsLoop publishes a periodic snapshot until the connection closes.
func (c *Connection) statsLoop(ctx context.Context) {
	defer close(c.statsDone)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStats()
		}
	}
}

func (c *Connection) publishStats() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.stats.Publish(snapshot)
}

// snapshotLocked assembles a Statistics value; candidate types come from the
// nominated candidate pair in pion's stats report. Caller holds c.mu.
func (c *Connection) snapshotLocked() Statistics {
	s := Statistics{
		RemoteSessionID:    c.remote.SessionID,
		RemoteUserID:       c.remote.UserID,
		Impolite:           c.impolite,
		ConnectionState:    c.pc.ConnectionState().String(),
		ICEConnectionState: c.pc.ICEConnectionState().String(),
		ICEGatheringState:  c.pc.ICEGatheringState().String(),
		SignalingState:     c.pc.SignalingState().String(),
		DataChannelState:   c.dc.ReadyState().String(),
		BytesSent:          c.bytesSent,
		BytesReceived:      c.bytesRecv,
		PacketsSent:        c.packetsSent,
		PacketsReceived:    c.packetsRecv,
	}

	report := c.pc.GetStats()
	local, remote := selectedCandidateTypes(report)
	s.LocalCandidateType = local
	s.RemoteCandidateType = remote

	return s
}

// selectedCandidateTypes extracts the candidate types of the nominated pair
// from a stats report, or empty strings if no pair has succeeded yet.
func selectedCandidateTypes(report webrtc.StatsReport) (local, remote string) {
	candidates := map[string]string{}
	for _, stat := range report {
		if cand, ok := stat.(webrtc.ICECandidateStats); ok {
			candidates[cand.ID] = cand.CandidateType.String()
		}
	}
	for _, stat := range report {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || !pair.Nominated {
			continue
		}
		if pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		return candidates[pair.LocalCandidateID], candidates[pair.RemoteCandidateID]
	}
	return "", ""
}
