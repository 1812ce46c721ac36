// Package channel orchestrates one peer connection per remote session and
// multiplexes them behind a single broadcast/observe surface. Peers are
// created on session-joined events and dropped on session-left events; a
// failed peer is not retried until its session rejoins.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inkwell-im/inkwell/internal/observe"
	"github.com/inkwell-im/inkwell/internal/peer"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

// Peer is the slice of a peer connection the channel needs. Implemented by
// *peer.Connection; tests substitute stubs.
type Peer interface {
	RemoteSessionID() string
	SendMessage(msgType string, content any) error
	ObserveMessages() *observe.Subscription[*wire.Message]
	ObserveStatistics() *observe.Subscription[peer.Statistics]
	Statistics() peer.Statistics
	HandleSignaling(payload *wire.SignalingPayload)
	Close() error
}

// PeerFactory creates a connection towards one remote session.
type PeerFactory func(remote *wire.SessionRecord) (Peer, error)

// SessionSource is the discovery surface the channel consumes. Implemented
// by *session.Manager.
type SessionSource interface {
	Join(ctx context.Context, whiteboardID string) (string, error)
	Leave(ctx context.Context) error
	SessionID() string
	Sessions() []*wire.SessionRecord
	ObserveJoined() *observe.Subscription[*wire.SessionRecord]
	ObserveLeft() *observe.Subscription[*wire.SessionRecord]
}

// SignalSource delivers inbound signaling payloads. Implemented by
// *signaling.Channel.
type SignalSource interface {
	Observe() *observe.Subscription[*wire.SignalingPayload]
}

// Statistics is the deep-cloned aggregate snapshot the channel publishes
// whenever any peer's statistics change or the local join state flips.
type Statistics struct {
	LocalSessionID string                     `json:"localSessionId"`
	Connected      bool                       `json:"connected"`
	Peers          map[string]peer.Statistics `json:"peers"`
}

// Communication fans one local participant out to every connected peer.
type Communication struct {
	sessions          SessionSource
	signals           SignalSource
	factory           PeerFactory
	whiteboardID      string
	visibilityTimeout time.Duration

	mu        sync.Mutex
	connected bool
	destroyed bool
	peers     map[string]Peer
	stop      context.CancelFunc
	loopsDone sync.WaitGroup
	hideTimer *time.Timer

	messages *observe.Subject[*wire.Message]
	stats    *observe.Subject[Statistics]
}

// NewCommunication wires a channel. visibilityTimeout is the hysteresis
// before a hidden page disconnects; zero disables visibility handling.
func NewCommunication(sessions SessionSource, signals SignalSource, factory PeerFactory, whiteboardID string, visibilityTimeout time.Duration) (*Communication, error) {
	if factory == nil {
		return nil, fmt.Errorf("peer factory cannot be nil")
	}
	if whiteboardID == "" {
		return nil, fmt.Errorf("whiteboard ID cannot be empty")
	}

	return &Communication{
		sessions:          sessions,
		signals:           signals,
		factory:           factory,
		whiteboardID:      whiteboardID,
		visibilityTimeout: visibilityTimeout,
		peers:             make(map[string]Peer),
		messages:          observe.NewSubject[*wire.Message](),
		stats:             observe.NewSubject[Statistics](),
	}, nil
}

// Connect joins the session and starts building peers for every present
// participant. Calling Connect while connected is a no-op.
func (c *Communication) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("communication channel is destroyed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = true
	c.mu.Unlock()

	if _, err := c.sessions.Join(ctx, c.whiteboardID); err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return fmt.Errorf("failed to join session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.stop = cancel
	c.mu.Unlock()

	joined := c.sessions.ObserveJoined()
	left := c.sessions.ObserveLeft()
	signals := c.signals.Observe()

	c.loopsDone.Add(1)
	go c.run(loopCtx, joined, left, signals)

	// Sessions that joined before us never produce a joined event.
	for _, record := range c.sessions.Sessions() {
		c.addPeer(record)
	}
	c.publishStats()

	return nil
}

// Disconnect closes every peer and leaves the session. Calling Disconnect
// while disconnected is a no-op.
func (c *Communication) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	stop := c.stop
	c.stop = nil
	peers := c.peers
	c.peers = make(map[string]Peer)
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	// Closing peers completes their streams, which lets the pump goroutines
	// drain and exit before we wait on them.
	for _, p := range peers {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close peer", "remoteSession", p.RemoteSessionID(), "error", err)
		}
	}
	c.loopsDone.Wait()

	err := c.sessions.Leave(ctx)
	c.publishStats()
	if err != nil {
		return fmt.Errorf("failed to leave session: %w", err)
	}
	return nil
}

// BroadcastMessage sends one message to every open peer, best effort. Peers
// whose channel is not open yet are skipped with a warning.
func (c *Communication) BroadcastMessage(msgType string, content any) {
	c.mu.Lock()
	peers := make([]Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		if err := p.SendMessage(msgType, content); err != nil {
			slog.Warn("failed to send to peer", "remoteSession", p.RemoteSessionID(), "type", msgType, "error", err)
		}
	}
}

// ObserveMessages delivers the merged inbound stream of every peer.
func (c *Communication) ObserveMessages() *observe.Subscription[*wire.Message] {
	return c.messages.Subscribe()
}

// ObserveStatistics delivers a deep-cloned aggregate on every change.
func (c *Communication) ObserveStatistics() *observe.Subscription[Statistics] {
	return c.stats.Subscribe()
}

// Statistics returns the current aggregate snapshot.
func (c *Communication) Statistics() Statistics {
	return c.snapshot()
}

// SetVisibility feeds page-visibility edges into the connection lifecycle.
// Becoming visible connects immediately; staying hidden longer than the
// hysteresis timeout disconnects. Brief hides within the timeout are
// absorbed without flapping.
func (c *Communication) SetVisibility(ctx context.Context, visible bool) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("communication channel is destroyed")
	}
	if c.hideTimer != nil {
		c.hideTimer.Stop()
		c.hideTimer = nil
	}
	if !visible {
		if c.visibilityTimeout <= 0 || !c.connected {
			c.mu.Unlock()
			return nil
		}
		c.hideTimer = time.AfterFunc(c.visibilityTimeout, func() {
			if err := c.Disconnect(context.Background()); err != nil {
				slog.Warn("visibility disconnect failed", "error", err)
			}
		})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.Connect(ctx)
}

// Destroy disconnects and completes all observer streams. The channel cannot
// be used afterwards.
func (c *Communication) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	if c.hideTimer != nil {
		c.hideTimer.Stop()
		c.hideTimer = nil
	}
	c.mu.Unlock()

	err := c.Disconnect(ctx)

	c.messages.Close()
	c.stats.Close()
	return err
}

// run reacts to session and signaling events until Disconnect stops it.
func (c *Communication) run(ctx context.Context,
	joined, left *observe.Subscription[*wire.SessionRecord],
	signals *observe.Subscription[*wire.SignalingPayload]) {
	defer c.loopsDone.Done()
	defer joined.Close()
	defer left.Close()
	defer signals.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-joined.Events():
			if !ok {
				return
			}
			c.addPeer(record)
			c.publishStats()
		case record, ok := <-left.Events():
			if !ok {
				return
			}
			c.removePeer(record.SessionID)
			c.publishStats()
		case payload, ok := <-signals.Events():
			if !ok {
				return
			}
			c.routeSignaling(payload)
		}
	}
}

// addPeer creates a connection for a newly joined session. An existing peer
// for the same session is replaced, covering rejoin-after-failure.
func (c *Communication) addPeer(record *wire.SessionRecord) {
	p, err := c.factory(record)
	if err != nil {
		slog.Warn("failed to create peer", "remoteSession", record.SessionID, "error", err)
		return
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		p.Close()
		return
	}
	old := c.peers[record.SessionID]
	c.peers[record.SessionID] = p
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	c.loopsDone.Add(1)
	go c.pumpPeer(p)
}

func (c *Communication) removePeer(sessionID string) {
	c.mu.Lock()
	p := c.peers[sessionID]
	delete(c.peers, sessionID)
	c.mu.Unlock()

	if p != nil {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close peer", "remoteSession", sessionID, "error", err)
		}
	}
}

// routeSignaling hands a payload to the peer for its sender session.
// Payloads for unknown sessions are dropped; discovery will catch up.
func (c *Communication) routeSignaling(payload *wire.SignalingPayload) {
	c.mu.Lock()
	p := c.peers[payload.SessionID]
	c.mu.Unlock()

	if p != nil {
		p.HandleSignaling(payload)
	}
}

// pumpPeer forwards one peer's inbound messages and statistics edges into
// the aggregate streams until the peer closes.
func (c *Communication) pumpPeer(p Peer) {
	defer c.loopsDone.Done()

	messages := p.ObserveMessages()
	defer messages.Close()
	stats := p.ObserveStatistics()
	defer stats.Close()

	for messages != nil || stats != nil {
		var msgCh <-chan *wire.Message
		var statCh <-chan peer.Statistics
		if messages != nil {
			msgCh = messages.Events()
		}
		if stats != nil {
			statCh = stats.Events()
		}

		select {
		case msg, ok := <-msgCh:
			if !ok {
				messages = nil
				continue
			}
			c.messages.Publish(msg)
		case _, ok := <-statCh:
			if !ok {
				stats = nil
				continue
			}
			c.publishStats()
		}
	}
}

func (c *Communication) publishStats() {
	c.stats.Publish(c.snapshot())
}

// snapshot assembles a deep-cloned aggregate so observers can never reach
// back into live peer state.
func (c *Communication) snapshot() Statistics {
	c.mu.Lock()
	peers := make(map[string]Peer, len(c.peers))
	for id, p := range c.peers {
		peers[id] = p
	}
	connected := c.connected
	c.mu.Unlock()

	out := Statistics{
		LocalSessionID: c.sessions.SessionID(),
		Connected:      connected,
		Peers:          make(map[string]peer.Statistics, len(peers)),
	}
	for id, p := range peers {
		out.Peers[id] = p.Statistics()
	}
	return out
}
