// Package session implements participant discovery for one whiteboard. Each
// participant announces itself with a TTL-bounded session record in the
// host's state store; join and leave edges are derived by diffing the set of
// live records over time, so peers that vanish without a clean leave still
// time out.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/internal/observe"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

// phase is the lifecycle of the local participant.
type phase int

const (
	phaseIdle phase = iota
	phaseJoining
	phaseJoined
	phaseLeaving
)

// expiryCheckInterval bounds how stale an expired remote session can be
// before a left event fires.
const expiryCheckInterval = time.Second

// Manager announces the local session and tracks remote ones.
type Manager struct {
	store  host.StateStore
	userID string
	ttl    time.Duration

	mu           sync.Mutex
	phase        phase
	sessionID    string
	whiteboardID string
	remote       map[string]*wire.SessionRecord // state key -> live record
	stop         context.CancelFunc
	done         chan struct{}

	joined *observe.Subject[*wire.SessionRecord]
	left   *observe.Subject[*wire.SessionRecord]
}

// NewManager creates a manager for one local participant. ttl is the session
// record lifetime; records are refreshed at a third of it.
func NewManager(store host.StateStore, userID string, ttl time.Duration) (*Manager, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be positive, got %v", ttl)
	}

	return &Manager{
		store:  store,
		userID: userID,
		ttl:    ttl,
		remote: make(map[string]*wire.SessionRecord),
		joined: observe.NewSubject[*wire.SessionRecord](),
		left:   observe.NewSubject[*wire.SessionRecord](),
	}, nil
}

// SessionID returns the local session id, or "" before the first Join.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Join announces the local session for the given whiteboard and starts
// watching for remote sessions. Calling Join while already joined to the
// same whiteboard is a no-op returning the existing session id.
func (m *Manager) Join(ctx context.Context, whiteboardID string) (string, error) {
	m.mu.Lock()
	switch m.phase {
	case phaseJoined:
		if m.whiteboardID == whiteboardID {
			id := m.sessionID
			m.mu.Unlock()
			return id, nil
		}
		m.mu.Unlock()
		return "", fmt.Errorf("already joined to whiteboard %q", m.whiteboardID)
	case phaseJoining, phaseLeaving:
		m.mu.Unlock()
		return "", fmt.Errorf("join/leave already in progress")
	}
	m.phase = phaseJoining
	m.sessionID = uuid.New().String()
	m.whiteboardID = whiteboardID
	sessionID := m.sessionID
	m.mu.Unlock()

	if err := m.publishRecord(ctx, sessionID, whiteboardID); err != nil {
		m.mu.Lock()
		m.phase = phaseIdle
		m.mu.Unlock()
		return "", err
	}

	// The subscription outlives the Join call, so it hangs off the manager's
	// own lifetime context rather than ctx.
	watchCtx, cancel := context.WithCancel(context.Background())

	sub, err := m.store.SubscribeState(watchCtx)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.phase = phaseIdle
		m.mu.Unlock()
		return "", fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	// Seed the remote set before processing the live feed so sessions that
	// joined earlier still produce a joined event.
	existing, err := m.store.ListState(ctx, wire.EventSessions)
	if err != nil {
		sub.Close()
		cancel()
		m.mu.Lock()
		m.phase = phaseIdle
		m.mu.Unlock()
		return "", fmt.Errorf("failed to list existing sessions: %w", err)
	}

	done := make(chan struct{})

	m.mu.Lock()
	m.phase = phaseJoined
	m.stop = cancel
	m.done = done
	m.mu.Unlock()

	for _, ev := range existing {
		m.handleStateEvent(ev)
	}

	go m.watch(watchCtx, sub, done)

	return sessionID, nil
}

// Leave retracts the local session record and stops watching. Leaving while
// not joined is a no-op.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != phaseJoined {
		m.mu.Unlock()
		return nil
	}
	m.phase = phaseLeaving
	sessionID := m.sessionID
	stop := m.stop
	done := m.done
	m.mu.Unlock()

	stop()
	<-done

	err := m.store.DeleteState(ctx, wire.EventSessions, sessionID)

	m.mu.Lock()
	m.phase = phaseIdle
	m.remote = make(map[string]*wire.SessionRecord)
	m.stop = nil
	m.done = nil
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to retract session record: %w", err)
	}
	return nil
}

// Sessions returns the currently known, non-expired remote sessions.
func (m *Manager) Sessions() []*wire.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	out := make([]*wire.SessionRecord, 0, len(m.remote))
	for _, r := range m.remote {
		if !r.Expired(now) {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out
}

// ObserveJoined delivers a record whenever a remote session appears.
func (m *Manager) ObserveJoined() *observe.Subscription[*wire.SessionRecord] {
	return m.joined.Subscribe()
}

// ObserveLeft delivers a record whenever a remote session is retracted or
// expires without a refresh.
func (m *Manager) ObserveLeft() *observe.Subscription[*wire.SessionRecord] {
	return m.left.Subscribe()
}

// Close shuts the manager down without retracting the session record. Use
// Leave for a clean exit; Close is for teardown paths where the host is
// already unreachable.
func (m *Manager) Close() {
	m.mu.Lock()
	stop := m.stop
	done := m.done
	m.stop = nil
	m.done = nil
	m.phase = phaseIdle
	m.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	m.joined.Close()
	m.left.Close()
}

// publishRecord writes the local session record with a fresh TTL.
func (m *Manager) publishRecord(ctx context.Context, sessionID, whiteboardID string) error {
	record := wire.SessionRecord{
		SessionID:    sessionID,
		UserID:       m.userID,
		WhiteboardID: whiteboardID,
		ExpiresTs:    time.Now().Add(m.ttl).UnixMilli(),
	}
	content, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize session record: %w", err)
	}

	event := &host.StateEvent{
		Type:     wire.EventSessions,
		StateKey: sessionID,
		Sender:   m.userID,
		OriginTS: time.Now().UnixMilli(),
		Content:  content,
	}
	if err := m.store.PutState(ctx, event); err != nil {
		return fmt.Errorf("failed to publish session record: %w", err)
	}
	return nil
}

// watch drives the three periodic concerns of a joined session: the state
// feed diff, TTL refresh of the local record, and expiry of remote records.
func (m *Manager) watch(ctx context.Context, sub *host.StateSubscription, done chan<- struct{}) {
	defer close(done)
	defer sub.Close()

	refresh := time.NewTicker(m.ttl / 3)
	defer refresh.Stop()
	expiry := time.NewTicker(expiryCheckInterval)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.handleStateEvent(ev)
		case err, ok := <-sub.Errors():
			if ok && err != nil {
				slog.Warn("session feed error", "error", err)
			}
		case <-refresh.C:
			m.mu.Lock()
			sessionID, whiteboardID := m.sessionID, m.whiteboardID
			m.mu.Unlock()
			if err := m.publishRecord(ctx, sessionID, whiteboardID); err != nil {
				slog.Warn("failed to refresh session record", "error", err)
			}
		case <-expiry.C:
			m.expireSessions()
		}
	}
}

// handleStateEvent folds one state event into the remote session set and
// publishes the resulting join/leave edge, if any.
func (m *Manager) handleStateEvent(ev *host.StateEvent) {
	if ev.Type != wire.EventSessions {
		return
	}

	if ev.Retracted() {
		m.mu.Lock()
		record, known := m.remote[ev.StateKey]
		delete(m.remote, ev.StateKey)
		m.mu.Unlock()
		if known {
			m.left.Publish(record)
		}
		return
	}

	record, err := wire.ParseSessionRecord(ev.Content)
	if err != nil {
		slog.Warn("dropping malformed session record", "stateKey", ev.StateKey, "error", err)
		return
	}

	m.mu.Lock()
	if record.SessionID == m.sessionID {
		m.mu.Unlock()
		return
	}
	// several whiteboards can share one room; only this board's sessions
	// count as participants
	if record.WhiteboardID != m.whiteboardID {
		m.mu.Unlock()
		return
	}
	now := time.Now().UnixMilli()
	_, known := m.remote[ev.StateKey]
	if record.Expired(now) {
		delete(m.remote, ev.StateKey)
		m.mu.Unlock()
		if known {
			m.left.Publish(record)
		}
		return
	}
	m.remote[ev.StateKey] = record
	m.mu.Unlock()

	if !known {
		m.joined.Publish(record)
	}
}

// expireSessions drops remote records whose TTL has passed.
func (m *Manager) expireSessions() {
	now := time.Now().UnixMilli()

	m.mu.Lock()
	var expired []*wire.SessionRecord
	for key, record := range m.remote {
		if record.Expired(now) {
			expired = append(expired, record)
			delete(m.remote, key)
		}
	}
	m.mu.Unlock()

	for _, record := range expired {
		m.left.Publish(record)
	}
}
