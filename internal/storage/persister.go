package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

// SnapshotPersister mirrors a document's state to the local cache and the
// host's state store. Local commits are debounced so bursts of edits produce
// one snapshot; a failed host write is retried on a fixed interval while the
// persister is online, with single-flight protection so retries never
// overlap.
type SnapshotPersister struct {
	doc        *document.Document
	store      *Store
	state      host.StateStore
	documentID string
	userID     string
	debounce   time.Duration
	retryEvery time.Duration

	mu       sync.Mutex
	online   bool
	pending  bool // snapshot write outstanding after a failure
	inFlight bool
	closed   bool

	debTimer   *time.Timer
	retryTimer *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSnapshotPersister starts persisting doc. The persister begins online;
// use SetOnline to pause host writes while the client is offline. Caller
// must Close it to stop the timers.
func NewSnapshotPersister(doc *document.Document, store *Store, state host.StateStore, documentID, userID string, debounce, retryEvery time.Duration) (*SnapshotPersister, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID cannot be empty")
	}
	if debounce <= 0 || retryEvery <= 0 {
		return nil, fmt.Errorf("debounce and retry intervals must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &SnapshotPersister{
		doc:        doc,
		store:      store,
		state:      state,
		documentID: documentID,
		userID:     userID,
		debounce:   debounce,
		retryEvery: retryEvery,
		online:     true,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go p.watch(ctx)
	return p, nil
}

// SetOnline flips host-write availability. Going online with a failed write
// outstanding persists immediately.
func (p *SnapshotPersister) SetOnline(online bool) {
	p.mu.Lock()
	p.online = online
	retry := online && p.pending && !p.inFlight
	if !online && p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.mu.Unlock()

	if retry {
		go p.persist()
	}
}

// Close stops the debounce and retry timers and the observation loop. A
// snapshot that was still debouncing is dropped; Close is teardown, not
// flush.
func (p *SnapshotPersister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.debTimer != nil {
		p.debTimer.Stop()
		p.debTimer = nil
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.mu.Unlock()

	p.cancel()
	<-p.done
}

// watch arms the debounce timer on every local commit.
func (p *SnapshotPersister) watch(ctx context.Context) {
	defer close(p.done)

	sub := p.doc.ObservePersist()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return
			}
			if p.debTimer == nil {
				p.debTimer = time.AfterFunc(p.debounce, p.debounceFired)
			}
			p.mu.Unlock()
		}
	}
}

func (p *SnapshotPersister) debounceFired() {
	p.mu.Lock()
	p.debTimer = nil
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.persist()
}

// persist writes the current snapshot locally and to the host. Only one
// attempt runs at a time; a host failure marks the write pending and arms
// the retry timer.
func (p *SnapshotPersister) persist() {
	p.mu.Lock()
	if p.inFlight || p.closed {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	data := p.doc.Store()

	if p.store != nil {
		if err := p.store.Store(p.documentID, data); err != nil {
			slog.Warn("failed to cache document locally", "documentId", p.documentID, "error", err)
		}
	}

	var hostErr error
	p.mu.Lock()
	online := p.online
	p.mu.Unlock()
	if online {
		hostErr = p.writeHostSnapshot(data)
	} else {
		hostErr = fmt.Errorf("offline")
	}

	p.mu.Lock()
	p.inFlight = false
	if hostErr != nil {
		p.pending = true
		if !p.closed && p.online && p.retryTimer == nil {
			p.retryTimer = time.AfterFunc(p.retryEvery, p.retryFired)
		}
	} else {
		p.pending = false
		if p.retryTimer != nil {
			p.retryTimer.Stop()
			p.retryTimer = nil
		}
	}
	p.mu.Unlock()

	if hostErr != nil {
		slog.Warn("failed to persist snapshot to host", "documentId", p.documentID, "error", hostErr)
	}
}

func (p *SnapshotPersister) retryFired() {
	p.mu.Lock()
	p.retryTimer = nil
	closed := p.closed
	p.mu.Unlock()

	if !closed {
		p.persist()
	}
}

// writeHostSnapshot stores the full snapshot as one state event.
func (p *SnapshotPersister) writeHostSnapshot(data []byte) error {
	content, err := json.Marshal(&wire.DocumentSnapshot{
		DocumentID: p.documentID,
		Data:       base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return p.state.PutState(ctx, &host.StateEvent{
		Type:     wire.EventDocumentSnapshot,
		StateKey: p.documentID,
		Sender:   p.userID,
		OriginTS: time.Now().UnixMilli(),
		Content:  content,
	})
}

// LoadHostSnapshot fetches and decodes the latest persisted snapshot for a
// document, or nil if none exists.
func LoadHostSnapshot(ctx context.Context, state host.StateStore, documentID string) ([]byte, error) {
	ev, err := state.GetState(ctx, wire.EventDocumentSnapshot, documentID)
	if err != nil {
		if host.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot event: %w", err)
	}

	snapshot, err := wire.ParseDocumentSnapshot(ev.Content)
	if err != nil {
		return nil, fmt.Errorf("malformed snapshot event: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(snapshot.Data)
	if err != nil {
		return nil, fmt.Errorf("malformed snapshot data: %w", err)
	}
	return data, nil
}
