// Package document wraps an automerge CRDT document behind the transactional
// mutation, observation, and snapshot contract the whiteboard core is built
// on. All state shared between participants lives in one Document; merging
// any two documents descended from the same migration chain is commutative,
// associative, and idempotent by construction.
package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"

	"github.com/inkwell-im/inkwell/internal/observe"
)

// Snapshot is a plain-value projection of the full document state, emitted
// once per completed transaction. Maps, slices, strings, float64 and bool
// only; it is safe to hand to other goroutines.
type Snapshot map[string]any

// ChangeFn mutates the document root inside one transaction. Everything a
// single ChangeFn does is atomic with respect to observers: one change
// notification, one published delta, one undo stack item.
type ChangeFn func(doc *automerge.Doc) error

// Document is a replicated, mergeable document. Transactions on one
// Document are strictly serialized; merges arriving from multiple remote
// sources are applied one at a time in arrival order, which does not affect
// the converged result.
type Document struct {
	mu  sync.Mutex
	doc *automerge.Doc

	changes   *observe.Subject[Snapshot]
	publishes *observe.Subject[[]byte]
	persists  *observe.Subject[*Document]
}

// New creates an empty document.
func New() *Document {
	return newDocument(automerge.New())
}

// Load restores a document from a binary snapshot produced by Store.
func Load(snapshot []byte) (*Document, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to load document snapshot: %w", err)
	}
	return newDocument(doc), nil
}

func newDocument(doc *automerge.Doc) *Document {
	return &Document{
		doc:       doc,
		changes:   observe.NewSubject[Snapshot](),
		publishes: observe.NewSubject[[]byte](),
		persists:  observe.NewSubject[*Document](),
	}
}

// PerformChange runs fn against the document inside a single transaction.
// fn is first applied to a private fork so that a failing fn leaves the
// document untouched; on success the fork's changes land as one commit.
func (d *Document) PerformChange(fn ChangeFn) error {
	return d.PerformChangeWithMessage("", fn)
}

// PerformChangeWithMessage is PerformChange with a commit message. The undo
// manager uses the message to tag its own replay transactions.
func (d *Document) PerformChangeWithMessage(message string, fn ChangeFn) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := d.doc.Heads()
	fork, err := d.doc.Fork()
	if err != nil {
		return fmt.Errorf("failed to fork document: %w", err)
	}
	if err := fn(fork); err != nil {
		return fmt.Errorf("change failed: %w", err)
	}
	if _, err := fork.Commit(message); err != nil {
		return fmt.Errorf("failed to commit change: %w", err)
	}
	changes, err := fork.Changes(before...)
	if err != nil {
		return fmt.Errorf("failed to collect changes: %w", err)
	}
	if len(changes) == 0 {
		// nothing was modified, observers stay quiet
		return nil
	}
	if err := d.doc.Apply(changes...); err != nil {
		return fmt.Errorf("failed to apply change: %w", err)
	}

	d.notifyLocked(true)
	return nil
}

// MergeFrom merges a binary snapshot or delta produced by another document
// of the same migration chain. Corrupt input fails the merge and leaves the
// document in its pre-merge state. Merging already-known changes is a no-op.
func (d *Document) MergeFrom(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// LoadIncremental buffers bytes it cannot decode instead of failing,
	// so malformed input must be rejected before it reaches the document
	if err := validateChunks(data); err != nil {
		return fmt.Errorf("failed to merge document data: %w", err)
	}

	// rehearse the payload on a fork first so a malformed blob can never
	// partially apply to the live document
	fork, err := d.doc.Fork()
	if err != nil {
		return fmt.Errorf("failed to fork document: %w", err)
	}
	if err := fork.LoadIncremental(data); err != nil {
		return fmt.Errorf("failed to merge document data: %w", err)
	}

	before := d.doc.Heads()
	if err := d.doc.LoadIncremental(data); err != nil {
		return fmt.Errorf("failed to merge document data: %w", err)
	}
	if headsEqual(before, d.doc.Heads()) {
		return nil
	}

	d.notifyLocked(false)
	return nil
}

// Store produces a full binary snapshot of the current state. The bytes are
// opaque to callers and round-trip losslessly through Load / MergeFrom.
func (d *Document) Store() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

// Clone produces an independent document pre-populated with the same state.
// Changes to the clone never affect the original; tests and the undo
// manager use clones to derive what a remote peer would observe.
func (d *Document) Clone() (*Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fork, err := d.doc.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}
	return newDocument(fork), nil
}

// Project returns the plain-value projection of the current state.
func (d *Document) Project() (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.projectLocked()
}

// ObserveChanges emits a full snapshot once per completed transaction,
// local or merged-remote.
func (d *Document) ObserveChanges() *observe.Subscription[Snapshot] {
	return d.changes.Subscribe()
}

// ObservePublish emits the binary delta of each local transaction, suitable
// for broadcasting to peers.
func (d *Document) ObservePublish() *observe.Subscription[[]byte] {
	return d.publishes.Subscribe()
}

// ObservePersist fires after every local transaction; subscribers debounce
// and persist a snapshot.
func (d *Document) ObservePersist() *observe.Subscription[*Document] {
	return d.persists.Subscribe()
}

// Close completes all observation streams. The document itself remains
// readable.
func (d *Document) Close() {
	d.changes.Close()
	d.publishes.Close()
	d.persists.Close()
}

// notifyLocked publishes observer events for a completed transaction.
// Callers hold d.mu.
func (d *Document) notifyLocked(local bool) {
	if local {
		d.publishes.Publish(d.doc.SaveIncremental())
		d.persists.Publish(d)
	} else {
		// keep the incremental cursor moving so the next local delta does
		// not re-carry remote changes the peers already know
		d.doc.SaveIncremental()
	}
	if snapshot, err := d.projectLocked(); err == nil {
		d.changes.Publish(snapshot)
	}
}

func (d *Document) projectLocked() (Snapshot, error) {
	root, err := projectMap(d.doc.RootMap())
	if err != nil {
		return nil, fmt.Errorf("failed to project document: %w", err)
	}
	return root, nil
}

// chunkMagic opens every serialized chunk: document, change or compressed
// change.
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

// chunkHeaderLen is magic (4) plus checksum (4) plus chunk type (1); the
// uleb128 data length follows.
const chunkHeaderLen = 9

// validateChunks checks that data is a sequence of complete, well-formed
// chunks. Content errors inside a chunk are still caught downstream; this
// rejects garbage, truncation and trailing junk.
func validateChunks(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	for offset := 0; offset < len(data); {
		rest := data[offset:]
		if len(rest) < chunkHeaderLen+1 {
			return fmt.Errorf("truncated chunk header at offset %d", offset)
		}
		if !bytes.Equal(rest[:4], chunkMagic) {
			return fmt.Errorf("bad chunk magic at offset %d", offset)
		}
		if chunkType := rest[8]; chunkType > 2 {
			return fmt.Errorf("unknown chunk type %d at offset %d", chunkType, offset)
		}
		length, n := binary.Uvarint(rest[chunkHeaderLen:])
		if n <= 0 || length > uint64(len(data)) {
			return fmt.Errorf("bad chunk length at offset %d", offset)
		}
		end := offset + chunkHeaderLen + n + int(length)
		if end > len(data) {
			return fmt.Errorf("truncated chunk at offset %d", offset)
		}
		offset = end
	}
	return nil
}

func headsEqual(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
