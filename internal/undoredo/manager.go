// Package undoredo tracks per-transaction undo and redo stacks on top of a
// CRDT document. Stack items record which paths a transaction touched and
// the values on both sides, so an item can be inverted by a later replay
// transaction. A caller-supplied keep predicate prunes items that the
// current document state makes unsafe to reapply, e.g. after a remote
// participant locked the slide an item would edit.
package undoredo

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"

	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/internal/observe"
)

// replayMessage tags commits produced by Undo/Redo replays.
const replayMessage = "net.nordeck.whiteboard.undo_redo"

// maxStackDepth bounds each stack; the oldest item falls off first.
const maxStackDepth = 100

// Entry records one touched path of a transaction.
type Entry struct {
	Props       []any // path into the document (map keys only)
	IsInsertion bool
	IsDeletion  bool
	Before      any
	After       any
}

// StackItem is the undo/redo record of one transaction, plus any context
// metadata the caller attached before the transaction ran.
type StackItem struct {
	Entries []Entry
	context map[string]contextValue
}

type contextValue struct {
	version int
	value   any
}

// KeepFn decides, for a given document snapshot, which stack items remain
// safe to apply later. A nil KeepFn keeps everything.
type KeepFn func(snapshot document.Snapshot) func(item *StackItem) bool

// State is the undo/redo availability derived from stack non-emptiness.
type State struct {
	CanUndo bool
	CanRedo bool
}

// Manager owns the undo and redo stacks of one document. All mutation of
// the document must be routed through Manager.PerformChange, never through
// the document directly, or stack entries will not line up with state.
type Manager struct {
	mu      sync.Mutex
	doc     *document.Document
	keep    KeepFn
	undo    []*StackItem
	redo    []*StackItem
	pending map[string]contextValue
	onPop   map[string][]popHandler

	states    *observe.Subject[State]
	lastState State

	changes *observe.Subscription[document.Snapshot]
	done    chan struct{}
}

type popHandler struct {
	version int
	fn      func(value any)
}

// NewManager creates a manager for doc. Remote merges into doc trigger a
// cleanup pass that drops stack items rejected by the keep predicate.
func NewManager(doc *document.Document, keep KeepFn) *Manager {
	m := &Manager{
		doc:     doc,
		keep:    keep,
		onPop:   make(map[string][]popHandler),
		states:  observe.NewSubject[State](),
		changes: doc.ObserveChanges(),
		done:    make(chan struct{}),
	}
	go m.watchChanges()
	return m
}

// Close stops the cleanup watcher and completes the state stream.
func (m *Manager) Close() {
	close(m.done)
	m.changes.Close()
	m.states.Close()
}

// PerformChange runs fn as one transaction and pushes its undo record.
// Any pending context metadata attaches to the pushed item. A new local
// transaction clears the redo stack.
func (m *Manager) PerformChange(fn document.ChangeFn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, err := m.doc.Project()
	if err != nil {
		return fmt.Errorf("failed to project document: %w", err)
	}
	if err := m.doc.PerformChange(fn); err != nil {
		return err
	}
	after, err := m.doc.Project()
	if err != nil {
		return fmt.Errorf("failed to project document: %w", err)
	}

	entries := diffSnapshots(before, after)
	if len(entries) == 0 {
		return nil
	}

	item := &StackItem{Entries: entries, context: m.pending}
	m.pending = nil
	if filter := m.filterWith(after); filter == nil || filter(item) {
		m.undo = append(m.undo, item)
		if len(m.undo) > maxStackDepth {
			m.undo = m.undo[len(m.undo)-maxStackDepth:]
		}
	}
	m.redo = nil
	m.publishStateLocked()
	return nil
}

// Undo inverts the most recent surviving transaction. Items the keep
// predicate rejects under the current state are dropped, not replayed.
// Undoing with an empty stack is a no-op, never an error.
func (m *Manager) Undo() error {
	return m.replay(&m.undo, &m.redo, invertEntries)
}

// Redo reapplies the most recently undone transaction, mirroring Undo.
func (m *Manager) Redo() error {
	return m.replay(&m.redo, &m.undo, applyEntries)
}

func (m *Manager) replay(from, to *[]*StackItem, apply func([]Entry, *automerge.Doc) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filter := m.currentFilterLocked()
	for len(*from) > 0 {
		item := (*from)[len(*from)-1]
		*from = (*from)[:len(*from)-1]
		if filter != nil && !filter(item) {
			continue
		}

		err := m.doc.PerformChangeWithMessage(replayMessage, func(doc *automerge.Doc) error {
			return apply(item.Entries, doc)
		})
		if err != nil {
			m.publishStateLocked()
			return fmt.Errorf("failed to replay stack item: %w", err)
		}
		m.firePopLocked(item)

		// re-validate against the post-replay state before the item moves
		// to the opposite stack
		if filter := m.currentFilterLocked(); filter == nil || filter(item) {
			*to = append(*to, item)
		}
		break
	}
	m.publishStateLocked()
	return nil
}

// CanUndo reports whether the undo stack holds at least one item.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether the redo stack holds at least one item.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// ObserveState emits on every CanUndo/CanRedo edge.
func (m *Manager) ObserveState() *observe.Subscription[State] {
	return m.states.Subscribe()
}

// SetContext attaches an opaque value to the next pushed stack item under
// the given scope and version. It is retrievable through an OnPop handler
// when that item is later undone or redone.
func (m *Manager) SetContext(scope string, version int, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		m.pending = make(map[string]contextValue)
	}
	m.pending[scope] = contextValue{version: version, value: value}
}

// OnPop registers a handler for context values of the given scope. The
// handler only fires for context recorded under the same version;
// mismatched or missing context is silently ignored, never an error.
func (m *Manager) OnPop(scope string, version int, fn func(value any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPop[scope] = append(m.onPop[scope], popHandler{version: version, fn: fn})
}

// Prune re-validates both stacks against the current document state and
// drops rejected items. It runs automatically after every document change;
// it is exported for callers that need a deterministic cleanup point.
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.currentFilterLocked())
}

func (m *Manager) watchChanges() {
	for {
		select {
		case <-m.done:
			return
		case snapshot, ok := <-m.changes.Events():
			if !ok {
				return
			}
			m.mu.Lock()
			m.pruneLocked(m.filterWith(snapshot))
			m.mu.Unlock()
		}
	}
}

func (m *Manager) pruneLocked(filter func(*StackItem) bool) {
	if filter == nil {
		return
	}
	m.undo = filterItems(m.undo, filter)
	m.redo = filterItems(m.redo, filter)
	m.publishStateLocked()
}

func filterItems(items []*StackItem, filter func(*StackItem) bool) []*StackItem {
	kept := items[:0]
	for _, item := range items {
		if filter(item) {
			kept = append(kept, item)
		}
	}
	return kept
}

func (m *Manager) currentFilterLocked() func(*StackItem) bool {
	snapshot, err := m.doc.Project()
	if err != nil {
		return nil
	}
	return m.filterWith(snapshot)
}

func (m *Manager) filterWith(snapshot document.Snapshot) func(*StackItem) bool {
	if m.keep == nil {
		return nil
	}
	return m.keep(snapshot)
}

func (m *Manager) firePopLocked(item *StackItem) {
	for scope, ctx := range item.context {
		for _, handler := range m.onPop[scope] {
			if handler.version == ctx.version {
				handler.fn(ctx.value)
			}
		}
	}
}

func (m *Manager) publishStateLocked() {
	state := State{CanUndo: len(m.undo) > 0, CanRedo: len(m.redo) > 0}
	if state != m.lastState {
		m.lastState = state
		m.states.Publish(state)
	}
}

// invertEntries applies the inverse of a transaction: insertions are
// removed, deletions restored, and modified paths reset to their prior
// values, in reverse entry order.
func invertEntries(entries []Entry, doc *automerge.Doc) error {
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		switch {
		case entry.IsInsertion:
			if err := deleteAtPath(doc, entry.Props); err != nil {
				return err
			}
		default:
			if err := doc.Path(entry.Props...).Set(entry.Before); err != nil {
				return fmt.Errorf("failed to restore %v: %w", entry.Props, err)
			}
		}
	}
	return nil
}

// applyEntries re-applies a transaction from its recorded after values.
func applyEntries(entries []Entry, doc *automerge.Doc) error {
	for _, entry := range entries {
		switch {
		case entry.IsDeletion:
			if err := deleteAtPath(doc, entry.Props); err != nil {
				return err
			}
		default:
			if err := doc.Path(entry.Props...).Set(entry.After); err != nil {
				return fmt.Errorf("failed to apply %v: %w", entry.Props, err)
			}
		}
	}
	return nil
}

func deleteAtPath(doc *automerge.Doc, props []any) error {
	if len(props) == 0 {
		return fmt.Errorf("cannot delete the document root")
	}
	key, ok := props[len(props)-1].(string)
	if !ok {
		return fmt.Errorf("unexpected path element %v", props[len(props)-1])
	}
	parent := doc.RootMap()
	if len(props) > 1 {
		parent = doc.Path(props[:len(props)-1]...).Map()
	}
	if err := parent.Delete(key); err != nil {
		return fmt.Errorf("failed to delete %v: %w", props, err)
	}
	return nil
}
