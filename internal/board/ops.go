package board

import (
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"

	"github.com/inkwell-im/inkwell/internal/document"
)

// ErrSlideLocked rejects structural edits to a locked slide. The check
// lives above the CRDT layer: the merge operator itself never refuses
// anything.
var ErrSlideLocked = fmt.Errorf("slide is locked")

// ErrLastSlide rejects removing the only remaining slide.
var ErrLastSlide = fmt.Errorf("cannot remove the last slide")

// MoveOp reorders an element within its slide.
type MoveOp int

const (
	MoveUp MoveOp = iota
	MoveDown
	MoveToTop
	MoveToBottom
)

// GenerateAddSlide returns a change appending a new empty slide, plus the
// freshly generated slide id.
func GenerateAddSlide() (document.ChangeFn, string) {
	slideID := generateID()
	fn := func(doc *automerge.Doc) error {
		err := doc.Path(RootKey, "slides", slideID).Set(map[string]any{
			"elementIds": []any{},
			"elements":   map[string]any{},
		})
		if err != nil {
			return fmt.Errorf("failed to create slide: %w", err)
		}
		if err := doc.Path(RootKey, "slideIds").List().Append(slideID); err != nil {
			return fmt.Errorf("failed to append slide id: %w", err)
		}
		return nil
	}
	return fn, slideID
}

// GenerateRemoveSlide returns a change deleting a slide and its elements.
// Removing the last remaining slide is refused.
func GenerateRemoveSlide(slideID string) document.ChangeFn {
	return func(doc *automerge.Doc) error {
		ids, err := listAt(doc, RootKey, "slideIds")
		if err != nil {
			return err
		}
		index, err := indexOf(ids, slideID)
		if err != nil {
			return err
		}
		if index < 0 {
			return nil
		}
		if ids.Len() <= 1 {
			return ErrLastSlide
		}
		if err := ids.Delete(index); err != nil {
			return fmt.Errorf("failed to remove slide id: %w", err)
		}
		if err := doc.Path(RootKey, "slides").Map().Delete(slideID); err != nil {
			return fmt.Errorf("failed to remove slide: %w", err)
		}
		return nil
	}
}

// GenerateMoveSlide returns a change moving a slide to the given position
// in the slide order. The target index is clamped to the valid range.
func GenerateMoveSlide(slideID string, to int) document.ChangeFn {
	return func(doc *automerge.Doc) error {
		ids, err := listAt(doc, RootKey, "slideIds")
		if err != nil {
			return err
		}
		index, err := indexOf(ids, slideID)
		if err != nil {
			return err
		}
		if index < 0 {
			return nil
		}
		target := clamp(to, 0, ids.Len()-1)
		if target == index {
			return nil
		}
		if err := ids.Delete(index); err != nil {
			return fmt.Errorf("failed to move slide: %w", err)
		}
		if err := ids.Insert(target, slideID); err != nil {
			return fmt.Errorf("failed to move slide: %w", err)
		}
		return nil
	}
}

// GenerateAddElement returns a change adding an element to a slide, plus
// the freshly generated element id.
func GenerateAddElement(slideID string, element *Element) (document.ChangeFn, string) {
	elementID := generateID()
	fn := func(doc *automerge.Doc) error {
		if err := requireUnlockedSlide(doc, slideID); err != nil {
			return err
		}
		err := doc.Path(RootKey, "slides", slideID, "elements", elementID).Set(element.ToValue())
		if err != nil {
			return fmt.Errorf("failed to add element: %w", err)
		}
		if err := doc.Path(RootKey, "slides", slideID, "elementIds").List().Append(elementID); err != nil {
			return fmt.Errorf("failed to append element id: %w", err)
		}
		return nil
	}
	return fn, elementID
}

// GenerateUpdateElement returns a change patching individual element
// attributes. Updating an element that no longer exists is a no-op, so a
// late update racing a remote removal does not fail the transaction.
func GenerateUpdateElement(slideID, elementID string, patch map[string]any) document.ChangeFn {
	return func(doc *automerge.Doc) error {
		if err := requireUnlockedSlide(doc, slideID); err != nil {
			return err
		}
		if !isMapAt(doc, RootKey, "slides", slideID, "elements", elementID) {
			return nil
		}
		keys := make([]string, 0, len(patch))
		for key := range patch {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			err := doc.Path(RootKey, "slides", slideID, "elements", elementID, key).Set(patch[key])
			if err != nil {
				return fmt.Errorf("failed to update element %q: %w", key, err)
			}
		}
		return nil
	}
}

// GenerateRemoveElement returns a change removing an element from a slide.
func GenerateRemoveElement(slideID, elementID string) document.ChangeFn {
	return func(doc *automerge.Doc) error {
		if err := requireUnlockedSlide(doc, slideID); err != nil {
			return err
		}
		ids, err := listAt(doc, RootKey, "slides", slideID, "elementIds")
		if err != nil {
			return err
		}
		index, err := indexOf(ids, elementID)
		if err != nil {
			return err
		}
		if index < 0 {
			return nil
		}
		if err := ids.Delete(index); err != nil {
			return fmt.Errorf("failed to remove element id: %w", err)
		}
		if err := doc.Path(RootKey, "slides", slideID, "elements").Map().Delete(elementID); err != nil {
			return fmt.Errorf("failed to remove element: %w", err)
		}
		return nil
	}
}

// GenerateMoveElement returns a change reordering an element within its
// slide's stacking order.
func GenerateMoveElement(slideID, elementID string, op MoveOp) document.ChangeFn {
	return func(doc *automerge.Doc) error {
		if err := requireUnlockedSlide(doc, slideID); err != nil {
			return err
		}
		ids, err := listAt(doc, RootKey, "slides", slideID, "elementIds")
		if err != nil {
			return err
		}
		index, err := indexOf(ids, elementID)
		if err != nil {
			return err
		}
		if index < 0 {
			return nil
		}
		target := index
		switch op {
		case MoveUp:
			target = index + 1
		case MoveDown:
			target = index - 1
		case MoveToTop:
			target = ids.Len() - 1
		case MoveToBottom:
			target = 0
		}
		target = clamp(target, 0, ids.Len()-1)
		if target == index {
			return nil
		}
		if err := ids.Delete(index); err != nil {
			return fmt.Errorf("failed to move element: %w", err)
		}
		if err := ids.Insert(target, elementID); err != nil {
			return fmt.Errorf("failed to move element: %w", err)
		}
		return nil
	}
}

// GenerateLockSlide returns a change locking a slide for the given user.
// Re-locking an already-locked slide is last-writer-wins on the lock field.
func GenerateLockSlide(slideID, userID string) document.ChangeFn {
	return func(doc *automerge.Doc) error {
		if !isMapAt(doc, RootKey, "slides", slideID) {
			return nil
		}
		err := doc.Path(RootKey, "slides", slideID, "lock").Set(map[string]any{"userId": userID})
		if err != nil {
			return fmt.Errorf("failed to lock slide: %w", err)
		}
		return nil
	}
}

// GenerateUnlockSlide returns a change removing a slide's lock.
func GenerateUnlockSlide(slideID string) document.ChangeFn {
	return func(doc *automerge.Doc) error {
		if !isMapAt(doc, RootKey, "slides", slideID, "lock") {
			return nil
		}
		if err := doc.Path(RootKey, "slides", slideID).Map().Delete("lock"); err != nil {
			return fmt.Errorf("failed to unlock slide: %w", err)
		}
		return nil
	}
}

func requireUnlockedSlide(doc *automerge.Doc, slideID string) error {
	if !isMapAt(doc, RootKey, "slides", slideID) {
		return fmt.Errorf("slide %q does not exist", slideID)
	}
	if isMapAt(doc, RootKey, "slides", slideID, "lock") {
		return fmt.Errorf("%w: %s", ErrSlideLocked, slideID)
	}
	return nil
}

func isMapAt(doc *automerge.Doc, path ...any) bool {
	value, err := doc.Path(path...).Get()
	return err == nil && value.Kind() == automerge.KindMap
}

// listAt resolves the concrete list object at path. Path-backed lists only
// bind to their object on write, so Delete and Insert need the resolved
// value.
func listAt(doc *automerge.Doc, path ...any) (*automerge.List, error) {
	value, err := doc.Path(path...).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read id list: %w", err)
	}
	if value.Kind() != automerge.KindList {
		return nil, fmt.Errorf("no id list at %q", fmt.Sprint(path...))
	}
	return value.List(), nil
}

// indexOf returns the position of s in an ordered id list, or -1.
func indexOf(list *automerge.List, s string) (int, error) {
	values, err := list.Values()
	if err != nil {
		return -1, fmt.Errorf("failed to read id list: %w", err)
	}
	for i, value := range values {
		if value.Kind() == automerge.KindStr && value.Str() == s {
			return i, nil
		}
	}
	return -1, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
