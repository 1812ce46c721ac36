package board

import (
	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/internal/undoredo"
)

// KeepUndoRedoItem is the whiteboard's keep predicate for undo/redo stack
// items. An item survives unless the current document state makes replaying
// it unsafe:
//
//   - items touching a locked slide are dropped, except when the item's own
//     edits are exactly the lock or unlock of that slide;
//   - items deleting a slide are dropped while the document is down to its
//     last slide, except when the same item also inserts a replacement.
//
// A snapshot that fails to parse keeps everything; pruning history is worse
// than holding it through a transient invalid projection.
func KeepUndoRedoItem(snapshot document.Snapshot) func(item *undoredo.StackItem) bool {
	wb, err := ParseSnapshot(snapshot)
	if err != nil {
		return func(*undoredo.StackItem) bool { return true }
	}

	return func(item *undoredo.StackItem) bool {
		if deletesSlide(item) && !insertsSlide(item) && len(wb.SlideIDs) <= 1 {
			return false
		}
		for _, entry := range item.Entries {
			slideID := slideOf(entry.Props)
			if slideID == "" || !wb.Slides[slideID].Locked() {
				continue
			}
			if !onlyLockEdits(item, slideID) {
				return false
			}
		}
		return true
	}
}

// slideOf extracts the slide id a path touches, or "".
func slideOf(props []any) string {
	if len(props) < 3 || props[0] != RootKey || props[1] != "slides" {
		return ""
	}
	slideID, _ := props[2].(string)
	return slideID
}

// isLockPath reports whether a path addresses a slide's lock field.
func isLockPath(props []any) bool {
	return len(props) >= 4 && props[3] == "lock"
}

// onlyLockEdits reports whether every entry of the item touching slideID is
// an edit of its lock field.
func onlyLockEdits(item *undoredo.StackItem, slideID string) bool {
	for _, entry := range item.Entries {
		if slideOf(entry.Props) == slideID && !isLockPath(entry.Props) {
			return false
		}
	}
	return true
}

// deletesSlide reports whether the item removes a whole slide.
func deletesSlide(item *undoredo.StackItem) bool {
	for _, entry := range item.Entries {
		if entry.IsDeletion && isWholeSlidePath(entry.Props) {
			return true
		}
	}
	return false
}

// insertsSlide reports whether the item supplies a new slide.
func insertsSlide(item *undoredo.StackItem) bool {
	for _, entry := range item.Entries {
		if entry.IsInsertion && isWholeSlidePath(entry.Props) {
			return true
		}
	}
	return false
}

func isWholeSlidePath(props []any) bool {
	return len(props) == 3 && props[0] == RootKey && props[1] == "slides"
}
