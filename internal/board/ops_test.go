package board

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

func TestAddAndRemoveSlides(t *testing.T) {
	doc := newBoard(t)

	fn, slideID := GenerateAddSlide()
	require.NoError(t, doc.PerformChange(fn))

	wb := parseBoard(t, doc)
	require.Equal(t, []string{InitialSlideID, slideID}, wb.SlideIDs)

	require.NoError(t, doc.PerformChange(GenerateRemoveSlide(InitialSlideID)))
	wb = parseBoard(t, doc)
	assert.Equal(t, []string{slideID}, wb.SlideIDs)

	t.Run("the last slide cannot be removed", func(t *testing.T) {
		err := doc.PerformChange(GenerateRemoveSlide(slideID))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLastSlide))
		assert.Equal(t, []string{slideID}, parseBoard(t, doc).SlideIDs)
	})

	t.Run("removing an unknown slide is a no-op", func(t *testing.T) {
		assert.NoError(t, doc.PerformChange(GenerateRemoveSlide("missing")))
	})
}

func TestRemovalsWorkOnRestoredDocument(t *testing.T) {
	// Reordering and removal delete from the id lists, which requires the
	// list objects to be resolved rather than lazily path-bound. A restored
	// snapshot starts with nothing resolved, so it is the strictest case.
	doc := newBoard(t)
	fn, slideID := GenerateAddSlide()
	require.NoError(t, doc.PerformChange(fn))
	fn, elementID := GenerateAddElement(slideID, rectangleAt(3, 4))
	require.NoError(t, doc.PerformChange(fn))

	restored, err := document.Load(doc.Store())
	require.NoError(t, err)
	defer restored.Close()

	require.NoError(t, restored.PerformChange(GenerateMoveSlide(slideID, 0)))
	require.NoError(t, restored.PerformChange(GenerateRemoveElement(slideID, elementID)))
	require.NoError(t, restored.PerformChange(GenerateRemoveSlide(slideID)))

	wb := parseBoard(t, restored)
	assert.Equal(t, []string{InitialSlideID}, wb.SlideIDs)
}

func TestMoveSlide(t *testing.T) {
	doc := newBoard(t)
	fn, s1 := GenerateAddSlide()
	require.NoError(t, doc.PerformChange(fn))
	fn, s2 := GenerateAddSlide()
	require.NoError(t, doc.PerformChange(fn))

	require.NoError(t, doc.PerformChange(GenerateMoveSlide(s2, 0)))
	assert.Equal(t, []string{s2, InitialSlideID, s1}, parseBoard(t, doc).SlideIDs)

	// out-of-range targets clamp instead of failing
	require.NoError(t, doc.PerformChange(GenerateMoveSlide(s2, 99)))
	assert.Equal(t, []string{InitialSlideID, s1, s2}, parseBoard(t, doc).SlideIDs)
}

func TestElementLifecycle(t *testing.T) {
	doc := newBoard(t)

	fn, elementID := GenerateAddElement(InitialSlideID, rectangleAt(0, 1))
	require.NoError(t, doc.PerformChange(fn))

	wb := parseBoard(t, doc)
	slide := wb.Slides[InitialSlideID]
	require.Equal(t, []string{elementID}, slide.ElementIDs)
	assert.Equal(t, wire.Point{X: 0, Y: 1}, slide.Elements[elementID].Position)

	require.NoError(t, doc.PerformChange(GenerateUpdateElement(InitialSlideID, elementID, map[string]any{
		"position": map[string]any{"x": float64(15), "y": float64(100)},
	})))
	wb = parseBoard(t, doc)
	assert.Equal(t, wire.Point{X: 15, Y: 100}, wb.Slides[InitialSlideID].Elements[elementID].Position)

	require.NoError(t, doc.PerformChange(GenerateRemoveElement(InitialSlideID, elementID)))
	wb = parseBoard(t, doc)
	assert.Empty(t, wb.Slides[InitialSlideID].ElementIDs)
	assert.Empty(t, wb.Slides[InitialSlideID].Elements)

	t.Run("updating a removed element is a no-op", func(t *testing.T) {
		assert.NoError(t, doc.PerformChange(GenerateUpdateElement(InitialSlideID, elementID, map[string]any{
			"width": float64(10),
		})))
	})
}

func TestMoveElement(t *testing.T) {
	doc := newBoard(t)
	var ids []string
	for i := 0; i < 3; i++ {
		fn, id := GenerateAddElement(InitialSlideID, rectangleAt(float64(i), 0))
		require.NoError(t, doc.PerformChange(fn))
		ids = append(ids, id)
	}

	require.NoError(t, doc.PerformChange(GenerateMoveElement(InitialSlideID, ids[0], MoveToTop)))
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, parseBoard(t, doc).Slides[InitialSlideID].ElementIDs)

	require.NoError(t, doc.PerformChange(GenerateMoveElement(InitialSlideID, ids[2], MoveDown)))
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, parseBoard(t, doc).Slides[InitialSlideID].ElementIDs)
}

func TestLockForbidsStructuralEdits(t *testing.T) {
	doc := newBoard(t)
	fn, elementID := GenerateAddElement(InitialSlideID, rectangleAt(0, 1))
	require.NoError(t, doc.PerformChange(fn))

	require.NoError(t, doc.PerformChange(GenerateLockSlide(InitialSlideID, "@alice:example.com")))
	wb := parseBoard(t, doc)
	require.True(t, wb.Slides[InitialSlideID].Locked())
	assert.Equal(t, "@alice:example.com", wb.Slides[InitialSlideID].Lock.UserID)

	addFn, _ := GenerateAddElement(InitialSlideID, rectangleAt(2, 2))
	for name, change := range map[string]func() error{
		"add":    func() error { return doc.PerformChange(addFn) },
		"update": func() error { return doc.PerformChange(GenerateUpdateElement(InitialSlideID, elementID, map[string]any{"width": float64(9)})) },
		"remove": func() error { return doc.PerformChange(GenerateRemoveElement(InitialSlideID, elementID)) },
		"move":   func() error { return doc.PerformChange(GenerateMoveElement(InitialSlideID, elementID, MoveToTop)) },
	} {
		err := change()
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrSlideLocked), name)
	}

	require.NoError(t, doc.PerformChange(GenerateUnlockSlide(InitialSlideID)))
	assert.False(t, parseBoard(t, doc).Slides[InitialSlideID].Locked())
	require.NoError(t, doc.PerformChange(GenerateUpdateElement(InitialSlideID, elementID, map[string]any{"width": float64(9)})))
}
