package board

import (
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-im/inkwell/pkg/wire"
)

func TestValidateSnapshotRejectsPrototypePollutingIds(t *testing.T) {
	for _, key := range []string{"__proto__", "constructor", "prototype"} {
		t.Run(key, func(t *testing.T) {
			doc := newBoard(t)
			require.NoError(t, doc.PerformChange(func(d *automerge.Doc) error {
				if err := d.Path(RootKey, "slides", InitialSlideID, "elements", key).Set(rectangleAt(0, 0).ToValue()); err != nil {
					return err
				}
				return d.Path(RootKey, "slides", InitialSlideID, "elementIds").List().Append(key)
			}))
			assert.False(t, IsValidDocument(doc))
		})
	}
}

func TestValidateSnapshotRejectsDanglingElementIds(t *testing.T) {
	doc := newBoard(t)
	require.NoError(t, doc.PerformChange(func(d *automerge.Doc) error {
		return d.Path(RootKey, "slides", InitialSlideID, "elementIds").List().Append("no-such-element")
	}))
	assert.False(t, IsValidDocument(doc))
}

func TestValidateSnapshotRejectsUnlistedElements(t *testing.T) {
	doc := newBoard(t)
	require.NoError(t, doc.PerformChange(func(d *automerge.Doc) error {
		return d.Path(RootKey, "slides", InitialSlideID, "elements", "orphan").Set(rectangleAt(0, 0).ToValue())
	}))
	assert.False(t, IsValidDocument(doc))
}

func TestValidateSnapshotRejectsEmptySlideList(t *testing.T) {
	doc := newBoard(t)
	require.NoError(t, doc.PerformChange(func(d *automerge.Doc) error {
		return d.Path(RootKey, "slideIds").Set([]any{})
	}))
	assert.False(t, IsValidDocument(doc))
}

func TestValidateSnapshotRejectsMalformedElements(t *testing.T) {
	cases := map[string]map[string]any{
		"missing type": {"position": map[string]any{"x": float64(0), "y": float64(0)}},
		"unknown type": {"type": "scribble", "position": map[string]any{"x": float64(0), "y": float64(0)}},
		"shape without width": {
			"type": ElementTypeShape, "kind": ShapeKindEllipse,
			"position": map[string]any{"x": float64(0), "y": float64(0)},
			"height":   float64(10), "fillColor": "#fff",
		},
		"shape with bogus kind": {
			"type": ElementTypeShape, "kind": "decagon",
			"position": map[string]any{"x": float64(0), "y": float64(0)},
			"width":    float64(10), "height": float64(10), "fillColor": "#fff",
		},
		"path without points": {
			"type": ElementTypePath, "kind": PathKindLine,
			"position":    map[string]any{"x": float64(0), "y": float64(0)},
			"strokeColor": "#000",
		},
	}
	for name, element := range cases {
		t.Run(name, func(t *testing.T) {
			doc := newBoard(t)
			require.NoError(t, doc.PerformChange(func(d *automerge.Doc) error {
				if err := d.Path(RootKey, "slides", InitialSlideID, "elements", "el").Set(element); err != nil {
					return err
				}
				return d.Path(RootKey, "slides", InitialSlideID, "elementIds").List().Append("el")
			}))
			assert.False(t, IsValidDocument(doc))
		})
	}
}

func TestIsValidSnapshotRejectsGarbageBytes(t *testing.T) {
	assert.False(t, IsValidSnapshot([]byte("not an automerge document")))
}

func TestValidElementVariants(t *testing.T) {
	doc := newBoard(t)
	elements := []*Element{
		rectangleAt(0, 0),
		{Type: ElementTypePath, Kind: PathKindPolyline, StrokeColor: "#000",
			Points: []wire.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 0}}},
		{Type: ElementTypeImage, Width: 40, Height: 40, FileName: "cat.png", MXC: "mxc://example.com/abc123"},
		{Type: ElementTypeFrame, Width: 200, Height: 120},
	}
	for _, element := range elements {
		fn, _ := GenerateAddElement(InitialSlideID, element)
		require.NoError(t, doc.PerformChange(fn))
	}
	assert.True(t, IsValidDocument(doc))
}
