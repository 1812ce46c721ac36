// Package board imposes the whiteboard domain schema on the generic CRDT
// document: slides holding ordered elements, slide locks, content
// validation, the lock-aware undo keep predicate, and the export envelope.
//
// The document tree is rooted at the versioned RootKey and has the shape
//
//	{ <RootKey>: {
//	    slideIds: [slideId, ...],
//	    slides: { slideId: {
//	        elementIds: [elementId, ...],
//	        elements:   { elementId: element },
//	        lock?:      { userId },
//	    }},
//	}}
//
// where elementIds is always a permutation-consistent index into elements.
package board

import (
	"fmt"

	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

// Element type tags.
const (
	ElementTypeShape = "shape"
	ElementTypePath  = "path"
	ElementTypeImage = "image"
	ElementTypeFrame = "frame"
)

// Shape kinds.
const (
	ShapeKindRectangle = "rectangle"
	ShapeKindEllipse   = "ellipse"
	ShapeKindTriangle  = "triangle"
)

// Path kinds.
const (
	PathKindLine     = "line"
	PathKindPolyline = "polyline"
)

// Element is the tagged variant stored per element id. Which fields are
// meaningful depends on Type; ToValue and parseElement define the exact
// wire shape per variant.
type Element struct {
	Type     string
	Kind     string
	Position wire.Point
	Width    float64
	Height   float64

	// shape
	FillColor string
	Text      string

	// path
	Points      []wire.Point
	StrokeColor string

	// image
	FileName string
	MXC      string
}

// Lock marks a slide as locked by one user; while present, structural
// edits to the slide's elements are refused above the CRDT layer.
type Lock struct {
	UserID string
}

// Slide is one whiteboard slide.
type Slide struct {
	ElementIDs []string
	Elements   map[string]*Element
	Lock       *Lock
}

// Locked reports whether the slide carries a lock.
func (s *Slide) Locked() bool {
	return s != nil && s.Lock != nil
}

// Whiteboard is the typed projection of a whiteboard document.
type Whiteboard struct {
	SlideIDs []string
	Slides   map[string]*Slide
}

// ToValue renders the element as the plain map stored in the document.
func (e *Element) ToValue() map[string]any {
	out := map[string]any{
		"type":     e.Type,
		"position": map[string]any{"x": e.Position.X, "y": e.Position.Y},
	}
	switch e.Type {
	case ElementTypeShape:
		out["kind"] = e.Kind
		out["width"] = e.Width
		out["height"] = e.Height
		out["fillColor"] = e.FillColor
		out["text"] = e.Text
	case ElementTypePath:
		out["kind"] = e.Kind
		out["strokeColor"] = e.StrokeColor
		points := make([]any, 0, len(e.Points))
		for _, p := range e.Points {
			points = append(points, map[string]any{"x": p.X, "y": p.Y})
		}
		out["points"] = points
	case ElementTypeImage:
		out["width"] = e.Width
		out["height"] = e.Height
		out["fileName"] = e.FileName
		out["mxc"] = e.MXC
	case ElementTypeFrame:
		out["width"] = e.Width
		out["height"] = e.Height
	}
	return out
}

// ParseSnapshot converts a document projection into the typed whiteboard
// model. It fails on any structural violation, including dangling element
// ids and an empty slide list.
func ParseSnapshot(snapshot document.Snapshot) (*Whiteboard, error) {
	rootValue, ok := snapshot[RootKey]
	if !ok {
		return nil, fmt.Errorf("document has no %q root", RootKey)
	}
	root, ok := rootValue.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("root %q is not an object", RootKey)
	}

	slideIDs, err := stringList(root["slideIds"])
	if err != nil {
		return nil, fmt.Errorf("slideIds: %w", err)
	}
	if len(slideIDs) == 0 {
		return nil, fmt.Errorf("a whiteboard must contain at least one slide")
	}

	slidesRaw, ok := root["slides"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("slides is not an object")
	}

	wb := &Whiteboard{SlideIDs: slideIDs, Slides: make(map[string]*Slide, len(slideIDs))}
	for _, slideID := range slideIDs {
		if err := validKey(slideID); err != nil {
			return nil, fmt.Errorf("slide id: %w", err)
		}
		slideRaw, ok := slidesRaw[slideID].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("slide %q listed in slideIds does not exist", slideID)
		}
		slide, err := parseSlide(slideRaw)
		if err != nil {
			return nil, fmt.Errorf("slide %q: %w", slideID, err)
		}
		wb.Slides[slideID] = slide
	}
	for key := range slidesRaw {
		if err := validKey(key); err != nil {
			return nil, fmt.Errorf("slide id: %w", err)
		}
		if _, ok := wb.Slides[key]; !ok {
			return nil, fmt.Errorf("slide %q is not referenced by slideIds", key)
		}
	}
	return wb, nil
}

func parseSlide(raw map[string]any) (*Slide, error) {
	elementIDs, err := stringList(raw["elementIds"])
	if err != nil {
		return nil, fmt.Errorf("elementIds: %w", err)
	}
	elementsRaw, ok := raw["elements"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("elements is not an object")
	}

	slide := &Slide{ElementIDs: elementIDs, Elements: make(map[string]*Element, len(elementIDs))}
	for _, elementID := range elementIDs {
		if err := validKey(elementID); err != nil {
			return nil, fmt.Errorf("element id: %w", err)
		}
		elementRaw, ok := elementsRaw[elementID].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %q listed in elementIds does not exist", elementID)
		}
		element, err := parseElement(elementRaw)
		if err != nil {
			return nil, fmt.Errorf("element %q: %w", elementID, err)
		}
		slide.Elements[elementID] = element
	}
	for key := range elementsRaw {
		if err := validKey(key); err != nil {
			return nil, fmt.Errorf("element id: %w", err)
		}
		if _, ok := slide.Elements[key]; !ok {
			return nil, fmt.Errorf("element %q is not referenced by elementIds", key)
		}
	}

	if lockRaw, ok := raw["lock"]; ok {
		lock, ok := lockRaw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("lock is not an object")
		}
		userID, ok := lock["userId"].(string)
		if !ok {
			return nil, fmt.Errorf("lock has no userId")
		}
		slide.Lock = &Lock{UserID: userID}
	}
	return slide, nil
}

func parseElement(raw map[string]any) (*Element, error) {
	if err := checkElementValue(raw); err != nil {
		return nil, err
	}

	element := &Element{}
	element.Type, _ = raw["type"].(string)
	element.Kind, _ = raw["kind"].(string)
	if pos, ok := raw["position"].(map[string]any); ok {
		element.Position.X, _ = pos["x"].(float64)
		element.Position.Y, _ = pos["y"].(float64)
	}
	element.Width, _ = raw["width"].(float64)
	element.Height, _ = raw["height"].(float64)
	element.FillColor, _ = raw["fillColor"].(string)
	element.Text, _ = raw["text"].(string)
	element.StrokeColor, _ = raw["strokeColor"].(string)
	element.FileName, _ = raw["fileName"].(string)
	element.MXC, _ = raw["mxc"].(string)
	if points, ok := raw["points"].([]any); ok {
		for _, pointRaw := range points {
			point, ok := pointRaw.(map[string]any)
			if !ok {
				continue
			}
			x, _ := point["x"].(float64)
			y, _ := point["y"].(float64)
			element.Points = append(element.Points, wire.Point{X: x, Y: y})
		}
	}
	return element, nil
}

func stringList(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("entry %d is not a string", i)
		}
		out = append(out, str)
	}
	return out, nil
}
