package board

import (
	"fmt"
	"log/slog"

	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

// forbiddenKeys are ids that must never be accepted as slide or element
// keys. A document containing them deserializes fine as a CRDT merge but
// would poison consumers that index objects by these names.
var forbiddenKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

func validKey(id string) error {
	if id == "" {
		return fmt.Errorf("empty id")
	}
	if forbiddenKeys[id] {
		return fmt.Errorf("forbidden id %q", id)
	}
	return nil
}

var pointSchema = &wire.Schema{
	Fields: []wire.Field{
		{Name: "x", Kind: wire.KindNumber, Required: true},
		{Name: "y", Kind: wire.KindNumber, Required: true},
	},
}

var shapeElementSchema = &wire.Schema{
	Name: "shape",
	Fields: []wire.Field{
		{Name: "type", Kind: wire.KindString, Required: true, Enum: []string{ElementTypeShape}},
		{Name: "kind", Kind: wire.KindString, Required: true, Enum: []string{ShapeKindRectangle, ShapeKindEllipse, ShapeKindTriangle}},
		{Name: "position", Kind: wire.KindObject, Required: true, Nested: pointSchema},
		{Name: "width", Kind: wire.KindNumber, Required: true},
		{Name: "height", Kind: wire.KindNumber, Required: true},
		{Name: "fillColor", Kind: wire.KindString, Required: true},
		{Name: "text", Kind: wire.KindString},
	},
}

var pathElementSchema = &wire.Schema{
	Name: "path",
	Fields: []wire.Field{
		{Name: "type", Kind: wire.KindString, Required: true, Enum: []string{ElementTypePath}},
		{Name: "kind", Kind: wire.KindString, Required: true, Enum: []string{PathKindLine, PathKindPolyline}},
		{Name: "position", Kind: wire.KindObject, Required: true, Nested: pointSchema},
		{Name: "strokeColor", Kind: wire.KindString, Required: true},
		{Name: "points", Kind: wire.KindArray, Required: true, Element: pointSchema},
	},
}

var imageElementSchema = &wire.Schema{
	Name: "image",
	Fields: []wire.Field{
		{Name: "type", Kind: wire.KindString, Required: true, Enum: []string{ElementTypeImage}},
		{Name: "position", Kind: wire.KindObject, Required: true, Nested: pointSchema},
		{Name: "width", Kind: wire.KindNumber, Required: true},
		{Name: "height", Kind: wire.KindNumber, Required: true},
		{Name: "fileName", Kind: wire.KindString, Required: true},
		{Name: "mxc", Kind: wire.KindString, Required: true},
	},
}

var frameElementSchema = &wire.Schema{
	Name: "frame",
	Fields: []wire.Field{
		{Name: "type", Kind: wire.KindString, Required: true, Enum: []string{ElementTypeFrame}},
		{Name: "position", Kind: wire.KindObject, Required: true, Nested: pointSchema},
		{Name: "width", Kind: wire.KindNumber, Required: true},
		{Name: "height", Kind: wire.KindNumber, Required: true},
	},
}

var elementSchemas = map[string]*wire.Schema{
	ElementTypeShape: shapeElementSchema,
	ElementTypePath:  pathElementSchema,
	ElementTypeImage: imageElementSchema,
	ElementTypeFrame: frameElementSchema,
}

// checkElementValue validates one element map against the schema of its
// type tag.
func checkElementValue(raw map[string]any) error {
	typeTag, ok := raw["type"].(string)
	if !ok {
		return fmt.Errorf("element has no type tag")
	}
	schema, ok := elementSchemas[typeTag]
	if !ok {
		return fmt.Errorf("unknown element type %q", typeTag)
	}
	if res := schema.Validate(raw); !res.Valid() {
		return fmt.Errorf("invalid %s element: %v", typeTag, res.Errors)
	}
	return nil
}

// ValidateSnapshot checks a projection for structural conformance to the
// whiteboard schema. It must be called before merging any document loaded
// from storage or received from a peer: such input merges cleanly at the
// CRDT layer even when it violates every domain invariant.
func ValidateSnapshot(snapshot document.Snapshot) error {
	_, err := ParseSnapshot(snapshot)
	return err
}

// IsValidDocument reports whether doc conforms to the whiteboard schema.
func IsValidDocument(doc *document.Document) bool {
	snapshot, err := doc.Project()
	if err != nil {
		slog.Warn("failed to project whiteboard document", "err", err)
		return false
	}
	if err := ValidateSnapshot(snapshot); err != nil {
		slog.Warn("rejecting invalid whiteboard document", "err", err)
		return false
	}
	return true
}

// IsValidSnapshot reports whether the binary snapshot deserializes into a
// conforming whiteboard document.
func IsValidSnapshot(data []byte) bool {
	doc, err := document.Load(data)
	if err != nil {
		slog.Warn("rejecting undecodable whiteboard snapshot", "err", err)
		return false
	}
	defer doc.Close()
	return IsValidDocument(doc)
}
