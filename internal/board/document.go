package board

import (
	"fmt"

	"github.com/automerge/automerge-go"

	"github.com/inkwell-im/inkwell/internal/document"
)

// RootKey is the versioned key the whiteboard tree is rooted at. Bumping
// the schema version means introducing a new root key plus a migration
// step, so older documents remain mergeable.
const RootKey = "net.nordeck.whiteboard"

// InitialSlideID is the fixed id of the slide the first migration creates.
// It must be constant so migration output stays byte-stable.
const InitialSlideID = "gpydNWpb0lCkognPDLfRn"

// migrationSteps is the ordered migration chain of the whiteboard schema.
// Append only; existing steps must never change, or previously created
// documents stop converging with new ones.
var migrationSteps = []document.MigrationFn{
	initializeWhiteboard,
}

// initializeWhiteboard sets each key individually in a fixed order. A
// single Set of a nested map literal would insert keys in Go's map
// iteration order, which varies per run and would make the resulting
// change bytes unstable.
func initializeWhiteboard(doc *automerge.Doc) error {
	if err := doc.Path(RootKey, "slideIds").Set([]any{InitialSlideID}); err != nil {
		return fmt.Errorf("failed to initialize slide order: %w", err)
	}
	slide := []any{RootKey, "slides", InitialSlideID}
	if err := doc.Path(append(slide, "elementIds")...).Set([]any{}); err != nil {
		return fmt.Errorf("failed to initialize element order: %w", err)
	}
	if err := doc.Path(append(slide, "elements")...).Set(map[string]any{}); err != nil {
		return fmt.Errorf("failed to initialize element table: %w", err)
	}
	return nil
}

// Migrations returns the serialized migration chain.
func Migrations() ([][]byte, error) {
	return document.CreateMigrations(migrationSteps, RootKey)
}

// CreateDocument returns a new document pre-migrated to the current
// whiteboard schema version, containing one empty slide.
func CreateDocument() (*document.Document, error) {
	blobs, err := Migrations()
	if err != nil {
		return nil, fmt.Errorf("failed to create whiteboard migrations: %w", err)
	}
	doc := document.New()
	if err := document.ApplyMigrations(doc, blobs); err != nil {
		doc.Close()
		return nil, fmt.Errorf("failed to migrate whiteboard document: %w", err)
	}
	return doc, nil
}
