package document

import (
	"fmt"
	"time"

	"github.com/automerge/automerge-go"
)

// migrationActorID is the fixed actor every migration blob is authored
// under. Migration output must be byte-stable across runs so blobs can be
// committed as fixtures and drift detected by byte comparison.
const migrationActorID = "e1e1e1e1e1e1e1e1"

// MigrationFn applies one structural upgrade step to a document rooted at
// the migration chain's root key. Steps must write in a fixed operation
// order so the serialized change is byte-identical on every run.
type MigrationFn func(doc *automerge.Doc) error

// CreateMigrations serializes the cumulative effect of applying
// steps[0..i] to an empty document, producing one binary blob per prefix
// length. The output is deterministic for a fixed steps/rootKey pair:
// fixed actor id, zero commit timestamps.
func CreateMigrations(steps []MigrationFn, rootKey string) ([][]byte, error) {
	blobs := make([][]byte, 0, len(steps))
	for i := range steps {
		doc := automerge.New()
		if err := doc.SetActorID(migrationActorID); err != nil {
			return nil, fmt.Errorf("failed to set migration actor: %w", err)
		}
		for j := 0; j <= i; j++ {
			if err := steps[j](doc); err != nil {
				return nil, fmt.Errorf("migration step %d failed: %w", j, err)
			}
			epoch := time.UnixMilli(0)
			if _, err := doc.Commit(
				fmt.Sprintf("migration %s/%d", rootKey, j),
				automerge.CommitOptions{Time: &epoch},
			); err != nil {
				return nil, fmt.Errorf("failed to commit migration step %d: %w", j, err)
			}
		}
		blobs = append(blobs, doc.Save())
	}
	return blobs, nil
}

// ApplyMigrations merges each blob into doc in order. Merging is
// idempotent, so re-applying an already-applied migration is a no-op, and
// out-of-order application still converges once all blobs have landed.
// A malformed or truncated blob fails the merge and must be treated as
// fatal for the document.
func ApplyMigrations(doc *Document, blobs [][]byte) error {
	for i, blob := range blobs {
		if err := doc.MergeFrom(blob); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
