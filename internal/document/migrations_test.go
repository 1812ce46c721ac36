package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMigrationsIsDeterministic(t *testing.T) {
	steps := []MigrationFn{titleStep, countStep}

	first, err := CreateMigrations(steps, "v")
	require.NoError(t, err)
	second, err := CreateMigrations(steps, "v")
	require.NoError(t, err)

	require.Len(t, first, 2, "one blob per prefix length")
	assert.Equal(t, first, second, "migration bytes must be stable across runs")
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	blobs, err := CreateMigrations([]MigrationFn{titleStep, countStep}, "v")
	require.NoError(t, err)

	doc := New()
	defer doc.Close()
	require.NoError(t, ApplyMigrations(doc, blobs))
	once := projectJSON(t, doc)

	require.NoError(t, ApplyMigrations(doc, blobs))
	assert.Equal(t, once, projectJSON(t, doc))
}

func TestApplyMigrationsOutOfOrderStillConverges(t *testing.T) {
	blobs, err := CreateMigrations([]MigrationFn{titleStep, countStep}, "v")
	require.NoError(t, err)

	ordered := New()
	defer ordered.Close()
	require.NoError(t, ApplyMigrations(ordered, blobs))

	reversed := New()
	defer reversed.Close()
	require.NoError(t, reversed.MergeFrom(blobs[1]))
	require.NoError(t, reversed.MergeFrom(blobs[0]))

	assert.Equal(t, projectJSON(t, ordered), projectJSON(t, reversed))
}

func TestApplyMigrationsRejectsTruncatedBlob(t *testing.T) {
	blobs, err := CreateMigrations([]MigrationFn{titleStep}, "v")
	require.NoError(t, err)

	doc := New()
	defer doc.Close()
	truncated := blobs[0][:len(blobs[0])/2]
	assert.Error(t, ApplyMigrations(doc, [][]byte{truncated}))
}
