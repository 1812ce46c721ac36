package commands

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/automerge/automerge-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-im/inkwell/internal/board"
	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/internal/storage"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

func newRestoreEnv(t *testing.T) (*storage.Store, *host.RedisHost) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	h, err := host.NewRedisHost(&redis.Options{Addr: mr.Addr()}, "test-room")
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	store, err := storage.NewStore(t.TempDir()+"/cache.db", 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, h
}

// pollutedSnapshot is a structurally loadable document carrying an element
// id the whiteboard validation forbids.
func pollutedSnapshot(t *testing.T) []byte {
	t.Helper()
	doc, err := board.CreateDocument()
	require.NoError(t, err)
	defer doc.Close()

	require.NoError(t, doc.PerformChange(func(d *automerge.Doc) error {
		path := d.Path(board.RootKey, "slides", board.InitialSlideID, "elements", "__proto__")
		if err := path.Set(map[string]any{"polluted": true}); err != nil {
			return err
		}
		return d.Path(board.RootKey, "slides", board.InitialSlideID, "elementIds").List().Append("__proto__")
	}))
	return doc.Store()
}

func putHostSnapshot(t *testing.T, h *host.RedisHost, whiteboardID string, data []byte) {
	t.Helper()
	content, err := json.Marshal(&wire.DocumentSnapshot{
		DocumentID: whiteboardID,
		Data:       base64.StdEncoding.EncodeToString(data),
	})
	require.NoError(t, err)
	require.NoError(t, h.PutState(context.Background(), &host.StateEvent{
		Type:     wire.EventDocumentSnapshot,
		StateKey: whiteboardID,
		Sender:   "@alice:example.com",
		OriginTS: time.Now().UnixMilli(),
		Content:  content,
	}))
}

func TestRestoreDocumentRejectsInvalidLocalSnapshot(t *testing.T) {
	store, h := newRestoreEnv(t)

	require.NoError(t, store.Store("wb-1", pollutedSnapshot(t)))

	doc, err := restoreDocument(context.Background(), store, h, "wb-1")
	require.NoError(t, err)
	defer doc.Close()

	// The polluted cache entry must not reach the document; the fallback
	// is a fresh, valid whiteboard.
	assert.True(t, board.IsValidDocument(doc))
	snapshot, err := doc.Project()
	require.NoError(t, err)
	wb, err := board.ParseSnapshot(snapshot)
	require.NoError(t, err)
	assert.Empty(t, wb.Slides[board.InitialSlideID].ElementIDs)
}

func TestRestoreDocumentFallsThroughToValidHostSnapshot(t *testing.T) {
	store, h := newRestoreEnv(t)

	require.NoError(t, store.Store("wb-1", pollutedSnapshot(t)))

	valid, err := board.CreateDocument()
	require.NoError(t, err)
	defer valid.Close()
	fn, elementID := board.GenerateAddElement(board.InitialSlideID, &board.Element{
		Type:      board.ElementTypeShape,
		Kind:      board.ShapeKindRectangle,
		Position:  wire.Point{X: 1, Y: 2},
		Width:     10,
		Height:    20,
		FillColor: "#ffffff",
	})
	require.NoError(t, valid.PerformChange(fn))
	putHostSnapshot(t, h, "wb-1", valid.Store())

	doc, err := restoreDocument(context.Background(), store, h, "wb-1")
	require.NoError(t, err)
	defer doc.Close()

	snapshot, err := doc.Project()
	require.NoError(t, err)
	wb, err := board.ParseSnapshot(snapshot)
	require.NoError(t, err)
	assert.Equal(t, []string{elementID}, wb.Slides[board.InitialSlideID].ElementIDs)
}

func TestRestoreDocumentRejectsInvalidHostSnapshot(t *testing.T) {
	store, h := newRestoreEnv(t)

	putHostSnapshot(t, h, "wb-1", pollutedSnapshot(t))

	doc, err := restoreDocument(context.Background(), store, h, "wb-1")
	require.NoError(t, err)
	defer doc.Close()
	assert.True(t, board.IsValidDocument(doc))
}

func TestHandlePeerMessageValidatesContent(t *testing.T) {
	doc, err := board.CreateDocument()
	require.NoError(t, err)
	defer doc.Close()
	before := doc.Store()

	t.Run("unknown message type is dropped", func(t *testing.T) {
		handlePeerMessage(doc, &wire.Message{
			Type:    "net.nordeck.whiteboard.bogus",
			Content: json.RawMessage(`{}`),
			Sender:  "session-1",
		}, "wb-1")
		assert.Equal(t, before, doc.Store())
	})

	t.Run("schema-violating update is dropped", func(t *testing.T) {
		handlePeerMessage(doc, &wire.Message{
			Type:    wire.MessageDocumentUpdate,
			Content: json.RawMessage(`{"documentId": 7}`),
			Sender:  "session-1",
		}, "wb-1")
		assert.Equal(t, before, doc.Store())
	})

	t.Run("valid update is merged", func(t *testing.T) {
		remote, err := document.Load(before)
		require.NoError(t, err)
		defer remote.Close()
		fn, _ := board.GenerateAddSlide()
		require.NoError(t, remote.PerformChange(fn))

		content, err := json.Marshal(&wire.DocumentUpdate{
			DocumentID: "wb-1",
			Data:       base64.StdEncoding.EncodeToString(remote.Store()),
		})
		require.NoError(t, err)

		handlePeerMessage(doc, &wire.Message{
			Type:    wire.MessageDocumentUpdate,
			Content: content,
			Sender:  "session-1",
		}, "wb-1")

		snapshot, err := doc.Project()
		require.NoError(t, err)
		wb, err := board.ParseSnapshot(snapshot)
		require.NoError(t, err)
		assert.Len(t, wb.SlideIDs, 2)
	})
}
