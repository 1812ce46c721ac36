package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/inkwell-im/inkwell/internal/board"
	"github.com/inkwell-im/inkwell/internal/channel"
	"github.com/inkwell-im/inkwell/internal/config"
	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/internal/peer"
	"github.com/inkwell-im/inkwell/internal/printer"
	"github.com/inkwell-im/inkwell/internal/session"
	"github.com/inkwell-im/inkwell/internal/signaling"
	"github.com/inkwell-im/inkwell/internal/storage"
	"github.com/inkwell-im/inkwell/pkg/wire"
)

var joinCmd = &cobra.Command{
	Use:   "join <whiteboard-id>",
	Short: "Join a whiteboard and keep the document in sync until interrupted",
	Long: `Join announces a session for the configured user, connects a WebRTC data
channel to every other participant, and merges document updates in both
directions. The document snapshot is persisted locally and to the host.

Runs until interrupted with Ctrl-C, then leaves the session cleanly.`,
	Args: cobra.ExactArgs(1),
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	whiteboardID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(),
			[]string{fmt.Sprintf("Check that %s exists and is valid", configPath)})
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	h, err := host.NewRedisHost(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.RoomID)
	if err != nil {
		return printer.Error("Failed to create host client", err.Error(), nil)
	}
	defer h.Close()

	if err := h.Ping(ctx); err != nil {
		return printer.Error("Redis not accessible", err.Error(),
			[]string{fmt.Sprintf("Check that Redis is running at %s", cfg.Redis.Address)})
	}

	store, err := storage.NewStore(cfg.Storage.Path, *cfg.Storage.CacheSize)
	if err != nil {
		return printer.Error("Failed to open document cache", err.Error(), nil)
	}
	defer store.Close()

	doc, err := restoreDocument(ctx, store, h, whiteboardID)
	if err != nil {
		return printer.Error("Failed to restore document", err.Error(), nil)
	}
	defer doc.Close()
	printer.Success("document ready\n")

	sessions, err := session.NewManager(h, cfg.UserID, *cfg.Session.TTL)
	if err != nil {
		return printer.Error("Failed to create session manager", err.Error(), nil)
	}
	defer sessions.Close()

	persister, err := storage.NewSnapshotPersister(doc, store, h, whiteboardID, cfg.UserID,
		*cfg.Storage.SnapshotDebounce, *cfg.Storage.SnapshotRetry)
	if err != nil {
		return printer.Error("Failed to start snapshot persister", err.Error(), nil)
	}
	defer persister.Close()

	// Join before wiring the channel: the signaling channel listens on the
	// local session id, which only exists after the first Join. The channel's
	// own Connect re-joins idempotently.
	printer.Step("joining whiteboard %s as %s\n", whiteboardID, cfg.UserID)
	sessionID, err := sessions.Join(ctx, whiteboardID)
	if err != nil {
		return printer.Error("Failed to join session", err.Error(), nil)
	}

	signals, err := signaling.NewChannel(ctx, h, sessionID)
	if err != nil {
		return printer.Error("Failed to open signaling channel", err.Error(), nil)
	}
	defer signals.Close()

	comm, err := buildChannel(cfg, sessions, signals, whiteboardID)
	if err != nil {
		return err
	}
	defer comm.Destroy(context.Background())

	if err := comm.Connect(ctx); err != nil {
		return printer.Error("Failed to connect", err.Error(), nil)
	}
	printer.Success("joined as session %s\n", sessionID)

	runSyncLoop(ctx, doc, sessions, comm, whiteboardID)

	printer.Step("leaving\n")
	if err := comm.Destroy(context.Background()); err != nil {
		printer.Warning("unclean shutdown: %v\n", err)
	}
	return nil
}

// restoreDocument loads the newest available snapshot (local cache first,
// then the host), falling back to a freshly migrated document. Migrations
// are re-applied to restored snapshots; merging them is idempotent.
func restoreDocument(ctx context.Context, store *storage.Store, h *host.RedisHost, whiteboardID string) (*document.Document, error) {
	blobs, err := board.Migrations()
	if err != nil {
		return nil, err
	}

	restore := func(data []byte) (*document.Document, error) {
		if !board.IsValidSnapshot(data) {
			return nil, fmt.Errorf("snapshot failed whiteboard validation")
		}
		doc, err := document.Load(data)
		if err != nil {
			return nil, err
		}
		if err := document.ApplyMigrations(doc, blobs); err != nil {
			doc.Close()
			return nil, err
		}
		return doc, nil
	}

	if data := store.Load(whiteboardID); data != nil {
		if doc, err := restore(data); err == nil {
			printer.Info("restored document from local cache\n")
			return doc, nil
		}
		printer.Warning("local snapshot unusable, trying the host\n")
	}

	data, err := storage.LoadHostSnapshot(ctx, h, whiteboardID)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if doc, err := restore(data); err == nil {
			printer.Info("restored document from host snapshot\n")
			return doc, nil
		}
		printer.Warning("host snapshot unusable, starting fresh\n")
	}

	return board.CreateDocument()
}

// buildChannel assembles the communication channel around a real peer
// factory feeding off the signaling channel.
func buildChannel(cfg *config.InkwellConfig, sessions *session.Manager, signals *signaling.Channel, whiteboardID string) (*channel.Communication, error) {
	var turn *host.TURNCredentials
	if len(cfg.TURN) > 0 {
		provider := host.NewStaticTURNProvider(host.TURNCredentials{
			URIs:     cfg.TURN[0].URIs,
			Username: cfg.TURN[0].Username,
			Password: cfg.TURN[0].Password,
		})
		creds, err := provider.TURNCredentials(context.Background())
		if err != nil {
			return nil, printer.Error("Failed to resolve TURN credentials", err.Error(), nil)
		}
		turn = creds
	}

	factory := func(remote *wire.SessionRecord) (channel.Peer, error) {
		return peer.NewConnection(signals, sessions.SessionID(), remote, turn)
	}

	comm, err := channel.NewCommunication(sessions, signals, factory,
		whiteboardID, *cfg.Visibility.Timeout)
	if err != nil {
		return nil, printer.Error("Failed to create communication channel", err.Error(), nil)
	}
	return comm, nil
}

// runSyncLoop pumps document deltas out and peer messages in until the
// process is interrupted.
func runSyncLoop(ctx context.Context, doc *document.Document, sessions *session.Manager, comm *channel.Communication, whiteboardID string) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	publish := doc.ObservePublish()
	defer publish.Close()
	inbound := comm.ObserveMessages()
	defer inbound.Close()
	joined := sessions.ObserveJoined()
	defer joined.Close()
	left := sessions.ObserveLeft()
	defer left.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case delta, ok := <-publish.Events():
			if !ok {
				return
			}
			comm.BroadcastMessage(wire.MessageDocumentUpdate, &wire.DocumentUpdate{
				DocumentID: whiteboardID,
				Data:       base64.StdEncoding.EncodeToString(delta),
			})
		case msg, ok := <-inbound.Events():
			if !ok {
				return
			}
			handlePeerMessage(doc, msg, whiteboardID)
		case record, ok := <-joined.Events():
			if !ok {
				return
			}
			printer.Joined(record.UserID, record.SessionID)
		case record, ok := <-left.Events():
			if !ok {
				return
			}
			printer.Left(record.UserID, record.SessionID)
		}
	}
}

// handlePeerMessage merges inbound document updates; other message types are
// presence-level and only logged.
func handlePeerMessage(doc *document.Document, msg *wire.Message, whiteboardID string) {
	content, err := wire.ParseMessage(*msg)
	if err != nil {
		printer.Warning("dropping invalid message from %s: %v\n", msg.Sender, err)
		return
	}
	update, ok := content.(wire.DocumentUpdate)
	if !ok {
		return
	}
	if update.DocumentID != whiteboardID {
		return
	}
	data, err := base64.StdEncoding.DecodeString(update.Data)
	if err != nil {
		printer.Warning("dropping undecodable update from %s: %v\n", msg.Sender, err)
		return
	}
	if err := doc.MergeFrom(data); err != nil {
		printer.Warning("dropping unmergeable update from %s: %v\n", msg.Sender, err)
	}
}
