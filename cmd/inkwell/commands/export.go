package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/inkwell-im/inkwell/internal/board"
	"github.com/inkwell-im/inkwell/internal/config"
	"github.com/inkwell-im/inkwell/internal/document"
	"github.com/inkwell-im/inkwell/internal/host"
	"github.com/inkwell-im/inkwell/internal/printer"
	"github.com/inkwell-im/inkwell/internal/storage"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <whiteboard-id>",
	Short: "Export a whiteboard to a portable file",
	Long: `Export reads the newest available snapshot of a whiteboard (from the
local cache, falling back to the host) and writes it as a portable JSON
document with the ` + board.FileExtension + ` extension.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default <whiteboard-id>"+board.FileExtension+")")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	whiteboardID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error("Failed to load configuration", err.Error(),
			[]string{fmt.Sprintf("Check that %s exists and is valid", configPath)})
	}

	data, err := loadSnapshot(cfg, whiteboardID)
	if err != nil {
		return err
	}

	doc, err := document.Load(data)
	if err != nil {
		return printer.Error("Snapshot is not a valid document", err.Error(), nil)
	}
	defer doc.Close()

	out, err := board.Export(doc)
	if err != nil {
		return printer.Error("Failed to export whiteboard", err.Error(), nil)
	}

	path := exportOutput
	if path == "" {
		path = whiteboardID + board.FileExtension
	} else if !strings.HasSuffix(path, board.FileExtension) {
		path += board.FileExtension
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return printer.Error("Failed to write export file", err.Error(), nil)
	}

	printer.Success("exported %s to %s\n", whiteboardID, path)
	return nil
}

// loadSnapshot prefers the local cache and falls back to the host snapshot.
func loadSnapshot(cfg *config.InkwellConfig, whiteboardID string) ([]byte, error) {
	store, err := storage.NewStore(cfg.Storage.Path, *cfg.Storage.CacheSize)
	if err == nil {
		defer store.Close()
		if data := store.Load(whiteboardID); data != nil {
			printer.Info("using locally cached snapshot\n")
			return data, nil
		}
	}

	h, err := host.NewRedisHost(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.RoomID)
	if err != nil {
		return nil, printer.Error("Failed to create host client", err.Error(), nil)
	}
	defer h.Close()

	data, err := storage.LoadHostSnapshot(context.Background(), h, whiteboardID)
	if err != nil {
		return nil, printer.Error("Failed to read host snapshot", err.Error(), nil)
	}
	if data == nil {
		return nil, printer.Error("No snapshot found",
			fmt.Sprintf("whiteboard %q has no local or host snapshot", whiteboardID),
			[]string{"Join the whiteboard first so a snapshot gets persisted"})
	}
	printer.Info("using host snapshot\n")
	return data, nil
}
