package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mmcdole/earmark/internal/adapter"
	"github.com/mmcdole/earmark/internal/domain"
	"github.com/mmcdole/earmark/internal/mediaserver"
	"github.com/mmcdole/earmark/internal/service"
	"github.com/mmcdole/earmark/internal/store"
	"github.com/mmcdole/earmark/internal/transfer"
)

const usage = `usage: earmark <command> [args]

commands:
  sync                                  reconcile local progress with the server
  download <id> [--episode]             download an audiobook (or episode) for offline playback
  delete <id>                           remove an item's offline tracks and files
  status <id>                           print an item's offline availability
  list                                  list fully downloaded items
  report <itemID> <currentTime> <dur>   record a playback position
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := adapter.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}
	slog.SetDefault(logger)

	if !cfg.IsConfigured() {
		return fmt.Errorf("no server configured: set server.url and server.token in the config file")
	}

	db, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	progressStore := store.NewProgressStore(db)
	registry := store.NewTaskRegistry(db)
	trackStore := store.NewTrackStore(db)

	client := mediaserver.NewClient(cfg.Server.URL, cfg.Server.Token, logger)

	downloads, err := service.NewDownloadManager(client, trackStore, registry, nil, cfg.Storage.AudioDir, logger)
	if err != nil {
		return err
	}

	queue, err := transfer.NewQueue(cfg.Storage.TempDir, cfg.Transfer.Concurrency, cfg.Transfer.Timeout, downloads, logger)
	if err != nil {
		return err
	}
	defer queue.Stop()
	downloads.SetQueue(queue)

	availability := service.NewAvailability(trackStore, logger)
	downloads.Subscribe(availability)

	// Transfers from a previous process cannot finish with this queue;
	// clear their state before taking new work.
	transfer.SweepOrphans(cfg.Storage.TempDir, logger)
	if err := downloads.RecoverStale(); err != nil {
		logger.Warn("stale download recovery failed", "error", err)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "sync":
		return runSync(ctx, progressStore, client, logger)
	case "download":
		return runDownload(ctx, os.Args[2:], downloads, availability)
	case "delete":
		return requireArg(os.Args[2:], func(id string) error { return downloads.DeleteAudiobook(id) })
	case "status":
		return requireArg(os.Args[2:], func(id string) error {
			status, err := availability.Status(id)
			if err != nil {
				return err
			}
			fmt.Println(status.String())
			return nil
		})
	case "list":
		parents, err := downloads.DownloadedParents()
		if err != nil {
			return err
		}
		for _, p := range parents {
			fmt.Println(p)
		}
		return nil
	case "report":
		return runReport(ctx, os.Args[2:], progressStore, client, cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
		return nil
	}
}

func runSync(ctx context.Context, progressStore domain.ProgressStore, client *mediaserver.Client, logger *slog.Logger) error {
	reconciler := service.NewReconciler(progressStore, client, logger)
	result, err := reconciler.Reconcile(ctx)
	fmt.Printf("uploaded %d, cleaned %d, imported %d\n", result.Uploaded, result.Deleted, result.Imported)
	if err != nil {
		// Offline is a normal state; report it without failing the command
		fmt.Println("sync incomplete, will retry on next run")
	}
	return nil
}

func runDownload(ctx context.Context, args []string, downloads *service.DownloadManager, availability *service.Availability) error {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	id := args[0]

	episode := len(args) > 1 && args[1] == "--episode"
	var err error
	if episode {
		err = downloads.DownloadEpisode(ctx, id)
	} else {
		err = downloads.DownloadAudiobook(ctx, id)
	}
	if err != nil {
		return err
	}

	// Wait for the asynchronous transfers to reach a terminal state
	for {
		status, err := availability.Status(id)
		if err != nil {
			return err
		}
		switch status {
		case domain.OfflineDownloaded:
			fmt.Println("downloaded")
			return nil
		case domain.OfflineNone:
			return fmt.Errorf("download failed for %s", id)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func runReport(ctx context.Context, args []string, progressStore domain.ProgressStore, client *mediaserver.Client, cfg *adapter.Config, logger *slog.Logger) error {
	if len(args) < 3 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	currentTime, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid currentTime: %w", err)
	}
	duration, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	episodeID := ""
	if len(args) > 3 {
		episodeID = args[3]
	}

	reporter := service.NewReporter(progressStore, client, cfg.Playback.ReportInterval, logger)
	return reporter.Report(ctx, args[0], episodeID, currentTime, duration)
}

func requireArg(args []string, fn func(id string) error) error {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	return fn(args[0])
}
