package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/extractor"
	"github.com/kozaktomas/event-photos/internal/queue"
	"github.com/kozaktomas/event-photos/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Index uploaded photos from the NATS queue",
	Long: `Consume upload messages, extract and store the descriptor of each photo
and announce it to the serving processes.

Several workers can run side by side; each upload is processed by one of them.
Requires NATS_URL.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("concurrency", 0, "Photos processed in parallel (overrides INDEX_WORKERS)")
	workerCmd.Flags().String("consumer", "indexer", "Durable consumer name shared by the workers")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.cfg.Queue.Enabled() {
		return errors.New("NATS_URL environment variable is required")
	}

	workers := a.cfg.Queue.Workers
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		workers = n
	}

	client, err := connectQueue(ctx, a)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Indexing uploads with %d workers (model %s)\n", workers, a.extractor.Model())
	return client.ConsumeUploads(ctx, mustGetString(cmd, "consumer"), workers, func(ctx context.Context, msg queue.PhotoUploaded) error {
		return indexUploaded(ctx, a, client, msg)
	})
}

type indexedPublisher interface {
	PublishIndexed(ctx context.Context, msg queue.PhotoIndexed) error
}

// indexUploaded stores the descriptor of an uploaded photo and publishes it.
// Failures that a redelivery cannot fix are marked permanent.
func indexUploaded(ctx context.Context, a *app, publisher indexedPublisher, msg queue.PhotoUploaded) error {
	photo, err := a.photos.Get(ctx, msg.PhotoID)
	if errors.Is(err, database.ErrPhotoNotFound) {
		return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}
	if err != nil {
		return err
	}

	descriptor, err := a.indexer.IndexPhoto(ctx, photo, nil)
	if err != nil {
		if errors.Is(err, extractor.ErrInvalidImage) || errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
		}
		return err
	}

	a.logger.Debug("indexed upload", zap.String("event_id", photo.EventID), zap.String("photo_id", photo.ID))
	return publisher.PublishIndexed(ctx, queue.PhotoIndexed{
		EventID:    photo.EventID,
		PhotoID:    photo.ID,
		Descriptor: descriptor,
		Model:      a.extractor.Model(),
	})
}
