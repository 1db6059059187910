package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/event-photos/internal/auth"
	"github.com/kozaktomas/event-photos/internal/queue"
	"github.com/kozaktomas/event-photos/internal/session"
	"github.com/kozaktomas/event-photos/internal/web"
	"github.com/kozaktomas/event-photos/internal/web/handlers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Event Photos API server.

Photographers register, create events and upload photos through the
authenticated API. Guests open an event by its code and submit a selfie
to get the event photos they appear in.

When NATS_URL is set, uploaded photos are indexed by "event-photos worker"
processes and every server keeps its resident indexes in sync through the
indexed-photo stream. Otherwise photos are indexed during the upload request.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().StringSlice("allowed-origin", nil, "Additional CORS origin (repeatable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Connecting to PostgreSQL database...\n")
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Server.Host = host
	}
	a.cfg.Server.AllowedOrigins = append(a.cfg.Server.AllowedOrigins, mustGetStringSlice(cmd, "allowed-origin")...)

	tokens, err := auth.NewTokenIssuer(a.cfg.Auth)
	if err != nil {
		return err
	}

	sessions := session.NewService(a.events, a.blobs, a.extractor, a.engine, a.records, a.logger.Named("session"))

	deps := web.Deps{
		Photographers: a.photographers,
		Events:        a.events,
		Photos:        a.photos,
		Blobs:         a.blobs,
		EventService:  a.eventSvc,
		Indexer:       a.indexer,
		Indexes:       a.arena,
		Sessions:      sessions,
		Tokens:        tokens,
		Health: map[string]handlers.HealthCheck{
			"database": a.pool.Ping,
			"storage":  a.blobs.Ping,
		},
	}

	if a.cfg.Queue.Enabled() {
		client, err := connectQueue(ctx, a)
		if err != nil {
			return err
		}
		defer client.Close()

		deps.Publisher = client
		deps.Health["queue"] = func(context.Context) error { return client.Ping() }

		go func() {
			err := client.ConsumeIndexed(ctx, func(_ context.Context, msg queue.PhotoIndexed) error {
				return applyIndexed(a, msg)
			})
			if err != nil {
				a.logger.Error("indexed consumer stopped", zap.Error(err))
			}
		}()
		fmt.Printf("Async indexing enabled (NATS %s)\n", a.cfg.Queue.NATSURL)
	} else {
		fmt.Printf("Photos are indexed during upload\n")
	}

	server := web.NewServer(a.cfg, deps, a.logger.Named("web"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Event Photos on http://%s:%d\n", a.cfg.Server.Host, a.cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// connectQueue connects to NATS and makes sure the streams exist.
func connectQueue(ctx context.Context, a *app) (*queue.Client, error) {
	client, err := queue.Connect(a.cfg.Queue.NATSURL, a.logger.Named("queue"))
	if err != nil {
		return nil, err
	}
	if err := client.EnsureStreams(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// applyIndexed adds a worker's descriptor to the resident index of its event.
// Descriptors of another model are ignored; the event picks the photo up on
// its next rebuild.
func applyIndexed(a *app, msg queue.PhotoIndexed) error {
	if msg.Model != a.extractor.Model() {
		a.logger.Warn("ignoring descriptor of another model",
			zap.String("photo_id", msg.PhotoID),
			zap.String("model", msg.Model))
		return nil
	}
	if err := a.arena.Insert(msg.EventID, msg.PhotoID, msg.Descriptor); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	return nil
}
