package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driveshadow/driveshadow/internal/queue"
	"github.com/driveshadow/driveshadow/internal/telemetry"
	"github.com/driveshadow/driveshadow/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification sink and reconciliation workers",
	Long: `Serve starts the HTTP surface (/notify, /bootstrap, /health), the bounded
notification queue, and the reconciliation worker pool. The credential gate
starts in the state given by DS_DELTA_ENABLED (default: disabled); POST
/bootstrap validates the bearer, ensures a push subscription, runs the
initial sync, and opens the gate.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "driveshadow", version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	q := queue.New(a.cfg.QueueSize)
	workers := queue.WorkerPool(a.cfg.Workers, q, a.gate, a.engine, "")

	server := webhook.NewServer(webhook.ServerConfig{
		Auth:      a.subs,
		Bootstrap: a.boot,
		Queue:     q,
	})

	group, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		worker := w
		group.Go(func() error {
			err := worker.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		log.Printf("dsd: listening on %s", a.cfg.ListenAddr)
		err := server.Start(a.cfg.ListenAddr)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
