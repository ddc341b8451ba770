package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopline/queue-service/internal/config"
	"shopline/queue-service/internal/notifier"
	"shopline/queue-service/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newNotifierCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "notifier",
		Short: "Run the outbox notification worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNotifier(cmd.Context())
		},
	}
}

func runNotifier(ctx context.Context) error {
	cfg := config.Load()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Options{})
	worker := notifier.New(store, notifier.Config{
		BatchSize:    cfg.NotifierBatchSize,
		MaxAttempts:  cfg.NotifierMaxAttempts,
		SMSProvider:  cfg.SMSProvider,
		PushProvider: cfg.PushProvider,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	interval := cfg.NotifierInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	log.Printf("notifier polling every %s", interval)
	notifier.Start(runCtx, interval, worker)
	return nil
}
