package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"routing-backend/internal/bootstrap"
	"routing-backend/internal/queue"
	"routing-backend/internal/shared/config"
	"routing-backend/internal/shared/storage/db"
	"routing-backend/internal/workerproc"
)

func main() {
	cfg := config.Load()
	if cfg.SQSQueueURL == "" {
		log.Fatal("ANALYSIS_SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolOpts := db.DefaultWorkerOptions()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{DBOptions: &poolOpts})
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	sqsClient, err := queue.NewSQSAPI(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatalf("sqs client: %v", err)
	}

	consumer := &workerproc.Consumer{
		Client:            sqsClient,
		QueueURL:          cfg.SQSQueueURL,
		Processor:         app.Analysis,
		Reaper:            app.Analysis,
		Concurrency:       cfg.WorkerConcurrency,
		VisibilitySeconds: cfg.WorkerVisibilitySeconds,
		ShutdownTimeout:   cfg.WorkerShutdownTimeout,
		ReapInterval:      cfg.WorkerReapInterval,
	}
	consumer.Run(ctx)
	log.Printf("worker stopped")
}
