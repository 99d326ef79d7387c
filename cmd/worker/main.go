// Command worker drains the job queue, running document and session
// ingestion with bounded parallelism.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"localmind/internal/config"
	"localmind/internal/di"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("startup error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer container.Shutdown()

	worker := container.NewWorker()
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		container.Logger.Error("Worker exited", "error", err.Error())
		os.Exit(1)
	}
}
