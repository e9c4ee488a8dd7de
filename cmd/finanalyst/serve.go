package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"finanalyst/internal/bootstrap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Telegram bot",
		RunE: func(*cobra.Command, []string) error {
			return runProcess(bootstrap.ModeServe)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued analyses from Kafka",
		RunE: func(*cobra.Command, []string) error {
			return runProcess(bootstrap.ModeWorker)
		},
	}
}

// runProcess blocks until a signal arrives or a component fails.
func runProcess(mode bootstrap.Mode) error {
	container := bootstrap.NewContainer(mode)
	container.MustInit()

	if err := container.Start(); err != nil {
		container.Shutdown()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		container.Log.Infow("Received shutdown signal", "signal", sig.String())
	case <-container.Context.Done():
		container.Log.Warn("A component stopped, shutting down")
	}

	container.Shutdown()
	return nil
}
