package bootstrap

import (
	"finanalyst/internal/adapters/config"
	pgrepo "finanalyst/internal/repository/postgres"
	"finanalyst/internal/workers"
	"finanalyst/pkg/logger"
)

// provideWorkers initializes the housekeeping workers of serve mode
func provideWorkers(cfg *config.Config, runs *pgrepo.AnalysisRepository, log *logger.Logger) *workers.Scheduler {
	log.Info("Initializing workers...")

	scheduler := workers.NewScheduler(log)

	// Uploads are normally removed after the run; this catches crashes.
	scheduler.RegisterWorker(workers.NewUploadJanitor(
		cfg.Document.UploadDir,
		cfg.Worker.UploadMaxAge,
		cfg.Worker.JanitorInterval,
	))

	var stale workers.StaleRuns
	if runs != nil {
		stale = runs
	}
	scheduler.RegisterWorker(workers.NewRunReaper(
		stale,
		cfg.Worker.StaleRunAfter,
		cfg.Worker.JanitorInterval,
	))

	return scheduler
}
