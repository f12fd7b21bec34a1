package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmelnik/rentdesk/internal/archive"
	"github.com/dmelnik/rentdesk/internal/attribution"
	"github.com/dmelnik/rentdesk/internal/config"
	infraBQ "github.com/dmelnik/rentdesk/internal/infra/bigquery"
	"github.com/dmelnik/rentdesk/internal/jobs"
	"github.com/dmelnik/rentdesk/internal/jobs/inmemory"
	"github.com/dmelnik/rentdesk/internal/logger"
	"github.com/dmelnik/rentdesk/internal/recording"
	"github.com/dmelnik/rentdesk/internal/reviewsync"
)

// reviewSyncInterval is how often the worker reconciles the review board
// against the open pending queue.
const reviewSyncInterval = 15 * time.Minute

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := infraBQ.NewStore(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery store")
	}
	defer store.Close()

	var archiver recording.Archiver
	if cfg.ImportBucket != "" {
		uploader, err := archive.NewUploader(ctx, cfg.ImportBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive uploader")
		}
		defer uploader.Close()
		archiver = uploader
	}

	var syncer *reviewsync.Syncer
	var notifier recording.ReviewNotifier
	if cfg.NotionToken != "" && cfg.NotionReviewDB != "" {
		syncer = reviewsync.NewSyncer(
			reviewsync.NewNotionClient(cfg.NotionToken),
			cfg.NotionReviewDB,
			logger.Component(log, "reviewsync"),
		)
		notifier = syncer
	}

	oracle := attribution.NewGeminiOracle(cfg.GeminiModel, cfg.OracleTimeout)
	matcher := attribution.NewMatcher(store, store, oracle,
		cfg.MatchThreshold, cfg.SuggestionFloor, logger.Component(log, "attribution"))

	engine := recording.NewEngine(store, store, store, store, notifier,
		logger.Component(log, "recording"))
	importer := recording.NewImporter(matcher, engine, archiver,
		logger.Component(log, "recording"))

	// In production this would be replaced with Cloud Tasks or Pub/Sub.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 5, jobStore)

	log.Info().Msg("Starting worker service")

	handler := func(ctx context.Context, job jobs.Job) error {
		attrJob, ok := job.(*jobs.AttributePaymentJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		result, err := importer.Process(ctx, &recording.ImportRequest{
			RawText:     attrJob.RawText,
			ExternalRef: attrJob.ExternalRef,
			EntryPoint:  attrJob.EntryPoint,
			RecordedBy:  attrJob.RecordedBy,
			ForceAI:     attrJob.ForceAI,
		})
		if err != nil {
			if errors.Is(err, recording.ErrNoSender) {
				log.Warn().Str("job_id", attrJob.JobID).Msg("Job rejected, no sender name in text")
				return jobs.Permanent(err)
			}
			log.Error().Err(err).Str("job_id", attrJob.JobID).Msg("Attribution job failed")
			return err
		}

		log.Info().
			Str("job_id", attrJob.JobID).
			Str("log_id", result.Outcome.LogID).
			Bool("recorded", result.Outcome.Recorded || result.Outcome.AlreadyRecorded).
			Str("pending_id", result.Outcome.PendingID).
			Msg("Attribution job completed")
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Heal the review board periodically: notifications lost to crashes or
	// Notion outages get replayed from the open pending queue.
	if syncer != nil {
		go func() {
			ticker := time.NewTicker(reviewSyncInterval)
			defer ticker.Stop()

			if err := syncer.SyncOpen(ctx, store); err != nil {
				log.Error().Err(err).Msg("Initial review board sync failed")
			}

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := syncer.SyncOpen(ctx, store); err != nil {
						log.Error().Err(err).Msg("Review board sync failed")
					}
				}
			}
		}()
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
