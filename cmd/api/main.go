package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmelnik/rentdesk/internal/api/handlers"
	"github.com/dmelnik/rentdesk/internal/api/middleware"
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

func main() {
	var (
		port = flag.String("port", "8080", "HTTP server port")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	store, err := infraBQ.NewStore(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery store")
	}
	defer store.Close()

	// Archiving is optional; without a bucket the raw text just isn't kept.
	var archiver recording.Archiver
	if cfg.ImportBucket != "" {
		uploader, err := archive.NewUploader(ctx, cfg.ImportBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive uploader")
		}
		defer uploader.Close()
		archiver = uploader
	} else {
		log.Warn().Msg("No import bucket configured, raw text archiving disabled")
	}

	// The Notion review board mirror is optional too.
	var syncer *reviewsync.Syncer
	var notifier recording.ReviewNotifier
	var resolvedNotifier handlers.PendingResolvedNotifier
	if cfg.NotionToken != "" && cfg.NotionReviewDB != "" {
		syncer = reviewsync.NewSyncer(
			reviewsync.NewNotionClient(cfg.NotionToken),
			cfg.NotionReviewDB,
			logger.Component(log, "reviewsync"),
		)
		notifier = syncer
		resolvedNotifier = syncer
	}

	oracle := attribution.NewGeminiOracle(cfg.GeminiModel, cfg.OracleTimeout)
	matcher := attribution.NewMatcher(store, store, oracle,
		cfg.MatchThreshold, cfg.SuggestionFloor, logger.Component(log, "attribution"))

	engine := recording.NewEngine(store, store, store, store, notifier,
		logger.Component(log, "recording"))
	importer := recording.NewImporter(matcher, engine, archiver,
		logger.Component(log, "recording"))

	// Job infrastructure for batch imports.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 5, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		attrJob, ok := job.(*jobs.AttributePaymentJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		return processAttributionJob(ctx, importer, attrJob, log)
	}

	go func() {
		log.Info().Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	paymentsHandler := handlers.NewPaymentsHandler(importer, jobQueue, log)
	pendingHandler := handlers.NewPendingHandler(store, store, store, engine, resolvedNotifier, log)
	webhooksHandler := handlers.NewWebhooksHandler(store, store, engine, log)
	mappingsHandler := handlers.NewMappingsHandler(store, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/payments/import", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			paymentsHandler.ImportPayment(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/payments/import-batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			paymentsHandler.ImportBatch(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/webhooks/payment-confirmed", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			webhooksHandler.PaymentConfirmed(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/pending", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			pendingHandler.ListPending(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/pending/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/pending/")
		pendingID, ok := strings.CutSuffix(rest, "/resolve")
		if !ok || pendingID == "" {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		pendingHandler.ResolvePending(w, r, pendingID)
	})

	mux.HandleFunc("/api/sender-mappings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mappingsHandler.ListMappings(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/sender-mappings/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/api/sender-mappings/")
		if name == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Sender name is required")
			return
		}
		mappingsHandler.DeleteMapping(w, r, name)
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(cfg.APIToken)(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// processAttributionJob runs one queued entry through the shared pipeline.
// A missing sender name is a permanent failure; retrying cannot fix the
// input.
func processAttributionJob(ctx context.Context, importer *recording.Importer, job *jobs.AttributePaymentJob, log zerolog.Logger) error {
	result, err := importer.Process(ctx, &recording.ImportRequest{
		RawText:     job.RawText,
		ExternalRef: job.ExternalRef,
		EntryPoint:  job.EntryPoint,
		RecordedBy:  job.RecordedBy,
		ForceAI:     job.ForceAI,
	})
	if err != nil {
		if errors.Is(err, recording.ErrNoSender) {
			log.Warn().Str("job_id", job.JobID).Msg("Job rejected, no sender name in text")
			return jobs.Permanent(err)
		}
		log.Error().Err(err).Str("job_id", job.JobID).Msg("Attribution job failed")
		return err
	}

	log.Info().
		Str("job_id", job.JobID).
		Str("log_id", result.Outcome.LogID).
		Bool("recorded", result.Outcome.Recorded || result.Outcome.AlreadyRecorded).
		Str("pending_id", result.Outcome.PendingID).
		Msg("Attribution job completed")
	return nil
}
