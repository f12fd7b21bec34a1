package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dmelnik/rentdesk/internal/archive"
	"github.com/dmelnik/rentdesk/internal/attribution"
	"github.com/dmelnik/rentdesk/internal/config"
	infraBQ "github.com/dmelnik/rentdesk/internal/infra/bigquery"
	"github.com/dmelnik/rentdesk/internal/logger"
	"github.com/dmelnik/rentdesk/internal/recording"
)

// attribute runs the payment attribution pipeline from the command line,
// for one pasted entry or a file of entries separated by blank lines.
func main() {
	var (
		file        = flag.String("file", "", "path to a file of bank activity entries separated by blank lines (default: read one entry from stdin)")
		externalRef = flag.String("external-ref", "", "idempotency key for a single entry")
		recordedBy  = flag.String("recorded-by", "cli", "who is recording these payments")
		forceAI     = flag.Bool("force-ai", false, "skip the sender mapping cache")
		dryRun      = flag.Bool("dry-run", false, "parse and match but record nothing")
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

	var archiver recording.Archiver
	if cfg.ImportBucket != "" && !*dryRun {
		uploader, err := archive.NewUploader(ctx, cfg.ImportBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive uploader")
		}
		defer uploader.Close()
		archiver = uploader
	}

	oracle := attribution.NewGeminiOracle(cfg.GeminiModel, cfg.OracleTimeout)
	matcher := attribution.NewMatcher(store, store, oracle,
		cfg.MatchThreshold, cfg.SuggestionFloor, logger.Component(log, "attribution"))

	engine := recording.NewEngine(store, store, store, store, nil,
		logger.Component(log, "recording"))
	importer := recording.NewImporter(matcher, engine, archiver,
		logger.Component(log, "recording"))

	entries, err := readEntries(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read input")
	}
	if len(entries) == 0 {
		log.Fatal().Msg("No entries to process")
	}
	if len(entries) > 1 && *externalRef != "" {
		log.Fatal().Msg("-external-ref only applies to a single entry")
	}

	for i, entry := range entries {
		if *dryRun {
			dryRunEntry(ctx, matcher, entry, *forceAI, log)
			continue
		}

		result, err := importer.Process(ctx, &recording.ImportRequest{
			RawText:     entry,
			ExternalRef: *externalRef,
			EntryPoint:  "cli",
			RecordedBy:  *recordedBy,
			ForceAI:     *forceAI,
		})
		if err != nil {
			if errors.Is(err, recording.ErrNoSender) {
				log.Warn().Int("entry", i+1).Msg("Skipped, no sender name in text")
				continue
			}
			log.Fatal().Err(err).Int("entry", i+1).Msg("Processing failed")
		}

		printOutcome(i+1, result)
	}
}

// dryRunEntry parses and matches without touching any table.
func dryRunEntry(ctx context.Context, matcher *attribution.Matcher, entry string, forceAI bool, log zerolog.Logger) {
	draft := attribution.ParsePaymentText(entry)
	if draft.SenderNameRaw == "" {
		log.Warn().Msg("Skipped, no sender name in text")
		return
	}

	match, err := matcher.Match(ctx, draft.SenderNameRaw, draft.Amount, forceAI)
	if err != nil {
		log.Fatal().Err(err).Msg("Matching failed")
	}

	fmt.Printf("sender: %s\n", draft.SenderNameRaw)
	if draft.Amount != nil {
		fmt.Printf("amount: $%.2f\n", *draft.Amount)
	}
	if match.Matched {
		fmt.Printf("matched: %s (%s, confidence %.2f)\n", match.PersonName, match.Method, match.Confidence)
	} else {
		fmt.Printf("unmatched: %s\n", match.Reasoning)
		for _, s := range match.Suggestions {
			fmt.Printf("  suggestion: %s (%.2f)\n", s.Name, s.Confidence)
		}
	}
}

func printOutcome(n int, result *recording.ImportResult) {
	switch {
	case result.Outcome.AlreadyRecorded:
		fmt.Printf("[%d] already recorded (payment %s)\n", n, result.Outcome.PaymentID)
	case result.Outcome.Recorded:
		fmt.Printf("[%d] recorded %s for %s (%s, confidence %.2f)\n",
			n, result.Outcome.PaymentID, result.Match.PersonName, result.Match.Method, result.Match.Confidence)
	default:
		fmt.Printf("[%d] pending review %s: %s\n", n, result.Outcome.PendingID, result.Match.Reasoning)
	}
}

// readEntries loads blank-line separated entries from a file, or one entry
// from stdin when no file is given.
func readEntries(path string) ([]string, error) {
	if path == "" {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return nil, fmt.Errorf("readEntries: reading stdin: %w", err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, nil
		}
		return []string{text}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("readEntries: %w", err)
	}

	var entries []string
	for _, block := range strings.Split(string(data), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			entries = append(entries, block)
		}
	}
	return entries, nil
}
